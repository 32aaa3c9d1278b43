package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipforge/orchestrator/internal/domain"
)

const scriptSystemPrompt = `You are a scriptwriter for short-form video. Turn the
user's raw content into a tight narration script: a hook in the first
sentence, short declarative lines, and a closing question. Respond with
ONLY valid JSON of the form {"title": "...", "narration": "..."}.`

// ScriptClient generates a narration script through an OpenAI-style
// chat completions endpoint
type ScriptClient struct {
	cfg        ScriptConfig
	workDir    string
	httpClient *http.Client
}

func NewScriptClient(cfg ScriptConfig, workDir string) *ScriptClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &ScriptClient{
		cfg:        cfg,
		workDir:    workDir,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type scriptJSON struct {
	Title     string `json:"title"`
	Narration string `json:"narration"`
}

// Run generates the script for a project and writes it to the work dir
func (c *ScriptClient) Run(ctx context.Context, p *domain.Project) (map[domain.ArtifactKind]string, error) {
	if strings.TrimSpace(p.Content) == "" {
		return nil, domain.Permanent("empty_content", "project has no source content", nil)
	}

	system := scriptSystemPrompt
	if p.Settings.Style != "" {
		system += fmt.Sprintf("\nWrite the narration in a %s style.", p.Settings.Style)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: p.Content},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, domain.Permanent("marshal_request", "building script request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.Permanent("bad_endpoint", "building script request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient("llm_unreachable", "script endpoint unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transient("llm_read", "reading script response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.QuotaExceeded(ServiceLLM)
	case resp.StatusCode >= 500:
		return nil, domain.Transient("llm_server_error",
			fmt.Sprintf("script endpoint returned HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, domain.Permanent("llm_rejected",
			fmt.Sprintf("script endpoint returned HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200)), nil)
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return nil, domain.Permanent("malformed_response", "script endpoint returned invalid JSON", err)
	}
	if cr.Error != nil {
		return nil, domain.Permanent("llm_rejected", cr.Error.Message, nil)
	}
	if len(cr.Choices) == 0 {
		return nil, domain.Permanent("malformed_response", "script endpoint returned no choices", nil)
	}

	var script scriptJSON
	content := cleanJSON(cr.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &script); err != nil {
		return nil, domain.Permanent("malformed_response", "script payload is not valid JSON", err)
	}
	if script.Narration == "" {
		return nil, domain.Permanent("malformed_response", "script payload has no narration", nil)
	}

	dir := filepath.Join(c.workDir, p.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.Resource("workdir", "creating project work dir", err)
	}
	out := filepath.Join(dir, "script.txt")
	if err := os.WriteFile(out, []byte(script.Narration), 0o644); err != nil {
		return nil, domain.Resource("workdir", "writing script file", err)
	}

	log.Printf("project %s script ready: %q (%d words)",
		p.ID, script.Title, len(strings.Fields(script.Narration)))
	return map[domain.ArtifactKind]string{domain.ArtifactScript: out}, nil
}

// cleanJSON strips markdown fences some models wrap around JSON output
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

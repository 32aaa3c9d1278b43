package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clipforge/orchestrator/internal/domain"
)

const (
	defaultImageCount     = 6
	defaultParallelism    = 3
	defaultMinSuccessRate = 0.8
)

// AssetsClient produces the visual and audio assets for a project: a
// fan-out of generated background images plus a narration voice track.
type AssetsClient struct {
	cfg        AssetsConfig
	workDir    string
	httpClient *http.Client
}

func NewAssetsClient(cfg AssetsConfig, workDir string) *AssetsClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &AssetsClient{
		cfg:        cfg,
		workDir:    workDir,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Run fetches images in parallel and the voice track, tolerating a
// bounded fraction of image failures
func (a *AssetsClient) Run(ctx context.Context, p *domain.Project) (map[domain.ArtifactKind]string, error) {
	scriptPath, ok := p.Artifacts[domain.ArtifactScript]
	if !ok {
		return nil, domain.Resource("missing_artifact", "no script artifact to generate assets from", nil)
	}
	narration, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, domain.Resource("missing_artifact", "reading script artifact", err)
	}

	dir := filepath.Join(a.workDir, p.ID, "assets")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.Resource("workdir", "creating assets dir", err)
	}

	count := a.cfg.ImageCount
	if count <= 0 {
		count = defaultImageCount
	}
	parallelism := a.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	minRate := a.cfg.MinSuccessRate
	if minRate <= 0 {
		minRate = defaultMinSuccessRate
	}

	var succeeded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := 0; i < count; i++ {
		i := i
		g.Go(func() error {
			out := filepath.Join(dir, fmt.Sprintf("image_%03d.jpg", i))
			if err := a.fetchImage(gctx, string(narration), i, out); err != nil {
				log.Printf("project %s image %d failed: %v", p.ID, i, err)
				return nil // partial failure is handled by the threshold
			}
			succeeded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, domain.Transient("assets_canceled", "image fan-out interrupted", err)
	}

	got := int(succeeded.Load())
	if float64(got) < minRate*float64(count) {
		return nil, domain.Transient("assets_incomplete",
			fmt.Sprintf("only %d/%d images generated", got, count), nil)
	}

	voice := a.cfg.Voice
	if p.Settings.Voice != "" {
		voice = p.Settings.Voice
	}
	voicePath := filepath.Join(dir, "voice.mp3")
	if err := a.fetchVoice(ctx, string(narration), voice, voicePath); err != nil {
		return nil, err
	}

	log.Printf("project %s assets ready: %d images + voice track", p.ID, got)
	return map[domain.ArtifactKind]string{
		domain.ArtifactImages: dir,
		domain.ArtifactVoice:  voicePath,
	}, nil
}

func (a *AssetsClient) fetchImage(ctx context.Context, prompt string, seed int, outFile string) error {
	imageURL := fmt.Sprintf("%s/prompt/%s?width=1080&height=1920&seed=%d",
		a.cfg.ImageEndpoint, url.PathEscape(truncate(prompt, 300)), seed)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("image endpoint returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) < 100 {
		return fmt.Errorf("response too small (%d bytes)", len(data))
	}
	return os.WriteFile(outFile, data, 0o644)
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (a *AssetsClient) fetchVoice(ctx context.Context, narration, voice, outFile string) error {
	body, err := json.Marshal(ttsRequest{Text: narration, Voice: voice})
	if err != nil {
		return domain.Permanent("marshal_request", "building voice request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.VoiceEndpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Permanent("bad_endpoint", "building voice request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return domain.Transient("tts_unreachable", "voice endpoint unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.QuotaExceeded(ServiceImages)
	case resp.StatusCode >= 500:
		return domain.Transient("tts_server_error",
			fmt.Sprintf("voice endpoint returned HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return domain.Permanent("tts_rejected",
			fmt.Sprintf("voice endpoint returned HTTP %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Transient("tts_read", "reading voice response", err)
	}
	if err := os.WriteFile(outFile, data, 0o644); err != nil {
		return domain.Resource("workdir", "writing voice file", err)
	}
	return nil
}

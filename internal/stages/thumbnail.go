package stages

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/clipforge/orchestrator/internal/domain"
)

// ThumbnailClient generates a single cover image for the video
type ThumbnailClient struct {
	cfg        ThumbnailConfig
	workDir    string
	httpClient *http.Client
}

func NewThumbnailClient(cfg ThumbnailConfig, workDir string) *ThumbnailClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &ThumbnailClient{
		cfg:        cfg,
		workDir:    workDir,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Run generates the thumbnail from the project name
func (t *ThumbnailClient) Run(ctx context.Context, p *domain.Project) (map[domain.ArtifactKind]string, error) {
	prompt := fmt.Sprintf("%s, bold video thumbnail, high contrast, no text", p.Name)
	imageURL := fmt.Sprintf("%s/prompt/%s?width=1280&height=720",
		t.cfg.ImageEndpoint, url.PathEscape(prompt))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, domain.Permanent("bad_endpoint", "building thumbnail request", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient("thumbnail_unreachable", "thumbnail endpoint unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.QuotaExceeded(ServiceImages)
	case resp.StatusCode >= 500:
		return nil, domain.Transient("thumbnail_server_error",
			fmt.Sprintf("thumbnail endpoint returned HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, domain.Permanent("thumbnail_rejected",
			fmt.Sprintf("thumbnail endpoint returned HTTP %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transient("thumbnail_read", "reading thumbnail response", err)
	}
	if len(data) < 100 {
		return nil, domain.Permanent("malformed_response", "thumbnail endpoint returned no image", nil)
	}

	dir := filepath.Join(t.workDir, p.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.Resource("workdir", "creating project work dir", err)
	}
	out := filepath.Join(dir, "thumbnail.jpg")
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return nil, domain.Resource("workdir", "writing thumbnail file", err)
	}

	log.Printf("project %s thumbnail ready: %s", p.ID, out)
	return map[domain.ArtifactKind]string{domain.ArtifactThumbnail: out}, nil
}

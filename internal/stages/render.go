package stages

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/clipforge/orchestrator/internal/domain"
)

// Renderer composes the image assets and voice track into the final
// video by shelling out to ffmpeg
type Renderer struct {
	cfg     RenderConfig
	workDir string
}

func NewRenderer(cfg RenderConfig, workDir string) *Renderer {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Renderer{cfg: cfg, workDir: workDir}
}

// Run renders the project video from its assets
func (r *Renderer) Run(ctx context.Context, p *domain.Project) (map[domain.ArtifactKind]string, error) {
	ffmpeg, err := exec.LookPath(r.cfg.FFmpegPath)
	if err != nil {
		se := domain.Resource("ffmpeg_missing", "ffmpeg binary not found", err)
		se.Solutions = []string{
			"install ffmpeg and make sure it is on PATH",
			"set the render.ffmpeg_path config to the binary location",
		}
		return nil, se
	}

	imagesDir, ok := p.Artifacts[domain.ArtifactImages]
	if !ok {
		return nil, domain.Resource("missing_artifact", "no images artifact to render from", nil)
	}
	voicePath, ok := p.Artifacts[domain.ArtifactVoice]
	if !ok {
		return nil, domain.Resource("missing_artifact", "no voice artifact to render from", nil)
	}
	if _, err := os.Stat(voicePath); err != nil {
		return nil, domain.Resource("missing_artifact", "voice file gone from work dir", err)
	}

	out := filepath.Join(r.workDir, p.ID, "video.mp4")

	// loop the still images at 1/4 fps against the narration track and
	// stop at the shorter of the two
	args := []string{
		"-y",
		"-framerate", "1/4",
		"-pattern_type", "glob", "-i", filepath.Join(imagesDir, "image_*.jpg"),
		"-i", voicePath,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		out,
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, ffmpeg, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return nil, domain.Transient("render_timeout", "ffmpeg exceeded the render timeout", err)
		}
		return nil, domain.Permanent("render_failed",
			fmt.Sprintf("ffmpeg failed: %s", tail(string(output), 300)), err)
	}

	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		return nil, domain.Permanent("render_failed", "ffmpeg produced no output file", err)
	}

	log.Printf("project %s rendered: %s", p.ID, out)
	return map[domain.ArtifactKind]string{domain.ArtifactVideo: out}, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// Package stages holds the clients for the external collaborators each
// pipeline stage talks to: the LLM script endpoint, the image and voice
// generators, ffmpeg and the YouTube Data API. Every client maps its
// failures onto the classified error taxonomy so the executor can make
// retry decisions.
package stages

import (
	"time"

	"github.com/clipforge/orchestrator/internal/domain"
	"github.com/clipforge/orchestrator/internal/executor"
)

// Quota service names shared with the ledger configuration
const (
	ServiceLLM     = "llm"
	ServiceImages  = "images"
	ServiceYouTube = "youtube"
)

// uploadCost is the YouTube Data API unit cost of a videos.insert call
const uploadCost = 1600

// Config wires the stage collaborators. WorkDir is the root under which
// per-project artifact directories are created.
type Config struct {
	WorkDir     string
	MaxAttempts int

	Script    ScriptConfig
	Assets    AssetsConfig
	Render    RenderConfig
	Thumbnail ThumbnailConfig
	Upload    UploadConfig
}

type ScriptConfig struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

type AssetsConfig struct {
	ImageEndpoint string
	VoiceEndpoint string
	Voice         string
	ImageCount    int
	Parallelism   int
	// MinSuccessRate is the fraction of requested images that must
	// arrive before the stage counts as done
	MinSuccessRate float64
	Timeout        time.Duration
}

type RenderConfig struct {
	FFmpegPath string
	Timeout    time.Duration
}

type ThumbnailConfig struct {
	ImageEndpoint string
	Timeout       time.Duration
}

type UploadConfig struct {
	TokenFile  string
	Visibility string
	CategoryID string
}

// Definitions builds the full stage table for the runner
func Definitions(cfg Config) []executor.StageDef {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	script := NewScriptClient(cfg.Script, cfg.WorkDir)
	assets := NewAssetsClient(cfg.Assets, cfg.WorkDir)
	render := NewRenderer(cfg.Render, cfg.WorkDir)
	thumb := NewThumbnailClient(cfg.Thumbnail, cfg.WorkDir)
	upload := NewUploader(cfg.Upload)

	imageCount := cfg.Assets.ImageCount
	if imageCount <= 0 {
		imageCount = defaultImageCount
	}

	return []executor.StageDef{
		{
			Working:      domain.StageScriptGenerating,
			Done:         domain.StageScriptGenerated,
			Run:          script.Run,
			MaxAttempts:  attempts,
			QuotaService: ServiceLLM,
			QuotaCost:    1,
		},
		{
			Working:      domain.StageAssetsGenerating,
			Done:         domain.StageAssetsGenerated,
			Run:          assets.Run,
			MaxAttempts:  attempts,
			QuotaService: ServiceImages,
			QuotaCost:    int64(imageCount),
		},
		{
			Working:     domain.StageRendering,
			Done:        domain.StageRendered,
			Run:         render.Run,
			MaxAttempts: attempts,
		},
		{
			Working:      domain.StageThumbnailGenerating,
			Done:         domain.StageThumbnailGenerated,
			Run:          thumb.Run,
			MaxAttempts:  attempts,
			QuotaService: ServiceImages,
			QuotaCost:    1,
		},
		{
			Working:      domain.StageUploading,
			Done:         domain.StageCompleted,
			Run:          upload.Run,
			MaxAttempts:  attempts,
			QuotaService: ServiceYouTube,
			QuotaCost:    uploadCost,
		},
	}
}

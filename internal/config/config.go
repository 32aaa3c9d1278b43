// Package config loads the orchestrator configuration from a TOML file
// layered over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/clipforge/orchestrator/internal/quota"
	"github.com/clipforge/orchestrator/internal/stages"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Script        ScriptConfig        `toml:"script"`
	Assets        AssetsConfig        `toml:"assets"`
	Render        RenderConfig        `toml:"render"`
	Upload        UploadConfig        `toml:"upload"`
	Quota         QuotaConfig         `toml:"quota"`
	Watch         WatchConfig         `toml:"watch"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds pipeline-wide settings
type GeneralConfig struct {
	WorkDir           string `toml:"work_dir"`
	DatabasePath      string `toml:"database_path"`
	QuotaDatabasePath string `toml:"quota_database_path"`
	Workers           int    `toml:"workers"`
	MaxAttempts       int    `toml:"max_attempts"`
	HeartbeatSeconds  int    `toml:"heartbeat_seconds"`
	SchedulePath      string `toml:"schedule_path"`
}

// ScriptConfig holds script generation settings
type ScriptConfig struct {
	Endpoint       string `toml:"endpoint"`
	Model          string `toml:"model"`
	APIKeyEnv      string `toml:"api_key_env"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// AssetsConfig holds image and voice generation settings
type AssetsConfig struct {
	ImageEndpoint  string  `toml:"image_endpoint"`
	VoiceEndpoint  string  `toml:"voice_endpoint"`
	Voice          string  `toml:"voice"`
	ImageCount     int     `toml:"image_count"`
	Parallelism    int     `toml:"parallelism"`
	MinSuccessRate float64 `toml:"min_success_rate"`
}

// RenderConfig holds ffmpeg settings
type RenderConfig struct {
	FFmpegPath     string `toml:"ffmpeg_path"`
	TimeoutMinutes int    `toml:"timeout_minutes"`
}

// UploadConfig holds YouTube upload settings
type UploadConfig struct {
	TokenFile  string `toml:"token_file"`
	Visibility string `toml:"visibility"`
	CategoryID string `toml:"category_id"`
}

// QuotaConfig maps service names to daily or monthly budgets
type QuotaConfig struct {
	Budgets map[string]BudgetConfig `toml:"budgets"`
}

// BudgetConfig is one service budget
type BudgetConfig struct {
	Units  int64  `toml:"units"`
	Unit   string `toml:"unit"`
	Period string `toml:"period"`
}

// WatchConfig holds the drop-folder watcher settings
type WatchConfig struct {
	InboxDir string `toml:"inbox_dir"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds the HTTP surface settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	root := filepath.Join(home, ".clipforge")
	return &Config{
		General: GeneralConfig{
			WorkDir:           filepath.Join(root, "work"),
			DatabasePath:      filepath.Join(root, "checkpoints.db"),
			QuotaDatabasePath: filepath.Join(root, "quota.db"),
			Workers:           3,
			MaxAttempts:       3,
			HeartbeatSeconds:  30,
			SchedulePath:      filepath.Join(root, "schedule.toml"),
		},
		Script: ScriptConfig{
			Endpoint:       "https://api.groq.com/openai/v1/chat/completions",
			Model:          "llama-3.3-70b-versatile",
			APIKeyEnv:      "GROQ_API_KEY",
			TimeoutSeconds: 60,
		},
		Assets: AssetsConfig{
			ImageEndpoint:  "https://image.pollinations.ai",
			VoiceEndpoint:  "http://127.0.0.1:5002/api/tts",
			Voice:          "en-US-Standard-D",
			ImageCount:     6,
			Parallelism:    3,
			MinSuccessRate: 0.8,
		},
		Render: RenderConfig{
			FFmpegPath:     "ffmpeg",
			TimeoutMinutes: 10,
		},
		Upload: UploadConfig{
			TokenFile:  filepath.Join(root, "youtube_token.json"),
			Visibility: "unlisted",
			CategoryID: "22",
		},
		Quota: QuotaConfig{
			Budgets: map[string]BudgetConfig{
				stages.ServiceLLM:     {Units: 500, Unit: "requests", Period: "daily"},
				stages.ServiceImages:  {Units: 300, Unit: "images", Period: "daily"},
				stages.ServiceYouTube: {Units: 10000, Unit: "units", Period: "daily"},
			},
		},
		Watch: WatchConfig{
			InboxDir: filepath.Join(root, "inbox"),
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.WorkDir = ExpandPath(cfg.General.WorkDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.QuotaDatabasePath = ExpandPath(cfg.General.QuotaDatabasePath)
	cfg.General.SchedulePath = ExpandPath(cfg.General.SchedulePath)
	cfg.Upload.TokenFile = ExpandPath(cfg.Upload.TokenFile)
	cfg.Watch.InboxDir = ExpandPath(cfg.Watch.InboxDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if c.General.Workers <= 0 {
		return fmt.Errorf("general.workers must be positive")
	}
	if c.General.MaxAttempts <= 0 {
		return fmt.Errorf("general.max_attempts must be positive")
	}
	if c.Assets.MinSuccessRate <= 0 || c.Assets.MinSuccessRate > 1 {
		return fmt.Errorf("assets.min_success_rate must be in (0, 1]")
	}
	for name, b := range c.Quota.Budgets {
		if b.Units <= 0 {
			return fmt.Errorf("quota budget %s: units must be positive", name)
		}
		if b.Period != "daily" && b.Period != "monthly" {
			return fmt.Errorf("quota budget %s: period must be daily or monthly", name)
		}
	}
	return nil
}

// StageConfig maps the file config onto the stage collaborator wiring
func (c *Config) StageConfig() stages.Config {
	return stages.Config{
		WorkDir:     c.General.WorkDir,
		MaxAttempts: c.General.MaxAttempts,
		Script: stages.ScriptConfig{
			Endpoint: c.Script.Endpoint,
			Model:    c.Script.Model,
			APIKey:   os.Getenv(c.Script.APIKeyEnv),
			Timeout:  time.Duration(c.Script.TimeoutSeconds) * time.Second,
		},
		Assets: stages.AssetsConfig{
			ImageEndpoint:  c.Assets.ImageEndpoint,
			VoiceEndpoint:  c.Assets.VoiceEndpoint,
			Voice:          c.Assets.Voice,
			ImageCount:     c.Assets.ImageCount,
			Parallelism:    c.Assets.Parallelism,
			MinSuccessRate: c.Assets.MinSuccessRate,
		},
		Render: stages.RenderConfig{
			FFmpegPath: c.Render.FFmpegPath,
			Timeout:    time.Duration(c.Render.TimeoutMinutes) * time.Minute,
		},
		Thumbnail: stages.ThumbnailConfig{
			ImageEndpoint: c.Assets.ImageEndpoint,
		},
		Upload: stages.UploadConfig{
			TokenFile:  c.Upload.TokenFile,
			Visibility: c.Upload.Visibility,
			CategoryID: c.Upload.CategoryID,
		},
	}
}

// QuotaBudgets maps the file config onto ledger budgets
func (c *Config) QuotaBudgets() map[string]quota.Budget {
	out := make(map[string]quota.Budget, len(c.Quota.Budgets))
	for name, b := range c.Quota.Budgets {
		period := quota.Daily
		if b.Period == "monthly" {
			period = quota.Monthly
		}
		out[name] = quota.Budget{Units: b.Units, Unit: b.Unit, Period: period}
	}
	return out
}

// Heartbeat returns the progress hub heartbeat interval
func (c *Config) Heartbeat() time.Duration {
	if c.General.HeartbeatSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.General.HeartbeatSeconds) * time.Second
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "clipforge", "config.toml")
}

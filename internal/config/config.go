package config

import (
	"fmt"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/reelwave/pkg/logger"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logger     logger.Config    `yaml:"logger"`
	Auth       AuthConfig       `yaml:"auth"`
	Google     GoogleConfig     `yaml:"google"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	TTS        TTSConfig        `yaml:"tts"`
	Compositor CompositorConfig `yaml:"compositor"`
	Slack      SlackConfig      `yaml:"slack"`
	Ads        AdsConfig        `yaml:"ads"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Retention  RetentionConfig  `yaml:"retention"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"` // postgres | sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	Path     string `yaml:"path"` // sqlite file
}

type AuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	TOTPSecret string `yaml:"totp_secret"`
	Issuer     string `yaml:"issuer"`
}

type GoogleConfig struct {
	// Service account credentials: inline JSON or a file path
	Credentials string `yaml:"credentials"`

	DriveParentFolderID string `yaml:"drive_parent_folder_id"`
	ShareWithAnyone     bool   `yaml:"share_with_anyone"`

	LedgerSpreadsheetID string `yaml:"ledger_spreadsheet_id"`
	LedgerTab           string `yaml:"ledger_tab"`
	ApprovalsTab        string `yaml:"approvals_tab"`
}

type OpenAIConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

type TTSConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	ModelID      string `yaml:"model_id"`
	DefaultVoice string `yaml:"default_voice"`
	Timeout      string `yaml:"timeout"`
}

type CompositorConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	Timeout     string `yaml:"timeout"`
	Font        string `yaml:"font"`
	FontSize    int    `yaml:"font_size"`
	MarginV     int    `yaml:"margin_v"`
}

type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
	BaseURL   string `yaml:"base_url"`
	// SigningSecret verifies interaction webhooks; without it they are refused
	SigningSecret string `yaml:"signing_secret"`
}

type AdsConfig struct {
	AccessToken     string                  `yaml:"access_token"`
	AdAccountID     string                  `yaml:"ad_account_id"`
	APIVersion      string                  `yaml:"api_version"`
	BaseURL         string                  `yaml:"base_url"`
	RunWindowDays   int                     `yaml:"run_window_days"`
	UploadBaseTime  string                  `yaml:"upload_base_timeout"`
	UploadPerMBTime string                  `yaml:"upload_per_mb_timeout"`
	ChunkSizeMB     int                     `yaml:"chunk_size_mb"`
	Concurrency     int                     `yaml:"concurrency"`
	Markets         map[string]MarketConfig `yaml:"markets"`
}

// MarketConfig points at the template objects cloned for one market
type MarketConfig struct {
	TemplateAdSetID string `yaml:"template_adset_id"`
	TemplateAdID    string `yaml:"template_ad_id"`
	PageID          string `yaml:"page_id"`
	CallToAction    string `yaml:"call_to_action"`
	LinkURL         string `yaml:"link_url"`
	Message         string `yaml:"message"`
}

type PipelineConfig struct {
	WorkDir             string `yaml:"work_dir"`
	DownloadConcurrency int    `yaml:"download_concurrency"`
	SynthConcurrency    int    `yaml:"synth_concurrency"`
	RenderConcurrency   int    `yaml:"render_concurrency"`
	LedgerPollAttempts  int    `yaml:"ledger_poll_attempts"`
	LedgerPollBackoff   string `yaml:"ledger_poll_backoff"`
}

type ApprovalConfig struct {
	PollInterval     string `yaml:"poll_interval"`
	StaleTaskTimeout string `yaml:"stale_task_timeout"`
	IntakeQueueSize  int    `yaml:"intake_queue_size"`
	DefaultDelayMin  int    `yaml:"default_delay_minutes"`
}

type RetentionConfig struct {
	Interval string `yaml:"interval"`
	Days     int    `yaml:"days"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "reelwave.db"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "Reelwave"
	}
	if cfg.Google.LedgerTab == "" {
		cfg.Google.LedgerTab = "AssetDB"
	}
	if cfg.Google.ApprovalsTab == "" {
		cfg.Google.ApprovalsTab = "Approvals"
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o"
	}
	if cfg.OpenAI.Temperature == 0 {
		cfg.OpenAI.Temperature = 0.8
	}
	if cfg.TTS.BaseURL == "" {
		cfg.TTS.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.TTS.ModelID == "" {
		cfg.TTS.ModelID = "eleven_multilingual_v2"
	}
	if cfg.TTS.Timeout == "" {
		cfg.TTS.Timeout = "2m"
	}
	if cfg.Compositor.FFmpegPath == "" {
		cfg.Compositor.FFmpegPath = "ffmpeg"
	}
	if cfg.Compositor.FFprobePath == "" {
		cfg.Compositor.FFprobePath = "ffprobe"
	}
	if cfg.Compositor.Timeout == "" {
		cfg.Compositor.Timeout = "10m"
	}
	if cfg.Compositor.Font == "" {
		cfg.Compositor.Font = "Arial"
	}
	if cfg.Compositor.FontSize == 0 {
		cfg.Compositor.FontSize = 14
	}
	if cfg.Compositor.MarginV == 0 {
		cfg.Compositor.MarginV = 60
	}
	if cfg.Slack.BaseURL == "" {
		cfg.Slack.BaseURL = "https://slack.com/api"
	}
	if cfg.Ads.APIVersion == "" {
		cfg.Ads.APIVersion = "v19.0"
	}
	if cfg.Ads.BaseURL == "" {
		cfg.Ads.BaseURL = "https://graph.facebook.com"
	}
	if cfg.Ads.RunWindowDays == 0 {
		cfg.Ads.RunWindowDays = 14
	}
	if cfg.Ads.UploadBaseTime == "" {
		cfg.Ads.UploadBaseTime = "60s"
	}
	if cfg.Ads.UploadPerMBTime == "" {
		cfg.Ads.UploadPerMBTime = "2s"
	}
	if cfg.Ads.ChunkSizeMB == 0 {
		cfg.Ads.ChunkSizeMB = 8
	}
	if cfg.Ads.Concurrency == 0 {
		cfg.Ads.Concurrency = 3
	}
	if cfg.Pipeline.WorkDir == "" {
		cfg.Pipeline.WorkDir = "/tmp/reelwave"
	}
	if cfg.Pipeline.DownloadConcurrency == 0 {
		cfg.Pipeline.DownloadConcurrency = 4
	}
	if cfg.Pipeline.SynthConcurrency == 0 {
		cfg.Pipeline.SynthConcurrency = 4
	}
	if cfg.Pipeline.RenderConcurrency == 0 {
		cfg.Pipeline.RenderConcurrency = 2
	}
	if cfg.Pipeline.LedgerPollAttempts == 0 {
		cfg.Pipeline.LedgerPollAttempts = 5
	}
	if cfg.Pipeline.LedgerPollBackoff == "" {
		cfg.Pipeline.LedgerPollBackoff = "2s"
	}
	if cfg.Approval.PollInterval == "" {
		cfg.Approval.PollInterval = "15s"
	}
	if cfg.Approval.StaleTaskTimeout == "" {
		cfg.Approval.StaleTaskTimeout = "10m"
	}
	if cfg.Approval.IntakeQueueSize == 0 {
		cfg.Approval.IntakeQueueSize = 256
	}
	if cfg.Retention.Interval == "" {
		cfg.Retention.Interval = "6h"
	}
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = 90
	}
}

// Validate checks preconditions that must hold before the server starts
func (c *Config) Validate() error {
	durations := map[string]string{
		"tts.timeout":                  c.TTS.Timeout,
		"compositor.timeout":           c.Compositor.Timeout,
		"ads.upload_base_timeout":      c.Ads.UploadBaseTime,
		"ads.upload_per_mb_timeout":    c.Ads.UploadPerMBTime,
		"pipeline.ledger_poll_backoff": c.Pipeline.LedgerPollBackoff,
		"approval.poll_interval":       c.Approval.PollInterval,
		"approval.stale_task_timeout":  c.Approval.StaleTaskTimeout,
		"retention.interval":           c.Retention.Interval,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}

	switch c.Database.Type {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	if c.Auth.Enabled && c.Auth.TOTPSecret == "" {
		return fmt.Errorf("auth.totp_secret is required when auth is enabled")
	}
	if c.Approval.DefaultDelayMin < 0 {
		return fmt.Errorf("approval.default_delay_minutes must not be negative")
	}
	return nil
}

// Duration parses a validated duration field
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

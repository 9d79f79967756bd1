package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/forPelevin/clipseek/internal/ports/adapters/gemini"
)

// Config holds the environment driven configuration for the service.
type Config struct {
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"clipseek"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"PORT" envDefault:"10000"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Remote inference service
	GeminiAPIKey       string        `env:"GOOGLE_API_KEY,notEmpty"`
	GeminiModel        string        `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	GeminiBaseURL      string        `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	GeminiAllowedHosts []string      `env:"GEMINI_ALLOWED_HOSTS" envSeparator:","`
	PollInterval       time.Duration `env:"GEMINI_POLL_INTERVAL" envDefault:"10s"`
	PollMaxAttempts    int           `env:"GEMINI_POLL_MAX_ATTEMPTS" envDefault:"60"`

	// Local staging
	UploadDir      string `env:"UPLOAD_DIR" envDefault:"temp_uploads"`
	OutputDir      string `env:"OUTPUT_DIR" envDefault:"temp_outputs"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"524288000"` // 500MB

	// External media tools
	FFmpegPath  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath string `env:"FFPROBE_PATH" envDefault:"ffprobe"`
}

// Load parses environment variables into Config and validates them.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.GeminiAPIKey = strings.TrimSpace(cfg.GeminiAPIKey)
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("GEMINI_POLL_INTERVAL must be > 0")
	}
	if cfg.PollMaxAttempts <= 0 {
		return nil, fmt.Errorf("GEMINI_POLL_MAX_ATTEMPTS must be > 0")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 500 * 1024 * 1024
	}
	if err := gemini.ValidateBaseURL(cfg.GeminiBaseURL, cfg.GeminiAllowedHosts); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

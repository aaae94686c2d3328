package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the timeline service.
// Environment variables are automatically parsed from the MEMORYLANE_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Owner is the display name the source exports use for the owning
	// user; messages attributed to it are classified as sent.
	Owner string `envconfig:"OWNER" default:"Me"`

	// DataDir is the root under which per-provider directories are
	// derived when not set explicitly.
	DataDir string `envconfig:"DATA_DIR" default:"data"`

	// Providers is a comma-separated list of enabled providers; "all"
	// enables every registered provider.
	Providers string `envconfig:"PROVIDERS" default:"all"`

	// Per-provider data directories. Empty values are derived from
	// DataDir by ResolveDefaults.
	WhatsAppDir  string `envconfig:"WHATSAPP_DIR" default:""`
	IMessageDir  string `envconfig:"IMESSAGE_DIR" default:""`
	InstagramDir string `envconfig:"INSTAGRAM_DIR" default:""`
	HingeDir     string `envconfig:"HINGE_DIR" default:""`
	UberDir      string `envconfig:"UBER_DIR" default:""`
	GMapsDir     string `envconfig:"GMAPS_DIR" default:""`
	GPhotosDir   string `envconfig:"GPHOTOS_DIR" default:""`
	DiaryDir     string `envconfig:"DIARY_DIR" default:""`

	// iMessage device-backup root used when generating the attachment
	// copy script.
	IMessageBackupRoot string `envconfig:"IMESSAGE_BACKUP_ROOT" default:""`

	// Immich Configuration
	ImmichURL      string `envconfig:"IMMICH_URL" default:""`
	ImmichEmail    string `envconfig:"IMMICH_EMAIL" default:""`
	ImmichPassword string `envconfig:"IMMICH_PASSWORD" default:""`

	// Identity & privacy
	ProfilePath string `envconfig:"PROFILE_PATH" default:""`
	PrivacyPath string `envconfig:"PRIVACY_PATH" default:""`
	PrivacyMode string `envconfig:"PRIVACY_MODE" default:"default"`

	// TimeZone cloud photo timestamps are normalized into.
	TimeZone string `envconfig:"TIMEZONE" default:"Local"`
}

// ResolveDefaults derives per-provider paths from DataDir for any value
// not set explicitly.
func (c *Config) ResolveDefaults() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}

	derive := func(target *string, sub string) {
		if *target == "" {
			*target = filepath.Join(c.DataDir, sub)
		}
	}
	derive(&c.WhatsAppDir, "whatsapp")
	derive(&c.IMessageDir, "imessage")
	derive(&c.InstagramDir, "instagram")
	derive(&c.HingeDir, "hinge")
	derive(&c.UberDir, "uber")
	derive(&c.GMapsDir, "google_maps")
	derive(&c.GPhotosDir, "google_photos")
	derive(&c.DiaryDir, "diary")
	derive(&c.ProfilePath, "profile.json")
	derive(&c.PrivacyPath, "privacy.yaml")

	if c.PrivacyMode == "" {
		c.PrivacyMode = "default"
	}
	return nil
}

// EnabledProviders returns the normalized provider selection; nil means
// all providers.
func (c *Config) EnabledProviders() []string {
	if c.Providers == "" || c.Providers == "all" {
		return nil
	}
	parts := strings.Split(c.Providers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

// New creates a new Config by parsing environment variables.
// Environment variables should be prefixed with MEMORYLANE_
// Example: MEMORYLANE_DATA_DIR, MEMORYLANE_HTTP_PORT
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("MEMORYLANE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("data_dir", cfg.DataDir).
		Str("providers", cfg.Providers).
		Str("privacy_mode", cfg.PrivacyMode).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	cfg := &Config{
		Environment: EnvTesting,
		HTTPPort:    8080,
		Owner:       "Test Owner",
		DataDir:     "testdata",
		Providers:   "all",
		PrivacyMode: "default",
		TimeZone:    "Local",
	}
	_ = cfg.ResolveDefaults()
	return cfg
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

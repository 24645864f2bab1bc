package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Library   LibraryConfig   `toml:"library"`
	Scan      ScanConfig      `toml:"scan"`
	Assets    AssetsConfig    `toml:"assets"`
	Providers ProvidersConfig `toml:"providers"`
	Logging   LoggingConfig   `toml:"logging"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LibraryConfig contains music library configuration
type LibraryConfig struct {
	RootPath         string   `toml:"root_path"`
	SupportedFormats []string `toml:"supported_formats"`
	LyricsMirrorDir  string   `toml:"lyrics_mirror_dir"` // subtree mirroring the audio tree for .lrc files
	WatchForChanges  bool     `toml:"watch_for_changes"`
}

// ScanConfig bounds the ingest pipeline.
type ScanConfig struct {
	Concurrency      int `toml:"concurrency"`
	MaxFailures      int `toml:"max_failures"`
	InFlightWindow   int `toml:"in_flight_window"`
	ProgressInterval int `toml:"progress_interval"`
}

// AssetsConfig locates the internal image caches used by enrichment and
// recovered by the organizer.
type AssetsConfig struct {
	AvatarDir string `toml:"avatar_dir"`
	CoverDir  string `toml:"cover_dir"`
}

// ProvidersConfig configures the external metadata providers. Base URLs are
// overridable so tests can point them at local servers.
type ProvidersConfig struct {
	SearchBaseURL       string `toml:"search_base_url"`       // MusicBrainz-compatible ws/2 endpoint
	EncyclopediaBaseURL string `toml:"encyclopedia_base_url"` // Wikidata entity data endpoint
	MediaBaseURL        string `toml:"media_base_url"`        // Wikimedia upload host
	ThumbnailBaseURL    string `toml:"thumbnail_base_url"`    // Last.fm artist image pages
	CoverArtBaseURL     string `toml:"cover_art_base_url"`    // Cover Art Archive
	UserAgent           string `toml:"user_agent"`
	RetryBaseDelayMS    int    `toml:"retry_base_delay_ms"`
	RetryMaxAttempts    int    `toml:"retry_max_attempts"`
	ItemTimeoutSeconds  int    `toml:"item_timeout_seconds"`
	ItemDelayMS         int    `toml:"item_delay_ms"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "./melisma.db",
		},
		Library: LibraryConfig{
			RootPath:         "./music",
			SupportedFormats: []string{".flac", ".mp3", ".m4a", ".ogg", ".wav"},
			LyricsMirrorDir:  "succeed",
			WatchForChanges:  false,
		},
		Scan: ScanConfig{
			Concurrency:      8,
			MaxFailures:      10,
			InFlightWindow:   10,
			ProgressInterval: 5,
		},
		Assets: AssetsConfig{
			AvatarDir: "./data/avatars",
			CoverDir:  "./data/covers",
		},
		Providers: ProvidersConfig{
			SearchBaseURL:       "https://musicbrainz.org/ws/2",
			EncyclopediaBaseURL: "https://www.wikidata.org/wiki/Special:EntityData",
			MediaBaseURL:        "https://upload.wikimedia.org/wikipedia/commons",
			ThumbnailBaseURL:    "https://www.last.fm/music",
			CoverArtBaseURL:     "https://coverartarchive.org",
			UserAgent:           "Melisma/1.0 ( library catalog )",
			RetryBaseDelayMS:    1000,
			RetryMaxAttempts:    3,
			ItemTimeoutSeconds:  30,
			ItemDelayMS:         1500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating it with
// defaults when missing, then applies environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides lets the environment win over the config file for the
// knobs a deployment usually controls.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MELISMA_MUSIC_DIR"); v != "" {
		c.Library.RootPath = v
	}
	if v := os.Getenv("MELISMA_AVATAR_DIR"); v != "" {
		c.Assets.AvatarDir = v
	}
	if v := os.Getenv("MELISMA_COVER_DIR"); v != "" {
		c.Assets.CoverDir = v
	}
	if v := os.Getenv("MELISMA_SCAN_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scan.Concurrency = n
		}
	}
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# Melisma Music Catalog Configuration
# This file contains all configuration options for the melisma catalog core.
# Edit the values below to customize your library settings.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Library.RootPath == "" {
		return fmt.Errorf("library root path cannot be empty")
	}
	if len(c.Library.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported audio format must be specified")
	}
	if c.Scan.Concurrency < 1 {
		return fmt.Errorf("scan concurrency must be at least 1")
	}
	if c.Scan.MaxFailures < 1 {
		return fmt.Errorf("scan max failures must be at least 1")
	}
	if c.Providers.RetryMaxAttempts < 1 {
		return fmt.Errorf("provider retry attempts must be at least 1")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// IsFormatSupported checks if an audio file extension is supported
func (c *Config) IsFormatSupported(ext string) bool {
	for _, supported := range c.Library.SupportedFormats {
		if supported == ext {
			return true
		}
	}
	return false
}

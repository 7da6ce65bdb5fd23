package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the media downloader
type Config struct {
	// Twitter session settings
	Twitter TwitterConfig `yaml:"twitter" json:"twitter"`

	// Rate limiting and 429 cooldown configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// HLS reconstruction settings
	HLS HLSConfig `yaml:"hls" json:"hls"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// TwitterConfig holds session-specific configuration. The cookie is an
// opaque string captured from a logged-in browser session; it is attached
// to media requests as-is.
type TwitterConfig struct {
	Cookie      string `yaml:"cookie" json:"cookie"`
	UserAgent   string `yaml:"user_agent" json:"user_agent"`
	BaseReferer string `yaml:"base_referer" json:"base_referer"`
}

// RateLimitConfig holds pacing and HTTP 429 cooldown configuration
type RateLimitConfig struct {
	RequestsPerMinute  int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	CooldownFloor      time.Duration `yaml:"cooldown_floor" json:"cooldown_floor"`
	CooldownCap        time.Duration `yaml:"cooldown_cap" json:"cooldown_cap"`
	CooldownMultiplier float64       `yaml:"cooldown_multiplier" json:"cooldown_multiplier"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory   string `yaml:"base_directory" json:"base_directory"`
	ImagesDirectory string `yaml:"images_directory" json:"images_directory"`
	VideosDirectory string `yaml:"videos_directory" json:"videos_directory"`
	ManifestFile    string `yaml:"manifest_file" json:"manifest_file"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
	RetryAttempts       int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryBackoffBase    time.Duration `yaml:"retry_backoff_base" json:"retry_backoff_base"`
	RetryBackoffCap     time.Duration `yaml:"retry_backoff_cap" json:"retry_backoff_cap"`
	ItemPacing          time.Duration `yaml:"item_pacing" json:"item_pacing"`
}

// HLSConfig holds HLS reconstruction configuration
type HLSConfig struct {
	// Strategy selects how manifests are turned into files: "segments"
	// downloads and concatenates each segment, "ffmpeg" hands the
	// manifest URL to ffmpeg in one call.
	Strategy       string        `yaml:"strategy" json:"strategy"`
	SegmentTimeout time.Duration `yaml:"segment_timeout" json:"segment_timeout"`
	FFmpegBinary   string        `yaml:"ffmpeg_binary" json:"ffmpeg_binary"`
	FFmpegTimeout  time.Duration `yaml:"ffmpeg_timeout" json:"ffmpeg_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Twitter: TwitterConfig{
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			BaseReferer: "https://twitter.com/",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute:  60,
			CooldownFloor:      15 * time.Minute,
			CooldownCap:        time.Hour,
			CooldownMultiplier: 2.0,
		},
		Output: OutputConfig{
			BaseDirectory:   "./downloads",
			ImagesDirectory: "./downloads/images",
			VideosDirectory: "./downloads/videos",
			ManifestFile:    "media_manifest.json",
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 3,
			DownloadTimeout:     30 * time.Second,
			RetryAttempts:       3,
			RetryBackoffBase:    60 * time.Second,
			RetryBackoffCap:     5 * time.Minute,
			ItemPacing:          500 * time.Millisecond,
		},
		HLS: HLSConfig{
			Strategy:       "segments",
			SegmentTimeout: 30 * time.Second,
			FFmpegBinary:   "ffmpeg",
			FFmpegTimeout:  10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if cookie := os.Getenv("TWDL_COOKIE"); cookie != "" {
		c.Twitter.Cookie = cookie
	}
	if userAgent := os.Getenv("TWDL_USER_AGENT"); userAgent != "" {
		c.Twitter.UserAgent = userAgent
	}
	if referer := os.Getenv("TWDL_BASE_REFERER"); referer != "" {
		c.Twitter.BaseReferer = referer
	}

	if rpm := os.Getenv("TWDL_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}

	if outputDir := os.Getenv("TWDL_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
		c.Output.ImagesDirectory = filepath.Join(outputDir, "images")
		c.Output.VideosDirectory = filepath.Join(outputDir, "videos")
	}

	if concurrent := os.Getenv("TWDL_CONCURRENT_DOWNLOADS"); concurrent != "" {
		var val int
		fmt.Sscanf(concurrent, "%d", &val)
		if val > 0 {
			c.Download.ConcurrentDownloads = val
		}
	}

	if ffmpeg := os.Getenv("TWDL_FFMPEG_BINARY"); ffmpeg != "" {
		c.HLS.FFmpegBinary = ffmpeg
	}
	if strategy := os.Getenv("TWDL_HLS_STRATEGY"); strategy != "" {
		c.HLS.Strategy = strategy
	}

	if logLevel := os.Getenv("TWDL_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	// Check in order of precedence
	locations := []string{
		".twdl.yaml",
		".twdl.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "twdl", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "twdl", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".twdl.yaml"),
		filepath.Join(os.Getenv("HOME"), ".twdl.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.CooldownFloor <= 0 {
		errs = append(errs, errors.New("cooldown floor must be positive"))
	}
	if c.RateLimit.CooldownCap < c.RateLimit.CooldownFloor {
		errs = append(errs, errors.New("cooldown cap must be at least the cooldown floor"))
	}
	if c.RateLimit.CooldownMultiplier < 1.0 {
		errs = append(errs, errors.New("cooldown multiplier must be at least 1.0"))
	}

	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 10 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 10"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.RetryAttempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	switch strings.ToLower(c.HLS.Strategy) {
	case "segments", "ffmpeg":
	default:
		errs = append(errs, errors.New("hls strategy must be segments or ffmpeg"))
	}
	if c.HLS.FFmpegTimeout <= 0 {
		errs = append(errs, errors.New("ffmpeg timeout must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if cookie, ok := flags["cookie"].(string); ok && cookie != "" {
		c.Twitter.Cookie = cookie
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
		c.Output.ImagesDirectory = filepath.Join(outputDir, "images")
		c.Output.VideosDirectory = filepath.Join(outputDir, "videos")
	}
	if concurrent, ok := flags["workers"].(int); ok && concurrent > 0 {
		c.Download.ConcurrentDownloads = concurrent
	}
	if strategy, ok := flags["hls-strategy"].(string); ok && strategy != "" {
		c.HLS.Strategy = strategy
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".env"))
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".twdl.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/podharvest/pkg/log"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
)

// Config holds all application configuration.
// Values come from the environment (optionally seeded from a .env file) with
// sensible defaults, then options are applied.
//
// Environment Variables:
// Paths:
// - DOWNLOADS_DIR: root of all channel directories (default: downloads)
// - CHANNELS_FILE: channel list JSON (default: channels_config.json)
// - SUMMARIZER_CONFIG: summarization service settings JSON (default: llm_config.json)
// - DATA_DIR: task database directory (default: data)
//
// Harvest:
// - CRON_EXPR: schedule for batch runs (default: 0 3 * * *)
// - CHANNEL_DELAY: pause between channels (default: 3s)
// - FETCH_TOOL: fetch tool binary (default: yt-dlp)
// - PROBE_TIMEOUT: per-item discovery probe timeout (default: 10s)
// - PREFERRED_LANGUAGE: preferred transcript language (default: pl)
//
// System:
// - HTTP_ADDR: API listen address (default: :8080)
// - LOG_LEVEL: debug, info, warn, error (default: info)
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Harvest   HarvestConfig   `json:"harvest"`
	Summarize SummarizeConfig `json:"summarize"`
	HTTP      HTTPConfig      `json:"http"`
	System    SystemConfig    `json:"system"`
}

type PathsConfig struct {
	DownloadsDir   string `json:"downloads_dir"`
	ChannelsFile   string `json:"channels_file"`
	SummarizerFile string `json:"summarizer_file"`
	DataDir        string `json:"data_dir"`
}

type HarvestConfig struct {
	CronExpr     string        `json:"cron_expr"`
	ChannelDelay time.Duration `json:"channel_delay"`
	FetchTool    string        `json:"fetch_tool"`
	ProbeTimeout time.Duration `json:"probe_timeout"`
	// PlaylistEnd bounds the flat listing; MaxProbes bounds detailed probes.
	PlaylistEnd int `json:"playlist_end"`
	MaxProbes   int `json:"max_probes"`
}

type SummarizeConfig struct {
	PreferredLanguage language.Tag `json:"preferred_language"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type SystemConfig struct {
	LogLevel log.LogLevel `json:"log_level"`
}

// DBPath is the sqlite file holding background task records.
func (c *Config) DBPath() string {
	return filepath.Join(c.Paths.DataDir, "podharvest.db")
}

// Option is a function type for configuring Config
type Option func(*Config)

func WithDownloadsDir(dir string) Option {
	return func(c *Config) {
		if strings.TrimSpace(dir) != "" {
			c.Paths.DownloadsDir = dir
		}
	}
}

func WithChannelsFile(path string) Option {
	return func(c *Config) {
		if strings.TrimSpace(path) != "" {
			c.Paths.ChannelsFile = path
		}
	}
}

func WithSummarizerFile(path string) Option {
	return func(c *Config) {
		if strings.TrimSpace(path) != "" {
			c.Paths.SummarizerFile = path
		}
	}
}

func WithPreferredLanguage(lang string) Option {
	return func(c *Config) {
		if tag, err := language.Parse(lang); err == nil {
			c.Summarize.PreferredLanguage = tag
		}
	}
}

// LoadDotEnv loads a .env file into the environment. A missing file is fine.
func LoadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		log.Warn("Could not load %s: %v", path, err)
	}
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Paths: PathsConfig{
			DownloadsDir:   getEnvString("DOWNLOADS_DIR", "downloads"),
			ChannelsFile:   getEnvString("CHANNELS_FILE", "channels_config.json"),
			SummarizerFile: getEnvString("SUMMARIZER_CONFIG", "llm_config.json"),
			DataDir:        getEnvString("DATA_DIR", "data"),
		},
		Harvest: HarvestConfig{
			CronExpr:     getEnvString("CRON_EXPR", "0 3 * * *"),
			ChannelDelay: getEnvDuration("CHANNEL_DELAY", 3*time.Second),
			FetchTool:    getEnvString("FETCH_TOOL", "yt-dlp"),
			ProbeTimeout: getEnvDuration("PROBE_TIMEOUT", 10*time.Second),
			PlaylistEnd:  getEnvInt("PLAYLIST_END", 50),
			MaxProbes:    getEnvInt("MAX_PROBES", 20),
		},
		Summarize: SummarizeConfig{
			PreferredLanguage: getEnvLanguage("PREFERRED_LANGUAGE", language.Polish),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		System: SystemConfig{
			LogLevel: log.ParseLevel(getEnvString("LOG_LEVEL", "info")),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", *config)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.Paths.DownloadsDir) == "" {
		return fmt.Errorf("DOWNLOADS_DIR is required")
	}
	if strings.TrimSpace(c.Harvest.FetchTool) == "" {
		return fmt.Errorf("FETCH_TOOL is required")
	}
	if _, err := cron.ParseStandard(c.Harvest.CronExpr); err != nil {
		return fmt.Errorf("invalid CRON_EXPR: %w", err)
	}
	if c.Harvest.ProbeTimeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be positive")
	}
	if c.Harvest.ChannelDelay < 0 {
		return fmt.Errorf("CHANNEL_DELAY must not be negative")
	}
	if c.Harvest.PlaylistEnd < 1 || c.Harvest.MaxProbes < 1 {
		return fmt.Errorf("PLAYLIST_END and MAX_PROBES must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("3s") or plain seconds ("3").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs := getEnvFloat(key, -1); secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvLanguage(key string, defaultValue language.Tag) language.Tag {
	if value := os.Getenv(key); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return tag
		}
	}
	return defaultValue
}

// Package config loads the dialog router's configuration from
// $DIALOGROUTER_HOME/config.yaml, layering environment overrides and
// defaults on top, in the style of a long-running service config rather
// than a one-shot CLI flag set.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// OrchestratorConfig carries the matching, timer, length-bound and
// evaluation tunables consumed by internal/orchestrator.Config.
type OrchestratorConfig struct {
	HumanBotRatio            float64 `yaml:"human_bot_ratio"`
	MaxTimeInLobbySeconds    int     `yaml:"max_time_in_lobby_seconds"`
	InactivityTimeoutSeconds int     `yaml:"inactivity_timeout_seconds"`
	MaxLength                int     `yaml:"max_length"`
	EvalMin                  int     `yaml:"eval_min"`
	EvalMax                  int     `yaml:"eval_max"`
	GuessProfile             bool    `yaml:"guess_profile"`
	GuessProfileBySentence   bool    `yaml:"guess_profile_by_sentence"`
	AssignProfile            bool    `yaml:"assign_profile"`
	ScoreDialog              bool    `yaml:"score_dialog"`
	ShowTopics               bool    `yaml:"show_topics"`
	BadMessageThreshold      int     `yaml:"bad_message_threshold"`
	TrigramWindow            int     `yaml:"trigram_window"`
}

// HTTPConfig governs the BotGateway's HTTP server.
type HTTPConfig struct {
	BindAddr            string `yaml:"bind_addr"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	LongPollMaxSeconds  int    `yaml:"long_poll_max_seconds"`
}

// RateLimitConfig bounds per-bot-token request rate on the BotGateway.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// PersistenceConfig locates the SQLite store.
type PersistenceConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// TelegramConfig configures the Telegram messenger adapter.
type TelegramConfig struct {
	Token      string `yaml:"token"`
	WebhookURL string `yaml:"webhook_url"`
	Enabled    bool   `yaml:"enabled"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Enabled      bool   `yaml:"enabled"`
}

// Config is the dialog router's top-level configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	HTTP         HTTPConfig         `yaml:"http"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`

	NeedsGenesis bool `yaml:"-"`
}

// Fingerprint returns a short stable hash of the fields that affect runtime
// behavior, useful for logging "config changed" without diffing the whole
// struct.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|ratio=%v|maxlen=%d|trigram=%d",
		c.HTTP.BindAddr, c.LogLevel, c.Orchestrator.HumanBotRatio,
		c.Orchestrator.MaxLength, c.Orchestrator.TrigramWindow)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Orchestrator: OrchestratorConfig{
			HumanBotRatio:            0.5,
			MaxTimeInLobbySeconds:    30,
			InactivityTimeoutSeconds: 300,
			MaxLength:                10,
			EvalMin:                  0,
			EvalMax:                  1,
			GuessProfile:             true,
			AssignProfile:            true,
			ScoreDialog:              true,
			TrigramWindow:            3,
		},
		HTTP: HTTPConfig{
			BindAddr:            "127.0.0.1:8080",
			ReadTimeoutSeconds:  10,
			WriteTimeoutSeconds: 35,
			LongPollMaxSeconds:  30,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Persistence: PersistenceConfig{
			SQLitePath: "./dialogrouter.db",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "dialog-router",
		},
	}
}

// HomeDir resolves the directory holding config.yaml: DIALOGROUTER_HOME if
// set, else ~/.dialogrouter.
func HomeDir() string {
	if override := os.Getenv("DIALOGROUTER_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".dialogrouter")
}

// ConfigPath returns the path to config.yaml under homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from HomeDir, applies environment overrides and
// fills in defaults for anything left unset. A missing config.yaml is not
// an error: NeedsGenesis is set so callers can write a starter file.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create config home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HTTP.BindAddr == "" {
		cfg.HTTP.BindAddr = "127.0.0.1:8080"
	}
	if cfg.Orchestrator.MaxLength <= 0 {
		cfg.Orchestrator.MaxLength = 10
	}
	if cfg.Orchestrator.EvalMax <= cfg.Orchestrator.EvalMin {
		cfg.Orchestrator.EvalMax = cfg.Orchestrator.EvalMin + 1
	}
	if cfg.Orchestrator.TrigramWindow <= 0 {
		cfg.Orchestrator.TrigramWindow = 3
	}
	if cfg.Orchestrator.MaxTimeInLobbySeconds <= 0 {
		cfg.Orchestrator.MaxTimeInLobbySeconds = 30
	}
	if cfg.Orchestrator.InactivityTimeoutSeconds <= 0 {
		cfg.Orchestrator.InactivityTimeoutSeconds = 300
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = 5
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 10
	}
	if strings.TrimSpace(cfg.Persistence.SQLitePath) == "" {
		cfg.Persistence.SQLitePath = "./dialogrouter.db"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "dialog-router"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("DIALOGROUTER_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("DIALOGROUTER_BIND_ADDR"); raw != "" {
		cfg.HTTP.BindAddr = raw
	}
	if raw := os.Getenv("DIALOGROUTER_SQLITE_PATH"); raw != "" {
		cfg.Persistence.SQLitePath = raw
	}
	if raw := os.Getenv("DIALOGROUTER_HUMAN_BOT_RATIO"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.Orchestrator.HumanBotRatio = v
		}
	}
	if raw := os.Getenv("DIALOGROUTER_MAX_LENGTH"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Orchestrator.MaxLength = v
		}
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Telegram.Token = raw
		cfg.Telegram.Enabled = true
	}
	if raw := os.Getenv("DIALOGROUTER_OTLP_ENDPOINT"); raw != "" {
		cfg.Telemetry.OTLPEndpoint = raw
		cfg.Telemetry.Enabled = true
	}
}

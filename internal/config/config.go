// Package config loads the livelink configuration file.
//
// Files may be YAML or JSON5, may pull in other files with "$include", and
// have ${ENV} references expanded before parsing. Unknown keys are rejected.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration.
type Config struct {
	Version     int                      `yaml:"version"`
	Live        LiveConfig               `yaml:"live"`
	Profiles    map[string]ProfileConfig `yaml:"profiles"`
	Continuity  ContinuityConfig         `yaml:"continuity"`
	Summarizer  SummarizerConfig         `yaml:"summarizer"`
	Notify      NotifyConfig             `yaml:"notify"`
	Permissions PermissionsConfig        `yaml:"permissions"`
	Persona     PersonaConfig            `yaml:"persona"`
	Logging     LoggingConfig            `yaml:"logging"`
	Metrics     MetricsConfig            `yaml:"metrics"`
}

// LiveConfig configures the connection to the live model service.
type LiveConfig struct {
	Endpoint      string          `yaml:"endpoint"`
	APIKey        string          `yaml:"api_key"`
	Model         string          `yaml:"model"`
	Voice         string          `yaml:"voice"`
	Language      string          `yaml:"language"`
	TimeZone      string          `yaml:"timezone"`
	Clock         string          `yaml:"clock"`
	Profile       string          `yaml:"profile"`
	SessionLimit  time.Duration   `yaml:"session_limit"`
	Resumption    *bool           `yaml:"resumption"`
	Transcription *bool           `yaml:"transcription"`
	Reconnect     ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig bounds automatic reconnection.
type ReconnectConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffUnit       time.Duration `yaml:"backoff_unit"`
	BackoffCap        time.Duration `yaml:"backoff_cap"`
	FastFailureWindow time.Duration `yaml:"fast_failure_window"`
}

// ContinuityConfig selects where conversation state is persisted.
type ContinuityConfig struct {
	Backend       string        `yaml:"backend"`
	Dir           string        `yaml:"dir"`
	DSN           string        `yaml:"dsn"`
	MaxStaleness  time.Duration `yaml:"max_staleness"`
	IOTimeout     time.Duration `yaml:"io_timeout"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// SummarizerConfig configures the pre-reconnect summary call.
type SummarizerConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	MaxTokens  int           `yaml:"max_tokens"`
	Timeout    time.Duration `yaml:"timeout"`
	MinEntries int           `yaml:"min_entries"`
	MaxChars   int           `yaml:"max_chars"`
}

// NotifyConfig configures the side channel to the human.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// PermissionsConfig holds glob lists for capability access.
type PermissionsConfig struct {
	Allow      []string `yaml:"allow"`
	Deny       []string `yaml:"deny"`
	AdminOnly  []string `yaml:"admin_only"`
	AdminUsers []string `yaml:"admin_users"`
}

// PersonaConfig supplies the static persona text, inline or from a file.
type PersonaConfig struct {
	Text  string `yaml:"text"`
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Addr      string `yaml:"addr"`
}

// Load reads, merges, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfigPath returns the path used when --config is not given.
func DefaultConfigPath() string {
	if path := os.Getenv("LIVELINK_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "livelink.yaml"
	}
	return filepath.Join(home, ".livelink", "config.yaml")
}

// ActiveProfile returns the profile selected by live.profile.
func (c *Config) ActiveProfile() ProfileConfig {
	return c.Profile(c.Live.Profile)
}

// Profile returns a named profile with unset fields filled from the built-in
// default profile.
func (c *Config) Profile(name string) ProfileConfig {
	if p, ok := c.Profiles[name]; ok {
		return p.withDefaults(DefaultProfiles()[ProfileDefault])
	}
	if p, ok := DefaultProfiles()[name]; ok {
		return p
	}
	return DefaultProfiles()[ProfileDefault]
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	live := &cfg.Live
	if live.Model == "" {
		live.Model = "gemini-live-2.5-flash-preview"
	}
	if live.Voice == "" {
		live.Voice = "Puck"
	}
	if live.Language == "" {
		live.Language = "en-US"
	}
	if live.Profile == "" {
		live.Profile = ProfileDefault
	}
	if live.SessionLimit == 0 {
		live.SessionLimit = 14*time.Minute + 30*time.Second
	}
	if live.Resumption == nil {
		live.Resumption = boolPtr(true)
	}
	if live.Transcription == nil {
		live.Transcription = boolPtr(true)
	}
	if live.Reconnect.MaxAttempts == 0 {
		live.Reconnect.MaxAttempts = 10
	}
	if live.Reconnect.BackoffUnit == 0 {
		live.Reconnect.BackoffUnit = 2 * time.Second
	}
	if live.Reconnect.BackoffCap == 0 {
		live.Reconnect.BackoffCap = 30 * time.Second
	}
	if live.Reconnect.FastFailureWindow == 0 {
		live.Reconnect.FastFailureWindow = 15 * time.Second
	}

	if cfg.Profiles == nil {
		cfg.Profiles = map[string]ProfileConfig{}
	}
	for name, p := range DefaultProfiles() {
		if _, ok := cfg.Profiles[name]; !ok {
			cfg.Profiles[name] = p
		}
	}

	cont := &cfg.Continuity
	if cont.Backend == "" {
		cont.Backend = "file"
	}
	if cont.Dir == "" && cont.Backend == "file" {
		cont.Dir = defaultStateDir()
	}
	if cont.MaxStaleness == 0 {
		cont.MaxStaleness = 2 * time.Hour
	}
	if cont.IOTimeout == 0 {
		cont.IOTimeout = 5 * time.Second
	}
	if cont.SweepSchedule == "" {
		cont.SweepSchedule = "@every 1h"
	}

	sum := &cfg.Summarizer
	if sum.Provider == "" {
		sum.Provider = "none"
	}
	if sum.Timeout == 0 {
		sum.Timeout = 20 * time.Second
	}
	if sum.MinEntries == 0 {
		sum.MinEntries = 4
	}
	if sum.MaxChars == 0 {
		sum.MaxChars = 1500
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "livelink"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "livelink", "continuity")
	}
	return filepath.Join(home, ".livelink", "continuity")
}

func boolPtr(v bool) *bool { return &v }

// Enabled reads an optional flag, treating nil as false.
func Enabled(v *bool) bool { return v != nil && *v }

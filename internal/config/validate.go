package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
)

// ValidationError collects every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid config"
	}
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Validate checks a defaulted configuration.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("%v", err)
	}

	live := c.Live
	if strings.TrimSpace(live.Model) == "" {
		add("live.model is required")
	}
	if _, err := language.Parse(live.Language); err != nil {
		add("live.language %q is not a valid language tag", live.Language)
	}
	switch live.Clock {
	case "", "12h", "24h":
	default:
		add("live.clock must be 12h or 24h")
	}
	if _, ok := c.Profiles[live.Profile]; !ok {
		add("live.profile %q is not defined (known: %s)", live.Profile, strings.Join(c.profileNames(), ", "))
	}
	if live.SessionLimit < 0 {
		add("live.session_limit must not be negative")
	}
	rc := live.Reconnect
	if rc.MaxAttempts < 0 {
		add("live.reconnect.max_attempts must not be negative")
	}
	if rc.BackoffUnit < 0 || rc.BackoffCap < 0 {
		add("live.reconnect backoff durations must not be negative")
	}
	if rc.BackoffCap > 0 && rc.BackoffCap < rc.BackoffUnit {
		add("live.reconnect.backoff_cap must be at least backoff_unit")
	}

	for _, name := range c.profileNames() {
		p := c.Profiles[name]
		if p.ToolTimeout < 0 {
			add("profiles.%s.tool_timeout must not be negative", name)
		}
		if p.LogCap < 0 {
			add("profiles.%s.log_cap must not be negative", name)
		}
		if p.CheckpointEvery < 0 {
			add("profiles.%s.checkpoint_every must not be negative", name)
		}
	}

	cont := c.Continuity
	switch cont.Backend {
	case "none":
	case "file":
		if strings.TrimSpace(cont.Dir) == "" {
			add("continuity.dir is required for the file backend")
		}
	case "sqlite", "postgres":
		if strings.TrimSpace(cont.DSN) == "" {
			add("continuity.dsn is required for the %s backend", cont.Backend)
		}
	default:
		add("continuity.backend must be one of file, sqlite, postgres, none")
	}
	if _, err := cron.ParseStandard(cont.SweepSchedule); err != nil {
		add("continuity.sweep_schedule: %v", err)
	}

	switch strings.ToLower(c.Summarizer.Provider) {
	case "none", "gemini", "google", "openai", "anthropic":
	default:
		add("summarizer.provider %q is not supported", c.Summarizer.Provider)
	}

	if c.Notify.Telegram.Enabled && strings.TrimSpace(c.Notify.Telegram.BotToken) == "" {
		add("notify.telegram.bot_token is required when telegram is enabled")
	}

	if c.Persona.Watch && strings.TrimSpace(c.Persona.File) == "" {
		add("persona.watch requires persona.file")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q is not supported", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format must be json or text")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func (c *Config) profileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

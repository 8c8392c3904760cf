package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/genai"

	"github.com/haasonsaas/livelink/internal/backoff"
	"github.com/haasonsaas/livelink/internal/capabilities"
	"github.com/haasonsaas/livelink/internal/config"
	"github.com/haasonsaas/livelink/internal/continuity"
	"github.com/haasonsaas/livelink/internal/datetime"
	"github.com/haasonsaas/livelink/internal/instructions"
	"github.com/haasonsaas/livelink/internal/live"
	"github.com/haasonsaas/livelink/internal/live/transport"
	"github.com/haasonsaas/livelink/internal/notify"
	"github.com/haasonsaas/livelink/internal/observability"
	"github.com/haasonsaas/livelink/internal/summarize"
)

func newLogger(cfg config.LoggingConfig, out io.Writer, debug bool) *slog.Logger {
	level := cfg.Level
	if debug {
		level = "debug"
	}
	if out == nil {
		out = os.Stderr
	}
	return observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Format,
		Output: out,
	})
}

// openStore returns the configured continuity backend and a closer. The
// "none" backend returns a nil store.
func openStore(ctx context.Context, cfg config.ContinuityConfig) (continuity.Store, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, noop, nil
	case "file":
		store, err := continuity.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case "sqlite":
		store, err := continuity.OpenSQLStore(ctx, continuity.DialectSQLite, cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case "postgres":
		store, err := continuity.OpenSQLStore(ctx, continuity.DialectPostgres, cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown continuity backend %q", cfg.Backend)
	}
}

func newSummarizer(ctx context.Context, cfg config.SummarizerConfig, logger *slog.Logger) (*summarize.Summarizer, error) {
	completer, err := summarize.NewCompleter(ctx, summarize.ProviderConfig{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	if completer == nil {
		return nil, nil
	}
	return summarize.New(completer, summarize.Config{
		MinEntries: cfg.MinEntries,
		MaxChars:   cfg.MaxChars,
		Timeout:    cfg.Timeout,
		Logger:     logger,
	}), nil
}

func newNotifier(cfg config.NotifyConfig) (notify.Notifier, error) {
	if !cfg.Telegram.Enabled {
		return notify.Discard{}, nil
	}
	tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	if err != nil {
		return nil, fmt.Errorf("telegram notifier: %w", err)
	}
	return tg, nil
}

// newPersona returns the persona source and a closer for file watchers.
func newPersona(ctx context.Context, cfg config.PersonaConfig, logger *slog.Logger) (instructions.PersonaSource, func() error, error) {
	noop := func() error { return nil }
	if cfg.File == "" {
		return instructions.StaticPersona(cfg.Text), noop, nil
	}
	persona, err := instructions.NewFilePersona(cfg.File, logger)
	if err != nil {
		return nil, noop, err
	}
	if cfg.Watch {
		if err := persona.Watch(ctx); err != nil {
			return nil, noop, err
		}
	}
	return persona, persona.Close, nil
}

func newPermissions(cfg config.PermissionsConfig) *capabilities.Allowlist {
	return &capabilities.Allowlist{
		Allow:      cfg.Allow,
		Deny:       cfg.Deny,
		AdminOnly:  cfg.AdminOnly,
		AdminUsers: cfg.AdminUsers,
	}
}

// newMetrics builds collectors on a private registry and serves them when
// metrics are enabled.
func newMetrics(cfg config.MetricsConfig, logger *slog.Logger) (*observability.Metrics, *observability.MetricsServer, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry, cfg.Namespace)
	server, err := observability.StartMetricsServer(cfg.Addr, registry, logger)
	if err != nil {
		return nil, nil, err
	}
	return metrics, server, nil
}

func clockFormat(clock string) datetime.Clock {
	switch strings.ToLower(strings.TrimSpace(clock)) {
	case "12h":
		return datetime.Clock12
	case "24h":
		return datetime.Clock24
	default:
		return ""
	}
}

// sessionOptions maps the live config section to connection options.
func sessionOptions(cfg config.LiveConfig, textOnly bool) live.Options {
	modality := genai.ModalityAudio
	if textOnly {
		modality = genai.ModalityText
	}
	return live.Options{
		Model:              cfg.Model,
		Voice:              cfg.Voice,
		Language:           cfg.Language,
		ResponseModalities: []genai.Modality{modality},
		SessionLimit:       cfg.SessionLimit,
		Resumption:         config.Enabled(cfg.Resumption),
		Transcription:      config.Enabled(cfg.Transcription),
		MaxAttempts:        cfg.Reconnect.MaxAttempts,
		Backoff:            backoff.Linear{Unit: cfg.Reconnect.BackoffUnit, Cap: cfg.Reconnect.BackoffCap},
		FastFailureWindow:  cfg.Reconnect.FastFailureWindow,
	}
}

func newDialer(cfg config.LiveConfig) *transport.WebSocketDialer {
	return &transport.WebSocketDialer{
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
	}
}

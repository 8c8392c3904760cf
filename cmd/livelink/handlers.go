package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/haasonsaas/livelink/internal/capabilities"
	"github.com/haasonsaas/livelink/internal/config"
	"github.com/haasonsaas/livelink/internal/continuity"
	"github.com/haasonsaas/livelink/internal/instructions"
	"github.com/haasonsaas/livelink/internal/live"
)

// runChat holds one session open and feeds it stdin lines until EOF, a
// signal, or a fatal session error.
func runChat(ctx context.Context, in io.Reader, out io.Writer, opts chatOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, nil, opts.debug)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, metricsServer, err := newMetrics(cfg.Metrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := metricsServer.Stop(context.Background()); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg.Continuity)
	if err != nil {
		return fmt.Errorf("open continuity store: %w", err)
	}
	defer closeStore()
	if store != nil {
		sweeper, err := continuity.NewSweeper(store, cfg.Continuity.MaxStaleness, cfg.Continuity.SweepSchedule, logger)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	summarizer, err := newSummarizer(ctx, cfg.Summarizer, logger)
	if err != nil {
		return fmt.Errorf("summarizer: %w", err)
	}
	notifier, err := newNotifier(cfg.Notify)
	if err != nil {
		return err
	}
	persona, closePersona, err := newPersona(ctx, cfg.Persona, logger)
	if err != nil {
		return fmt.Errorf("persona: %w", err)
	}
	defer closePersona()

	printer := &transcriptPrinter{out: out}
	fatal := make(chan error, 1)

	sessions := live.NewRegistry()
	defer func() {
		if err := sessions.CloseAll(context.Background()); err != nil {
			logger.Warn("closing sessions failed", "error", err)
		}
	}()

	session, err := sessions.Create(ctx, live.Config{
		Identity: live.Identity{
			Key:            opts.key,
			ConversationID: opts.conversationID,
			UserID:         opts.userID,
			Admin:          opts.admin,
			Recipient:      opts.recipient,
		},
		Options: sessionOptions(cfg.Live, opts.textOnly),
		Profile: live.ProfileFromConfig(cfg.Live.Profile, cfg.ActiveProfile()),
		Dialer:  newDialer(cfg.Live),
		Context: instructions.Config{
			Persona:  persona,
			Registry: capabilities.NewMemoryRegistry(),
			TimeZone: cfg.Live.TimeZone,
			Clock:    clockFormat(cfg.Live.Clock),
			Logger:   logger,
		},
		Permissions:  newPermissions(cfg.Permissions),
		Store:        store,
		MaxStaleness: cfg.Continuity.MaxStaleness,
		IOTimeout:    cfg.Continuity.IOTimeout,
		Summarizer:   summarizer,
		Notifier:     notifier,
		Metrics:      metrics,
		Logger:       logger,
		Callbacks: live.Callbacks{
			OnText:         printer.text,
			OnTranscript:   printer.transcript,
			OnInterrupted:  printer.interrupted,
			OnTurnComplete: printer.endTurn,
			OnStateChange: func(state live.State) {
				logger.Debug("session state changed", "state", state.String())
			},
			OnError: func(err error) {
				var fatalErr *live.FatalError
				if errors.As(err, &fatalErr) {
					select {
					case fatal <- err:
					default:
					}
					return
				}
				logger.Warn("session error", "error", err)
			},
		},
	})
	if err != nil {
		return err
	}
	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	lines := make(chan string)
	go scanLines(ctx, in, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-fatal:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := session.SendText(ctx, line)
			switch {
			case errors.Is(err, live.ErrNotConnected):
				fmt.Fprintln(out, "(not connected yet, try again in a moment)")
			case err != nil:
				return err
			}
		}
	}
}

// scanLines forwards non-empty lines until EOF or cancellation.
func scanLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case lines <- line:
		case <-ctx.Done():
			return
		}
	}
}

// transcriptPrinter renders streamed fragments as "role> text" lines.
type transcriptPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	role string
}

func (p *transcriptPrinter) write(role, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if role != p.role {
		if p.role != "" {
			fmt.Fprintln(p.out)
		}
		fmt.Fprintf(p.out, "%s> ", role)
		p.role = role
	}
	fmt.Fprint(p.out, text)
}

func (p *transcriptPrinter) transcript(role continuity.Role, text string) {
	if role == continuity.RoleUser {
		p.write("you", text)
		return
	}
	p.write("model", text)
}

func (p *transcriptPrinter) text(text string) { p.write("model", text) }

func (p *transcriptPrinter) interrupted() { p.write("model", " [interrupted]") }

func (p *transcriptPrinter) endTurn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.role != "" {
		fmt.Fprintln(p.out)
		p.role = ""
	}
}

func openConfiguredStore(ctx context.Context, configPath string) (*config.Config, continuity.Store, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	store, closer, err := openStore(ctx, cfg.Continuity)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open continuity store: %w", err)
	}
	if store == nil {
		return nil, nil, nil, errors.New("continuity backend is disabled")
	}
	return cfg, store, closer, nil
}

func runContinuityShow(ctx context.Context, out io.Writer, configPath, key string, asJSON bool) error {
	_, store, closer, err := openConfiguredStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer closer()

	snap, err := store.Load(ctx, key)
	if errors.Is(err, continuity.ErrNotFound) {
		return fmt.Errorf("no continuity snapshot for %q", key)
	}
	if err != nil {
		return err
	}

	if asJSON {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	fmt.Fprintf(out, "key:          %s\n", snap.Key)
	fmt.Fprintf(out, "conversation: %s\n", snap.ConversationID)
	fmt.Fprintf(out, "saved:        %s (%s ago)\n", snap.SavedAt.Format(time.RFC3339), time.Since(snap.SavedAt).Round(time.Second))
	fmt.Fprintf(out, "entries:      %d\n", len(snap.Log))
	if snap.Summary != "" {
		fmt.Fprintf(out, "\nsummary:\n%s\n", snap.Summary)
	}
	if len(snap.Log) > 0 {
		fmt.Fprintf(out, "\nlog:\n%s\n", continuity.Format(snap.Log))
	}
	return nil
}

func runContinuityList(ctx context.Context, out io.Writer, configPath string) error {
	_, store, closer, err := openConfiguredStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer closer()

	lister, ok := store.(continuity.Lister)
	if !ok {
		return errors.New("continuity backend cannot list keys")
	}
	keys, err := lister.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Fprintln(out, key)
	}
	return nil
}

func runContinuitySweep(ctx context.Context, out io.Writer, configPath string) error {
	cfg, store, closer, err := openConfiguredStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer closer()

	sweeper, err := continuity.NewSweeper(store, cfg.Continuity.MaxStaleness, cfg.Continuity.SweepSchedule, slog.Default())
	if err != nil {
		return err
	}
	removed, err := sweeper.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "removed %d stale snapshot(s) older than %s\n", removed, cfg.Continuity.MaxStaleness)
	return nil
}

func runConfigValidate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "config ok: %s\n", configPath)
	fmt.Fprintf(out, "  model:      %s\n", cfg.Live.Model)
	fmt.Fprintf(out, "  profile:    %s\n", cfg.Live.Profile)
	fmt.Fprintf(out, "  continuity: %s\n", cfg.Continuity.Backend)
	fmt.Fprintf(out, "  summarizer: %s\n", cfg.Summarizer.Provider)
	return nil
}

func runConfigSchema(out io.Writer) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

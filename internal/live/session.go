// Package live manages long-lived sessions with a real-time model service.
//
// A Session owns one duplex connection at a time. It sends the setup frame
// built from persona, memory, situation and continuity state, routes inbound
// audio, text and tool calls, and heals itself across service time limits and
// transient drops. All inbound traffic for a session is handled by a single
// event loop goroutine, so handlers observe messages in arrival order.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/language"
	"google.golang.org/genai"

	"github.com/haasonsaas/livelink/internal/backoff"
	"github.com/haasonsaas/livelink/internal/capabilities"
	"github.com/haasonsaas/livelink/internal/continuity"
	"github.com/haasonsaas/livelink/internal/dispatch"
	"github.com/haasonsaas/livelink/internal/instructions"
	"github.com/haasonsaas/livelink/internal/live/protocol"
	"github.com/haasonsaas/livelink/internal/live/transport"
	"github.com/haasonsaas/livelink/internal/notify"
	"github.com/haasonsaas/livelink/internal/observability"
	"github.com/haasonsaas/livelink/internal/summarize"
)

const (
	// DefaultSessionLimit rotates the connection ahead of the service's 15 minute cap.
	DefaultSessionLimit = 14*time.Minute + 30*time.Second

	DefaultMaxAttempts       = 10
	DefaultFastFailureWindow = 15 * time.Second
	DefaultBackoffUnit       = 2 * time.Second
	DefaultBackoffCap        = 30 * time.Second

	goAwayMargin = 2 * time.Second
	rotateGrace  = 3 * time.Second
	eventBuffer  = 64
)

// Identity names who a session belongs to.
type Identity struct {
	// Key identifies the session in the registry and the continuity store.
	// Defaults to ConversationID.
	Key            string
	ConversationID string
	UserID         string
	Admin          bool
	// Recipient addresses the side channel notifier.
	Recipient string
}

// Options are the negotiated connection settings.
type Options struct {
	Model              string
	Voice              string
	Language           string
	ResponseModalities []genai.Modality
	SessionLimit       time.Duration
	Resumption         bool
	Transcription      bool

	MaxAttempts       int
	Backoff           backoff.Delayer
	FastFailureWindow time.Duration
}

// Callbacks receive session output. They run on the event loop and must not
// block or call Close.
type Callbacks struct {
	OnAudio        func(chunk protocol.AudioChunk)
	OnText         func(text string)
	OnTranscript   func(role continuity.Role, text string)
	OnInterrupted  func()
	OnTurnComplete func()
	OnStateChange  func(state State)
	OnError        func(err error)
}

// Config wires a Session.
type Config struct {
	Identity Identity
	Options  Options
	Profile  Profile
	Dialer   transport.Dialer

	// Context configures instruction assembly. Its Registry also backs tool dispatch.
	Context     instructions.Config
	Permissions capabilities.PermissionChecker
	Validator   capabilities.Validator

	Store        continuity.Store
	MaxStaleness time.Duration
	IOTimeout    time.Duration
	Summarizer   *summarize.Summarizer

	Notifier notify.Notifier
	Metrics  *observability.Metrics
	Logger   *slog.Logger

	Callbacks Callbacks
}

type eventKind int

const (
	eventFrame eventKind = iota
	eventClosed
	eventRotate
)

type event struct {
	kind      eventKind
	gen       uint64
	data      []byte
	err       error
	reason    string
	afterTurn bool
}

// Session is one logical conversation with the live service.
type Session struct {
	id         string
	identity   Identity
	opts       Options
	profile    Profile
	lang       language.Tag
	dialer     transport.Dialer
	builder    *instructions.Builder
	dispatcher *dispatch.Dispatcher
	keeper     *continuity.Keeper
	summarizer *summarize.Summarizer
	metrics    *observability.Metrics
	logger     *slog.Logger
	cb         Callbacks
	now        func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan event
	started sync.Once
	wg      sync.WaitGroup
	tools   sync.WaitGroup

	mu           sync.Mutex
	state        State
	conn         transport.Conn
	generation   uint64
	attempts     int
	connectedAt  time.Time
	voice        string
	resumeHandle string
	closing      bool
	opened       bool
	limitTimer   *time.Timer
	rotateTimer  *time.Timer

	// Loop-owned turn state.
	turns         int
	pendingRotate string
	inputBuf      strings.Builder
	outputBuf     strings.Builder
	textBuf       strings.Builder
}

// New creates a session and restores its continuity state. It does not connect.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("live: dialer is required")
	}
	if strings.TrimSpace(cfg.Options.Model) == "" {
		return nil, errors.New("live: model is required")
	}

	opts := withDefaults(cfg.Options)
	identity := cfg.Identity
	if identity.Key == "" {
		identity.Key = identity.ConversationID
	}

	id := uuid.NewString()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "live", "session_id", id, "conversation_id", identity.ConversationID)

	lang := language.Und
	if opts.Language != "" {
		parsed, err := language.Parse(opts.Language)
		if err != nil {
			logger.Warn("invalid session language, ignoring", "language", opts.Language, "error", err)
		} else {
			lang = parsed
		}
	}

	log := continuity.NewLog(cfg.Profile.LogCap)
	keeper := continuity.NewKeeper(continuity.KeeperConfig{
		Store:          cfg.Store,
		Key:            identity.Key,
		ConversationID: identity.ConversationID,
		MaxStaleness:   cfg.MaxStaleness,
		IOTimeout:      cfg.IOTimeout,
		Logger:         logger,
		Recorder:       cfg.Metrics,
	}, log)

	sctx, cancel := context.WithCancel(observability.AddSessionID(context.Background(), id))
	s := &Session{
		id:         id,
		identity:   identity,
		opts:       opts,
		profile:    cfg.Profile,
		lang:       lang,
		dialer:     cfg.Dialer,
		keeper:     keeper,
		summarizer: cfg.Summarizer,
		metrics:    cfg.Metrics,
		logger:     logger,
		cb:         cfg.Callbacks,
		now:        time.Now,
		ctx:        sctx,
		cancel:     cancel,
		events:     make(chan event, eventBuffer),
		voice:      opts.Voice,
	}

	s.dispatcher = dispatch.New(dispatch.Config{
		Registry:    cfg.Context.Registry,
		Validator:   cfg.Validator,
		Permissions: cfg.Permissions,
		Caller: capabilities.Caller{
			UserID:         identity.UserID,
			ConversationID: identity.ConversationID,
			Admin:          identity.Admin,
		},
		Policy:    cfg.Profile.Dispatch,
		Log:       log,
		Notifier:  cfg.Notifier,
		Recipient: identity.Recipient,
		Voice:     s,
		Metrics:   cfg.Metrics,
		Logger:    logger,
	})

	ictx := cfg.Context
	if ictx.ConversationID == "" {
		ictx.ConversationID = identity.ConversationID
	}
	ictx.Reserved = append(append([]capabilities.Declaration(nil), ictx.Reserved...), s.dispatcher.ReservedDeclarations()...)
	if ictx.Logger == nil {
		ictx.Logger = logger
	}
	s.builder = instructions.NewBuilder(ictx)

	keeper.Restore(ctx)
	return s, nil
}

func withDefaults(opts Options) Options {
	if opts.SessionLimit <= 0 {
		opts.SessionLimit = DefaultSessionLimit
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff == nil {
		opts.Backoff = backoff.Linear{Unit: DefaultBackoffUnit, Cap: DefaultBackoffCap}
	}
	if opts.FastFailureWindow <= 0 {
		opts.FastFailureWindow = DefaultFastFailureWindow
	}
	return opts
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Identity returns who the session belongs to.
func (s *Session) Identity() Identity { return s.identity }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of reconnect attempts since the last ready connection.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Voice returns the voice used for the next connection.
func (s *Session) Voice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// Log returns the rolling conversation log.
func (s *Session) Log() *continuity.Log { return s.keeper.Log() }

// Summary returns the latest conversation summary.
func (s *Session) Summary() string { return s.keeper.Summary() }

// RefreshSituation fetches situation context now. The next setup frame
// carries the fetched text without fetching again.
func (s *Session) RefreshSituation(ctx context.Context) error {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return ErrClosed
	}
	s.builder.RefreshSituation(ctx)
	return nil
}

// Connect opens the connection and sends the setup frame. The session becomes
// ready once the service acknowledges setup. Calling Connect on a session that
// is already connected is a no-op.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.started.Do(func() {
		s.mu.Lock()
		s.opened = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.metrics.SessionOpened()
		go s.loop()
	})

	if err := s.dial(ctx); err != nil {
		s.setState(StateIdle)
		return err
	}
	return nil
}

// dial neutralizes the current connection, then opens a new one.
func (s *Session) dial(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, "live.connect", attribute.String("session_id", s.id))
	defer func() { observability.EndSpan(span, err) }()

	s.teardown()
	s.setState(StateConnecting)

	s.mu.Lock()
	voice := s.voice
	handle := s.resumeHandle
	s.mu.Unlock()

	payload := s.builder.Build(ctx, instructions.Request{
		Language: s.lang,
		Summary:  s.keeper.Summary(),
		Log:      s.keeper.Log().Entries(),
		Budget:   s.profile.Budget,
	})
	s.dispatcher.SetNames(payload.Names)

	langCode := ""
	if s.lang != language.Und {
		langCode = s.lang.String()
	}
	frame, err := protocol.EncodeSetup(protocol.Setup{
		Model:              s.opts.Model,
		ResponseModalities: s.opts.ResponseModalities,
		Voice:              voice,
		Language:           langCode,
		Instructions:       payload.Instructions,
		Tools:              payload.Tools,
		Resumption:         s.opts.Resumption,
		ResumptionHandle:   handle,
		Transcription:      s.opts.Transcription,
	})
	if err != nil {
		return err
	}

	conn, err := s.dialer.Dial(ctx)
	s.metrics.Connect(err == nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := conn.Send(ctx, frame); err != nil {
		_ = conn.Close() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("send setup: %w", err)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close() //nolint:errcheck // best-effort cleanup
		return ErrClosed
	}
	s.generation++
	gen := s.generation
	s.conn = conn
	s.connectedAt = s.now()
	s.limitTimer = time.AfterFunc(s.opts.SessionLimit, func() {
		s.post(event{kind: eventRotate, gen: gen, reason: "session_limit"})
	})
	s.wg.Add(1)
	s.mu.Unlock()

	go s.read(gen, conn)

	s.logger.Info("live connection opened",
		"generation", gen,
		"voice", voice,
		"resuming", handle != "",
		"tools", len(payload.Declarations),
		"instruction_chars", len(payload.Instructions),
	)
	return nil
}

// teardown releases the current connection and invalidates its events.
func (s *Session) teardown() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.generation++
	stopTimer(s.limitTimer)
	s.limitTimer = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close() //nolint:errcheck // best-effort cleanup
	}
}

func (s *Session) read(gen uint64, conn transport.Conn) {
	defer s.wg.Done()
	for {
		data, err := conn.Receive()
		if err != nil {
			s.post(event{kind: eventClosed, gen: gen, err: err})
			return
		}
		if !s.post(event{kind: eventFrame, gen: gen, data: data}) {
			return
		}
	}
}

func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// SendAudio streams a realtime audio chunk. It returns ErrNotConnected, and
// sends nothing, unless the session is ready.
func (s *Session) SendAudio(ctx context.Context, data []byte, mimeType string) error {
	frame, err := protocol.EncodeAudio(data, mimeType)
	if err != nil {
		return err
	}
	return s.send(ctx, frame)
}

// SendText sends a complete user text turn and records it in the log.
func (s *Session) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	frame, err := protocol.EncodeText("user", text, true)
	if err != nil {
		return err
	}
	if err := s.send(ctx, frame); err != nil {
		return err
	}
	s.keeper.Log().Append(continuity.RoleUser, text)
	return nil
}

// SendImage sends an inline image without completing the turn.
func (s *Session) SendImage(ctx context.Context, data []byte, mimeType string) error {
	frame, err := protocol.EncodeImage(data, mimeType)
	if err != nil {
		return err
	}
	return s.send(ctx, frame)
}

func (s *Session) send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrClosed
	}
	conn := s.conn
	ready := s.state == StateReady
	s.mu.Unlock()

	if conn == nil || !ready {
		return ErrNotConnected
	}
	return conn.Send(ctx, frame)
}

// SetVoice changes the output voice. A connected session reconnects with the
// new voice after the current turn completes.
func (s *Session) SetVoice(ctx context.Context, voice string) error {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return errors.New("voice is required")
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrClosed
	}
	s.voice = voice
	connected := s.conn != nil
	gen := s.generation
	s.mu.Unlock()

	s.logger.Info("voice change requested", "voice", voice)
	if connected {
		s.post(event{kind: eventRotate, gen: gen, reason: "voice_change", afterTurn: true})
	}
	return nil
}

// Close shuts the session down. It stops timers, prevents further
// reconnects, persists continuity state and releases the connection.
// In-flight tool calls are not aborted but their results are no longer
// delivered. Close is idempotent and must not be called from a callback.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	already := s.closing
	s.closing = true
	opened := s.opened
	if !already {
		s.state = StateClosing
	}
	s.mu.Unlock()

	if !already {
		s.notifyState(StateClosing)
	}
	s.cancel()
	s.teardown()
	s.stopTimers()
	s.wg.Wait()
	s.tools.Wait()
	if already {
		return nil
	}

	s.flushTurn()
	s.keeper.Persist(ctx)
	s.setState(StateClosed)
	if opened {
		s.metrics.SessionClosed()
	}
	s.logger.Info("live session closed")
	return nil
}

func (s *Session) stopTimers() {
	s.mu.Lock()
	stopTimer(s.limitTimer)
	stopTimer(s.rotateTimer)
	s.limitTimer = nil
	s.rotateTimer = nil
	s.mu.Unlock()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.notifyState(state)
}

func (s *Session) notifyState(state State) {
	if s.cb.OnStateChange != nil {
		s.cb.OnStateChange(state)
	}
}

func (s *Session) emitError(err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// toolSender routes dispatcher output over the current connection without
// recording injected turns as user speech.
type toolSender struct {
	s *Session
}

func (t toolSender) SendToolResponses(ctx context.Context, responses ...protocol.ToolResponse) error {
	frame, err := protocol.EncodeToolResponses(responses...)
	if err != nil {
		return err
	}
	return t.s.send(ctx, frame)
}

func (t toolSender) SendText(ctx context.Context, text string) error {
	frame, err := protocol.EncodeText("user", text, true)
	if err != nil {
		return err
	}
	return t.s.send(ctx, frame)
}

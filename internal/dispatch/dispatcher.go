// Package dispatch executes tool calls issued by the live model.
//
// Each call races against a per-profile timeout. A result that arrives in time
// becomes the tool response; a slow call is acknowledged with an interim
// response and finishes in the background, where its result is logged and,
// when the profile allows, injected back into the conversation as a text turn.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/livelink/internal/capabilities"
	"github.com/haasonsaas/livelink/internal/continuity"
	"github.com/haasonsaas/livelink/internal/live/protocol"
	"github.com/haasonsaas/livelink/internal/notify"
	"github.com/haasonsaas/livelink/internal/observability"
	"github.com/haasonsaas/livelink/internal/tools/naming"
)

const (
	// DefaultToolTimeout bounds the wait for a result before an interim response is sent.
	DefaultToolTimeout = 8 * time.Second

	// InterimMessage is sent when a call outlives its timeout.
	InterimMessage = "Still working on it. The result will follow when it is ready."

	truncateSuffix = "...[truncated]"
)

// Sender delivers dispatcher output over the live connection.
type Sender interface {
	SendToolResponses(ctx context.Context, responses ...protocol.ToolResponse) error
	// SendText injects a client text turn.
	SendText(ctx context.Context, text string) error
}

// Policy holds the profile-dependent dispatch settings.
type Policy struct {
	ToolTimeout time.Duration
	// ResultMaxChars caps the result text sent to the model; 0 disables truncation.
	ResultMaxChars int
	// InjectDeferred sends late results back as a text turn.
	InjectDeferred bool
}

// Outcome reports how a single call was resolved.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeDenied    Outcome = "denied"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeFailed    Outcome = "failed"
	OutcomeReserved  Outcome = "reserved"
)

// Config wires a Dispatcher.
type Config struct {
	Registry    capabilities.Registry
	Validator   capabilities.Validator
	Permissions capabilities.PermissionChecker
	Caller      capabilities.Caller
	Policy      Policy

	// Log receives completed results. Optional.
	Log *continuity.Log

	// Notifier and Recipient serve media forwarding and the history handler.
	Notifier  notify.Notifier
	Recipient string

	// Voice backs the set_voice handler. Optional.
	Voice VoiceChanger

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Dispatcher resolves and executes tool calls for one session.
type Dispatcher struct {
	registry    capabilities.Registry
	validator   capabilities.Validator
	permissions capabilities.PermissionChecker
	caller      capabilities.Caller
	log         *continuity.Log
	notifier    notify.Notifier
	recipient   string
	voice       VoiceChanger
	metrics     *observability.Metrics
	logger      *slog.Logger

	policy atomic.Pointer[Policy]
	names  atomic.Pointer[naming.ToolNameMap]

	reserved map[string]reservedHandler
	inflight sync.WaitGroup
}

type execResult struct {
	value any
	err   error
}

// New creates a Dispatcher. A nil permission checker denies everything.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	permissions := cfg.Permissions
	if permissions == nil {
		permissions = capabilities.DenyAll{}
	}
	validator := cfg.Validator
	if validator == nil {
		validator = capabilities.NewSchemaValidator()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Discard{}
	}

	d := &Dispatcher{
		registry:    cfg.Registry,
		validator:   validator,
		permissions: permissions,
		caller:      cfg.Caller,
		log:         cfg.Log,
		notifier:    notifier,
		recipient:   cfg.Recipient,
		voice:       cfg.Voice,
		metrics:     cfg.Metrics,
		logger:      logger.With("component", "dispatch"),
	}
	d.SetPolicy(cfg.Policy)
	d.reserved = d.reservedHandlers()
	return d
}

// SetPolicy replaces the active policy.
func (d *Dispatcher) SetPolicy(p Policy) {
	if p.ToolTimeout <= 0 {
		p.ToolTimeout = DefaultToolTimeout
	}
	d.policy.Store(&p)
}

// Policy returns the active policy.
func (d *Dispatcher) Policy() Policy {
	return *d.policy.Load()
}

// SetNames installs the name table for the current connection generation.
func (d *Dispatcher) SetNames(m *naming.ToolNameMap) {
	d.names.Store(m)
}

// Dispatch fans out every call concurrently and returns once each call has
// produced its immediate response (result, error or interim notice).
func (d *Dispatcher) Dispatch(ctx context.Context, sender Sender, calls []protocol.ToolCallRequest) []Outcome {
	outcomes := make([]Outcome, len(calls))
	if len(calls) == 1 {
		outcomes[0] = d.HandleToolCall(ctx, sender, calls[0])
		return outcomes
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call protocol.ToolCallRequest) {
			defer wg.Done()
			outcomes[idx] = d.HandleToolCall(ctx, sender, call)
		}(i, call)
	}
	wg.Wait()
	return outcomes
}

// Wait blocks until every deferred call has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Cancel records a cancellation from the service. In-flight calls keep running;
// their results become logged-only when they arrive.
func (d *Dispatcher) Cancel(ids []string) {
	if len(ids) == 0 {
		return
	}
	d.logger.Info("tool calls cancelled by service", "call_ids", ids)
}

// HandleToolCall resolves, checks and executes one call and sends its response.
func (d *Dispatcher) HandleToolCall(ctx context.Context, sender Sender, req protocol.ToolCallRequest) Outcome {
	ctx = observability.AddToolCallID(ctx, req.ID)
	logger := d.logger.With("call_id", req.ID, "wire_name", req.WireName)

	if handler, ok := d.reserved[req.WireName]; ok {
		return d.runReserved(ctx, sender, req, handler, logger)
	}

	name := d.resolveName(req.WireName, logger)
	logger = logger.With("tool", name)

	if !d.permissions.IsPermitted(name, d.caller) {
		logger.Warn("tool call denied", "user_id", d.caller.UserID)
		d.reply(ctx, sender, req, "", fmt.Sprintf("%v: %s is not available to this user", capabilities.ErrPermissionDenied, name), logger)
		d.metrics.ToolCall(name, string(OutcomeDenied), 0)
		return OutcomeDenied
	}

	if d.registry == nil {
		d.reply(ctx, sender, req, "", fmt.Sprintf("%v: %s", capabilities.ErrUnknownCapability, name), logger)
		d.metrics.ToolCall(name, string(OutcomeUnknown), 0)
		return OutcomeUnknown
	}
	capability, ok := d.registry.Resolve(name)
	if !ok {
		logger.Warn("unknown capability")
		d.reply(ctx, sender, req, "", fmt.Sprintf("%v: %s", capabilities.ErrUnknownCapability, name), logger)
		d.metrics.ToolCall(name, string(OutcomeUnknown), 0)
		return OutcomeUnknown
	}

	decl := capability.Declaration()
	args := d.normalize(req.Args, decl)
	if err := d.validator.Validate(args, decl); err != nil {
		logger.Warn("tool arguments rejected", "error", err)
		d.reply(ctx, sender, req, "", err.Error(), logger)
		d.metrics.ToolCall(name, string(OutcomeInvalid), 0)
		return OutcomeInvalid
	}

	return d.execute(ctx, sender, req, name, capability, args, logger)
}

func (d *Dispatcher) resolveName(wire string, logger *slog.Logger) string {
	names := d.names.Load()
	if names != nil {
		if name, ok := names.Capability(wire); ok {
			return name
		}
	}
	name := naming.ReverseName(wire)
	logger.Warn("unmapped tool name, using reverse transform", "capability", name)
	return name
}

// normalize copies args and fills contextual defaults the declaration asks for.
func (d *Dispatcher) normalize(args map[string]any, decl capabilities.Declaration) map[string]any {
	out := make(map[string]any, len(args)+2)
	for k, v := range args {
		out[k] = v
	}
	if _, declared := decl.Args["conversation_id"]; declared && d.caller.ConversationID != "" {
		if _, set := out["conversation_id"]; !set {
			out["conversation_id"] = d.caller.ConversationID
		}
	}
	if _, declared := decl.Args["user_id"]; declared && d.caller.UserID != "" {
		if _, set := out["user_id"]; !set {
			out["user_id"] = d.caller.UserID
		}
	}
	return out
}

func (d *Dispatcher) execute(ctx context.Context, sender Sender, req protocol.ToolCallRequest, name string, capability capabilities.Capability, args map[string]any, logger *slog.Logger) Outcome {
	policy := d.Policy()
	start := time.Now()

	spanCtx, span := observability.StartSpan(ctx, "dispatch.execute",
		attribute.String("tool", name),
		attribute.String("call_id", req.ID),
	)

	// The call outlives the caller's context; session shutdown only stops delivery.
	execCtx := context.WithoutCancel(spanCtx)
	resultChan := make(chan execResult, 1)
	go func() {
		value, err := capability.Execute(execCtx, args)
		resultChan <- execResult{value: value, err: err}
	}()

	timer := time.NewTimer(policy.ToolTimeout)
	select {
	case res := <-resultChan:
		timer.Stop()
		observability.EndSpan(span, res.err)
		return d.complete(ctx, sender, req, name, res, start, logger)

	case <-timer.C:
		logger.Info("tool call exceeded timeout, deferring result", "timeout", policy.ToolTimeout)
		d.reply(ctx, sender, req, InterimMessage, "", logger)
		d.deferResult(ctx, sender, req, name, resultChan, span, start, logger)
		return OutcomeDeferred

	case <-ctx.Done():
		timer.Stop()
		logger.Info("session context ended before tool result")
		d.deferResult(ctx, sender, req, name, resultChan, span, start, logger)
		return OutcomeDeferred
	}
}

func (d *Dispatcher) complete(ctx context.Context, sender Sender, req protocol.ToolCallRequest, name string, res execResult, start time.Time, logger *slog.Logger) Outcome {
	elapsed := time.Since(start)
	if res.err != nil {
		logger.Warn("tool execution failed", "error", res.err, "elapsed", elapsed)
		d.reply(ctx, sender, req, "", res.err.Error(), logger)
		d.metrics.ToolCall(name, string(OutcomeFailed), elapsed)
		return OutcomeFailed
	}

	media, value := extractMedia(res.value)
	text := d.truncate(resultText(value))
	d.reply(ctx, sender, req, text, "", logger)
	d.record(name, text)
	d.metrics.ToolCall(name, string(OutcomeCompleted), elapsed)
	logger.Debug("tool call completed", "elapsed", elapsed, "chars", len(text))

	if media != nil {
		d.forwardMedia(ctx, name, *media, logger)
	}
	return OutcomeCompleted
}

// deferResult waits for a slow call in the background and delivers its result.
func (d *Dispatcher) deferResult(ctx context.Context, sender Sender, req protocol.ToolCallRequest, name string, resultChan <-chan execResult, span trace.Span, start time.Time, logger *slog.Logger) {
	policy := d.Policy()
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		res := <-resultChan
		observability.EndSpan(span, res.err)
		elapsed := time.Since(start)

		var text string
		if res.err != nil {
			text = "error: " + res.err.Error()
			d.metrics.ToolCall(name, string(OutcomeFailed), elapsed)
		} else {
			media, value := extractMedia(res.value)
			text = d.truncate(resultText(value))
			d.metrics.ToolCall(name, string(OutcomeDeferred), elapsed)
			if media != nil {
				d.forwardMedia(context.WithoutCancel(ctx), name, *media, logger)
			}
		}

		turn := DeferredTurn(name, text)
		d.record(name, text)
		logger.Info("deferred tool result ready", "elapsed", elapsed, "chars", len(text))

		if !policy.InjectDeferred {
			d.metrics.DeferredResult("logged")
			return
		}
		if ctx.Err() != nil {
			logger.Info("session gone, deferred result logged only")
			d.metrics.DeferredResult("dropped")
			return
		}
		if err := sender.SendText(ctx, turn); err != nil {
			logger.Warn("failed to inject deferred result", "error", err)
			d.metrics.DeferredResult("dropped")
			return
		}
		d.metrics.DeferredResult("injected")
	}()
}

// DeferredTurn formats a late result for injection as a text turn.
func DeferredTurn(tool, text string) string {
	return fmt.Sprintf("[Result of %s]: %s", tool, text)
}

func (d *Dispatcher) reply(ctx context.Context, sender Sender, req protocol.ToolCallRequest, output, errText string, logger *slog.Logger) {
	resp := protocol.ToolResponse{ID: req.ID, WireName: req.WireName, Error: errText}
	if errText == "" {
		resp.Output = output
	}
	if err := sender.SendToolResponses(ctx, resp); err != nil {
		logger.Warn("failed to send tool response", "error", err)
	}
}

func (d *Dispatcher) record(name, text string) {
	if d.log == nil {
		return
	}
	d.log.Append(continuity.RoleTool, fmt.Sprintf("%s: %s", name, text))
}

func (d *Dispatcher) truncate(text string) string {
	limit := d.Policy().ResultMaxChars
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + truncateSuffix
}

// resultText renders a capability result as text for the model.
func resultText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(raw)
}

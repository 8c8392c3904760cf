package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/haasonsaas/livelink/internal/capabilities"
	"github.com/haasonsaas/livelink/internal/continuity"
	"github.com/haasonsaas/livelink/internal/live/protocol"
)

// Reserved handler names. They are already wire-safe and bypass the registry.
const (
	SetVoiceTool      = "set_voice"
	RecentHistoryTool = "recent_history"

	defaultHistoryCount = 10
	maxHistoryCount     = 50
)

// VoiceChanger switches the output voice. Implementations apply the change on
// the next connection.
type VoiceChanger interface {
	SetVoice(ctx context.Context, voice string) error
}

type setVoiceArgs struct {
	Voice string `json:"voice" jsonschema:"description=Name of the prebuilt voice to speak with (for example Puck or Kore)"`
}

type recentHistoryArgs struct {
	Count int  `json:"count,omitempty" jsonschema:"description=How many recent conversation lines to return"`
	Send  bool `json:"send,omitempty" jsonschema:"description=Also deliver the lines to the user as a chat message"`
}

type reservedHandler struct {
	decl capabilities.Declaration
	run  func(ctx context.Context, args map[string]any) (any, error)
}

func (d *Dispatcher) reservedHandlers() map[string]reservedHandler {
	handlers := make(map[string]reservedHandler, 2)

	if d.voice != nil {
		handlers[SetVoiceTool] = reservedHandler{
			decl: reservedDeclaration(SetVoiceTool,
				"Change the voice used for spoken replies. The conversation briefly reconnects.",
				setVoiceArgs{}),
			run: d.setVoice,
		}
	}
	handlers[RecentHistoryTool] = reservedHandler{
		decl: reservedDeclaration(RecentHistoryTool,
			"Read back the most recent lines of this conversation.",
			recentHistoryArgs{}),
		run: d.recentHistory,
	}
	return handlers
}

func reservedDeclaration(name, description string, args any) capabilities.Declaration {
	specs, err := capabilities.ArgsFromStruct(args)
	if err != nil {
		slog.Default().Warn("reflect reserved tool arguments", "tool", name, "error", err)
		specs = nil
	}
	return capabilities.Declaration{Name: name, Description: description, Args: specs}
}

// ReservedDeclarations lists the handlers served by the dispatcher itself.
func (d *Dispatcher) ReservedDeclarations() []capabilities.Declaration {
	decls := make([]capabilities.Declaration, 0, len(d.reserved))
	for _, h := range d.reserved {
		decls = append(decls, h.decl)
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	return decls
}

func (d *Dispatcher) runReserved(ctx context.Context, sender Sender, req protocol.ToolCallRequest, handler reservedHandler, logger *slog.Logger) Outcome {
	logger = logger.With("tool", handler.decl.Name)
	args := req.Args
	if args == nil {
		args = map[string]any{}
	}
	if err := d.validator.Validate(args, handler.decl); err != nil {
		logger.Warn("reserved tool arguments rejected", "error", err)
		d.reply(ctx, sender, req, "", err.Error(), logger)
		return OutcomeInvalid
	}

	value, err := handler.run(ctx, args)
	if err != nil {
		logger.Warn("reserved tool failed", "error", err)
		d.reply(ctx, sender, req, "", err.Error(), logger)
		d.metrics.ToolCall(handler.decl.Name, string(OutcomeFailed), 0)
		return OutcomeFailed
	}
	d.reply(ctx, sender, req, d.truncate(resultText(value)), "", logger)
	d.metrics.ToolCall(handler.decl.Name, string(OutcomeReserved), 0)
	return OutcomeReserved
}

func (d *Dispatcher) setVoice(ctx context.Context, args map[string]any) (any, error) {
	voice, _ := args["voice"].(string)
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return nil, fmt.Errorf("%w: voice is required", capabilities.ErrInvalidArguments)
	}
	if err := d.voice.SetVoice(ctx, voice); err != nil {
		return nil, fmt.Errorf("change voice: %w", err)
	}
	return fmt.Sprintf("Voice changed to %s. Reconnecting now.", voice), nil
}

func (d *Dispatcher) recentHistory(ctx context.Context, args map[string]any) (any, error) {
	if d.log == nil {
		return nil, errors.New("conversation history is not available")
	}

	count := defaultHistoryCount
	if raw, ok := args["count"].(float64); ok && raw > 0 {
		count = int(raw)
	} else if raw, ok := args["count"].(int); ok && raw > 0 {
		count = raw
	}
	if count > maxHistoryCount {
		count = maxHistoryCount
	}

	entries := d.log.Tail(count)
	if len(entries) == 0 {
		return "The conversation has no history yet.", nil
	}
	text := continuity.Format(entries)

	if send, _ := args["send"].(bool); send {
		if err := d.notifier.SendText(ctx, d.recipient, text); err != nil {
			d.logger.Warn("failed to deliver history", "error", err)
			return text + "\n\n(Could not deliver the history as a message.)", nil
		}
		return text + "\n\n(Sent to the user as a message.)", nil
	}
	return text, nil
}

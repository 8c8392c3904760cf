// Package summarize compresses a session's conversation log into a short
// summary before reconnecting.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/livelink/internal/continuity"
)

// ErrNothingToSummarize is returned when the log is too short to be worth a call.
var ErrNothingToSummarize = errors.New("nothing to summarize")

// Completer generates text from a single prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config configures a Summarizer.
type Config struct {
	// MinEntries is the smallest log worth summarizing. Default: 4.
	MinEntries int

	// MaxChars is the target summary length. Default: 1500.
	MaxChars int

	// Timeout bounds one summarization call. Default: 20s.
	Timeout time.Duration

	Logger *slog.Logger
}

// Summarizer produces conversation summaries through a Completer.
type Summarizer struct {
	completer Completer
	cfg       Config
	logger    *slog.Logger
}

// New creates a Summarizer.
func New(completer Completer, cfg Config) *Summarizer {
	if cfg.MinEntries <= 0 {
		cfg.MinEntries = 4
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 1500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{completer: completer, cfg: cfg, logger: logger.With("component", "summarizer")}
}

// Summarize folds the previous summary and the log into a new summary.
func (s *Summarizer) Summarize(ctx context.Context, previous string, entries []continuity.Entry) (string, error) {
	if s == nil || s.completer == nil {
		return "", ErrNothingToSummarize
	}
	if len(entries) < s.cfg.MinEntries {
		return "", ErrNothingToSummarize
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	text, err := s.completer.Complete(ctx, BuildPrompt(previous, entries, s.cfg.MaxChars))
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("failed to generate summary: empty response")
	}
	if runes := []rune(text); len(runes) > s.cfg.MaxChars {
		text = string(runes[:s.cfg.MaxChars])
	}
	s.logger.Debug("summary generated", "entries", len(entries), "chars", len(text), "duration", time.Since(start))
	return text, nil
}

// BuildPrompt creates the prompt for summarizing a conversation log.
func BuildPrompt(previous string, entries []continuity.Entry, maxChars int) string {
	var sb strings.Builder

	sb.WriteString("Summarize the following voice conversation concisely. ")
	sb.WriteString(fmt.Sprintf("Keep the summary under %d characters. ", maxChars))
	sb.WriteString("Focus on:\n")
	sb.WriteString("- Key topics discussed\n")
	sb.WriteString("- Facts the user shared about themselves\n")
	sb.WriteString("- Pending requests or open questions\n")
	sb.WriteString("- Tool results that matter for the rest of the conversation\n\n")

	if previous = strings.TrimSpace(previous); previous != "" {
		sb.WriteString("Earlier summary:\n")
		sb.WriteString(previous)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Conversation:\n\n")
	for _, e := range entries {
		text := e.Text
		if runes := []rune(text); e.Role == continuity.RoleTool && len(runes) > 200 {
			text = string(runes[:200]) + "..."
		}
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", e.Role, text))
	}

	sb.WriteString("\n---\nProvide a concise summary:")
	return sb.String()
}

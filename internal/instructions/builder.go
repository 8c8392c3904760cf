// Package instructions assembles the instruction text and tool declarations
// sent in a live session's setup frame.
package instructions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"google.golang.org/genai"

	"github.com/haasonsaas/livelink/internal/capabilities"
	"github.com/haasonsaas/livelink/internal/continuity"
	"github.com/haasonsaas/livelink/internal/datetime"
	"github.com/haasonsaas/livelink/internal/tools/naming"
)

// Budget bounds each context segment. Zero disables a segment.
type Budget struct {
	MemoryChars    int
	SummaryChars   int
	SituationChars int
	LogTail        int
	LogEntryChars  int
}

// MemorySource provides the long-lived context snapshot for a conversation.
type MemorySource interface {
	Snapshot(ctx context.Context, conversationID string) (string, error)
}

// SituationSource provides externally tracked activity state.
type SituationSource interface {
	Situation(ctx context.Context, conversationID string) (string, error)
}

// Config configures a Builder. Only Registry is required for declarations;
// every text source is optional.
type Config struct {
	ConversationID string
	Persona        PersonaSource
	Memory         MemorySource
	Situation      SituationSource
	Registry       capabilities.Registry
	// Reserved declarations are always offered in addition to the registry.
	Reserved []capabilities.Declaration
	TimeZone string
	Clock    datetime.Clock
	Logger   *slog.Logger
	// SourceTimeout bounds each source fetch.
	SourceTimeout time.Duration
}

// Request carries per-connect inputs.
type Request struct {
	Language language.Tag
	Summary  string
	Log      []continuity.Entry
	Budget   Budget
}

// Payload is the output for one connection generation.
type Payload struct {
	Instructions string
	Declarations []capabilities.Declaration
	Names        *naming.ToolNameMap
	Tools        []*genai.Tool
}

// Builder is owned by a single session. The memory snapshot is fetched once
// and reused across reconnects; situation context is refreshed per connect.
type Builder struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	memoryOnce sync.Once
	memory     string

	mu             sync.Mutex
	situation      string
	situationFresh bool
}

// NewBuilder creates a builder.
func NewBuilder(cfg Config) *Builder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 5 * time.Second
	}
	cfg.TimeZone = datetime.ResolveTimezone(cfg.TimeZone)
	return &Builder{
		cfg:    cfg,
		logger: logger.With("component", "instructions"),
		now:    time.Now,
	}
}

// RefreshSituation fetches situation context now. Failures leave it empty.
func (b *Builder) RefreshSituation(ctx context.Context) {
	text := ""
	if b.cfg.Situation != nil {
		sctx, cancel := context.WithTimeout(ctx, b.cfg.SourceTimeout)
		s, err := b.cfg.Situation.Situation(sctx, b.cfg.ConversationID)
		cancel()
		if err != nil {
			b.logger.Warn("situation context unavailable", "error", err)
		} else {
			text = s
		}
	}
	b.mu.Lock()
	b.situation = text
	b.situationFresh = true
	b.mu.Unlock()
}

// Situation returns the last fetched situation context.
func (b *Builder) Situation() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.situation
}

func (b *Builder) memorySnapshot(ctx context.Context) string {
	b.memoryOnce.Do(func() {
		if b.cfg.Memory == nil {
			return
		}
		mctx, cancel := context.WithTimeout(ctx, b.cfg.SourceTimeout)
		defer cancel()
		text, err := b.cfg.Memory.Snapshot(mctx, b.cfg.ConversationID)
		if err != nil {
			b.logger.Warn("memory snapshot unavailable", "error", err)
			return
		}
		b.memory = text
	})
	return b.memory
}

// Build assembles the payload. It never fails; unavailable sources degrade
// to empty segments.
func (b *Builder) Build(ctx context.Context, req Request) Payload {
	b.mu.Lock()
	fresh := b.situationFresh
	b.situationFresh = false
	b.mu.Unlock()
	if !fresh {
		b.RefreshSituation(ctx)
		b.mu.Lock()
		b.situationFresh = false
		b.mu.Unlock()
	}

	decls := b.declarations()
	names, collisions := naming.Build(declarationNames(decls))
	for _, c := range collisions {
		b.logger.Warn("tool name collision", "error", c.Error())
	}

	return Payload{
		Instructions: b.instructions(ctx, req),
		Declarations: decls,
		Names:        names,
		Tools:        capabilities.ToGenaiTools(decls, names),
	}
}

func (b *Builder) declarations() []capabilities.Declaration {
	var decls []capabilities.Declaration
	seen := map[string]bool{}
	for _, d := range b.cfg.Reserved {
		seen[d.Name] = true
		decls = append(decls, d)
	}
	if b.cfg.Registry != nil {
		for _, d := range b.cfg.Registry.List() {
			if seen[d.Name] {
				b.logger.Warn("capability shadowed by reserved handler", "capability", d.Name)
				continue
			}
			decls = append(decls, d)
		}
	}
	return decls
}

func declarationNames(decls []capabilities.Declaration) []string {
	names := make([]string, len(decls))
	for i, d := range decls {
		names[i] = d.Name
	}
	return names
}

func (b *Builder) instructions(ctx context.Context, req Request) string {
	var sections []string

	if b.cfg.Persona != nil {
		if persona := strings.TrimSpace(b.cfg.Persona.Persona()); persona != "" {
			sections = append(sections, persona)
		}
	}

	if now := datetime.FormatLocalized(b.now(), b.cfg.TimeZone, req.Language, b.cfg.Clock); now != "" {
		sections = append(sections, fmt.Sprintf("Current date and time: %s (%s).", now, b.cfg.TimeZone))
	}
	if req.Language != language.Und {
		sections = append(sections, fmt.Sprintf("Speak in the user's language: %s.", req.Language.String()))
	}

	if memory := Truncate(b.memorySnapshot(ctx), req.Budget.MemoryChars); memory != "" {
		sections = append(sections, "## What you know about the user\n"+memory)
	}
	if situation := Truncate(b.Situation(), req.Budget.SituationChars); situation != "" {
		sections = append(sections, "## Current activity\n"+situation)
	}
	if summary := Truncate(req.Summary, req.Budget.SummaryChars); summary != "" {
		sections = append(sections, "## Conversation so far\n"+summary)
	}
	if tail := tailEntries(req.Log, req.Budget.LogTail, req.Budget.LogEntryChars); len(tail) > 0 {
		sections = append(sections, "## Most recent exchanges\n"+continuity.Format(tail))
	}

	return strings.Join(sections, "\n\n")
}

func tailEntries(log []continuity.Entry, n, entryChars int) []continuity.Entry {
	if n <= 0 || len(log) == 0 {
		return nil
	}
	if n > len(log) {
		n = len(log)
	}
	tail := append([]continuity.Entry(nil), log[len(log)-n:]...)
	if entryChars > 0 {
		for i := range tail {
			tail[i].Text = Truncate(tail[i].Text, entryChars)
		}
	}
	return tail
}

// Truncate shortens s to at most max runes, marking the cut with an ellipsis.
// A max of zero or less yields an empty string.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || s == "" {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}

package instructions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/language"

	"github.com/haasonsaas/livelink/internal/capabilities"
	"github.com/haasonsaas/livelink/internal/continuity"
)

type countingMemory struct {
	calls int
	text  string
	err   error
}

func (m *countingMemory) Snapshot(context.Context, string) (string, error) {
	m.calls++
	return m.text, m.err
}

type fakeSituation struct {
	calls int
	text  string
	err   error
}

func (s *fakeSituation) Situation(context.Context, string) (string, error) {
	s.calls++
	return s.text, s.err
}

func newTestBuilder(cfg Config) *Builder {
	cfg.TimeZone = "UTC"
	b := NewBuilder(cfg)
	b.now = func() time.Time { return time.Date(2025, 1, 24, 14, 30, 0, 0, time.UTC) }
	return b
}

func fullBudget() Budget {
	return Budget{MemoryChars: 1000, SummaryChars: 1000, SituationChars: 1000, LogTail: 10}
}

func TestBuildIncludesAllSegments(t *testing.T) {
	registry := capabilities.NewMemoryRegistry()
	_ = registry.Register(capabilities.Func{Decl: capabilities.Declaration{Name: "weather.lookup", Description: "weather"}})

	b := newTestBuilder(Config{
		ConversationID: "c1",
		Persona:        StaticPersona("You are a helpful companion."),
		Memory:         &countingMemory{text: "Likes tea."},
		Situation:      &fakeSituation{text: "Playing a quiz, round 2."},
		Registry:       registry,
		Reserved:       []capabilities.Declaration{{Name: "set_voice", Description: "change voice"}},
	})

	payload := b.Build(context.Background(), Request{
		Language: language.French,
		Summary:  "Talked about the weekend.",
		Log:      []continuity.Entry{{Role: continuity.RoleUser, Text: "bonjour"}},
		Budget:   fullBudget(),
	})

	for _, want := range []string{
		"You are a helpful companion.",
		"vendredi 24 janvier 2025 - 14:30",
		"Likes tea.",
		"Playing a quiz, round 2.",
		"Talked about the weekend.",
		"user: bonjour",
	} {
		if !strings.Contains(payload.Instructions, want) {
			t.Errorf("instructions missing %q:\n%s", want, payload.Instructions)
		}
	}

	if len(payload.Declarations) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(payload.Declarations))
	}
	if name, ok := payload.Names.Capability("weather__lookup"); !ok || name != "weather.lookup" {
		t.Fatalf("name map = %q, %v", name, ok)
	}
	if len(payload.Tools) != 1 || len(payload.Tools[0].FunctionDeclarations) != 2 {
		t.Fatalf("tools = %+v", payload.Tools)
	}
}

func TestBuildDegradesFailingSources(t *testing.T) {
	b := newTestBuilder(Config{
		Persona:   StaticPersona("persona"),
		Memory:    &countingMemory{err: errors.New("db down")},
		Situation: &fakeSituation{err: errors.New("timeout")},
	})
	payload := b.Build(context.Background(), Request{Summary: "sum", Budget: fullBudget()})
	if !strings.Contains(payload.Instructions, "persona") || !strings.Contains(payload.Instructions, "sum") {
		t.Fatalf("expected remaining segments, got:\n%s", payload.Instructions)
	}
	if strings.Contains(payload.Instructions, "What you know") {
		t.Fatal("failed memory source should be omitted")
	}
	if payload.Tools != nil {
		t.Fatal("expected no tools without a registry")
	}
}

func TestBuildCachesMemoryAcrossReconnects(t *testing.T) {
	memory := &countingMemory{text: "facts"}
	situation := &fakeSituation{text: "state"}
	b := newTestBuilder(Config{Memory: memory, Situation: situation})

	b.Build(context.Background(), Request{Budget: fullBudget()})
	b.RefreshSituation(context.Background())
	b.Build(context.Background(), Request{Budget: fullBudget()})
	b.Build(context.Background(), Request{Budget: fullBudget()})

	if memory.calls != 1 {
		t.Fatalf("memory fetched %d times, want 1", memory.calls)
	}
	if situation.calls != 3 {
		t.Fatalf("situation fetched %d times, want 3", situation.calls)
	}
}

func TestBuildAppliesConstrainedBudget(t *testing.T) {
	var log []continuity.Entry
	for i := 0; i < 20; i++ {
		log = append(log, continuity.Entry{Role: continuity.RoleUser, Text: strings.Repeat("x", 10) + string(rune('a'+i))})
	}
	b := newTestBuilder(Config{Memory: &countingMemory{text: strings.Repeat("m", 2000)}})

	payload := b.Build(context.Background(), Request{
		Log:    log,
		Budget: Budget{MemoryChars: 300, LogTail: 3, LogEntryChars: 5},
	})

	if strings.Contains(payload.Instructions, strings.Repeat("m", 301)) {
		t.Fatal("memory exceeded budget")
	}
	if got := strings.Count(payload.Instructions, "user: "); got != 3 {
		t.Fatalf("expected 3 log lines, got %d", got)
	}
	if strings.Contains(payload.Instructions, "Conversation so far") {
		t.Fatal("zero summary budget should drop the summary")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 6, "hello…"},
		{"héllo", 2, "h…"},
		{"abc", 1, "…"},
		{"abc", 0, ""},
		{"   ", 5, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/livelink/internal/continuity"
)

type fakeCompleter struct {
	prompt string
	reply  string
	err    error
	delay  time.Duration
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

func entries(n int) []continuity.Entry {
	out := make([]continuity.Entry, n)
	for i := range out {
		out[i] = continuity.Entry{Role: continuity.RoleUser, Text: "line"}
	}
	return out
}

func TestSummarize(t *testing.T) {
	fake := &fakeCompleter{reply: "  they talked about tea  "}
	s := New(fake, Config{})

	got, err := s.Summarize(context.Background(), "earlier: greetings", entries(5))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "they talked about tea" {
		t.Fatalf("summary = %q", got)
	}
	if !strings.Contains(fake.prompt, "earlier: greetings") || !strings.Contains(fake.prompt, "[user]: line") {
		t.Fatalf("prompt missing inputs:\n%s", fake.prompt)
	}
}

func TestSummarizeSkipsShortLogs(t *testing.T) {
	s := New(&fakeCompleter{reply: "x"}, Config{MinEntries: 4})
	if _, err := s.Summarize(context.Background(), "", entries(3)); !errors.Is(err, ErrNothingToSummarize) {
		t.Fatalf("expected ErrNothingToSummarize, got %v", err)
	}
	var nilSummarizer *Summarizer
	if _, err := nilSummarizer.Summarize(context.Background(), "", entries(10)); !errors.Is(err, ErrNothingToSummarize) {
		t.Fatalf("nil summarizer: %v", err)
	}
}

func TestSummarizeErrors(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeCompleter
		cfg  Config
	}{
		{"provider error", &fakeCompleter{err: errors.New("quota")}, Config{}},
		{"empty reply", &fakeCompleter{reply: "  "}, Config{}},
		{"timeout", &fakeCompleter{reply: "late", delay: time.Second}, Config{Timeout: 20 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.fake, tt.cfg).Summarize(context.Background(), "", entries(5)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSummarizeClampsLength(t *testing.T) {
	s := New(&fakeCompleter{reply: strings.Repeat("a", 50)}, Config{MaxChars: 10})
	got, err := s.Summarize(context.Background(), "", entries(5))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len = %d", len(got))
	}
}

func TestBuildPromptTruncatesToolResults(t *testing.T) {
	prompt := BuildPrompt("", []continuity.Entry{{Role: continuity.RoleTool, Text: strings.Repeat("r", 500)}}, 100)
	if strings.Contains(prompt, strings.Repeat("r", 201)) {
		t.Fatal("tool result should be abbreviated")
	}
	if !strings.Contains(prompt, "under 100 characters") {
		t.Fatal("expected length guidance")
	}
}

func TestBuildPromptTruncatesOnRuneBoundary(t *testing.T) {
	prompt := BuildPrompt("", []continuity.Entry{{Role: continuity.RoleTool, Text: "a" + strings.Repeat("é", 300)}}, 100)
	if !utf8.ValidString(prompt) {
		t.Fatal("prompt is not valid UTF-8")
	}
	if !strings.Contains(prompt, "a"+strings.Repeat("é", 199)+"...") {
		t.Fatal("expected 200 runes of the tool result")
	}
}

package continuity

import (
	"fmt"
	"sync"
	"testing"
)

func TestLogEvictsOldestFirst(t *testing.T) {
	log := NewLog(3)
	for i := 1; i <= 5; i++ {
		log.Append(RoleUser, fmt.Sprintf("m%d", i))
	}
	entries := log.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"m3", "m4", "m5"} {
		if entries[i].Text != want {
			t.Fatalf("entries[%d] = %q, want %q", i, entries[i].Text, want)
		}
	}
}

func TestLogNeverExceedsCap(t *testing.T) {
	log := NewLog(10)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				log.Append(RoleTool, fmt.Sprintf("g%d-%d", g, i))
				if n := log.Len(); n > 10 {
					t.Errorf("log length %d exceeds cap", n)
				}
			}
		}(g)
	}
	wg.Wait()
	if log.Len() != 10 {
		t.Fatalf("expected full log, got %d", log.Len())
	}
}

func TestLogIgnoresBlank(t *testing.T) {
	log := NewLog(0)
	log.Append(RoleUser, "   ")
	if log.Len() != 0 {
		t.Fatal("blank entries should be ignored")
	}
	if log.Cap() != DefaultLogCap {
		t.Fatalf("cap = %d", log.Cap())
	}
}

func TestLogReplaceAndTail(t *testing.T) {
	log := NewLog(2)
	log.Replace([]Entry{{RoleUser, "a"}, {RoleAssistant, "b"}, {RoleUser, "c"}})
	if got := log.Entries(); len(got) != 2 || got[0].Text != "b" {
		t.Fatalf("Replace kept %v", got)
	}
	tail := log.Tail(1)
	if len(tail) != 1 || tail[0].Text != "c" {
		t.Fatalf("Tail = %v", tail)
	}
	if len(log.Tail(10)) != 2 {
		t.Fatal("Tail should clamp to length")
	}
	if log.Tail(0) != nil {
		t.Fatal("Tail(0) should be nil")
	}
	if got := Format(log.Entries()); got != "assistant: b\nuser: c" {
		t.Fatalf("Format = %q", got)
	}
}

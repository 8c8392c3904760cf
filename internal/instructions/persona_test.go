package instructions

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFilePersonaReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.md")
	if err := os.WriteFile(path, []byte("first\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := NewFilePersona(path, nil)
	if err != nil {
		t.Fatalf("NewFilePersona: %v", err)
	}
	p.debounce = 10 * time.Millisecond
	defer p.Close()

	if p.Persona() != "first" {
		t.Fatalf("Persona = %q", p.Persona())
	}
	if err := p.Watch(context.Background()); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := os.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p.Persona() == "second" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("persona not reloaded, still %q", p.Persona())
}

func TestFilePersonaMissingFile(t *testing.T) {
	if _, err := NewFilePersona(filepath.Join(t.TempDir(), "missing.md"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

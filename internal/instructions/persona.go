package instructions

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PersonaSource supplies the static persona and rules text.
type PersonaSource interface {
	Persona() string
}

// StaticPersona is a fixed persona text.
type StaticPersona string

func (p StaticPersona) Persona() string { return string(p) }

// FilePersona reads persona text from a file and optionally reloads it when
// the file changes. The next connect picks up the new text.
type FilePersona struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu   sync.RWMutex
	text string

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewFilePersona loads the file once.
func NewFilePersona(path string, logger *slog.Logger) (*FilePersona, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &FilePersona{
		path:     filepath.Clean(path),
		logger:   logger.With("component", "persona"),
		debounce: 250 * time.Millisecond,
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FilePersona) Persona() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.text
}

// Reload re-reads the file.
func (p *FilePersona) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read persona: %w", err)
	}
	p.mu.Lock()
	p.text = strings.TrimSpace(string(data))
	p.mu.Unlock()
	return nil
}

// Watch starts reloading on file changes until ctx ends or Close is called.
func (p *FilePersona) Watch(ctx context.Context) error {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	if p.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors often replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch persona dir: %w", err)
	}
	p.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	p.watchCancel = cancel

	p.watchWg.Add(1)
	go p.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher.
func (p *FilePersona) Close() error {
	p.watchMu.Lock()
	if p.watchCancel != nil {
		p.watchCancel()
		p.watchCancel = nil
	}
	watcher := p.watcher
	p.watcher = nil
	p.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	p.watchWg.Wait()
	return nil
}

func (p *FilePersona) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.watchWg.Done()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		var fire <-chan time.Time
		if timer != nil {
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(p.debounce)
		case <-fire:
			timer = nil
			if err := p.Reload(); err != nil {
				p.logger.Warn("persona reload failed", "error", err)
				continue
			}
			p.logger.Info("persona reloaded", "path", p.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("persona watcher error", "error", err)
		}
	}
}

package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrSessionExists is returned when a key already has a live session.
var ErrSessionExists = errors.New("session already exists")

// Registry owns the sessions of one host process, indexed by identity key.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create builds and registers a session for cfg.Identity. A closed session
// under the same key is replaced.
func (r *Registry) Create(ctx context.Context, cfg Config) (*Session, error) {
	key := cfg.Identity.Key
	if key == "" {
		key = cfg.Identity.ConversationID
	}
	if key == "" {
		return nil, errors.New("live: session key or conversation id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[key]; ok {
		if existing.State() != StateClosed {
			return nil, fmt.Errorf("%w: %s", ErrSessionExists, key)
		}
		delete(r.sessions, key)
	}

	cfg.Identity.Key = key
	s, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r.sessions[key] = s
	return s, nil
}

// Get returns the session registered under key.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Dispose closes and removes the session under key. Unknown keys are a no-op.
func (r *Registry) Dispose(ctx context.Context, key string) error {
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// Keys lists registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every session concurrently and empties the registry.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Close(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

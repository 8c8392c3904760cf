package continuity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMaxStaleness is how old a snapshot may be and still be restored.
	DefaultMaxStaleness = 2 * time.Hour

	defaultIOTimeout = 5 * time.Second
)

// Recorder receives persistence outcomes.
type Recorder interface {
	ContinuityWrite(ok bool)
}

// KeeperConfig configures a Keeper.
type KeeperConfig struct {
	Store          Store
	Key            string
	ConversationID string
	MaxStaleness   time.Duration
	IOTimeout      time.Duration
	Logger         *slog.Logger
	Recorder       Recorder
}

// Keeper owns a session's log and summary and checkpoints them to a Store.
// Every store failure is logged and swallowed.
type Keeper struct {
	store          Store
	key            string
	conversationID string
	maxStaleness   time.Duration
	ioTimeout      time.Duration
	logger         *slog.Logger
	recorder       Recorder
	now            func() time.Time

	log *Log

	mu      sync.RWMutex
	summary string
}

// NewKeeper creates a keeper around log. A nil Store disables persistence.
func NewKeeper(cfg KeeperConfig, log *Log) *Keeper {
	if log == nil {
		log = NewLog(DefaultLogCap)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	staleness := cfg.MaxStaleness
	if staleness <= 0 {
		staleness = DefaultMaxStaleness
	}
	timeout := cfg.IOTimeout
	if timeout <= 0 {
		timeout = defaultIOTimeout
	}
	return &Keeper{
		store:          cfg.Store,
		key:            cfg.Key,
		conversationID: cfg.ConversationID,
		maxStaleness:   staleness,
		ioTimeout:      timeout,
		logger:         logger.With("component", "continuity", "key", cfg.Key),
		recorder:       cfg.Recorder,
		now:            time.Now,
		log:            log,
	}
}

// Log returns the conversation log.
func (k *Keeper) Log() *Log { return k.log }

func (k *Keeper) Summary() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.summary
}

// SetSummary overwrites the summary.
func (k *Keeper) SetSummary(summary string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.summary = summary
}

// Snapshot captures the current state.
func (k *Keeper) Snapshot() Snapshot {
	return Snapshot{
		Key:            k.key,
		SavedAt:        k.now(),
		ConversationID: k.conversationID,
		Summary:        k.Summary(),
		Log:            k.log.Entries(),
	}
}

// Persist writes the current state. It never fails the caller.
func (k *Keeper) Persist(ctx context.Context) {
	if k.store == nil || k.key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.ioTimeout)
	defer cancel()

	err := k.store.Save(ctx, k.Snapshot())
	if k.recorder != nil {
		k.recorder.ContinuityWrite(err == nil)
	}
	if err != nil {
		k.logger.Warn("continuity persist failed", "error", err)
		return
	}
	k.logger.Debug("continuity persisted", "entries", k.log.Len())
}

// Restore loads the stored snapshot and applies it only when it is within the
// staleness window. It reports whether state was replaced.
func (k *Keeper) Restore(ctx context.Context) bool {
	if k.store == nil || k.key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, k.ioTimeout)
	defer cancel()

	snap, err := k.store.Load(ctx, k.key)
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		k.logger.Warn("continuity restore failed", "error", err)
		return false
	}
	if k.now().Sub(snap.SavedAt) > k.maxStaleness {
		k.logger.Debug("continuity snapshot stale, discarding", "saved_at", snap.SavedAt)
		return false
	}

	k.log.Replace(snap.Log)
	k.SetSummary(snap.Summary)
	k.logger.Info("continuity restored", "entries", len(snap.Log), "has_summary", snap.Summary != "")
	return true
}

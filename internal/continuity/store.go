package continuity

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no snapshot exists for a key.
var ErrNotFound = errors.New("continuity snapshot not found")

// Snapshot is the persisted continuity state of one session identity.
type Snapshot struct {
	Key            string    `json:"key"`
	SavedAt        time.Time `json:"saved_at"`
	ConversationID string    `json:"conversation_id"`
	Summary        string    `json:"summary,omitempty"`
	Log            []Entry   `json:"log"`
}

// Store persists snapshots by key. Implementations must be safe for
// concurrent use across keys.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, key string) (Snapshot, error)
	Delete(ctx context.Context, key string) error

	// Sweep deletes snapshots saved before cutoff and returns how many.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

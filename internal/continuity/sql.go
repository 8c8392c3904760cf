package continuity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"   // postgres driver
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Dialect selects placeholder style and driver name.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS live_continuity (
	key TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	summary TEXT NOT NULL,
	log TEXT NOT NULL,
	saved_at TIMESTAMP NOT NULL
)`

// SQLStore persists snapshots in a single table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLStore opens the database and ensures the table exists.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("continuity dsn is required")
	}
	driver := string(dialect)
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported continuity dialect %q", dialect)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	store := NewSQLStore(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an existing connection.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate creates the table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create continuity table: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.Key == "" {
		return fmt.Errorf("save snapshot: key is required")
	}
	logJSON, err := json.Marshal(snap.Log)
	if err != nil {
		return fmt.Errorf("failed to marshal log: %w", err)
	}
	query := s.rebind(`INSERT INTO live_continuity (key, conversation_id, summary, log, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			summary = excluded.summary,
			log = excluded.log,
			saved_at = excluded.saved_at`)
	if _, err := s.db.ExecContext(ctx, query,
		snap.Key, snap.ConversationID, snap.Summary, string(logJSON), snap.SavedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, key string) (Snapshot, error) {
	query := s.rebind(`SELECT key, conversation_id, summary, log, saved_at FROM live_continuity WHERE key = ?`)
	var (
		snap    Snapshot
		logJSON string
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&snap.Key, &snap.ConversationID, &snap.Summary, &logJSON, &snap.SavedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if logJSON != "" {
		if err := json.Unmarshal([]byte(logJSON), &snap.Log); err != nil {
			return Snapshot{}, fmt.Errorf("failed to unmarshal log: %w", err)
		}
	}
	return snap, nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM live_continuity WHERE key = ?`), key); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (s *SQLStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM live_continuity WHERE saved_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep snapshots: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (s *SQLStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM live_continuity ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

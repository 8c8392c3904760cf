package continuity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockStore(t *testing.T, dialect Dialect) (sqlmock.Sqlmock, *SQLStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return mock, NewSQLStore(db, dialect)
}

func TestSQLStore_Save(t *testing.T) {
	tests := []struct {
		name        string
		dialect     Dialect
		snap        Snapshot
		setupMock   func(sqlmock.Sqlmock)
		wantErr     bool
		errContains string
	}{
		{
			name:    "postgres upsert",
			dialect: DialectPostgres,
			snap:    Snapshot{Key: "k1", ConversationID: "c1", Summary: "s", SavedAt: time.Now(), Log: []Entry{{RoleUser, "hi"}}},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO live_continuity .* VALUES \(\$1, \$2, \$3, \$4, \$5\)`).
					WithArgs("k1", "c1", "s", `[{"role":"user","text":"hi"}]`, sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name:    "sqlite placeholders",
			dialect: DialectSQLite,
			snap:    Snapshot{Key: "k2", SavedAt: time.Now()},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO live_continuity .* VALUES \(\?, \?, \?, \?, \?\)`).
					WithArgs("k2", "", "", "null", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name:    "database error",
			dialect: DialectPostgres,
			snap:    Snapshot{Key: "k3", SavedAt: time.Now()},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO live_continuity").WillReturnError(errors.New("connection refused"))
			},
			wantErr:     true,
			errContains: "failed to save snapshot",
		},
		{
			name:        "missing key",
			dialect:     DialectPostgres,
			snap:        Snapshot{},
			setupMock:   func(sqlmock.Sqlmock) {},
			wantErr:     true,
			errContains: "key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, store := setupMockStore(t, tt.dialect)
			tt.setupMock(mock)

			err := store.Save(context.Background(), tt.snap)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSQLStore_Load(t *testing.T) {
	mock, store := setupMockStore(t, DialectPostgres)
	saved := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT key, conversation_id, summary, log, saved_at FROM live_continuity WHERE key = \$1`).
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{"key", "conversation_id", "summary", "log", "saved_at"}).
			AddRow("k1", "c1", "sum", `[{"role":"assistant","text":"hello"}]`, saved))

	snap, err := store.Load(context.Background(), "k1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Summary != "sum" || !snap.SavedAt.Equal(saved) {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Log) != 1 || snap.Log[0].Role != RoleAssistant {
		t.Fatalf("log = %v", snap.Log)
	}

	mock.ExpectQuery("SELECT key").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"key", "conversation_id", "summary", "log", "saved_at"}))
	if _, err := store.Load(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_SweepAndDelete(t *testing.T) {
	mock, store := setupMockStore(t, DialectPostgres)

	mock.ExpectExec(`DELETE FROM live_continuity WHERE saved_at < \$1`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`DELETE FROM live_continuity WHERE key = \$1`).
		WithArgs("k1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	removed, err := store.Sweep(context.Background(), time.Now())
	if err != nil || removed != 4 {
		t.Fatalf("Sweep = %d, %v", removed, err)
	}
	if err := store.Delete(context.Background(), "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLStore_Keys(t *testing.T) {
	mock, store := setupMockStore(t, DialectSQLite)
	mock.ExpectQuery("SELECT key FROM live_continuity").
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("a").AddRow("b"))
	keys, err := store.Keys(context.Background())
	if err != nil || len(keys) != 2 {
		t.Fatalf("Keys = %v, %v", keys, err)
	}
}

func TestSQLStoreSQLiteIntegration(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLStore(ctx, DialectSQLite, "file:"+t.TempDir()+"/continuity.db")
	if err != nil {
		t.Fatalf("OpenSQLStore: %v", err)
	}
	defer store.Close()

	snap := Snapshot{Key: "k", ConversationID: "c", Summary: "v1", SavedAt: time.Now(), Log: []Entry{{RoleUser, "a"}}}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap.Summary = "v2"
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := store.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Summary != "v2" || len(got.Log) != 1 {
		t.Fatalf("Load = %+v", got)
	}
	if _, err := OpenSQLStore(ctx, "mysql", "dsn"); err == nil {
		t.Fatal("expected unsupported dialect error")
	}
}

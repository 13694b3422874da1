package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/counselling-scheduler/internal/persistence"
	"github.com/example/counselling-scheduler/internal/persistence/sqlite"
)

// SQLiteHarness is a migrated temp-file SQLite store for integration style
// persistence tests.
type SQLiteHarness struct {
	Store       *sqlite.Store
	Counsellors persistence.CounsellorRepository
	Sessions    persistence.SessionRepository
	Path        string

	cleanup func()
}

// Close releases the store. It is also registered with tb.Cleanup.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens a fresh database in tb.TempDir and applies the
// embedded migrations.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "counselling.db")
	store, err := sqlite.Open(sqlite.DefaultConfig(path))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	harness := &SQLiteHarness{
		Store:       store,
		Counsellors: store,
		Sessions:    store,
		Path:        path,
		cleanup: func() {
			_ = store.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// SeedCounsellors upserts the given fixtures.
func (h *SQLiteHarness) SeedCounsellors(tb testing.TB, fixtures ...CounsellorFixture) {
	tb.Helper()
	for _, fixture := range fixtures {
		if err := h.Counsellors.UpsertCounsellor(context.Background(), fixture.Persistence()); err != nil {
			tb.Fatalf("failed to seed counsellor %s: %v", fixture.ID, err)
		}
	}
}

// SeedSessions inserts the given fixtures in a single transaction.
func (h *SQLiteHarness) SeedSessions(tb testing.TB, fixtures ...SessionFixture) {
	tb.Helper()
	err := h.Sessions.WithinTransaction(context.Background(), func(ctx context.Context, tx persistence.SessionTx) error {
		for _, fixture := range fixtures {
			if err := tx.CreateSession(ctx, fixture.Persistence()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tb.Fatalf("failed to seed sessions: %v", err)
	}
}

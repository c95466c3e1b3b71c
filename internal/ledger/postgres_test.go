package ledger

import (
	"context"
	"os"
	"testing"
	"time"
)

// Runs only when SCHEDSYNC_TEST_PG_DSN points at a disposable database.
func TestPostgresStoreIntegration(t *testing.T) {
	dsn := os.Getenv("SCHEDSYNC_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SCHEDSYNC_TEST_PG_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	if _, err := s.pool.Exec(ctx, `DELETE FROM schedsync_ledger WHERE recipient_key LIKE 'it-%'`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	l := New()
	l.MarkSeen("it-alice", "evt_1")
	l.MarkSeen("it-alice", "evt_2")
	if err := s.Save(ctx, l); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Saving twice must not fail on the primary key.
	if err := s.Save(ctx, l); err != nil {
		t.Fatalf("second save: %v", err)
	}

	back := Open(ctx, s)
	if !back.HasSeen("it-alice", "evt_1") || !back.HasSeen("it-alice", "evt_2") {
		t.Fatalf("loaded ledger missing entries: %v", back.Snapshot())
	}
}

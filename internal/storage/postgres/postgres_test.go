package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/mschirtzinger/tasksync/internal/storage"
	"github.com/mschirtzinger/tasksync/internal/storage/storagetest"
)

// setupTestStore connects to the database named by TASKSYNC_TEST_POSTGRES_DSN
// and starts from empty tables.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TASKSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TASKSYNC_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to open postgres: %v", err)
	}
	if _, err := s.Clear(ctx, ""); err != nil {
		t.Fatalf("Failed to reset tables: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.Clear(context.Background(), "")
		_ = s.Close()
	})
	return s
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return setupTestStore(t)
	})
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	s := setupTestStore(t)

	for i := 0; i < 2; i++ {
		if err := s.EnsureSchema(context.Background()); err != nil {
			t.Fatalf("EnsureSchema call %d failed: %v", i+1, err)
		}
	}
}

func TestNilStore(t *testing.T) {
	var s *Store
	if err := s.EnsureSchema(context.Background()); err == nil {
		t.Error("expected error from nil store")
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("expected error from nil store ping")
	}
}

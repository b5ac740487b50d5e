// Package factory opens a storage backend from a DSN.
package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/mschirtzinger/tasksync/internal/storage"
	"github.com/mschirtzinger/tasksync/internal/storage/memory"
	"github.com/mschirtzinger/tasksync/internal/storage/postgres"
	"github.com/mschirtzinger/tasksync/internal/storage/sqlite"
)

// Kind names a backend implementation.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindSQLite   Kind = "sqlite"
	KindLibSQL   Kind = "libsql"
	KindPostgres Kind = "postgres"
)

// Detect returns the backend kind a DSN selects.
//
//	memory://                  in-process store
//	file:path, path            embedded SQLite
//	libsql://host?authToken=   remote libSQL / Turso
//	postgres://, postgresql:// Postgres
func Detect(dsn string) (Kind, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", fmt.Errorf("storage dsn is empty")
	case strings.HasPrefix(dsn, "memory://"), dsn == "memory":
		return KindMemory, nil
	case strings.HasPrefix(dsn, "libsql://"), strings.HasPrefix(dsn, "https://"), strings.HasPrefix(dsn, "http://"):
		return KindLibSQL, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return KindPostgres, nil
	case strings.Contains(dsn, "://"):
		return "", fmt.Errorf("unsupported storage dsn scheme in %q", dsn)
	default:
		return KindSQLite, nil
	}
}

// Open opens the backend selected by dsn.
func Open(ctx context.Context, dsn string) (storage.Backend, error) {
	kind, err := Detect(dsn)
	if err != nil {
		return nil, err
	}

	dsn = strings.TrimSpace(dsn)
	switch kind {
	case KindMemory:
		return memory.New(), nil
	case KindLibSQL:
		return sqlite.OpenRemote(ctx, dsn)
	case KindPostgres:
		return postgres.Open(ctx, dsn)
	default:
		return sqlite.OpenContext(ctx, dsn)
	}
}

// IsEmbedded reports whether dsn points at a database owned by this process,
// i.e. one that must not be opened by two servers at once.
func IsEmbedded(dsn string) bool {
	kind, err := Detect(dsn)
	return err == nil && kind == KindSQLite
}

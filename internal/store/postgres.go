package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const postgresDriver = "pgx"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS entries (
	namespace  TEXT   NOT NULL,
	key        TEXT   NOT NULL,
	value      BYTEA  NOT NULL,
	written_at BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (namespace, key)
)`

// Postgres is a local store shared by server-side sync agents.
type Postgres struct {
	*sqlStore
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to dsn and ensures the entries table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("open postgres: dsn required")
	}
	openMu.Lock()
	db, err := sqlOpen(postgresDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure entries table: %w", err)
	}
	return &Postgres{sqlStore: newSQLStore(db, dialect{
		name:     "postgres",
		numbered: true,
		keyOrder: `COLLATE "C"`,
	})}, nil
}

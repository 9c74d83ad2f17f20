package store

import (
	"context"
	"fmt"
)

// Driver selects a store backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverFile     Driver = "file"
	DriverPostgres Driver = "postgres"
)

// Config describes which backend to open.
//
//	driver=sqlite   path: database file (default ./marksync.db)
//	driver=file     path: root directory (default ./marksync-data)
//	driver=postgres dsn: connection string (required)
//	driver=memory   no parameters
type Config struct {
	Driver Driver
	Path   string
	DSN    string
}

// Open selects a Store implementation from cfg. An empty driver means sqlite.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		path := cfg.Path
		if path == "" {
			path = "./marksync.db"
		}
		return OpenSQLite(path)
	case DriverFile:
		return OpenFile(cfg.Path)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

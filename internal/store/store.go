package store

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// Store persists board snapshots and uploaded files
type Store interface {
	Load(ctx context.Context, boardID string) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	SetTitle(ctx context.Context, boardID, title string) error
	SaveFile(ctx context.Context, blob Blob) error
	LoadFile(ctx context.Context, boardID, fileID string) (Blob, error)
	Close() error
}

// Open returns the store for a driver: memory, sqlite3 or postgres
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return NewMem(), nil
	case "sqlite3", "postgres":
		return OpenSQL(driver, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", driver)
	}
}

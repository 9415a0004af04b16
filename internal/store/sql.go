package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS whiteboards (
		id         TEXT NOT NULL PRIMARY KEY,
		title      TEXT NOT NULL,
		snapshot   TEXT,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS whiteboard_files (
		board_id   TEXT NOT NULL,
		file_id    TEXT NOT NULL,
		mime_type  TEXT NOT NULL,
		data       BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (board_id, file_id)
	)`,
}

type boardRow struct {
	ID        string         `db:"id"`
	Title     string         `db:"title"`
	Snapshot  sql.NullString `db:"snapshot"`
	UpdatedAt time.Time      `db:"updated_at"`
}

type fileRow struct {
	BoardID   string    `db:"board_id"`
	FileID    string    `db:"file_id"`
	MimeType  string    `db:"mime_type"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
}

// SQLStore keeps snapshots in a whiteboards table, one JSON document per board
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQL connects and migrates. driver is "sqlite3" or "postgres".
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite allows one writer; serialise instead of failing with SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db}
	if err := s.migrate(driver); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(driver string) error {
	types := strings.NewReplacer()
	if driver == "postgres" {
		types = strings.NewReplacer("BLOB", "BYTEA", "TIMESTAMP", "TIMESTAMPTZ")
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(types.Replace(stmt)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, boardID string) (Snapshot, error) {
	var row boardRow
	query := s.db.Rebind(`SELECT id, title, snapshot, updated_at FROM whiteboards WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, boardID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("load board %s: %w", boardID, err)
	}

	var snap Snapshot
	if row.Snapshot.Valid && row.Snapshot.String != "" {
		if err := json.Unmarshal([]byte(row.Snapshot.String), &snap); err != nil {
			return Snapshot{}, fmt.Errorf("decode board %s: %w", boardID, err)
		}
	}
	snap.BoardID = row.ID
	snap.Title = row.Title
	snap.UpdatedAt = row.UpdatedAt
	return snap, nil
}

func (s *SQLStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode board %s: %w", snap.BoardID, err)
	}

	query := s.db.Rebind(`INSERT INTO whiteboards (id, title, snapshot, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, snap.BoardID, DefaultTitle, string(raw), snap.UpdatedAt); err != nil {
		return fmt.Errorf("save board %s: %w", snap.BoardID, err)
	}
	return nil
}

func (s *SQLStore) SetTitle(ctx context.Context, boardID, title string) error {
	query := s.db.Rebind(`INSERT INTO whiteboards (id, title, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, boardID, title, time.Now().UTC()); err != nil {
		return fmt.Errorf("set title %s: %w", boardID, err)
	}
	return nil
}

func (s *SQLStore) SaveFile(ctx context.Context, blob Blob) error {
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = time.Now().UTC()
	}
	query := s.db.Rebind(`INSERT INTO whiteboard_files (board_id, file_id, mime_type, data, created_at) VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, blob.BoardID, blob.FileID, blob.MimeType, blob.Data, blob.CreatedAt); err != nil {
		return fmt.Errorf("save file %s/%s: %w", blob.BoardID, blob.FileID, err)
	}
	return nil
}

func (s *SQLStore) LoadFile(ctx context.Context, boardID, fileID string) (Blob, error) {
	var row fileRow
	query := s.db.Rebind(`SELECT board_id, file_id, mime_type, data, created_at FROM whiteboard_files WHERE board_id = ? AND file_id = ?`)
	if err := s.db.GetContext(ctx, &row, query, boardID, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Blob{}, ErrNotFound
		}
		return Blob{}, fmt.Errorf("load file %s/%s: %w", boardID, fileID, err)
	}
	return Blob(row), nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

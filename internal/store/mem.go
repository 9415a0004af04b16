package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type MemStore struct {
	mu     sync.RWMutex
	boards map[string][]byte
	titles map[string]string
	files  map[string]Blob
}

func NewMem() *MemStore {
	return &MemStore{
		boards: make(map[string][]byte),
		titles: make(map[string]string),
		files:  make(map[string]Blob),
	}
}

func (s *MemStore) Load(_ context.Context, boardID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.boards[boardID]
	title, named := s.titles[boardID]
	if !ok && !named {
		return Snapshot{}, ErrNotFound
	}

	snap := Snapshot{BoardID: boardID}
	if ok {
		// stored encoded so callers never share slices with the store
		if err := json.Unmarshal(raw, &snap); err != nil {
			return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", boardID, err)
		}
	}
	snap.Title = DefaultTitle
	if named {
		snap.Title = title
	}
	return snap, nil
}

func (s *MemStore) Save(_ context.Context, snap Snapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.BoardID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards[snap.BoardID] = raw
	return nil
}

func (s *MemStore) SetTitle(_ context.Context, boardID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles[boardID] = title
	return nil
}

func (s *MemStore) SaveFile(_ context.Context, blob Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := blob.BoardID + "/" + blob.FileID
	if _, exists := s.files[key]; exists {
		return fmt.Errorf("file %s already exists", key)
	}
	blob.Data = append([]byte(nil), blob.Data...)
	s.files[key] = blob
	return nil
}

func (s *MemStore) LoadFile(_ context.Context, boardID, fileID string) (Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.files[boardID+"/"+fileID]
	if !ok {
		return Blob{}, ErrNotFound
	}
	return blob, nil
}

func (s *MemStore) Close() error { return nil }

package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/middleware"
	"github.com/mattfrayser/whiteboard-sync/internal/store"
	"github.com/mattfrayser/whiteboard-sync/internal/user"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrRoomCodeMissing = errors.New("room code missing")
	ErrServerFull      = errors.New("server at maximum room capacity")
)

const (
	// saveAttempts bounds store writes for one save
	saveAttempts = 3
	openAttempts = 3
)

// Manager manages all live rooms and their persistence
type Manager struct {
	rooms        map[string]*Room
	store        store.Store
	synchronizer *Synchronizer
	limits       *middleware.Limits
	idleTTL      time.Duration
	maxAge       time.Duration
	mu           sync.RWMutex
}

// NewManager creates a new room manager
func NewManager(st store.Store, limits *middleware.Limits, idleTTL, maxAge time.Duration) *Manager {
	return &Manager{
		rooms:        make(map[string]*Room),
		store:        st,
		synchronizer: NewSynchronizer(),
		limits:       limits,
		idleTTL:      idleTTL,
		maxAge:       maxAge,
	}
}

// GetOrCreate returns the live room, loading it from the store when it is
// not in memory yet
func (rm *Manager) GetOrCreate(ctx context.Context, roomCode string) (*Room, error) {
	if roomCode == "" {
		return nil, ErrRoomCodeMissing
	}
	if room, ok := rm.GetRoom(roomCode); ok {
		return room, nil
	}

	snap, err := rm.store.Load(ctx, roomCode)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load room %s: %w", roomCode, err)
	}
	found := err == nil

	rm.mu.Lock()
	defer rm.mu.Unlock()

	// another connection may have created it while we were loading
	if room, ok := rm.rooms[roomCode]; ok {
		return room, nil
	}
	if len(rm.rooms) >= rm.limits.MaxRooms {
		return nil, ErrServerFull
	}

	var room *Room
	if found {
		room = newRoom(roomCode, &snap)
		log.Info().Str("room", roomCode).Int("elements", len(snap.Elements)).Msg("room restored")
	} else {
		room = newRoom(roomCode, nil)
		log.Info().Str("room", roomCode).Msg("room created")
	}
	rm.rooms[roomCode] = room
	return room, nil
}

// JoinRoom adds a connection to a room, creating it if necessary, and syncs
// the board to it
func (rm *Manager) JoinRoom(ctx context.Context, roomCode string, u *user.User) (*Room, error) {
	var room *Room
	err := rm.withOpenRoom(ctx, roomCode, func(r *Room) error {
		room = r
		return r.Join(u, rm.limits.MaxRoomSize)
	})
	if err != nil {
		return nil, err
	}

	if err := rm.synchronizer.SyncNewUser(room, u); err != nil {
		room.Leave(u)
		return nil, err
	}

	return room, nil
}

// AddFile registers file metadata on a board, opening its room if needed
func (rm *Manager) AddFile(ctx context.Context, roomCode string, f store.File) error {
	return rm.withOpenRoom(ctx, roomCode, func(r *Room) error {
		return r.AddFile(f)
	})
}

// withOpenRoom runs fn on the live room, fetching it again when Cleanup
// closed the one it was handed
func (rm *Manager) withOpenRoom(ctx context.Context, roomCode string, fn func(*Room) error) error {
	for attempt := 1; ; attempt++ {
		room, err := rm.GetOrCreate(ctx, roomCode)
		if err != nil {
			return err
		}
		err = fn(room)
		if errors.Is(err, ErrRoomClosed) && attempt < openAttempts {
			continue
		}
		return err
	}
}

// GetRoom: checks if a room is live and returns it
func (rm *Manager) GetRoom(roomCode string) (*Room, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room, exists := rm.rooms[roomCode]
	return room, exists
}

// RoomCount returns the number of live rooms
func (rm *Manager) RoomCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	return len(rm.rooms)
}

// Persist saves a live room if it changed since its last save
func (rm *Manager) Persist(ctx context.Context, roomCode string) error {
	room, ok := rm.GetRoom(roomCode)
	if !ok {
		return nil
	}
	return rm.persistRoom(ctx, room)
}

func (rm *Manager) persistRoom(ctx context.Context, room *Room) error {
	room.saveMu.Lock()
	defer room.saveMu.Unlock()

	if !room.Dirty() {
		return nil
	}
	snap, revision := room.snapshotRevision()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, saveAttempts-1), ctx)

	err := backoff.Retry(func() error {
		return rm.store.Save(ctx, snap)
	}, retry)
	if err != nil {
		return fmt.Errorf("persist room %s: %w", room.Code, err)
	}

	room.markSaved(revision)
	log.Debug().Str("room", room.Code).Int("elements", len(snap.Elements)).Msg("room saved")
	return nil
}

func (rm *Manager) liveRooms() []*Room {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	rooms := make([]*Room, 0, len(rm.rooms))
	for _, room := range rm.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// PersistAll saves every dirty room
func (rm *Manager) PersistAll(ctx context.Context) error {
	var errs []error
	for _, room := range rm.liveRooms() {
		if err := rm.persistRoom(ctx, room); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cleanup evicts rooms that are empty and idle or past their max age. A room
// is saved first and only removed if it is still expired and clean, so the
// next GetOrCreate loads what it held.
func (rm *Manager) Cleanup(ctx context.Context) {
	now := time.Now()

	for _, room := range rm.liveRooms() {
		if !room.expired(now, rm.idleTTL, rm.maxAge) {
			continue
		}
		if err := rm.persistRoom(ctx, room); err != nil {
			log.Error().Err(err).Str("room", room.Code).Msg("failed to save expiring room")
			continue
		}

		rm.mu.Lock()
		evicted := rm.rooms[room.Code] == room && room.closeIfExpired(now, rm.idleTTL, rm.maxAge)
		if evicted {
			delete(rm.rooms, room.Code)
		}
		rm.mu.Unlock()

		if evicted {
			log.Info().Str("room", room.Code).Msg("room expired")
		}
	}
}

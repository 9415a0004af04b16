package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Persister saves one room
type Persister interface {
	Persist(ctx context.Context, roomCode string) error
}

type pendingSave struct {
	timer *time.Timer
}

// AutoSaver debounces saves per room: every change pushes the save back
// until the room has been quiet for the delay.
type AutoSaver struct {
	persister Persister
	delay     time.Duration
	timeout   time.Duration
	pending   map[string]*pendingSave
	mu        sync.Mutex
}

func NewAutoSaver(p Persister, delay, timeout time.Duration) *AutoSaver {
	return &AutoSaver{
		persister: p,
		delay:     delay,
		timeout:   timeout,
		pending:   make(map[string]*pendingSave),
	}
}

// Schedule (re)starts the debounce timer for a room
func (a *AutoSaver) Schedule(roomCode string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.pending[roomCode]; ok {
		p.timer.Stop()
	}
	p := &pendingSave{}
	p.timer = time.AfterFunc(a.delay, func() { a.fire(roomCode, p) })
	a.pending[roomCode] = p
}

func (a *AutoSaver) fire(roomCode string, p *pendingSave) {
	a.mu.Lock()
	if a.pending[roomCode] != p {
		// superseded by a later Schedule or SaveNow
		a.mu.Unlock()
		return
	}
	delete(a.pending, roomCode)
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.persister.Persist(ctx, roomCode); err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("auto-save failed")
	}
}

// cancel drops the pending save for a room and reports whether one existed
func (a *AutoSaver) cancel(roomCode string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[roomCode]
	if ok {
		p.timer.Stop()
		delete(a.pending, roomCode)
	}
	return ok
}

// SaveNow skips the debounce and saves immediately
func (a *AutoSaver) SaveNow(ctx context.Context, roomCode string) error {
	a.cancel(roomCode)
	return a.persister.Persist(ctx, roomCode)
}

// Pending returns the number of rooms waiting for a save
func (a *AutoSaver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Flush saves every room with a pending save; used on shutdown
func (a *AutoSaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	codes := make([]string, 0, len(a.pending))
	for code, p := range a.pending {
		p.timer.Stop()
		codes = append(codes, code)
	}
	a.pending = make(map[string]*pendingSave)
	a.mu.Unlock()

	var errs []error
	for _, code := range codes {
		if err := a.persister.Persist(ctx, code); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package room

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/element"
	"github.com/mattfrayser/whiteboard-sync/internal/store"
	"github.com/mattfrayser/whiteboard-sync/internal/user"
)

var (
	ErrRoomFull = errors.New("room is full")
	// ErrRoomClosed: the room was evicted; callers fetch a fresh one from the manager
	ErrRoomClosed = errors.New("room is closed")
)

// Pointer is a collaborator's last cursor position
type Pointer struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Tool string  `json:"tool,omitempty"`
}

// Collaborator is one user in a room, however many connections they hold
type Collaborator struct {
	UserID        string   `json:"userId"`
	Color         string   `json:"color"`
	Pointer       *Pointer `json:"pointer,omitempty"`
	PresenceCount int      `json:"presenceCount"`
}

// Room represents a live collaborative whiteboard
type Room struct {
	Code           string
	Connections    map[string]*user.User // connID → connection
	UserColors     map[string]string     // userID → color (room-specific)
	title          string
	pointers       map[string]Pointer
	scene          *element.Scene
	appState       store.AppState
	files          map[string]store.File
	colorGenerator *user.ColorGenerator
	revision       uint64
	savedRevision  uint64
	closed         bool
	LastActive     time.Time
	CreatedAt      time.Time
	mu             sync.RWMutex
	saveMu         sync.Mutex // held across snapshot, store write and markSaved
}

// newRoom: builds a room, hydrated from a stored snapshot when there is one
func newRoom(code string, snap *store.Snapshot) *Room {
	now := time.Now()
	r := &Room{
		Code:           code,
		Connections:    make(map[string]*user.User),
		UserColors:     make(map[string]string),
		title:          store.DefaultTitle,
		pointers:       make(map[string]Pointer),
		scene:          element.NewScene(nil),
		files:          make(map[string]store.File),
		colorGenerator: user.NewColorGenerator(code),
		LastActive:     now,
		CreatedAt:      now,
	}
	if snap != nil {
		r.title = snap.Title
		r.scene = element.NewScene(snap.Elements)
		r.appState = snap.AppState
		for id, f := range snap.Files {
			r.files[id] = f
		}
	}
	return r
}

// Join: adds a connection to the room and assigns the user a color
func (r *Room) Join(u *user.User, maxRoomSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if len(r.Connections) >= maxRoomSize {
		return ErrRoomFull
	}

	r.Connections[u.ConnID] = u

	if _, hasColor := r.UserColors[u.ID]; !hasColor {
		r.UserColors[u.ID] = r.colorGenerator.NextColor()
	}
	r.LastActive = time.Now()

	return nil
}

// Leave: remove a connection from the room
func (r *Room) Leave(u *user.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.Connections, u.ConnID)
	if !r.hasUserLocked(u.ID) {
		delete(r.pointers, u.ID)
	}

	r.LastActive = time.Now()
}

func (r *Room) hasUserLocked(userID string) bool {
	for _, c := range r.Connections {
		if c.ID == userID {
			return true
		}
	}
	return false
}

// ApplyChanges: folds a batch of remote changes into the scene
func (r *Room) ApplyChanges(changes []element.Change) (accepted, rejected []element.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	accepted, rejected = r.scene.ApplyAll(changes)
	if len(accepted) > 0 {
		r.touchLocked()
	}
	return accepted, rejected
}

// ReconcileScene: merges a full element list into the scene and returns
// the elements that won as changes
func (r *Room) ReconcileScene(elements []element.Element) []element.Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	var accepted []element.Change
	for _, el := range elements {
		kind := element.Updated
		if !r.scene.Contains(el.ID) {
			kind = element.Added
		}
		ch := element.Change{Kind: kind, Element: el}
		if r.scene.Apply(ch) {
			accepted = append(accepted, ch)
		}
	}
	if len(accepted) > 0 {
		r.touchLocked()
	}
	return accepted
}

// NewElementCount: number of live elements a batch would add, counting
// tombstones it would revive
func (r *Room) NewElementCount(changes []element.Change) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, ch := range changes {
		if ch.Kind == element.Removed || ch.Element.IsDeleted {
			continue
		}
		if !r.scene.Contains(ch.Element.ID) || r.scene.Revives(ch.Element) {
			n++
		}
	}
	return n
}

// Element: current copy of an element, tombstones included
func (r *Room) Element(id string) (element.Element, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.scene.Get(id)
}

// Elements: every element in scene order, tombstones included
func (r *Room) Elements() []element.Element {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.scene.Elements()
}

// ElementCount: returns number of live elements in room
func (r *Room) ElementCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.scene.LiveCount()
}

func (r *Room) AppState() store.AppState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.appState
}

func (r *Room) SetAppState(s store.AppState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.appState = s
	r.touchLocked()
}

func (r *Room) Title() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.title
}

// SetTitle: the title is persisted separately, so it does not dirty the room
func (r *Room) SetTitle(title string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.title = title
}

// AddFile: registers uploaded image metadata on the board
func (r *Room) AddFile(f store.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	r.files[f.ID] = f
	r.touchLocked()
	return nil
}

func (r *Room) touchLocked() {
	r.revision++
	r.LastActive = time.Now()
}

// Snapshot: current board state
func (r *Room) Snapshot() store.Snapshot {
	snap, _ := r.snapshotRevision()
	return snap
}

func (r *Room) snapshotRevision() (store.Snapshot, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	files := make(map[string]store.File, len(r.files))
	for id, f := range r.files {
		files[id] = f
	}
	return store.Snapshot{
		BoardID:   r.Code,
		Title:     r.title,
		Elements:  r.scene.Elements(),
		AppState:  r.appState,
		Files:     files,
		UpdatedAt: time.Now().UTC(),
	}, r.revision
}

// Dirty: whether the room changed since it was last saved
func (r *Room) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.revision != r.savedRevision
}

func (r *Room) markSaved(revision uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if revision > r.savedRevision {
		r.savedRevision = revision
	}
}

// UpdatePointer: records the user's last cursor position
func (r *Room) UpdatePointer(userID string, p Pointer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pointers[userID] = p
}

// Collaborators: users present in the room, grouped across connections
func (r *Room) Collaborators() []Collaborator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byUser := make(map[string]*Collaborator)
	for _, c := range r.Connections {
		if existing, ok := byUser[c.ID]; ok {
			existing.PresenceCount++
			continue
		}
		collab := &Collaborator{
			UserID:        c.ID,
			Color:         r.UserColors[c.ID],
			PresenceCount: 1,
		}
		if p, ok := r.pointers[c.ID]; ok {
			p := p
			collab.Pointer = &p
		}
		byUser[c.ID] = collab
	}

	out := make([]Collaborator, 0, len(byUser))
	for _, c := range byUser {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ConnectionCount: returns number of connections in room
func (r *Room) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.Connections)
}

// GetConnections: returns snapshot of current connections (for broadcasting)
func (r *Room) GetConnections() map[string]*user.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]*user.User, len(r.Connections))
	for k, v := range r.Connections {
		snapshot[k] = v
	}
	return snapshot
}

// RemoveConnection: removes a connection from room (cleanup after failed broadcast)
func (r *Room) RemoveConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.Connections[connID]; ok {
		delete(r.Connections, connID)
		if !r.hasUserLocked(u.ID) {
			delete(r.pointers, u.ID)
		}
	}
}

// GetUserColor: returns the user's color in this room
func (r *Room) GetUserColor(userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.UserColors[userID]
}

func (r *Room) expiredLocked(now time.Time, idleTTL, maxAge time.Duration) bool {
	empty := len(r.Connections) == 0
	inactive := now.Sub(r.LastActive) > idleTTL
	tooOld := now.Sub(r.CreatedAt) > maxAge
	return empty && (inactive || tooOld)
}

func (r *Room) expired(now time.Time, idleTTL, maxAge time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.expiredLocked(now, idleTTL, maxAge)
}

// closeIfExpired closes an expired room with nothing left to save. A closed
// room refuses joins and files.
func (r *Room) closeIfExpired(now time.Time, idleTTL, maxAge time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.expiredLocked(now, idleTTL, maxAge) && r.revision == r.savedRevision {
		r.closed = true
	}
	return r.closed
}

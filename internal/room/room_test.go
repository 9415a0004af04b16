package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/element"
	"github.com/mattfrayser/whiteboard-sync/internal/middleware"
	"github.com/mattfrayser/whiteboard-sync/internal/store"
	"github.com/mattfrayser/whiteboard-sync/internal/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	fail     bool
	closed   bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection reset")
	}
	c.messages = append(c.messages, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.messages))
	for _, m := range c.messages {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(m, &env))
		out = append(out, env.Type)
	}
	return out
}

func testLimits() *middleware.Limits {
	return &middleware.Limits{
		MaxRoomSize:       3,
		MaxRooms:          2,
		MaxElements:       100,
		MessagesPerSecond: 30,
		BurstSize:         10,
		CursorPerSecond:   60,
		CursorBurst:       20,
	}
}

func newTestUser(sm *user.SessionManager, userID string) (*user.User, *fakeConn) {
	conn := &fakeConn{}
	return user.NewUser(sm.Create(userID), conn), conn
}

func rect(id string, version, nonce int64) element.Element {
	return element.Element{ID: id, Type: "rectangle", Version: version, VersionNonce: nonce, Data: map[string]interface{}{"x": 1.0}}
}

func TestRoomJoinLeave(t *testing.T) {
	sm := user.NewSessionManager(testLimits(), time.Hour)
	r := newRoom("board", nil)

	alice, _ := newTestUser(sm, "alice")
	aliceTab := user.NewUser(alice.Session, &fakeConn{})
	bob, _ := newTestUser(sm, "bob")
	carol, _ := newTestUser(sm, "carol")

	require.NoError(t, r.Join(alice, 3))
	require.NoError(t, r.Join(aliceTab, 3))
	require.NoError(t, r.Join(bob, 3))
	assert.ErrorIs(t, r.Join(carol, 3), ErrRoomFull)

	assert.Equal(t, 3, r.ConnectionCount())
	assert.NotEmpty(t, r.GetUserColor("alice"))
	assert.NotEqual(t, r.GetUserColor("alice"), r.GetUserColor("bob"))

	r.UpdatePointer("alice", Pointer{X: 1, Y: 2, Tool: "pointer"})
	collabs := r.Collaborators()
	require.Len(t, collabs, 2)
	assert.Equal(t, "alice", collabs[0].UserID)
	assert.Equal(t, 2, collabs[0].PresenceCount)
	require.NotNil(t, collabs[0].Pointer)
	assert.Equal(t, "pointer", collabs[0].Pointer.Tool)
	assert.Nil(t, collabs[1].Pointer)

	r.Leave(alice)
	collabs = r.Collaborators()
	assert.Equal(t, 1, collabs[0].PresenceCount)
	require.NotNil(t, collabs[0].Pointer, "pointer kept while another tab is open")

	color := r.GetUserColor("alice")
	r.Leave(aliceTab)
	assert.Len(t, r.Collaborators(), 1)

	// colors are per room and survive a user leaving
	require.NoError(t, r.Join(aliceTab, 3))
	assert.Equal(t, color, r.GetUserColor("alice"))
}

func TestRoomApplyChanges(t *testing.T) {
	r := newRoom("board", &store.Snapshot{Elements: []element.Element{rect("E1", 3, 1)}})
	assert.False(t, r.Dirty())

	changes := []element.Change{
		{Kind: element.Updated, Element: rect("E1", 2, 1)},
		{Kind: element.Added, Element: rect("E2", 1, 1)},
	}
	assert.Equal(t, 1, r.NewElementCount(changes))

	accepted, rejected := r.ApplyChanges(changes)
	require.Len(t, accepted, 1)
	require.Len(t, rejected, 1)
	assert.True(t, r.Dirty())
	assert.Equal(t, 2, r.ElementCount())

	el, ok := r.Element("E1")
	require.True(t, ok)
	assert.Equal(t, int64(3), el.Version)

	_, rejected = r.ApplyChanges([]element.Change{{Kind: element.Updated, Element: rect("E1", 4, 1)}})
	assert.Empty(t, rejected)
	el, _ = r.Element("E1")
	assert.Equal(t, int64(4), el.Version)
}

func TestRoomReconcileScene(t *testing.T) {
	r := newRoom("board", &store.Snapshot{Elements: []element.Element{rect("a", 3, 1)}})

	accepted := r.ReconcileScene([]element.Element{rect("a", 2, 1), rect("b", 1, 1)})
	require.Len(t, accepted, 1)
	assert.Equal(t, element.Added, accepted[0].Kind)
	assert.Equal(t, "b", accepted[0].Element.ID)
	assert.Len(t, r.Elements(), 2)
}

func TestRoomSnapshotAndSavedRevision(t *testing.T) {
	grid := 10
	r := newRoom("board", &store.Snapshot{Title: "Plan"})
	r.SetAppState(store.AppState{ViewBackgroundColor: "#000000", GridSize: &grid})
	require.NoError(t, r.AddFile(store.File{ID: "f1", MimeType: "image/png"}))

	snap, rev := r.snapshotRevision()
	assert.Equal(t, "board", snap.BoardID)
	assert.Equal(t, "Plan", snap.Title)
	assert.Equal(t, "#000000", snap.AppState.ViewBackgroundColor)
	assert.Contains(t, snap.Files, "f1")

	r.ApplyChanges([]element.Change{{Kind: element.Added, Element: rect("x", 1, 1)}})
	r.markSaved(rev)
	assert.True(t, r.Dirty(), "changes after the snapshot keep the room dirty")
}

func TestBroadcasterSkipsSenderAndDropsFailed(t *testing.T) {
	sm := user.NewSessionManager(testLimits(), time.Hour)
	r := newRoom("board", nil)

	alice, aliceConn := newTestUser(sm, "alice")
	bob, bobConn := newTestUser(sm, "bob")
	carol, carolConn := newTestUser(sm, "carol")
	carolConn.fail = true
	for _, u := range []*user.User{alice, bob, carol} {
		require.NoError(t, r.Join(u, 10))
	}

	b := NewBroadcaster()
	require.NoError(t, b.BroadcastJSON(r, map[string]string{"type": "cursor"}, alice.ConnID))

	assert.Empty(t, aliceConn.types(t))
	assert.Equal(t, []string{"cursor"}, bobConn.types(t))
	assert.True(t, carolConn.closed)
	assert.Equal(t, 2, r.ConnectionCount())

	b.Broadcast(r, []byte(`{"type":"collaborators"}`), "")
	assert.Equal(t, []string{"collaborators"}, aliceConn.types(t))
}

func TestSynchronizerSendsBoard(t *testing.T) {
	sm := user.NewSessionManager(testLimits(), time.Hour)
	r := newRoom("board", &store.Snapshot{Title: "Sketch", Elements: []element.Element{rect("a", 1, 1)}})
	u, conn := newTestUser(sm, "alice")

	require.NoError(t, NewSynchronizer().SyncNewUser(r, u))
	require.Len(t, conn.messages, 1)

	var msg SyncMessage
	require.NoError(t, json.Unmarshal(conn.messages[0], &msg))
	assert.Equal(t, "sync", msg.Type)
	assert.Equal(t, "Sketch", msg.Title)
	require.Len(t, msg.Elements, 1)
	assert.Equal(t, "a", msg.Elements[0].ID)
}

func TestManagerRestoresFromStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMem()
	require.NoError(t, st.Save(ctx, store.Snapshot{BoardID: "saved", Elements: []element.Element{rect("a", 2, 2)}}))
	require.NoError(t, st.SetTitle(ctx, "saved", "Kept"))

	m := NewManager(st, testLimits(), time.Hour, 24*time.Hour)
	r, err := m.GetOrCreate(ctx, "saved")
	require.NoError(t, err)
	assert.Equal(t, "Kept", r.Title())
	assert.Equal(t, 1, r.ElementCount())

	again, err := m.GetOrCreate(ctx, "saved")
	require.NoError(t, err)
	assert.Same(t, r, again)

	_, err = m.GetOrCreate(ctx, "")
	assert.ErrorIs(t, err, ErrRoomCodeMissing)

	_, err = m.GetOrCreate(ctx, "fresh")
	require.NoError(t, err)
	_, err = m.GetOrCreate(ctx, "one-too-many")
	assert.ErrorIs(t, err, ErrServerFull)
}

func TestManagerJoinRoomSyncs(t *testing.T) {
	sm := user.NewSessionManager(testLimits(), time.Hour)
	m := NewManager(store.NewMem(), testLimits(), time.Hour, 24*time.Hour)
	u, conn := newTestUser(sm, "alice")

	r, err := m.JoinRoom(context.Background(), "board", u)
	require.NoError(t, err)
	assert.Equal(t, 1, r.ConnectionCount())
	assert.Equal(t, []string{"sync"}, conn.types(t))
}

type flakyStore struct {
	*store.MemStore
	mu       sync.Mutex
	failures int
	saves    int
}

func (s *flakyStore) Save(ctx context.Context, snap store.Snapshot) error {
	s.mu.Lock()
	s.saves++
	fail := s.saves <= s.failures
	s.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return s.MemStore.Save(ctx, snap)
}

func (s *flakyStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestManagerPersistRetries(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{MemStore: store.NewMem(), failures: 2}
	m := NewManager(st, testLimits(), time.Hour, 24*time.Hour)

	r, err := m.GetOrCreate(ctx, "board")
	require.NoError(t, err)
	require.NoError(t, m.Persist(ctx, "board"), "clean rooms are not written")
	assert.Equal(t, 0, st.saveCount())

	r.ApplyChanges([]element.Change{{Kind: element.Added, Element: rect("a", 1, 1)}})
	require.NoError(t, m.Persist(ctx, "board"))
	assert.Equal(t, 3, st.saveCount())
	assert.False(t, r.Dirty())

	snap, err := st.Load(ctx, "board")
	require.NoError(t, err)
	assert.Len(t, snap.Elements, 1)
}

func TestManagerPersistGivesUp(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{MemStore: store.NewMem(), failures: 10}
	m := NewManager(st, testLimits(), time.Hour, 24*time.Hour)

	r, err := m.GetOrCreate(ctx, "board")
	require.NoError(t, err)
	r.ApplyChanges([]element.Change{{Kind: element.Added, Element: rect("a", 1, 1)}})

	assert.Error(t, m.Persist(ctx, "board"))
	assert.Equal(t, saveAttempts, st.saveCount())
	assert.True(t, r.Dirty())
}

func TestManagerCleanupSavesEvictedRooms(t *testing.T) {
	ctx := context.Background()
	st := store.NewMem()
	sm := user.NewSessionManager(testLimits(), time.Hour)
	m := NewManager(st, testLimits(), time.Millisecond, 24*time.Hour)

	idle, err := m.GetOrCreate(ctx, "idle")
	require.NoError(t, err)
	idle.ApplyChanges([]element.Change{{Kind: element.Added, Element: rect("a", 1, 1)}})

	u, _ := newTestUser(sm, "alice")
	_, err = m.JoinRoom(ctx, "busy", u)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	m.Cleanup(ctx)

	assert.Equal(t, 1, m.RoomCount())
	_, ok := m.GetRoom("busy")
	assert.True(t, ok)

	snap, err := st.Load(ctx, "idle")
	require.NoError(t, err)
	assert.Len(t, snap.Elements, 1)
}

func TestRoomNewElementCountRevivedTombstones(t *testing.T) {
	gone := rect("gone", 2, 1)
	gone.IsDeleted = true
	r := newRoom("board", &store.Snapshot{Elements: []element.Element{gone, rect("live", 1, 1)}})

	assert.Equal(t, 1, r.NewElementCount([]element.Change{{Kind: element.Updated, Element: rect("gone", 3, 1)}}))
	assert.Equal(t, 0, r.NewElementCount([]element.Change{{Kind: element.Updated, Element: rect("gone", 1, 9)}}))
	assert.Equal(t, 0, r.NewElementCount([]element.Change{{Kind: element.Updated, Element: rect("live", 2, 1)}}))
	assert.Equal(t, 0, r.NewElementCount([]element.Change{{Kind: element.Removed, Element: rect("new", 1, 1)}}))
}

// blockingStore parks the first Save until release is closed
type blockingStore struct {
	*store.MemStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Save(ctx context.Context, snap store.Snapshot) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.MemStore.Save(ctx, snap)
}

func TestManagerOverlappingPersistKeepsNewest(t *testing.T) {
	ctx := context.Background()
	st := &blockingStore{MemStore: store.NewMem(), entered: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(st, testLimits(), time.Hour, 24*time.Hour)

	r, err := m.GetOrCreate(ctx, "board")
	require.NoError(t, err)
	r.ApplyChanges([]element.Change{{Kind: element.Added, Element: rect("a", 1, 1)}})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = m.Persist(ctx, "board")
	}()
	<-st.entered

	r.ApplyChanges([]element.Change{{Kind: element.Updated, Element: rect("a", 2, 1)}})
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = m.Persist(ctx, "board")
	}()
	time.Sleep(20 * time.Millisecond)
	close(st.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.False(t, r.Dirty())

	snap, err := st.Load(ctx, "board")
	require.NoError(t, err)
	require.Len(t, snap.Elements, 1)
	assert.Equal(t, int64(2), snap.Elements[0].Version)
}

func TestManagerCleanupClosesEvictedRoom(t *testing.T) {
	ctx := context.Background()
	sm := user.NewSessionManager(testLimits(), time.Hour)
	m := NewManager(store.NewMem(), testLimits(), time.Millisecond, 24*time.Hour)

	stale, err := m.GetOrCreate(ctx, "board")
	require.NoError(t, err)
	stale.ApplyChanges([]element.Change{{Kind: element.Added, Element: rect("a", 1, 1)}})

	time.Sleep(5 * time.Millisecond)
	m.Cleanup(ctx)
	require.Equal(t, 0, m.RoomCount())

	u, _ := newTestUser(sm, "alice")
	assert.ErrorIs(t, stale.Join(u, 3), ErrRoomClosed)
	assert.ErrorIs(t, stale.AddFile(store.File{ID: "f1"}), ErrRoomClosed)

	live, err := m.JoinRoom(ctx, "board", u)
	require.NoError(t, err)
	assert.NotSame(t, stale, live)
	assert.Equal(t, 1, live.ElementCount(), "reloaded from the saved snapshot")

	require.NoError(t, m.AddFile(ctx, "board", store.File{ID: "f2", MimeType: "image/png"}))
	got, ok := m.GetRoom("board")
	require.True(t, ok)
	assert.Same(t, live, got)
	assert.Contains(t, live.Snapshot().Files, "f2")
}

func TestManagerRetriesClosedRoom(t *testing.T) {
	m := NewManager(store.NewMem(), testLimits(), time.Hour, 24*time.Hour)

	calls := 0
	err := m.withOpenRoom(context.Background(), "board", func(*Room) error {
		calls++
		if calls == 1 {
			return ErrRoomClosed
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = m.withOpenRoom(context.Background(), "board", func(*Room) error {
		calls++
		return ErrRoomClosed
	})
	assert.ErrorIs(t, err, ErrRoomClosed)
	assert.Equal(t, openAttempts, calls)
}

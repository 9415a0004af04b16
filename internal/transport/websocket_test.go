package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/element"
	"github.com/mattfrayser/whiteboard-sync/internal/handlers"
	"github.com/mattfrayser/whiteboard-sync/internal/middleware"
	"github.com/mattfrayser/whiteboard-sync/internal/room"
	"github.com/mattfrayser/whiteboard-sync/internal/store"
	"github.com/mattfrayser/whiteboard-sync/internal/user"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopSaver struct{}

func (noopSaver) Schedule(string) {}

func (noopSaver) SaveNow(_ context.Context, _ string) error { return nil }

func testLimits() *middleware.Limits {
	return &middleware.Limits{
		MaxRoomSize:       2,
		MaxRooms:          10,
		MaxElements:       100,
		MaxMessageSize:    64 * 1024,
		MaxObjectDepth:    10,
		MaxObjectElements: 500,
		MaxBatchSize:      100,
		MessagesPerSecond: 100,
		BurstSize:         100,
		CursorPerSecond:   100,
		CursorBurst:       100,
	}
}

func newTestServer(t *testing.T, origins []string) (*httptest.Server, *room.Manager) {
	t.Helper()
	srv, rooms, _ := newTestHandler(t, origins)
	return srv, rooms
}

func newTestHandler(t *testing.T, origins []string) (*httptest.Server, *room.Manager, *Handler) {
	t.Helper()
	limits := testLimits()
	sessions := user.NewSessionManager(limits, time.Hour)
	rooms := room.NewManager(store.NewMem(), limits, time.Hour, 24*time.Hour)
	router := handlers.NewMessageRouter(element.NewValidator(), limits, sessions, room.NewBroadcaster(), noopSaver{})
	ipLimiter := middleware.NewIPRateLimit(time.Millisecond, 100, time.Minute)

	h := NewHandler(origins, ipLimiter, limits, sessions, rooms, router)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, rooms, h
}

func wsURL(srv *httptest.Server, roomCode string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room=" + roomCode
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, roomCode, token string) (*client, map[string]interface{}) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, roomCode), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &client{t: t, conn: conn}
	c.send(map[string]interface{}{"type": "authenticate", "token": token})
	auth := c.expect("authenticated")
	return c, auth
}

func (c *client) send(v interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

// expect reads until a message of the given type arrives
func (c *client) expect(typ string) map[string]interface{} {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg map[string]interface{}
		require.NoError(c.t, c.conn.ReadJSON(&msg), "waiting for %s", typ)
		if msg["type"] == typ {
			return msg
		}
	}
}

func TestWebSocketSession(t *testing.T) {
	srv, rooms := newTestServer(t, []string{"*"})

	alice, auth := dial(t, srv, "board", "")
	aliceID := auth["userId"].(string)
	require.NotEmpty(t, aliceID)
	require.NotEmpty(t, auth["token"])

	snap := alice.expect("sync")
	assert.Equal(t, store.DefaultTitle, snap["title"])
	joined := alice.expect("room_joined")
	assert.Equal(t, "board", joined["room"])
	assert.NotEmpty(t, joined["color"])
	alice.expect("collaborators")

	bob, _ := dial(t, srv, "board", "")
	bob.expect("room_joined")
	presence := alice.expect("collaborators")
	assert.Len(t, presence["collaborators"], 2)

	bob.send(map[string]interface{}{
		"type": "elements",
		"changes": []map[string]interface{}{{
			"kind": "added",
			"element": map[string]interface{}{
				"id": "E1", "type": "rectangle", "version": 1, "versionNonce": 7,
				"data": map[string]interface{}{"x": 1, "y": 1, "width": 10, "height": 10},
			},
		}},
	})
	got := alice.expect("elements")
	changes := got["changes"].([]interface{})
	require.Len(t, changes, 1)

	rm, ok := rooms.GetRoom("board")
	require.True(t, ok)
	assert.Equal(t, 1, rm.ElementCount())

	bob.conn.Close()
	presence = alice.expect("collaborators")
	assert.Len(t, presence["collaborators"], 1)
}

func TestWebSocketResumesSession(t *testing.T) {
	srv, _ := newTestServer(t, []string{"*"})

	first, auth := dial(t, srv, "board", "")
	first.conn.Close()

	_, again := dial(t, srv, "board", auth["token"].(string))
	assert.Equal(t, auth["userId"], again["userId"])
	assert.Equal(t, auth["token"], again["token"])

	_, stranger := dial(t, srv, "board", "not-a-token")
	assert.NotEqual(t, auth["userId"], stranger["userId"])
}

func TestWebSocketErrorsReachSender(t *testing.T) {
	srv, _ := newTestServer(t, []string{"*"})
	c, _ := dial(t, srv, "board", "")

	c.send(map[string]interface{}{"type": "teleport"})
	msg := c.expect("error")
	assert.Contains(t, msg["message"], "unknown message type")
}

func TestWebSocketRoomFull(t *testing.T) {
	srv, _ := newTestServer(t, []string{"*"})
	dial(t, srv, "board", "")
	dial(t, srv, "board", "")

	third, _ := dial(t, srv, "board", "")
	msg := third.expect("error")
	assert.Equal(t, room.ErrRoomFull.Error(), msg["message"])
}

func TestWebSocketRejectsMissingRoom(t *testing.T) {
	srv, _ := newTestServer(t, []string{"*"})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://board.example.com", " http://localhost:3000"})

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, check(req("https://board.example.com")))
	assert.True(t, check(req("http://localhost:3000")))
	assert.True(t, check(req("")))
	assert.False(t, check(req("https://evil.example.com")))
	assert.True(t, originChecker([]string{"*"})(req("https://anything.example.com")))
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Forwarded-For", "1.1.1.1")
	assert.Equal(t, "10.1.2.3", GetClientIP(r))

	r.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", GetClientIP(r))
}

// readUntilError drains the connection and returns the error that ended it
func (c *client) readUntilError() error {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func TestWebSocketClosesOversizedMessage(t *testing.T) {
	srv, rooms := newTestServer(t, []string{"*"})
	c, _ := dial(t, srv, "board", "")
	c.expect("room_joined")

	big := strings.Repeat("x", testLimits().MaxMessageSize+1)
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"scene","elements":[],"pad":"`+big+`"}`)))

	err := c.readUntilError()
	require.Error(t, err)
	// the close frame can be lost to a reset when the unread payload is discarded
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		assert.Equal(t, websocket.CloseMessageTooBig, closeErr.Code)
	}

	rm, ok := rooms.GetRoom("board")
	require.True(t, ok)
	assert.Eventually(t, func() bool { return rm.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHandlerShutdownClosesConnections(t *testing.T) {
	srv, rooms, h := newTestHandler(t, []string{"*"})
	c, _ := dial(t, srv, "board", "")
	c.expect("room_joined")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	rm, ok := rooms.GetRoom("board")
	require.True(t, ok)
	assert.Equal(t, 0, rm.ConnectionCount(), "handlers left their rooms before Shutdown returned")
	assert.Error(t, c.readUntilError())

	late, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "board"), nil)
	require.NoError(t, err)
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	assert.Error(t, err, "connections after Shutdown are closed at once")
}

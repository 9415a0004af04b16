package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/handlers"
	"github.com/mattfrayser/whiteboard-sync/internal/middleware"
	"github.com/mattfrayser/whiteboard-sync/internal/room"
	"github.com/mattfrayser/whiteboard-sync/internal/user"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	authTimeout = 5 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	writeWait   = 10 * time.Second
)

const (
	typeAuthenticated = "authenticated"
	typeRoomJoined    = "room_joined"
)

// Handler upgrades /ws requests and runs one connection per request
type Handler struct {
	upgrader   websocket.Upgrader
	ipLimiter  *middleware.IPRateLimit
	limits     *middleware.Limits
	sessionMgr *user.SessionManager
	rooms      *room.Manager
	router     *handlers.MessageRouter
	auth       *Authenticator

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewHandler builds the websocket endpoint. allowedOrigins may contain "*"
// to accept any origin.
func NewHandler(
	allowedOrigins []string,
	ipLimiter *middleware.IPRateLimit,
	limits *middleware.Limits,
	sessionMgr *user.SessionManager,
	rooms *room.Manager,
	router *handlers.MessageRouter,
) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		ipLimiter:  ipLimiter,
		limits:     limits,
		sessionMgr: sessionMgr,
		rooms:      rooms,
		router:     router,
		auth:       NewAuthenticator(sessionMgr),
		conns:      make(map[*websocket.Conn]struct{}),
	}
}

// track registers an upgraded connection; false once Shutdown has begun
func (h *Handler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return false
	}
	h.conns[conn] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown closes every websocket and waits for their handlers to leave
// their rooms. http.Server.Shutdown does not wait for hijacked connections.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for conn := range h.conns {
		conn.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// originChecker: CORS for the upgrade. Requests without an Origin header
// come from non-browser clients and are let through.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			a = strings.TrimSpace(a)
			if a == "*" || strings.EqualFold(origin, a) {
				return true
			}
		}
		return false
	}
}

// GetClientIP: extracts the client IP from the request
func GetClientIP(r *http.Request) string {
	// RemoteAddr only; forwarded headers can be spoofed
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ServeHTTP: upgrades HTTP to WebSocket, authenticates and joins the room
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := GetClientIP(r)
	if !h.ipLimiter.Allow(clientIP) {
		log.Warn().Str("ip", clientIP).Msg("connection rate limit exceeded")
		http.Error(w, "Too many connections", http.StatusTooManyRequests)
		return
	}

	roomCode := r.URL.Query().Get("room")
	if roomCode == "" {
		http.Error(w, room.ErrRoomCodeMissing.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}
	defer conn.Close()

	if !h.track(conn) {
		return
	}
	defer h.untrack(conn)

	// oversized frames fail the read and close the connection with 1009
	conn.SetReadLimit(h.limits.ReadLimit())

	authResult, err := h.auth.Authenticate(conn, authTimeout)
	if err != nil {
		log.Warn().Err(err).Str("ip", clientIP).Msg("authentication failed")
		return
	}
	session := authResult.Session
	u := user.NewUser(session, conn)

	if err := u.WriteJSON(map[string]interface{}{
		"type":   typeAuthenticated,
		"userId": u.ID,
		"token":  session.SessionToken,
	}); err != nil {
		log.Error().Err(err).Str("user", u.ID).Msg("failed to send auth response")
		return
	}

	ctx := r.Context()
	rm, err := h.rooms.JoinRoom(ctx, roomCode, u)
	if err != nil {
		log.Warn().Err(err).Str("room", roomCode).Str("user", u.ID).Msg("failed to join room")
		_ = handlers.ReplyError(u, err)
		return
	}
	defer h.leave(rm, u)

	if previous := h.sessionMgr.SetLastRoom(u.ID, roomCode); previous == roomCode {
		log.Info().Str("room", roomCode).Str("user", u.ID).Msg("user rejoined room")
	} else {
		log.Info().Str("room", roomCode).Str("user", u.ID).Msg("user joined room")
	}

	if err := u.WriteJSON(map[string]interface{}{
		"type":   typeRoomJoined,
		"color":  rm.GetUserColor(u.ID),
		"room":   roomCode,
		"userId": u.ID,
	}); err != nil {
		log.Error().Err(err).Str("user", u.ID).Msg("failed to send room joined response")
		return
	}

	if err := h.router.Presence(rm); err != nil {
		log.Error().Err(err).Str("room", roomCode).Msg("presence broadcast failed")
	}

	h.run(ctx, conn, rm, u)
}

// leave: drops the connection from its room and tells the others. The
// session stays so the client can resume with its token.
func (h *Handler) leave(rm *room.Room, u *user.User) {
	rm.Leave(u)
	h.sessionMgr.Touch(u.ID)
	if err := h.router.Presence(rm); err != nil {
		log.Error().Err(err).Str("room", rm.Code).Msg("presence broadcast failed")
	}
	log.Info().Str("room", rm.Code).Str("user", u.ID).Msg("user left room")
}

// run: message loop for WebSocket connections
func (h *Handler) run(ctx context.Context, conn *websocket.Conn, rm *room.Room, u *user.User) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go ping(conn, done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				log.Warn().Str("user", u.ID).Int64("limit", h.limits.ReadLimit()).Msg("message too large")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("user", u.ID).Msg("read failed")
			}
			return
		}

		if err := h.router.Route(ctx, rm, u, msg); err != nil {
			if errors.Is(err, handlers.ErrRateLimited) {
				log.Debug().Str("user", u.ID).Msg("message rate limit exceeded")
			} else {
				log.Warn().Err(err).Str("user", u.ID).Str("room", rm.Code).Msg("error handling message")
			}
			if err := handlers.ReplyError(u, err); err != nil {
				return
			}
		}
	}
}

// ping keeps the connection alive until done is closed
func ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

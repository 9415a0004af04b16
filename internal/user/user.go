package user

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// UserSession persists across disconnects
type UserSession struct {
	UserID           string
	SessionToken     string
	LastRoom         string
	LastSeen         time.Time
	LastCursorUpdate time.Time
	ElementLimiter   *rate.Limiter
	CursorLimiter    *rate.Limiter
}

// Conn is the write side of a websocket connection
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// User represents one connection of a user. A user may hold several
// connections (tabs) in the same room, each with its own ConnID.
type User struct {
	ID         string
	ConnID     string
	Session    *UserSession
	Connection Conn
	writeMu    sync.Mutex
}

// NewUser wraps a connection for the given session
func NewUser(session *UserSession, conn Conn) *User {
	return &User{
		ID:         session.UserID,
		ConnID:     GenerateUUID(),
		Session:    session,
		Connection: conn,
	}
}

// WriteMessage serializes writes; websocket connections allow one writer at a time
func (u *User) WriteMessage(messageType int, data []byte) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	return u.Connection.WriteMessage(messageType, data)
}

// WriteJSON marshals v and sends it as a text message
func (u *User) WriteJSON(v interface{}) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return u.WriteMessage(websocket.TextMessage, msg)
}

// GenerateUUID generates a random UUID for user and connection identification
func GenerateUUID() string {
	return uuid.NewString()
}

// GenerateSessionToken generates an opaque token a client presents to resume its session
func GenerateSessionToken() string {
	return uuid.NewString()
}

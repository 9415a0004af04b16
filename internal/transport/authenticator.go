package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/user"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const typeAuthenticate = "authenticate"

// Authenticator: handles WebSocket authentication
type Authenticator struct {
	sessionMgr *user.SessionManager
}

// NewAuthenticator: creates a new authenticator
func NewAuthenticator(sessionMgr *user.SessionManager) *Authenticator {
	return &Authenticator{
		sessionMgr: sessionMgr,
	}
}

// AuthResult contains the results of authentication
type AuthResult struct {
	Session   *user.UserSession
	IsNewUser bool
}

// Authenticate: reads the first message of a new connection. A known token
// resumes its session; a missing or expired one starts a new user.
func (a *Authenticator) Authenticate(conn *websocket.Conn, timeout time.Duration) (*AuthResult, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to receive auth message: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	var authMsg struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(msg, &authMsg); err != nil {
		return nil, fmt.Errorf("invalid auth message format: %w", err)
	}
	if authMsg.Type != typeAuthenticate {
		return nil, fmt.Errorf("expected authenticate message, got: %s", authMsg.Type)
	}

	if authMsg.Token != "" {
		if session, ok := a.sessionMgr.GetSessionByToken(authMsg.Token); ok {
			log.Debug().Str("user", session.UserID).Msg("returning user authenticated")
			return &AuthResult{Session: session}, nil
		}
		log.Debug().Msg("invalid or expired token, treating as new user")
	}

	session := a.sessionMgr.Create(user.GenerateUUID())
	log.Debug().Str("user", session.UserID).Msg("new user created")
	return &AuthResult{Session: session, IsNewUser: true}, nil
}

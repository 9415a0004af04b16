package user

import (
	"sync"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/middleware"

	"golang.org/x/time/rate"
)

type SessionManager struct {
	sessions      map[string]*UserSession // userID -> session
	tokenToUserID map[string]string       // token -> userID
	limits        *middleware.Limits
	ttl           time.Duration
	mu            sync.RWMutex
}

func NewSessionManager(limits *middleware.Limits, ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions:      make(map[string]*UserSession),
		tokenToUserID: make(map[string]string),
		limits:        limits,
		ttl:           ttl,
	}
}

// Create: starts a session for a new user with a fresh token
func (sm *SessionManager) Create(userID string) *UserSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if old, exists := sm.sessions[userID]; exists {
		delete(sm.tokenToUserID, old.SessionToken)
	}

	session := &UserSession{
		UserID:         userID,
		SessionToken:   GenerateSessionToken(),
		LastSeen:       time.Now(),
		ElementLimiter: rate.NewLimiter(rate.Limit(sm.limits.MessagesPerSecond), sm.limits.BurstSize),
		CursorLimiter:  rate.NewLimiter(rate.Limit(sm.limits.CursorPerSecond), sm.limits.CursorBurst),
	}
	sm.sessions[userID] = session
	sm.tokenToUserID[session.SessionToken] = userID
	return session
}

// ValidateToken: validate session token and returns the associated userID
func (sm *SessionManager) ValidateToken(token string) (string, bool) {
	session, ok := sm.GetSessionByToken(token)
	if !ok {
		return "", false
	}
	return session.UserID, true
}

// GetSessionByToken: retrieve session by token, refreshing its last seen time
func (sm *SessionManager) GetSessionByToken(token string) (*UserSession, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	userID, exists := sm.tokenToUserID[token]
	if !exists {
		return nil, false
	}

	session, sessionExists := sm.sessions[userID]
	if !sessionExists {
		delete(sm.tokenToUserID, token)
		return nil, false
	}

	session.LastSeen = time.Now()
	return session, true
}

// SetLastRoom: records the room a session joined, for resumption
func (sm *SessionManager) SetLastRoom(userID, roomCode string) (previous string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if session, exists := sm.sessions[userID]; exists {
		previous = session.LastRoom
		session.LastRoom = roomCode
		session.LastSeen = time.Now()
	}
	return previous
}

// Touch: update last seen time for a user session
func (sm *SessionManager) Touch(userID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if session, exists := sm.sessions[userID]; exists {
		session.LastSeen = time.Now()
	}
}

// LastSeen: gets the last seen time for a user session
func (sm *SessionManager) LastSeen(userID string) (time.Time, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if session, exists := sm.sessions[userID]; exists {
		return session.LastSeen, true
	}
	return time.Time{}, false
}

// LastCursor: gets the last cursor update time for a user session
func (sm *SessionManager) LastCursor(userID string) (time.Time, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if session, exists := sm.sessions[userID]; exists {
		return session.LastCursorUpdate, true
	}
	return time.Time{}, false
}

// UpdateLastCursor: updates the last cursor update time for a user session
func (sm *SessionManager) UpdateLastCursor(userID string, lastCursorUpdate time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if session, exists := sm.sessions[userID]; exists {
		session.LastCursorUpdate = lastCursorUpdate
	}
}

// Remove: removes a user session and its token
func (sm *SessionManager) Remove(userID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if session, exists := sm.sessions[userID]; exists {
		delete(sm.tokenToUserID, session.SessionToken)
	}
	delete(sm.sessions, userID)
}

// Len: number of live sessions
func (sm *SessionManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Cleanup: removes sessions not seen within the ttl
func (sm *SessionManager) Cleanup() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for userID, session := range sm.sessions {
		if now.Sub(session.LastSeen) > sm.ttl {
			delete(sm.tokenToUserID, session.SessionToken)
			delete(sm.sessions, userID)
		}
	}
}

package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/element"
	"github.com/mattfrayser/whiteboard-sync/internal/room"
	"github.com/mattfrayser/whiteboard-sync/internal/user"
)

// cursorInterval caps cursor relays at ~30fps per user
const cursorInterval = 33 * time.Millisecond

// CursorHandler handles cursor position update messages
type CursorHandler struct {
	sessionMgr  SessionProvider
	validator   *element.Validator
	broadcaster Broadcaster
}

// NewCursorHandler creates a new cursor handler with dependencies
func NewCursorHandler(sessionMgr SessionProvider, validator *element.Validator, broadcaster Broadcaster) *CursorHandler {
	return &CursorHandler{
		sessionMgr:  sessionMgr,
		validator:   validator,
		broadcaster: broadcaster,
	}
}

// Handle processes cursor messages with server-side throttling
func (h *CursorHandler) Handle(rm *room.Room, u *user.User, raw []byte) error {
	now := time.Now()
	lastCursorTime, exists := h.sessionMgr.LastCursor(u.ID)
	if !exists {
		return fmt.Errorf("session not found")
	}

	if !lastCursorTime.IsZero() && now.Sub(lastCursorTime) < cursorInterval {
		return nil // Ignore to throttle
	}
	if !u.Session.CursorLimiter.Allow() {
		return nil
	}

	var msg CursorMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode cursor message: %w", err)
	}
	if err := h.validator.ValidateStruct(&msg); err != nil {
		return fmt.Errorf("cursor: %w", err)
	}
	if err := h.validator.CheckText("tool", msg.Tool); err != nil {
		return fmt.Errorf("cursor: %w", err)
	}

	h.sessionMgr.UpdateLastCursor(u.ID, now)

	rm.UpdatePointer(u.ID, room.Pointer{X: msg.X, Y: msg.Y, Tool: msg.Tool})

	msg.Type = TypeCursor
	msg.Color = rm.GetUserColor(u.ID)
	msg.UserID = u.ID

	return h.broadcaster.BroadcastJSON(rm, msg, u.ConnID)
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattfrayser/whiteboard-sync/internal/element"
	"github.com/mattfrayser/whiteboard-sync/internal/middleware"
	"github.com/mattfrayser/whiteboard-sync/internal/room"
	"github.com/mattfrayser/whiteboard-sync/internal/user"
)

// MessageRouter routes incoming messages to appropriate handlers
type MessageRouter struct {
	elementHandler *ElementHandler
	cursorHandler  *CursorHandler
	userHandler    *UserHandler
}

func NewMessageRouter(
	validator *element.Validator,
	limits *middleware.Limits,
	sessionMgr SessionProvider,
	broadcaster Broadcaster,
	saver Saver,
) *MessageRouter {
	return &MessageRouter{
		elementHandler: NewElementHandler(validator, limits, broadcaster, saver),
		cursorHandler:  NewCursorHandler(sessionMgr, validator, broadcaster),
		userHandler:    NewUserHandler(broadcaster),
	}
}

// Route: process a message via appropriate handler
func (mr *MessageRouter) Route(ctx context.Context, rm *room.Room, u *user.User, msg []byte) error {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return fmt.Errorf("unmarshal base message: %w", err)
	}
	if env.Type == "" {
		return fmt.Errorf("missing message type")
	}

	switch env.Type {
	case TypeGetUserID:
		return mr.userHandler.HandleGetUserID(u)
	case TypeElements:
		return mr.elementHandler.HandleChanges(rm, u, msg)
	case TypeScene:
		return mr.elementHandler.HandleScene(rm, u, msg)
	case TypeAppState:
		return mr.elementHandler.HandleAppState(rm, u, msg)
	case TypeSave:
		return mr.elementHandler.HandleSave(ctx, rm, u)
	case TypeCursor:
		return mr.cursorHandler.Handle(rm, u, msg)
	default:
		return fmt.Errorf("unknown message type: %s", env.Type)
	}
}

// Presence: broadcasts the room's collaborator list after a join or leave
func (mr *MessageRouter) Presence(rm *room.Room) error {
	return mr.userHandler.BroadcastCollaborators(rm)
}

// ReplyError: surfaces a handler error to the connection that caused it
func ReplyError(u *user.User, err error) error {
	return u.WriteJSON(ErrorMessage{Type: TypeError, Message: err.Error()})
}

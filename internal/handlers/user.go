package handlers

import (
	"github.com/mattfrayser/whiteboard-sync/internal/room"
	"github.com/mattfrayser/whiteboard-sync/internal/user"
)

type UserHandler struct {
	broadcaster Broadcaster
}

func NewUserHandler(broadcaster Broadcaster) *UserHandler {
	return &UserHandler{broadcaster: broadcaster}
}

// HandleGetUserID: processes getUserId messages and returns the user ID
func (h *UserHandler) HandleGetUserID(u *user.User) error {
	return u.WriteJSON(map[string]interface{}{
		"type":   TypeUserID,
		"userId": u.ID,
	})
}

// BroadcastCollaborators: tells every connection in the room who is present
func (h *UserHandler) BroadcastCollaborators(rm *room.Room) error {
	return h.broadcaster.BroadcastJSON(rm, CollaboratorsMessage{
		Type:          TypeCollaborators,
		Collaborators: rm.Collaborators(),
	}, "")
}

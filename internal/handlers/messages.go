package handlers

import (
	"errors"

	"github.com/mattfrayser/whiteboard-sync/internal/element"
	"github.com/mattfrayser/whiteboard-sync/internal/room"
	"github.com/mattfrayser/whiteboard-sync/internal/store"
)

// Message types
const (
	TypeGetUserID     = "getUserId"
	TypeUserID        = "userId"
	TypeElements      = "elements"
	TypeScene         = "scene"
	TypeAppState      = "appState"
	TypeCursor        = "cursor"
	TypeSave          = "save"
	TypeSaved         = "saved"
	TypeCollaborators = "collaborators"
	TypeError         = "error"
)

var (
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrRoomAtCapacity = errors.New("room at maximum element capacity")
)

type envelope struct {
	Type string `json:"type"`
}

// ElementsMessage carries a batch of element changes in either direction
type ElementsMessage struct {
	Type    string           `json:"type"`
	UserID  string           `json:"userId,omitempty"`
	Changes []element.Change `json:"changes"`
}

// SceneMessage carries a client's whole element list for reconciliation
type SceneMessage struct {
	Type     string            `json:"type"`
	Elements []element.Element `json:"elements"`
}

type AppStateMessage struct {
	Type     string         `json:"type"`
	UserID   string         `json:"userId,omitempty"`
	AppState store.AppState `json:"appState"`
}

type CursorMessage struct {
	Type   string  `json:"type"`
	UserID string  `json:"userId,omitempty"`
	Color  string  `json:"color,omitempty"`
	X      float64 `json:"x" validate:"min=-1000000,max=1000000"`
	Y      float64 `json:"y" validate:"min=-1000000,max=1000000"`
	Tool   string  `json:"tool,omitempty" validate:"omitempty,max=32"`
}

type CollaboratorsMessage struct {
	Type          string              `json:"type"`
	Collaborators []room.Collaborator `json:"collaborators"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

package room

import (
	"fmt"

	"github.com/mattfrayser/whiteboard-sync/internal/element"
	"github.com/mattfrayser/whiteboard-sync/internal/store"
	"github.com/mattfrayser/whiteboard-sync/internal/user"
)

// SyncMessage carries the full board to a joining connection
type SyncMessage struct {
	Type     string                `json:"type"`
	Title    string                `json:"title"`
	Elements []element.Element     `json:"elements"`
	AppState store.AppState        `json:"appState"`
	Files    map[string]store.File `json:"files"`
}

// Synchronizer: handles synchronizing room state to new connections
type Synchronizer struct{}

// NewSynchronizer: creates new synchronizer
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{}
}

// SyncNewUser sends the current board state, tombstones included, to a
// newly joined connection
func (s *Synchronizer) SyncNewUser(rm *Room, u *user.User) error {
	snap := rm.Snapshot()

	msg := SyncMessage{
		Type:     "sync",
		Title:    snap.Title,
		Elements: snap.Elements,
		AppState: snap.AppState,
		Files:    snap.Files,
	}

	if err := u.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send sync message: %w", err)
	}
	return nil
}

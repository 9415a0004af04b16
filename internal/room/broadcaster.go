package room

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mattfrayser/whiteboard-sync/internal/user"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// RoomConnections: minimum interface for broadcasting
type RoomConnections interface {
	GetConnections() map[string]*user.User
	RemoveConnection(connID string)
}

// Broadcaster: handles broadcasting messages to room connections
type Broadcaster struct{}

// NewBroadcaster: creates a new broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Broadcast: sends a message to every connection in a room except the
// sender's. An empty senderConnID reaches everyone.
func (b *Broadcaster) Broadcast(rm RoomConnections, msg []byte, senderConnID string) {
	connections := rm.GetConnections()

	users := make([]*user.User, 0, len(connections))
	for connID, u := range connections {
		if connID != senderConnID {
			users = append(users, u)
		}
	}

	// Concurrent write to all users
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failedUsers []*user.User

	for _, u := range users {
		wg.Add(1)
		go func(usr *user.User) {
			defer wg.Done()

			if err := usr.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Warn().Err(err).Str("user", usr.ID).Str("conn", usr.ConnID).Msg("broadcast failed")
				mu.Lock()
				failedUsers = append(failedUsers, usr)
				mu.Unlock()
			}
		}(u)
	}

	wg.Wait()

	// Clean up failed connections
	for _, u := range failedUsers {
		rm.RemoveConnection(u.ConnID)
		u.Connection.Close()
	}
}

// BroadcastJSON: marshals v and broadcasts it
func (b *Broadcaster) BroadcastJSON(rm RoomConnections, v interface{}, senderConnID string) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal broadcast message: %w", err)
	}
	b.Broadcast(rm, msg, senderConnID)
	return nil
}

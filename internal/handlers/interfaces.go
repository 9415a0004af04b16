package handlers

import (
	"context"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/room"
)

// Broadcaster defines the broadcast operations for sending messages to room connections
type Broadcaster interface {
	Broadcast(rm room.RoomConnections, msg []byte, senderConnID string)
	BroadcastJSON(rm room.RoomConnections, v interface{}, senderConnID string) error
}

// SessionProvider defines the cursor bookkeeping handlers need from sessions
type SessionProvider interface {
	LastCursor(userID string) (time.Time, bool)
	UpdateLastCursor(userID string, t time.Time)
}

// Saver schedules and forces board saves
type Saver interface {
	Schedule(roomCode string)
	SaveNow(ctx context.Context, roomCode string) error
}

package store

import (
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/element"
)

// DefaultTitle is used for boards saved before they were named
const DefaultTitle = "Untitled"

// AppState is the subset of editor state shared by everyone on a board
type AppState struct {
	ViewBackgroundColor string `json:"viewBackgroundColor,omitempty" validate:"omitempty,max=50"`
	GridSize            *int   `json:"gridSize,omitempty" validate:"omitempty,min=1,max=1000"`
}

// File is the metadata of an image referenced by image elements
type File struct {
	ID       string `json:"id"`
	MimeType string `json:"mimeType"`
	Created  int64  `json:"created"`
}

// Snapshot is the persisted state of one board
type Snapshot struct {
	BoardID   string            `json:"boardId"`
	Title     string            `json:"title"`
	Elements  []element.Element `json:"elements"`
	AppState  AppState          `json:"appState"`
	Files     map[string]File   `json:"files,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Blob is an uploaded binary file
type Blob struct {
	BoardID   string
	FileID    string
	MimeType  string
	Data      []byte
	CreatedAt time.Time
}

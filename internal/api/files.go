package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/store"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// imageTypes are the uploads image elements may reference. SVG is left out
// since it can carry script.
var imageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp", "image/bmp"}

const maxFileNameLength = 100

// fileName reduces an upload's name to a safe stem
func fileName(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	stem = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ' || r == '.':
			return '_'
		default:
			return -1
		}
	}, stem)
	if len(stem) > maxFileNameLength {
		stem = stem[:maxFileNameLength]
	}
	if stem == "" {
		stem = "image"
	}
	return stem
}

func isImage(mt *mimetype.MIME) bool {
	for _, t := range imageTypes {
		if mt.Is(t) {
			return true
		}
	}
	return false
}

// uploadFile: stores an image under <millis>-<name><ext> and registers it
// on the board, opening the room if nobody is on it
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["id"]

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1024*1024)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if int64(len(data)) > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	mt := mimetype.Detect(data)
	if !isImage(mt) {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported file type: %s", mt.String()))
		return
	}

	now := time.Now()
	meta := store.File{
		ID:       fmt.Sprintf("%d-%s%s", now.UnixMilli(), fileName(header.Filename), mt.Extension()),
		MimeType: mt.String(),
		Created:  now.UnixMilli(),
	}
	blob := store.Blob{
		BoardID:   boardID,
		FileID:    meta.ID,
		MimeType:  meta.MimeType,
		Data:      data,
		CreatedAt: now.UTC(),
	}
	if err := s.store.SaveFile(r.Context(), blob); err != nil {
		log.Error().Err(err).Str("board", boardID).Str("file", meta.ID).Msg("failed to save file")
		writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}

	if err := s.rooms.AddFile(r.Context(), boardID, meta); err != nil {
		log.Error().Err(err).Str("board", boardID).Msg("failed to open board")
		writeError(w, http.StatusServiceUnavailable, "failed to open board")
		return
	}
	s.saver.Schedule(boardID)
	log.Info().Str("board", boardID).Str("file", meta.ID).Int("bytes", len(data)).Msg("file uploaded")
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	blob, err := s.store.LoadFile(r.Context(), vars["id"], vars["fileId"])
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("board", vars["id"]).Str("file", vars["fileId"]).Msg("failed to load file")
		writeError(w, http.StatusInternalServerError, "failed to load file")
		return
	}

	w.Header().Set("Content-Type", blob.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(blob.Data); err != nil {
		log.Warn().Err(err).Msg("failed to write file")
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mattfrayser/whiteboard-sync/internal/store"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// TypeTitle is broadcast to a live room when its board is renamed
const TypeTitle = "title"

type titleRequest struct {
	Title string `json:"title" validate:"max=200"`
}

type titleMessage struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

// getBoard: the live room when one is open, the stored snapshot otherwise
func (s *Server) getBoard(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["id"]

	if rm, ok := s.rooms.GetRoom(boardID); ok {
		writeJSON(w, http.StatusOK, rm.Snapshot())
		return
	}

	snap, err := s.store.Load(r.Context(), boardID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "board not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("board", boardID).Msg("failed to load board")
		writeError(w, http.StatusInternalServerError, "failed to load board")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) currentTitle(ctx context.Context, boardID string) (string, error) {
	if rm, ok := s.rooms.GetRoom(boardID); ok {
		return rm.Title(), nil
	}
	snap, err := s.store.Load(ctx, boardID)
	if errors.Is(err, store.ErrNotFound) {
		return store.DefaultTitle, nil
	}
	if err != nil {
		return "", err
	}
	return snap.Title, nil
}

// putTitle: renames a board. Titles with markup are refused; blank or
// unchanged titles are ignored and the current title is returned.
func (s *Server) putTitle(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["id"]

	var req titleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	title := strings.TrimSpace(req.Title)
	req.Title = title
	if err := s.validator.ValidateStruct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validator.CheckText("title", title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	current, err := s.currentTitle(r.Context(), boardID)
	if err != nil {
		log.Error().Err(err).Str("board", boardID).Msg("failed to load board")
		writeError(w, http.StatusInternalServerError, "failed to load board")
		return
	}
	if title == "" || title == current {
		writeJSON(w, http.StatusOK, titleMessage{Type: TypeTitle, Title: current})
		return
	}

	if err := s.store.SetTitle(r.Context(), boardID, title); err != nil {
		log.Error().Err(err).Str("board", boardID).Msg("failed to save title")
		writeError(w, http.StatusInternalServerError, "failed to save title")
		return
	}

	msg := titleMessage{Type: TypeTitle, Title: title}
	if rm, ok := s.rooms.GetRoom(boardID); ok {
		rm.SetTitle(title)
		if err := s.broadcaster.BroadcastJSON(rm, msg, ""); err != nil {
			log.Error().Err(err).Str("board", boardID).Msg("title broadcast failed")
		}
	}
	log.Info().Str("board", boardID).Str("title", title).Msg("board renamed")
	writeJSON(w, http.StatusOK, msg)
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mattfrayser/whiteboard-sync/internal/element"
	"github.com/mattfrayser/whiteboard-sync/internal/handlers"
	"github.com/mattfrayser/whiteboard-sync/internal/room"
	"github.com/mattfrayser/whiteboard-sync/internal/store"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Server serves the board REST endpoints
type Server struct {
	store       store.Store
	rooms       *room.Manager
	validator   *element.Validator
	broadcaster handlers.Broadcaster
	saver       handlers.Saver
	maxUpload   int64
}

func NewServer(
	st store.Store,
	rooms *room.Manager,
	validator *element.Validator,
	broadcaster handlers.Broadcaster,
	saver handlers.Saver,
	maxUpload int64,
) *Server {
	return &Server{
		store:       st,
		rooms:       rooms,
		validator:   validator,
		broadcaster: broadcaster,
		saver:       saver,
		maxUpload:   maxUpload,
	}
}

// Routes mounts the REST endpoints and the websocket handler
func (s *Server) Routes(ws http.Handler) http.Handler {
	r := mux.NewRouter()
	r.Use(accessLog)

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.health)
	r.Methods(http.MethodGet).Path("/boards/{id}").HandlerFunc(s.getBoard)
	r.Methods(http.MethodPut).Path("/boards/{id}/title").HandlerFunc(s.putTitle)
	r.Methods(http.MethodPost).Path("/boards/{id}/files").HandlerFunc(s.uploadFile)
	r.Methods(http.MethodGet).Path("/boards/{id}/files/{fileId}").HandlerFunc(s.getFile)
	r.Handle("/ws", ws)

	return r
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		log.Info().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Dur("duration", m.Duration).
			Int("status", m.Code).
			Int64("bytes", m.Written).
			Msg("handled")
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"rooms":  s.rooms.RoomCount(),
		"time":   time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tourney/go/internal/models"
)

// WebSocketHandler handles WebSocket upgrade requests for tournament streams
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleTournamentConnection streams the collection, or one record when the id
// query parameter is set.
func (h *WebSocketHandler) HandleTournamentConnection(w http.ResponseWriter, r *http.Request) {
	topic := CollectionTopic
	if r.URL.Query().Has("id") {
		id := models.TournamentID(r.URL.Query().Get("id"))
		if id.IsZero() {
			http.Error(w, "id must not be empty", http.StatusBadRequest)
			return
		}
		topic = RecordTopic(id)
	}

	// The upgrader has already written an error response on failure.
	if err := h.connectionManager.UpgradeConnection(w, r, topic); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes on r
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/tournaments", h.HandleTournamentConnection)
	r.Get("/ws/stats", h.HandleConnectionStats)
}

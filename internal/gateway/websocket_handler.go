package gateway

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles websocket upgrade requests.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a handler backed by the connection manager.
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm}
}

// HandleGroupConnection subscribes a client to one group's ledger changes.
func (h *WebSocketHandler) HandleGroupConnection(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("group_id")
	if groupID == "" {
		http.Error(w, "group_id is required", http.StatusBadRequest)
		return
	}
	h.upgrade(w, r, GroupTopic(groupID))
}

// HandleUserConnection subscribes a client to one user's inventory and
// effects changes.
func (h *WebSocketHandler) HandleUserConnection(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("user_id")
	if uid == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	h.upgrade(w, r, UserTopic(uid))
}

func (h *WebSocketHandler) upgrade(w http.ResponseWriter, r *http.Request, topic Topic) {
	// In production the user id would come from the session token.
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous"
	}

	if err := h.connectionManager.UpgradeConnection(w, r, userID, topic); err != nil {
		log.Error().
			Err(err).
			Str("topic", string(topic)).
			Str("user_id", userID).
			Msg("failed to upgrade websocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// HandleConnectionStats reports active connection counts.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, byTopic := h.connectionManager.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"total_connections":%d,"active_topics":%d}`, total, len(byTopic))
}

// RegisterRoutes registers the websocket routes on the mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/group", h.HandleGroupConnection)
	mux.HandleFunc("/ws/user", h.HandleUserConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

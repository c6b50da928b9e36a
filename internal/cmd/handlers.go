package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/studycircle/studycircle/internal/catalog"
	"github.com/studycircle/studycircle/internal/group"
	"github.com/studycircle/studycircle/internal/level"
	"github.com/studycircle/studycircle/internal/session"
	"github.com/studycircle/studycircle/internal/shop"
	"github.com/studycircle/studycircle/internal/storage"
)

func registerHandlers(mux *http.ServeMux, s *Services) {
	mux.HandleFunc("POST /api/groups", s.handleCreateGroup)
	mux.HandleFunc("GET /api/groups/{id}", s.handleGetGroup)
	mux.HandleFunc("POST /api/groups/{id}/join", s.handleJoinGroup)
	mux.HandleFunc("POST /api/groups/{id}/remove", s.handleRemoveMember)
	mux.HandleFunc("POST /api/groups/{id}/ban", s.handleToggleBan)
	mux.HandleFunc("GET /api/groups/{id}/leaderboard", s.handleLeaderboard)

	mux.HandleFunc("POST /api/sessions/start", s.handleStartSession)
	mux.HandleFunc("POST /api/sessions/stop", s.handleStopSession)
	mux.HandleFunc("POST /api/sessions/hidden", s.handleSessionHidden)

	mux.HandleFunc("GET /api/users/{uid}", s.handleGetUser)
	mux.HandleFunc("GET /api/users/{uid}/sessions", s.handleRecentSessions)
	mux.HandleFunc("GET /api/users/{uid}/stats", s.handlePairStats)

	mux.HandleFunc("GET /api/shop/items", s.handleShopItems)
	mux.HandleFunc("POST /api/shop/purchase", s.handlePurchase)
	mux.HandleFunc("POST /api/shop/activate", s.handleActivate)
	mux.HandleFunc("POST /api/shop/deactivate", s.handleDeactivate)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps business errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, group.ErrGroupNotFound), errors.Is(err, storage.ErrNotFound),
		errors.Is(err, shop.ErrUnknownItem):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, group.ErrUnauthorized), errors.Is(err, group.ErrMemberBanned):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, group.ErrNotMember):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, shop.ErrInsufficientFunds), errors.Is(err, shop.ErrItemNotOwned),
		errors.Is(err, session.ErrAlreadyRunning), errors.Is(err, session.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Services) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Creator string `json:"creator"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.Creator == "" {
		writeError(w, http.StatusBadRequest, "name and creator are required")
		return
	}

	g, err := s.Groups.CreateGroup(r.Context(), req.Name, req.Creator)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Services) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.Groups.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Services) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Groups.JoinGroup(r.Context(), r.PathValue("id"), req.UserID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

func (s *Services) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor    string `json:"actor"`
		MemberID string `json:"member_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Groups.RemoveMember(r.Context(), r.PathValue("id"), req.Actor, req.MemberID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Services) handleToggleBan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor    string `json:"actor"`
		MemberID string `json:"member_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	action, err := s.Groups.ToggleBan(r.Context(), r.PathValue("id"), req.Actor, req.MemberID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"action": string(action)})
}

func (s *Services) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Leaderboard.Top(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Services) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"user_id"`
		GroupID string `json:"group_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	// Membership is checked up front so flushes never target a group the
	// user does not belong to.
	g, err := s.Groups.GetGroup(r.Context(), req.GroupID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !g.HasMember(req.UserID) {
		writeServiceError(w, group.ErrNotMember)
		return
	}
	if _, err := s.Store.EnsureUser(r.Context(), req.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	if _, err := s.Sessions.StartSession(r.Context(), req.UserID, req.GroupID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Services) handleStopSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"user_id"`
		GroupID string `json:"group_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	elapsed, err := s.Sessions.StopSession(r.Context(), req.UserID, req.GroupID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"elapsed_seconds": int(elapsed.Seconds())})
}

func (s *Services) handleSessionHidden(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"user_id"`
		GroupID string `json:"group_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	t, ok := s.Sessions.Tracker(req.UserID, req.GroupID)
	if !ok {
		writeServiceError(w, session.ErrNotRunning)
		return
	}
	t.NotifyHidden(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "flush triggered"})
}

func (s *Services) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.Store.EnsureUser(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	progress := level.Calculate(user.Points)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"progress": progress,
		"badge":    level.Badge(progress.Level),
	})
}

func (s *Services) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	recs, err := s.Store.RecentSessions(r.Context(), r.PathValue("uid"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Services) handlePairStats(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("group_id")
	if groupID == "" {
		writeError(w, http.StatusBadRequest, "group_id is required")
		return
	}
	stats, err := s.Store.PairStats(r.Context(), r.PathValue("uid"), groupID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Services) handleShopItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalog.Items())
}

func (s *Services) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		ItemID string `json:"item_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Shop.Purchase(r.Context(), req.UserID, req.ItemID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purchased"})
}

func (s *Services) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		ItemID string `json:"item_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	eff, err := s.Shop.Activate(r.Context(), req.UserID, req.ItemID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Mirror the persisted activation into the live multiplier state.
	s.Effects.ForUser(req.UserID).Activate(eff)
	writeJSON(w, http.StatusOK, eff)
}

func (s *Services) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		ItemID string `json:"item_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Shop.Deactivate(r.Context(), req.UserID, req.ItemID); err != nil {
		writeServiceError(w, err)
		return
	}
	s.Effects.ForUser(req.UserID).Remove(req.ItemID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

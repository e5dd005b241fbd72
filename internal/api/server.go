// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/stevebot/internal/session"
	"github.com/user/stevebot/internal/types"
)

// Skipper skips the current item of a guild's music session.
type Skipper interface {
	Skip(ctx context.Context, guildID string) error
}

// Server is a small read-mostly HTTP API over the live sessions.
type Server struct {
	store   *session.Store
	skipper Skipper
	lanes   func() int
	mux     *http.ServeMux
}

// NewServer creates a Server. skipper and lanes may be nil.
func NewServer(store *session.Store, skipper Skipper, lanes func() int) *Server {
	s := &Server{
		store:   store,
		skipper: skipper,
		lanes:   lanes,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{key}", s.handleSession)
	s.mux.HandleFunc("POST /api/sessions/{key}/skip", s.handleSkip)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.lanes != nil {
		resp["lanes"] = s.lanes()
	}
	writeJSON(w, http.StatusOK, resp)
}

// SessionSummary is one row of GET /api/sessions.
type SessionSummary struct {
	Key          string `json:"key"`
	Feature      string `json:"feature"`
	ChannelID    string `json:"channel_id,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
	Active       bool   `json:"active"`
	Paused       bool   `json:"paused,omitempty"`
	Current      string `json:"current,omitempty"`
	Queued       int    `json:"queued"`
	Tracked      int    `json:"tracked,omitempty"`
	Giveaway     string `json:"giveaway,omitempty"`
	Score        string `json:"score,omitempty"`
	LastActivity string `json:"last_activity,omitempty"`
}

func summarize(sess *session.Session) SessionSummary {
	sum := SessionSummary{
		Key:       string(sess.Key),
		Feature:   string(sess.Key.Feature()),
		ChannelID: sess.ChannelID,
		Active:    sess.Active,
		Paused:    sess.Paused,
		Queued:    len(sess.Queue),
		Tracked:   len(sess.Tracked),
	}
	if sess.Display != nil {
		sum.MessageID = sess.Display.MessageID
	}
	if sess.Current != nil {
		sum.Current = sess.Current.Title
	}
	if g := sess.Giveaway; g != nil {
		sum.Giveaway = g.Prize
	}
	if b := sess.Scoreboard; b != nil {
		sum.Score = fmt.Sprintf("%d:%d", b.Attack, b.Defend)
	}
	if !sess.LastActivity.IsZero() {
		sum.LastActivity = sess.LastActivity.UTC().Format(time.RFC3339)
	}
	return sum
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	feature := types.Feature(r.URL.Query().Get("feature"))
	keys := s.store.Keys(feature)
	result := make([]SessionSummary, 0, len(keys))
	for _, key := range keys {
		result = append(result, summarize(s.store.View(key)))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	key := types.SessionKey(r.PathValue("key"))
	if !s.exists(key) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, s.store.View(key).Snapshot())
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if s.skipper == nil {
		writeError(w, http.StatusServiceUnavailable, "music not configured")
		return
	}
	key := types.SessionKey(r.PathValue("key"))
	if key.Feature() != types.FeatureMusic {
		writeError(w, http.StatusBadRequest, "not a music session")
		return
	}
	err := s.skipper.Skip(r.Context(), key.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summarize(s.store.View(key)))
	case errors.Is(err, types.ErrNoActiveSession):
		writeError(w, http.StatusConflict, "nothing is playing")
	default:
		slog.Error("api skip failed", "session", string(key), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) exists(key types.SessionKey) bool {
	for _, k := range s.store.Keys(key.Feature()) {
		if k == key {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

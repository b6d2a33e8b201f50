// Package server exposes the read-only presentation API: session listing,
// session snapshots, the paper log, and a websocket that pushes snapshot
// changes instead of making clients poll.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ZiangHu97/paper-sailor/core"
	"github.com/ZiangHu97/paper-sailor/planner"
)

// Server serves session state over HTTP. It only ever reads; the planner
// loop remains the sole writer.
type Server struct {
	sessions *planner.Store
	papers   *planner.PaperLog
	upgrader websocket.Upgrader

	// WatchInterval is how often the watch endpoint polls the store.
	WatchInterval time.Duration
}

// New creates a server over the given stores.
func New(sessions *planner.Store, papers *planner.PaperLog) *Server {
	return &Server{
		sessions: sessions,
		papers:   papers,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		WatchInterval: 500 * time.Millisecond,
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /api/sessions/{id}/watch", s.handleWatchSession)
	mux.HandleFunc("GET /api/papers", s.handleListPapers)
	return withCORS(mux)
}

// ListenAndServe blocks serving the API on addr.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("[SERVER] listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.sessions.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListPapers(w http.ResponseWriter, r *http.Request) {
	papers, err := s.papers.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if papers == nil {
		papers = []core.Paper{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"papers": papers})
}

// handleWatchSession upgrades to a websocket and pushes the session snapshot
// whenever its status or round count changes, until the client goes away or
// the session reaches a terminal state.
func (s *Server) handleWatchSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok, err := s.sessions.Get(id); err != nil || !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] watch upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var lastStatus planner.Status
	lastRounds := -1
	ticker := time.NewTicker(s.WatchInterval)
	defer ticker.Stop()

	for {
		sess, ok, err := s.sessions.Get(id)
		if err != nil || !ok {
			return
		}
		if sess.Status != lastStatus || sess.RoundsCompleted != lastRounds {
			lastStatus = sess.Status
			lastRounds = sess.RoundsCompleted
			if err := conn.WriteJSON(sess); err != nil {
				return
			}
			if sess.Status.Terminal() {
				return
			}
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[SERVER] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package httpapi exposes a small read-only status API over the latest
// run: current result tables and run summaries. It is a monitoring
// surface for the resident serve mode, not a dashboard.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ahobbs/domainwatch/internal/aggregate"
	"github.com/ahobbs/domainwatch/internal/httpapi/middleware"
	"github.com/ahobbs/domainwatch/internal/probe"
	"github.com/ahobbs/domainwatch/internal/scheduler"
	"github.com/ahobbs/domainwatch/internal/sink"
)

type snapshot struct {
	table   aggregate.Table
	summary scheduler.Summary
}

type Server struct {
	Logger *zap.Logger

	mu     sync.RWMutex
	byKind map[probe.Kind]snapshot
}

func NewServer(logger *zap.Logger) *Server {
	return &Server{
		Logger: logger,
		byKind: make(map[probe.Kind]snapshot),
	}
}

// Record implements scheduler.StatusRecorder; the runner calls it after
// every completed pass.
func (s *Server) Record(kind probe.Kind, table aggregate.Table, sum scheduler.Summary) {
	s.mu.Lock()
	s.byKind[kind] = snapshot{table: table, summary: sum}
	s.mu.Unlock()
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)
	r.Use(middleware.RateLimit(120, 60))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/api/results", s.handleResults)
	r.Get("/api/summary", s.handleSummary)

	return r
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(r)
	if !ok {
		http.Error(w, "kind must be dns or tls", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	snap, have := s.byKind[kind]
	s.mu.RUnlock()
	if !have {
		http.Error(w, "no completed run yet", http.StatusNotFound)
		return
	}

	data, err := sink.MarshalTable(kind, snap.table)
	if err != nil {
		s.Logger.Warn("results_marshal_error", zap.Error(err))
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(r)
	if !ok {
		http.Error(w, "kind must be dns or tls", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	snap, have := s.byKind[kind]
	s.mu.RUnlock()
	if !have {
		http.Error(w, "no completed run yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap.summary)
}

func kindParam(r *http.Request) (probe.Kind, bool) {
	switch r.URL.Query().Get("kind") {
	case "dns", "":
		return probe.KindDNS, true
	case "tls":
		return probe.KindTLS, true
	}
	return "", false
}

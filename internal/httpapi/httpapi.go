// Package httpapi is the operator-facing HTTP surface: liveness,
// the current metrics snapshot, and a point-in-time book dump.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"microbook/internal/book"
	"microbook/internal/metrics"
)

// BookView is the subset of *book.Reconciler the /book endpoint reads.
type BookView interface {
	Bids() book.Levels
	Asks() book.Levels
	State() book.State
}

// MetricsView is the subset of *metrics.Cache the /metrics/snapshot
// endpoint reads.
type MetricsView interface {
	Latest() *metrics.Snapshot
}

// Resetter clears the liquidity tracker's bucket state and level
// snapshots on operator request. Nil disables the /reset/liquidity
// route.
type Resetter interface {
	Reset()
}

// Server is a minimal *http.ServeMux-based surface over a running
// pipeline's book and metrics cache.
type Server struct {
	mux      *http.ServeMux
	book     BookView
	metrics  MetricsView
	resetter Resetter
	started  time.Time
}

// New constructs a Server reading from bookView and metricsView.
// resetter may be nil.
func New(bookView BookView, metricsView MetricsView, resetter Resetter) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		book:     bookView,
		metrics:  metricsView,
		resetter: resetter,
		started:  time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", http.HandlerFunc(s.handleHealth))
	s.mux.Handle("/metrics/snapshot", http.HandlerFunc(s.handleMetricsSnapshot))
	s.mux.Handle("/book", http.HandlerFunc(s.handleBook))
	s.mux.Handle("/reset/liquidity", http.HandlerFunc(s.handleResetLiquidity))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"state":      s.book.State().String(),
		"uptime_sec": time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.metrics.Latest())
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	depth := parseDepth(r, 20)
	bids := s.book.Bids()
	asks := s.book.Asks()
	if depth < len(bids) {
		bids = bids[:depth]
	}
	if depth < len(asks) {
		asks = asks[:depth]
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"state": s.book.State().String(),
		"bids":  bids,
		"asks":  asks,
	})
}

func (s *Server) handleResetLiquidity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.resetter == nil {
		http.Error(w, "reset not available", http.StatusNotFound)
		return
	}
	s.resetter.Reset()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"reset": true})
}

func parseDepth(r *http.Request, def int) int {
	if raw := r.URL.Query().Get("depth"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}

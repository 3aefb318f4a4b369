// Package httpapi exposes wallet dashboards and the leaderboard over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/liamashdown/walletpnl/internal/metrics"
	"github.com/liamashdown/walletpnl/internal/model"
	"github.com/liamashdown/walletpnl/internal/processor"
	"github.com/liamashdown/walletpnl/internal/storage"
	"github.com/sirupsen/logrus"
)

// Service is the part of the processor served over HTTP
type Service interface {
	BuildDashboard(ctx context.Context, rawWallet string, recentTrades int) (*model.Dashboard, error)
	Stats(ctx context.Context, rawWallet string) (*model.PortfolioStats, error)
	History(ctx context.Context, rawWallet string) ([]model.PnLPoint, error)
	RecentTrades(ctx context.Context, rawWallet string, limit int) ([]model.Trade, error)
	Leaderboard(ctx context.Context, limit int) ([]storage.Snapshot, error)
	TrackWallet(ctx context.Context, rawWallet string) (*storage.Snapshot, error)
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the HTTP handlers
type Server struct {
	svc   Service
	ready Pinger
	log   *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(svc Service, ready Pinger, log *logrus.Logger) *Server {
	return &Server{svc: svc, ready: ready, log: log}
}

// Router builds the chi route tree
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/wallets/{wallet}", func(r chi.Router) {
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/stats", s.handleStats)
			r.Get("/history", s.handleHistory)
			r.Get("/trades", s.handleTrades)
		})
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Post("/leaderboard/{wallet}", s.handleTrack)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.RecordHealthCheck(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ready.Ping(ctx); err != nil {
		metrics.RecordHealthCheck(false)
		s.log.WithError(err).Warn("Readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	metrics.RecordHealthCheck(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	n, ok := intQuery(w, r, "trades")
	if !ok {
		return
	}
	dash, err := s.svc.BuildDashboard(r.Context(), chi.URLParam(r, "wallet"), n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	points, err := s.svc.History(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	trades, err := s.svc.RecentTrades(r.Context(), chi.URLParam(r, "wallet"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	snaps, err := s.svc.Leaderboard(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.TrackWallet(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError maps processor failures onto status codes
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, processor.ErrInvalidSubject):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, processor.ErrComputationTimeout):
		status, msg = http.StatusGatewayTimeout, processor.ErrComputationTimeout.Error()
	case errors.Is(err, processor.ErrUpstreamUnavailable):
		status, msg = http.StatusServiceUnavailable, "upstream data unavailable"
	case errors.Is(err, context.Canceled):
		// Client went away
		return
	}

	entry := s.log.WithError(err).WithFields(logrus.Fields{
		"path":       r.URL.Path,
		"status":     status,
		"request_id": middleware.GetReqID(r.Context()),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	writeJSON(w, status, errorBody{Error: msg, RequestID: middleware.GetReqID(r.Context())})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

// intQuery reads an optional non-negative integer parameter; zero means unset
func intQuery(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid " + name})
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

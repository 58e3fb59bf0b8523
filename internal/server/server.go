// Package server provides the read-only admin HTTP API: health, metrics,
// and stored verification state. Role actions never flow through it.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/rolewarden/internal/config"
	"github.com/pendergraft/rolewarden/internal/observability/metrics"
	"github.com/pendergraft/rolewarden/internal/scheduler"
	"github.com/pendergraft/rolewarden/internal/storage"
	"github.com/pendergraft/rolewarden/internal/validation"
)

// Server is the admin HTTP server
type Server struct {
	cfg    *config.Config
	store  storage.Store
	sched  *scheduler.Scheduler
	logger *slog.Logger
	router *chi.Mux
}

// New creates a new admin server
func New(cfg *config.Config, store storage.Store, sched *scheduler.Scheduler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		sched:  sched,
		logger: logger,
		router: chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(NewLoggingMiddleware(s.logger))
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	if s.cfg.Metrics.Enabled {
		s.router.Handle("/metrics", metrics.Handler())
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/identities", s.handleListIdentities)
		r.Get("/identities/{address}/status", s.handleIdentityStatus)
		r.Get("/runs/latest", s.handleLatestRun)
		r.Get("/outcomes", s.handleOutcomes)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	links, err := s.store.ListLinks(r.Context())
	if err != nil {
		s.logger.Error("listing identities failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to list identities")
		return
	}

	type identityView struct {
		Address   string `json:"address"`
		DiscordID string `json:"discordId"`
		Attempts  int64  `json:"attempts"`
		CreatedAt string `json:"createdAt"`
	}
	views := make([]identityView, 0, len(links))
	for _, l := range links {
		views = append(views, identityView{
			Address:   l.Address,
			DiscordID: l.DiscordID,
			Attempts:  l.Attempts,
			CreatedAt: l.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"identities": views})
}

// handleIdentityStatus returns the stored verification records for an
// address. It never triggers a fresh evidence fetch.
func (s *Server) handleIdentityStatus(w http.ResponseWriter, r *http.Request) {
	address := validation.NormalizeAddress(chi.URLParam(r, "address"))
	if err := validation.ValidateAddress(address); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
		return
	}

	link, err := s.store.GetLinkByAddress(r.Context(), address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "address not linked")
			return
		}
		s.logger.Error("link lookup failed", "address", address, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "lookup failed")
		return
	}

	records, err := s.store.GetRecords(r.Context(), address)
	if err != nil {
		s.logger.Error("record lookup failed", "address", address, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "lookup failed")
		return
	}

	type recordView struct {
		TargetID         string `json:"targetId"`
		Satisfied        bool   `json:"satisfied"`
		EvidenceCount    int64  `json:"evidenceCount"`
		EvidenceDetail   string `json:"evidenceDetail,omitempty"`
		FirstSatisfiedAt string `json:"firstSatisfiedAt,omitempty"`
		LastCheckedAt    string `json:"lastCheckedAt,omitempty"`
	}
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView{
			TargetID:         rec.TargetID,
			Satisfied:        rec.Satisfied,
			EvidenceCount:    rec.EvidenceCount,
			EvidenceDetail:   rec.EvidenceDetail,
			FirstSatisfiedAt: rec.FirstSatisfiedAt,
			LastCheckedAt:    rec.LastCheckedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address":   link.Address,
		"discordId": link.DiscordID,
		"attempts":  link.Attempts,
		"records":   views,
	})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	stats := s.sched.LastRun()
	if stats == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no run completed yet")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be 1-1000")
			return
		}
		limit = parsed
	}

	entries, err := s.store.ListOutcomes(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing outcomes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to list outcomes")
		return
	}

	type outcomeView struct {
		ID        string `json:"id"`
		Address   string `json:"address"`
		TargetID  string `json:"targetId"`
		Outcome   string `json:"outcome"`
		Detail    string `json:"detail,omitempty"`
		CreatedAt string `json:"createdAt"`
	}
	views := make([]outcomeView, 0, len(entries))
	for _, e := range entries {
		views = append(views, outcomeView{
			ID:        e.ID,
			Address:   e.Address,
			TargetID:  e.TargetID,
			Outcome:   e.Outcome,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": views})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

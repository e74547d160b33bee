// Package dashboard serves stored regression runs over a small JSON API.
package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/eddiefleurent/spx_expiry_regression/internal/models"
	"github.com/eddiefleurent/spx_expiry_regression/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Server is the dashboard HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	logger    logrus.FieldLogger
	authToken string
	port      int
}

// Config holds dashboard settings.
type Config struct {
	AuthToken string
	Port      int
}

// RunView is the list entry for a stored run.
type RunView struct {
	StartedAt  time.Time `json:"started_at"`
	ID         string    `json:"id"`
	Algorithm  string    `json:"algorithm"`
	Error      string    `json:"error,omitempty"`
	NetProfit  string    `json:"net_profit,omitempty"`
	Orders     int       `json:"orders"`
	DataPoints int       `json:"data_points"`
	DurationMS int64     `json:"duration_ms"`
	Passed     bool      `json:"passed"`
}

// Statistics summarizes every stored run.
type Statistics struct {
	LastRun    *time.Time `json:"last_run,omitempty"`
	TotalRuns  int        `json:"total_runs"`
	Passed     int        `json:"passed"`
	Failed     int        `json:"failed"`
	PassRate   float64    `json:"pass_rate"`
	LastPassed bool       `json:"last_passed"`
}

// NewServer creates a dashboard over store.
func NewServer(cfg Config, store storage.Interface, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		logger:    logger.WithField("component", "dashboard"),
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/stats", s.handleGetStats)
	s.router.Get("/api/runs", s.handleGetRuns)
	s.router.Get("/api/runs/latest", s.handleGetLatestRun)
	s.router.Get("/api/runs/{id}", s.handleGetRun)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start listens until Shutdown is called. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.logger.Infof("Starting dashboard server on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}
	s.writeJSON(w, health, "health response")
}

func (s *Server) handleGetRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.storage.ListRuns()
	views := make([]RunView, 0, len(runs))
	for i := range runs {
		views = append(views, toView(&runs[i]))
	}
	s.writeJSON(w, views, "runs")
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.storage.GetRun(id)
	if errors.Is(err, storage.ErrRunNotFound) {
		s.logger.WithField("run_id", id).Warn("Run not found")
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to load run")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, run, "run")
}

func (s *Server) handleGetLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.storage.LatestRun()
	if errors.Is(err, storage.ErrRunNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to load latest run")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, run, "latest run")
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, calculateStatistics(s.storage.ListRuns()), "statistics")
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}, what string) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Errorf("Failed to encode %s", what)
	}
}

func toView(run *models.RunRecord) RunView {
	return RunView{
		ID:         run.ID,
		Algorithm:  run.Algorithm,
		StartedAt:  run.StartedAt,
		DurationMS: run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
		Passed:     run.Passed,
		Error:      run.Error,
		NetProfit:  run.Statistics["Net Profit"],
		Orders:     len(run.Orders),
		DataPoints: run.DataPoints,
	}
}

// calculateStatistics expects runs ordered most recent first.
func calculateStatistics(runs []models.RunRecord) Statistics {
	stats := Statistics{TotalRuns: len(runs)}
	for _, r := range runs {
		if r.Passed {
			stats.Passed++
		} else {
			stats.Failed++
		}
	}
	if stats.TotalRuns > 0 {
		stats.PassRate = float64(stats.Passed) / float64(stats.TotalRuns) * 100
		last := runs[0].StartedAt
		stats.LastRun = &last
		stats.LastPassed = runs[0].Passed
	}
	return stats
}

// Package web exposes the reconciliation pipeline over HTTP.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tuckkiez/consent-dashboard/internal/export"
	"github.com/tuckkiez/consent-dashboard/internal/logging"
	"github.com/tuckkiez/consent-dashboard/internal/pipeline"
	"github.com/tuckkiez/consent-dashboard/internal/snapshot"
)

// Server is the HTTP API surface.
type Server struct {
	pipeline *pipeline.Pipeline
	store    snapshot.Store
	cache    *export.Cache
	router   *mux.Router
	log      *slog.Logger
}

// NewServer wires the routes.
func NewServer(p *pipeline.Pipeline, store snapshot.Store, cache *export.Cache) *Server {
	s := &Server{
		pipeline: p,
		store:    store,
		cache:    cache,
		router:   mux.NewRouter(),
		log:      logging.Component("web"),
	}

	s.router.Use(corsMiddleware)
	s.router.Use(correlationMiddleware)

	s.router.HandleFunc("/api/consent-data/{date}", s.handleConsentData).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/manual-fetch/{date}", s.handleManualFetch).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/historical-data", s.handleHistoricalData).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/all-consent-data", s.handleAllConsentData).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/dashboard-summary", s.handleDashboardSummary).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/daily-stats", s.handleDailyStats).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/missing-dates", s.handleMissingDates).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/export-csv", s.handleExportCSV).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/cache-info", s.handleCacheInfo).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet, http.MethodHead)

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the API server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // live range fetches are slow
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// corsMiddleware mirrors the permissive policy of the dashboard frontend.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// correlationMiddleware tags each request with a correlation ID.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-Id", id)
		next.ServeHTTP(w, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
	})
}

package web

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tuckkiez/consent-dashboard/internal/snapshot"
)

// handleConsentData serves the snapshot for one date, fetching live when the
// date is today or absent from storage.
func (s *Server) handleConsentData(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]

	snap, err := s.pipeline.GetOrFetch(r.Context(), date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleManualFetch forces a live fetch for one date, bypassing storage.
func (s *Server) handleManualFetch(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]

	snap, err := s.pipeline.ForceFetch(r.Context(), date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"snapshot": snap,
	})
}

// handleHistoricalData serves a per-date sequence for a date range, with
// per-date failures skipped.
func (s *Server) handleHistoricalData(w http.ResponseWriter, r *http.Request) {
	start, end, ok := s.rangeParams(w, r)
	if !ok {
		return
	}

	snaps, err := s.pipeline.FetchRange(r.Context(), start, end)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

// handleAllConsentData dumps every stored snapshot, newest first.
func (s *Server) handleAllConsentData(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.store.All(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []snapshot.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

// handleDashboardSummary serves the cross-date aggregate.
func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.pipeline.Summarize(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

// handleDailyStats serves the chart projection.
func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	points, err := s.pipeline.DailySeries(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, points)
}

// handleMissingDates reports backfill gaps within a range.
func (s *Server) handleMissingDates(w http.ResponseWriter, r *http.Request) {
	start, end, ok := s.rangeParams(w, r)
	if !ok {
		return
	}

	missing, err := s.store.MissingDates(r.Context(), start, end)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if missing == nil {
		missing = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"start_date":    start,
		"end_date":      end,
		"missing_dates": missing,
	})
}

// handleExportCSV streams every stored snapshot as CSV.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.store.All(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="consent_snapshots.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{
		"date", "total_consents", "privacy_policy_consents", "marketing_consents",
		"marketing_consent_percentage", "f1_channel_consents", "kp_channel_consents",
		"gwl_channel_consents", "dropoff_count", "dropoff_percentage", "new_users",
	})
	for _, snap := range snaps {
		cw.Write([]string{
			snap.Date,
			strconv.Itoa(snap.TotalConsents),
			strconv.Itoa(snap.PrivacyPolicyConsents),
			strconv.Itoa(snap.MarketingConsents),
			strconv.FormatFloat(snap.MarketingConsentPercentage, 'f', 2, 64),
			strconv.Itoa(snap.F1ChannelConsents),
			strconv.Itoa(snap.KPChannelConsents),
			strconv.Itoa(snap.GWLChannelConsents),
			strconv.Itoa(snap.DropoffCount),
			strconv.FormatFloat(snap.DropoffPercentage, 'f', 2, 64),
			strconv.Itoa(snap.NewUsers),
		})
	}
	cw.Flush()
}

// handleCacheInfo lists the export file cache.
func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.cache.Inspect()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// handlePing is the liveness probe; it touches nothing in the pipeline.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rangeParams reads and validates start_date/end_date query parameters.
func (s *Server) rangeParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	q := r.URL.Query()
	start := q.Get("start_date")
	end := q.Get("end_date")

	from, err := snapshot.ParseDate(start)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid start_date"})
		return "", "", false
	}
	to, err := snapshot.ParseDate(end)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid end_date"})
		return "", "", false
	}
	if to.Before(from) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end_date before start_date"})
		return "", "", false
	}
	return start, end, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

// writeError maps pipeline errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var parseErr *time.ParseError
	switch {
	case errors.As(err, &parseErr):
		status = http.StatusBadRequest
	case errors.Is(err, snapshot.ErrNotFound):
		status = http.StatusNotFound
	}

	s.log.Error("request failed",
		"path", r.URL.Path,
		"status", status,
		"error", err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

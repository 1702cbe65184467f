// Package export drives the identity platform's asynchronous bulk-export
// protocol (create job, poll status, download compressed result) and caches
// the decompressed result per date.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tuckkiez/consent-dashboard/internal/auth"
	"github.com/tuckkiez/consent-dashboard/internal/config"
	"github.com/tuckkiez/consent-dashboard/internal/logging"
	"github.com/tuckkiez/consent-dashboard/internal/metrics"
)

var (
	// ErrProtocol is returned when the platform responds with an
	// unexpected status code or omits a field the protocol requires.
	ErrProtocol = errors.New("unexpected export platform response")

	// ErrJobTimeout is returned when a job reaches no terminal state
	// within the poll budget.
	ErrJobTimeout = errors.New("export job did not complete within the retry budget")

	// ErrJobFailed is returned when the platform reports the job failed.
	ErrJobFailed = errors.New("export job failed")
)

// Client acquires per-date profile exports.
type Client struct {
	baseURL      string
	rowLimit     int
	pollInterval time.Duration
	pollAttempts int
	fields       []string

	tokens auth.TokenSource
	cache  *Cache
	clock  Clock
	httpc  *http.Client
	log    *slog.Logger
}

// NewClient creates an export client writing into the given cache.
func NewClient(cfg config.ExportConfig, mapping config.Mapping, tokens auth.TokenSource, cache *Cache, clock Clock) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	attempts := cfg.PollAttempts
	if attempts <= 0 {
		attempts = 10
	}
	limit := cfg.RowLimit
	if limit <= 0 {
		limit = 999999
	}
	if clock == nil {
		clock = RealClock{}
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		rowLimit:     limit,
		pollInterval: interval,
		pollAttempts: attempts,
		fields:       mapping.ProfileFields,
		tokens:       tokens,
		cache:        cache,
		clock:        clock,
		httpc: &http.Client{
			Timeout: timeout,
		},
		log: logging.Component("export"),
	}
}

// Cache exposes the underlying file cache for inspection endpoints.
func (c *Client) Cache() *Cache {
	return c.cache
}

// EnsureExport returns the path of the decompressed export file for the
// date, running the full job protocol only when no cached file exists.
func (c *Client) EnsureExport(ctx context.Context, date string) (string, error) {
	if c.cache.Has(date) {
		if m := metrics.Get(); m != nil {
			m.ExportCacheHits.Inc()
		}
		c.log.Debug("export served from cache", "date", date)
		return c.cache.Path(date), nil
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("export token: %w", err)
	}

	jobID, err := c.createJob(ctx, token)
	if err != nil {
		return "", err
	}
	c.log.Info("created export job", "date", date, "job_id", jobID)
	if m := metrics.Get(); m != nil {
		m.ExportJobsCreated.Inc()
	}

	location, err := c.waitForJob(ctx, token, jobID)
	if err != nil {
		return "", err
	}

	path, err := c.download(ctx, location, date)
	if err != nil {
		return "", err
	}

	if m := metrics.Get(); m != nil {
		m.ExportJobsCompleted.Inc()
	}
	c.log.Info("export downloaded", "date", date, "path", path)
	return path, nil
}

// createJob submits the export request with the fixed field projection.
func (c *Client) createJob(ctx context.Context, token string) (string, error) {
	fields := []exportField{{Name: "user_id"}}
	for _, f := range c.fields {
		fields = append(fields, exportField{
			Name:     "user_metadata." + f,
			ExportAs: f,
		})
	}

	payload := createJobRequest{
		Format: "csv",
		Limit:  c.rowLimit,
		Fields: fields,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/jobs/users-exports", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create job request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit export job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: create job returned %d: %s", ErrProtocol, resp.StatusCode, string(respBody))
	}

	var created createJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("%w: decode create job response: %v", ErrProtocol, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: create job response carries no id", ErrProtocol)
	}

	return created.ID, nil
}

// waitForJob polls the job until it reaches a terminal state or the poll
// budget is exhausted. On completion the platform must provide a download
// location; its absence is a protocol violation.
func (c *Client) waitForJob(ctx context.Context, token, jobID string) (string, error) {
	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		status, err := c.jobStatus(ctx, token, jobID)
		if err != nil {
			return "", err
		}

		switch status.Status {
		case jobStatusCompleted:
			if status.Location == "" {
				return "", fmt.Errorf("%w: job %s completed without a download location", ErrProtocol, jobID)
			}
			return status.Location, nil
		case jobStatusFailed:
			if m := metrics.Get(); m != nil {
				m.ExportJobsFailed.Inc()
			}
			reason := status.Error
			if reason == "" {
				reason = "unknown error"
			}
			return "", fmt.Errorf("%w: %s", ErrJobFailed, reason)
		}

		c.log.Debug("export job pending", "job_id", jobID, "attempt", attempt, "of", c.pollAttempts)
		if attempt < c.pollAttempts {
			if err := c.clock.Sleep(ctx, c.pollInterval); err != nil {
				return "", err
			}
		}
	}

	if m := metrics.Get(); m != nil {
		m.ExportJobsTimedOut.Inc()
	}
	return "", fmt.Errorf("%w: %d attempts", ErrJobTimeout, c.pollAttempts)
}

// jobStatus fetches the current state of a job.
func (c *Client) jobStatus(ctx context.Context, token, jobID string) (jobStatus, error) {
	var status jobStatus

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/jobs/"+jobID, nil)
	if err != nil {
		return status, fmt.Errorf("create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return status, fmt.Errorf("poll job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return status, fmt.Errorf("%w: job status returned %d: %s", ErrProtocol, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("%w: decode job status: %v", ErrProtocol, err)
	}

	return status, nil
}

// download streams the compressed result into the cache. Decompression only
// starts after the response status has been verified, and the cache write is
// atomic, so no partial file is ever left in place.
func (c *Client) download(ctx context.Context, location, date string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("download export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: download returned %d", ErrProtocol, resp.StatusCode)
	}

	path, err := c.cache.StoreGzip(resp.Body, date)
	if err != nil {
		return "", err
	}
	return path, nil
}

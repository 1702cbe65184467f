// Package cmp fetches and aggregates consent records from the consent
// management platform's paged listing endpoint.
package cmp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tuckkiez/consent-dashboard/internal/auth"
	"github.com/tuckkiez/consent-dashboard/internal/config"
	"github.com/tuckkiez/consent-dashboard/internal/logging"
	"github.com/tuckkiez/consent-dashboard/internal/metrics"
)

// ErrUpstream is returned when the CMP responds with an unexpected status or
// an undecodable payload. Any page failing aborts the whole date.
var ErrUpstream = errors.New("unexpected CMP response")

// Client walks the CMP listing endpoint one page at a time.
type Client struct {
	baseURL string
	mapping config.Mapping
	pageSize int

	tokens auth.TokenSource
	httpc  *http.Client
	log    *slog.Logger
}

// NewClient creates a CMP client. Page requests are sequential; the next
// page is only requested after the previous one has been consumed.
func NewClient(cfg config.CMPConfig, mapping config.Mapping, tokens auth.TokenSource) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		mapping:  mapping,
		pageSize: pageSize,
		tokens:   tokens,
		httpc: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
			},
		},
		log: logging.Component("cmp"),
	}
}

// FetchDay aggregates every consent record the CMP returns for the given
// date. Pagination stops at the first page with zero records; no "has more"
// flag is trusted. Purposes count only when ACTIVE and exactly matching one
// of the two configured purpose names.
func (c *Client) FetchDay(ctx context.Context, date string) (DayAggregate, error) {
	agg := DayAggregate{
		Identifiers: make(map[string]struct{}),
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return agg, fmt.Errorf("cmp token: %w", err)
	}

	for page := 0; ; page++ {
		records, err := c.fetchPage(ctx, token, date, page)
		if err != nil {
			return DayAggregate{Identifiers: make(map[string]struct{})}, err
		}
		if len(records) == 0 {
			break
		}

		if m := metrics.Get(); m != nil {
			m.PagesFetched.Inc()
			m.ConsentRecords.Add(float64(len(records)))
		}
		c.log.Debug("fetched page", "date", date, "page", page, "records", len(records))

		agg.TotalCount += len(records)
		for _, rec := range records {
			if rec.Identifier != "" {
				agg.Identifiers[rec.Identifier] = struct{}{}
			}
			for _, p := range rec.Purposes {
				if p.Status != statusActive {
					continue
				}
				switch p.Name {
				case c.mapping.PrivacyPolicyPurpose:
					agg.PrivacyPolicyCount++
				case c.mapping.MarketingPurpose:
					agg.MarketingCount++
				}
			}
		}
	}

	c.log.Info("aggregated consent records",
		"date", date,
		"total", agg.TotalCount,
		"privacy_policy", agg.PrivacyPolicyCount,
		"marketing", agg.MarketingCount,
		"identifiers", len(agg.Identifiers))

	return agg, nil
}

// fetchPage retrieves a single listing page.
func (c *Client) fetchPage(ctx context.Context, token, date string, page int) ([]ConsentRecord, error) {
	params := url.Values{}
	params.Set("updatedSince", date+"T00:00:00")
	params.Set("toDate", date+"T23:59:59")
	params.Set("size", strconv.Itoa(c.pageSize))
	params.Set("page", strconv.Itoa(page))
	params.Set("collectionPointGuid", c.mapping.CollectionPointID)
	params.Set("includeConsentData", "true")
	params.Set("includePurposes", "true")

	endpoint := c.baseURL + "/datasubjects/profiles?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create page request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: page %d returned %d: %s", ErrUpstream, page, resp.StatusCode, string(body))
	}

	var pg consentPage
	if err := json.NewDecoder(resp.Body).Decode(&pg); err != nil {
		return nil, fmt.Errorf("%w: decode page %d: %v", ErrUpstream, page, err)
	}

	return pg.Content, nil
}

// Package pipeline sequences the per-date consent reconciliation: CMP
// aggregation, profile-export acquisition, correlation, and snapshot
// persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tuckkiez/consent-dashboard/internal/cmp"
	"github.com/tuckkiez/consent-dashboard/internal/config"
	"github.com/tuckkiez/consent-dashboard/internal/correlate"
	"github.com/tuckkiez/consent-dashboard/internal/logging"
	"github.com/tuckkiez/consent-dashboard/internal/metrics"
	"github.com/tuckkiez/consent-dashboard/internal/profile"
	"github.com/tuckkiez/consent-dashboard/internal/snapshot"
)

// ConsentFetcher aggregates CMP consent records for one date.
type ConsentFetcher interface {
	FetchDay(ctx context.Context, date string) (cmp.DayAggregate, error)
}

// ExportProvider yields the path of a profile export file for one date.
type ExportProvider interface {
	EnsureExport(ctx context.Context, date string) (string, error)
}

// Pipeline is the orchestrator. Construct it once at process start; it holds
// no global state beyond its injected collaborators.
type Pipeline struct {
	consents ConsentFetcher
	exports  ExportProvider
	store    snapshot.Store
	mapping  config.Mapping

	now func() time.Time
	log *slog.Logger
}

// Option adjusts pipeline construction.
type Option func(*Pipeline)

// WithNow injects the clock used to decide which date is "today".
func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline.
func New(consents ConsentFetcher, exports ExportProvider, store snapshot.Store, mapping config.Mapping, opts ...Option) *Pipeline {
	p := &Pipeline{
		consents: consents,
		exports:  exports,
		store:    store,
		mapping:  mapping,
		now:      time.Now,
		log:      logging.Component("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// today returns the current calendar date key.
func (p *Pipeline) today() string {
	return p.now().Format(snapshot.DateLayout)
}

// GetOrFetch returns the snapshot for a date. The current calendar date is
// always fetched live and overwrites storage: today's numbers are
// provisional and must never be served stale. Any other date is served from
// storage, with a live fetch only on a miss.
func (p *Pipeline) GetOrFetch(ctx context.Context, date string) (snapshot.Snapshot, error) {
	if _, err := snapshot.ParseDate(date); err != nil {
		return snapshot.Snapshot{}, err
	}

	if date != p.today() {
		stored, err := p.store.Get(ctx, date)
		if err == nil {
			if m := metrics.Get(); m != nil {
				m.FetchesTotal.WithLabelValues("store").Inc()
			}
			return stored, nil
		}
		if !errors.Is(err, snapshot.ErrNotFound) {
			if m := metrics.Get(); m != nil {
				m.FetchFailures.WithLabelValues("store").Inc()
			}
			return snapshot.Snapshot{}, fmt.Errorf("read stored snapshot: %w", err)
		}
	}

	return p.ForceFetch(ctx, date)
}

// ForceFetch runs the live path regardless of storage and persists the
// result.
func (p *Pipeline) ForceFetch(ctx context.Context, date string) (snapshot.Snapshot, error) {
	if _, err := snapshot.ParseDate(date); err != nil {
		return snapshot.Snapshot{}, err
	}

	start := time.Now()
	snap, err := p.liveFetch(ctx, date)
	if err != nil {
		return snapshot.Snapshot{}, err
	}

	if err := p.store.Upsert(ctx, snap); err != nil {
		if m := metrics.Get(); m != nil {
			m.FetchFailures.WithLabelValues("store").Inc()
		}
		return snapshot.Snapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}

	if m := metrics.Get(); m != nil {
		m.FetchesTotal.WithLabelValues("live").Inc()
		m.SnapshotUpserts.Inc()
		m.FetchDuration.Observe(time.Since(start).Seconds())
	}
	return snap, nil
}

// liveFetch builds a snapshot from the CMP and, when available, the current
// day's profile export. An unavailable export degrades the snapshot to zero
// channel counts and 100% drop-off instead of failing the date.
func (p *Pipeline) liveFetch(ctx context.Context, date string) (snapshot.Snapshot, error) {
	runLog := logging.RunLogger(logging.CorrelationID(ctx), date)

	agg, err := p.consents.FetchDay(ctx, date)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.FetchFailures.WithLabelValues("cmp").Inc()
		}
		return snapshot.Snapshot{}, fmt.Errorf("fetch consent records: %w", err)
	}

	snap := snapshot.Snapshot{
		Date:                       date,
		TotalConsents:              agg.TotalCount,
		PrivacyPolicyConsents:      agg.PrivacyPolicyCount,
		MarketingConsents:          agg.MarketingCount,
		MarketingConsentPercentage: snapshot.Percent(agg.MarketingCount, agg.TotalCount),
		NewUsers:                   correlate.NewUsers(agg.Identifiers, p.mapping.ExistingUserPrefixes),
		CreatedAt:                  p.now(),
	}

	// Until correlation succeeds every consent counts as dropped.
	snap.DropoffCount = agg.TotalCount
	snap.DropoffPercentage = defaultDropoffPercentage(agg.TotalCount)

	table, err := p.profileTable(ctx)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.CorrelationDegraded.Inc()
		}
		runLog.Warn("profile export unavailable, emitting degraded snapshot", "error", err)
		return snap, nil
	}

	corrStart := time.Now()
	res := correlate.Correlate(agg.Identifiers, table)
	if m := metrics.Get(); m != nil {
		m.CorrelationDuration.Observe(time.Since(corrStart).Seconds())
	}

	// GWL is reported but deliberately excluded from the covered count.
	covered := res.F1Count + res.KPCount
	snap.F1ChannelConsents = res.F1Count
	snap.KPChannelConsents = res.KPCount
	snap.GWLChannelConsents = res.GWLCount
	snap.DropoffCount = agg.TotalCount - covered
	snap.DropoffPercentage = snapshot.Percent(snap.DropoffCount, agg.TotalCount)

	runLog.Info("snapshot computed",
		"total", snap.TotalConsents,
		"matched", res.Matched,
		"dropoff", snap.DropoffCount,
		"new_users", snap.NewUsers)

	return snap, nil
}

// profileTable acquires and loads the current day's export. Correlation
// always runs against today's export, which carries the freshest profile
// state, regardless of the date being reconciled.
func (p *Pipeline) profileTable(ctx context.Context) (*profile.Table, error) {
	path, err := p.exports.EnsureExport(ctx, p.today())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", profile.ErrUnavailable, err)
	}
	return profile.Load(path)
}

// FetchRange runs GetOrFetch for every date in [start, end] sequentially.
// Per-date failures are logged and skipped so one bad date does not abort
// the whole range; partial results are returned.
func (p *Pipeline) FetchRange(ctx context.Context, start, end string) ([]snapshot.Snapshot, error) {
	dates, err := snapshot.DatesBetween(start, end)
	if err != nil {
		return nil, err
	}

	results := make([]snapshot.Snapshot, 0, len(dates))
	for _, date := range dates {
		snap, err := p.GetOrFetch(ctx, date)
		if err != nil {
			p.log.Error("range fetch failed for date", "date", date, "error", err)
			continue
		}
		results = append(results, snap)
	}
	return results, nil
}

// RunDailyBatch is the once-per-day entry point. It pre-warms the current
// day's profile export, then reconciles yesterday: the prior, now-closed day
// is the one worth reporting on.
func (p *Pipeline) RunDailyBatch(ctx context.Context) error {
	ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())

	today := p.today()
	yesterday := p.now().AddDate(0, 0, -1).Format(snapshot.DateLayout)

	p.log.Info("daily batch starting", "today", today, "reporting_date", yesterday)

	if _, err := p.exports.EnsureExport(ctx, today); err != nil {
		if m := metrics.Get(); m != nil {
			m.FetchFailures.WithLabelValues("export").Inc()
		}
		return fmt.Errorf("ensure profile export for %s: %w", today, err)
	}

	if _, err := p.GetOrFetch(ctx, yesterday); err != nil {
		return fmt.Errorf("reconcile %s: %w", yesterday, err)
	}

	p.log.Info("daily batch complete", "reporting_date", yesterday)
	return nil
}

// defaultDropoffPercentage is 100% whenever there is anything to drop off.
func defaultDropoffPercentage(total int) float64 {
	if total == 0 {
		return 0
	}
	return 100
}

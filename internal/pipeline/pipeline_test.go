package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tuckkiez/consent-dashboard/internal/cmp"
	"github.com/tuckkiez/consent-dashboard/internal/config"
	"github.com/tuckkiez/consent-dashboard/internal/snapshot"
)

// fixedNow keeps "today" at 2025-03-26 for every test.
var fixedNow = func() time.Time {
	return time.Date(2025, 3, 26, 12, 0, 0, 0, time.UTC)
}

const (
	today     = "2025-03-26"
	yesterday = "2025-03-25"
)

type fakeConsents struct {
	agg   map[string]cmp.DayAggregate
	err   error
	calls []string
}

func (f *fakeConsents) FetchDay(ctx context.Context, date string) (cmp.DayAggregate, error) {
	f.calls = append(f.calls, date)
	if f.err != nil {
		return cmp.DayAggregate{}, f.err
	}
	if agg, ok := f.agg[date]; ok {
		return agg, nil
	}
	return cmp.DayAggregate{Identifiers: map[string]struct{}{}}, nil
}

type fakeExports struct {
	path  string
	err   error
	calls []string
}

func (f *fakeExports) EnsureExport(ctx context.Context, date string) (string, error) {
	f.calls = append(f.calls, date)
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

// writeExport creates a profile export fixture and returns its path.
func writeExport(t *testing.T, rows string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users_"+today+".csv")
	content := "user_id,f1_profile_id,kp_profile_id,gwl_profile_id\n" + rows
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write export fixture: %v", err)
	}
	return path
}

func idSet(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func newTestPipeline(consents *fakeConsents, exports *fakeExports, store snapshot.Store) *Pipeline {
	return New(consents, exports, store, config.DefaultMapping(), WithNow(fixedNow))
}

func TestGetOrFetchTodayAlwaysLive(t *testing.T) {
	store := snapshot.NewMemoryStore()
	ctx := context.Background()

	// A stored row for today must never be served.
	stale := snapshot.Snapshot{Date: today, TotalConsents: 999}
	if err := store.Upsert(ctx, stale); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	consents := &fakeConsents{agg: map[string]cmp.DayAggregate{
		today: {TotalCount: 3, Identifiers: idSet("a", "b", "c")},
	}}
	exports := &fakeExports{err: errors.New("no export yet")}
	p := newTestPipeline(consents, exports, store)

	snap, err := p.GetOrFetch(ctx, today)
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	if len(consents.calls) != 1 {
		t.Fatalf("CMP called %d times, want 1 (live fetch)", len(consents.calls))
	}
	if snap.TotalConsents != 3 {
		t.Errorf("TotalConsents = %d, want 3 (not the stale 999)", snap.TotalConsents)
	}

	stored, err := store.Get(ctx, today)
	if err != nil {
		t.Fatalf("Get after fetch: %v", err)
	}
	if stored.TotalConsents != 3 {
		t.Errorf("stored TotalConsents = %d, want overwrite with 3", stored.TotalConsents)
	}
}

func TestGetOrFetchPastDayServedFromStore(t *testing.T) {
	store := snapshot.NewMemoryStore()
	ctx := context.Background()

	seeded := snapshot.Snapshot{Date: yesterday, TotalConsents: 42}
	if err := store.Upsert(ctx, seeded); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	consents := &fakeConsents{}
	p := newTestPipeline(consents, &fakeExports{}, store)

	snap, err := p.GetOrFetch(ctx, yesterday)
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	if len(consents.calls) != 0 {
		t.Errorf("CMP called %d times, want 0 (store hit)", len(consents.calls))
	}
	if snap.TotalConsents != 42 {
		t.Errorf("TotalConsents = %d, want stored 42", snap.TotalConsents)
	}
}

func TestGetOrFetchPastDayMissFetchesAndPersists(t *testing.T) {
	store := snapshot.NewMemoryStore()
	ctx := context.Background()

	consents := &fakeConsents{agg: map[string]cmp.DayAggregate{
		yesterday: {TotalCount: 7, Identifiers: idSet("a")},
	}}
	p := newTestPipeline(consents, &fakeExports{err: errors.New("down")}, store)

	snap, err := p.GetOrFetch(ctx, yesterday)
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	if snap.TotalConsents != 7 {
		t.Errorf("TotalConsents = %d, want 7", snap.TotalConsents)
	}
	if _, err := store.Get(ctx, yesterday); err != nil {
		t.Errorf("snapshot not persisted after miss: %v", err)
	}
}

func TestLiveFetchDegradesWithoutExport(t *testing.T) {
	store := snapshot.NewMemoryStore()
	consents := &fakeConsents{agg: map[string]cmp.DayAggregate{
		yesterday: {
			TotalCount:     10,
			MarketingCount: 4,
			Identifiers:    idSet("a", "b"),
		},
	}}
	p := newTestPipeline(consents, &fakeExports{err: errors.New("export job timed out")}, store)

	snap, err := p.GetOrFetch(context.Background(), yesterday)
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}

	if snap.F1ChannelConsents != 0 || snap.KPChannelConsents != 0 || snap.GWLChannelConsents != 0 {
		t.Errorf("channel counts must be zero when degraded: %+v", snap)
	}
	if snap.DropoffCount != 10 {
		t.Errorf("DropoffCount = %d, want total 10", snap.DropoffCount)
	}
	if snap.DropoffPercentage != 100 {
		t.Errorf("DropoffPercentage = %v, want 100", snap.DropoffPercentage)
	}
	// CMP-derived fields still populate the degraded snapshot.
	if snap.MarketingConsentPercentage != 40 {
		t.Errorf("MarketingConsentPercentage = %v, want 40", snap.MarketingConsentPercentage)
	}
}

func TestLiveFetchCorrelates(t *testing.T) {
	store := snapshot.NewMemoryStore()
	path := writeExport(t,
		"'a',f1-1,,\n"+
			"'b',,kp-1,\n"+
			"'d',,,gwl-1\n")

	consents := &fakeConsents{agg: map[string]cmp.DayAggregate{
		yesterday: {TotalCount: 4, Identifiers: idSet("a", "b", "c", "d")},
	}}
	exports := &fakeExports{path: path}
	p := newTestPipeline(consents, exports, store)

	snap, err := p.GetOrFetch(context.Background(), yesterday)
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}

	// Correlation always runs against today's export.
	if len(exports.calls) != 1 || exports.calls[0] != today {
		t.Errorf("EnsureExport calls = %v, want [%s]", exports.calls, today)
	}

	if snap.F1ChannelConsents != 1 || snap.KPChannelConsents != 1 || snap.GWLChannelConsents != 1 {
		t.Errorf("channel counts = %d/%d/%d, want 1/1/1",
			snap.F1ChannelConsents, snap.KPChannelConsents, snap.GWLChannelConsents)
	}

	// GWL presence does not reduce drop-off: 4 - (1 + 1) = 2.
	if snap.DropoffCount != 2 {
		t.Errorf("DropoffCount = %d, want 2", snap.DropoffCount)
	}
	if snap.DropoffPercentage != 50 {
		t.Errorf("DropoffPercentage = %v, want 50", snap.DropoffPercentage)
	}
}

func TestLiveFetchZeroTotals(t *testing.T) {
	store := snapshot.NewMemoryStore()
	consents := &fakeConsents{} // empty day
	p := newTestPipeline(consents, &fakeExports{err: errors.New("down")}, store)

	snap, err := p.GetOrFetch(context.Background(), yesterday)
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	if snap.MarketingConsentPercentage != 0 || snap.DropoffPercentage != 0 {
		t.Errorf("percentages = %v/%v, want 0/0 for an empty day",
			snap.MarketingConsentPercentage, snap.DropoffPercentage)
	}
	if snap.NewUsers != 0 {
		t.Errorf("NewUsers = %d, want 0 for empty identifier set", snap.NewUsers)
	}
}

func TestNewUserCounting(t *testing.T) {
	store := snapshot.NewMemoryStore()
	consents := &fakeConsents{agg: map[string]cmp.DayAggregate{
		yesterday: {
			TotalCount:  4,
			Identifiers: idSet("auth0|f1aaa", "auth0|kpbbb", "auth0|ccc", "line|ddd"),
		},
	}}
	p := newTestPipeline(consents, &fakeExports{err: errors.New("down")}, store)

	snap, err := p.GetOrFetch(context.Background(), yesterday)
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	if snap.NewUsers != 2 {
		t.Errorf("NewUsers = %d, want 2", snap.NewUsers)
	}
}

func TestForceFetchBypassesStore(t *testing.T) {
	store := snapshot.NewMemoryStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, snapshot.Snapshot{Date: yesterday, TotalConsents: 1}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	consents := &fakeConsents{agg: map[string]cmp.DayAggregate{
		yesterday: {TotalCount: 5, Identifiers: idSet("a")},
	}}
	p := newTestPipeline(consents, &fakeExports{err: errors.New("down")}, store)

	snap, err := p.ForceFetch(ctx, yesterday)
	if err != nil {
		t.Fatalf("ForceFetch failed: %v", err)
	}
	if len(consents.calls) != 1 {
		t.Errorf("CMP called %d times, want 1 despite stored row", len(consents.calls))
	}
	if snap.TotalConsents != 5 {
		t.Errorf("TotalConsents = %d, want 5", snap.TotalConsents)
	}
}

func TestFetchRangeCollectsPartialResults(t *testing.T) {
	store := snapshot.NewMemoryStore()
	ctx := context.Background()

	// 2025-03-23 stored, 2025-03-24 will fail live, 2025-03-25 fetches live.
	if err := store.Upsert(ctx, snapshot.Snapshot{Date: "2025-03-23", TotalConsents: 1}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	consents := &fakeConsents{agg: map[string]cmp.DayAggregate{
		"2025-03-25": {TotalCount: 2, Identifiers: idSet("a")},
	}}
	failing := &failingConsents{inner: consents, failDate: "2025-03-24"}
	p := New(failing, &fakeExports{err: errors.New("down")}, store, config.DefaultMapping(), WithNow(fixedNow))

	snaps, err := p.FetchRange(ctx, "2025-03-23", "2025-03-25")
	if err != nil {
		t.Fatalf("FetchRange failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2 (bad date skipped)", len(snaps))
	}
	for _, s := range snaps {
		if s.Date == "2025-03-24" {
			t.Error("failed date must not appear in range results")
		}
	}
}

type failingConsents struct {
	inner    ConsentFetcher
	failDate string
}

func (f *failingConsents) FetchDay(ctx context.Context, date string) (cmp.DayAggregate, error) {
	if date == f.failDate {
		return cmp.DayAggregate{}, errors.New("upstream 500")
	}
	return f.inner.FetchDay(ctx, date)
}

func TestRunDailyBatch(t *testing.T) {
	store := snapshot.NewMemoryStore()
	path := writeExport(t, "'a',f1-1,,\n")

	consents := &fakeConsents{agg: map[string]cmp.DayAggregate{
		yesterday: {TotalCount: 1, Identifiers: idSet("a")},
	}}
	exports := &fakeExports{path: path}
	p := newTestPipeline(consents, exports, store)

	if err := p.RunDailyBatch(context.Background()); err != nil {
		t.Fatalf("RunDailyBatch failed: %v", err)
	}

	// The export is pre-warmed for today, then reused by correlation.
	if len(exports.calls) == 0 || exports.calls[0] != today {
		t.Errorf("EnsureExport calls = %v, want first call for today", exports.calls)
	}

	// The batch reports on yesterday, not today.
	if len(consents.calls) != 1 || consents.calls[0] != yesterday {
		t.Errorf("CMP calls = %v, want [%s]", consents.calls, yesterday)
	}
	if _, err := store.Get(context.Background(), yesterday); err != nil {
		t.Errorf("yesterday's snapshot not persisted: %v", err)
	}
}

func TestRunDailyBatchAbortsWhenExportFails(t *testing.T) {
	store := snapshot.NewMemoryStore()
	consents := &fakeConsents{}
	p := newTestPipeline(consents, &fakeExports{err: errors.New("job failed")}, store)

	if err := p.RunDailyBatch(context.Background()); err == nil {
		t.Fatal("RunDailyBatch should fail when the export cannot be pre-warmed")
	}
	if len(consents.calls) != 0 {
		t.Errorf("CMP called %d times after export failure, want 0", len(consents.calls))
	}
}

func TestSummarize(t *testing.T) {
	store := snapshot.NewMemoryStore()
	ctx := context.Background()

	rows := []snapshot.Snapshot{
		{Date: "2025-03-24", TotalConsents: 50, MarketingConsents: 20, DropoffCount: 30, F1ChannelConsents: 10, NewUsers: 5},
		{Date: "2025-03-25", TotalConsents: 50, MarketingConsents: 30, DropoffCount: 10, KPChannelConsents: 15, NewUsers: 7},
	}
	for _, s := range rows {
		if err := store.Upsert(ctx, s); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}

	p := newTestPipeline(&fakeConsents{}, &fakeExports{}, store)
	sum, err := p.Summarize(ctx)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if sum.TotalConsents != 100 || sum.MarketingConsents != 50 || sum.DropoffCount != 40 {
		t.Errorf("sums wrong: %+v", sum)
	}
	if sum.MarketingConsentPercentage != 50 {
		t.Errorf("MarketingConsentPercentage = %v, want 50", sum.MarketingConsentPercentage)
	}
	if sum.DropoffPercentage != 40 {
		t.Errorf("DropoffPercentage = %v, want 40", sum.DropoffPercentage)
	}
	if sum.NewUsers != 12 {
		t.Errorf("NewUsers = %d, want 12", sum.NewUsers)
	}
}

func TestSummarizeEmptyStore(t *testing.T) {
	p := newTestPipeline(&fakeConsents{}, &fakeExports{}, snapshot.NewMemoryStore())

	sum, err := p.Summarize(context.Background())
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if sum.MarketingConsentPercentage != 0 || sum.DropoffPercentage != 0 {
		t.Errorf("empty store percentages = %+v, want zeros", sum)
	}
}

func TestGetOrFetchRejectsBadDate(t *testing.T) {
	p := newTestPipeline(&fakeConsents{}, &fakeExports{}, snapshot.NewMemoryStore())

	if _, err := p.GetOrFetch(context.Background(), "26-03-2025"); err == nil {
		t.Error("GetOrFetch should reject a malformed date")
	}
}

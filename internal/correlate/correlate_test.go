package correlate

import (
	"testing"

	"github.com/tuckkiez/consent-dashboard/internal/profile"
	"github.com/tuckkiez/consent-dashboard/internal/snapshot"
)

func idSet(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func TestCorrelateChannelCounts(t *testing.T) {
	// a has only an F1 profile, b only a KP profile, c has no profile row.
	table := &profile.Table{Records: []profile.Record{
		{UserID: "a", F1ProfileID: "f1-001"},
		{UserID: "b", KPProfileID: "kp-001"},
		{UserID: "x", F1ProfileID: "f1-002"}, // not in the consent set
	}}

	res := Correlate(idSet("a", "b", "c"), table)

	if res.F1Count != 1 || res.KPCount != 1 || res.GWLCount != 0 {
		t.Errorf("counts = f1:%d kp:%d gwl:%d, want 1/1/0", res.F1Count, res.KPCount, res.GWLCount)
	}
	if res.Matched != 2 {
		t.Errorf("Matched = %d, want 2", res.Matched)
	}

	// With total_consents=3, drop-off covers only F1+KP.
	total := 3
	dropoff := total - (res.F1Count + res.KPCount)
	if dropoff != 1 {
		t.Errorf("dropoff_count = %d, want 1", dropoff)
	}
	pct := snapshot.Percent(dropoff, total)
	if pct < 33.3 || pct > 33.4 {
		t.Errorf("dropoff_percentage = %v, want ~33.33", pct)
	}
}

func TestCorrelateMultiChannelRow(t *testing.T) {
	// One matched row counts toward every channel it has a profile for.
	table := &profile.Table{Records: []profile.Record{
		{UserID: "a", F1ProfileID: "f1", KPProfileID: "kp", GWLProfileID: "gwl"},
	}}

	res := Correlate(idSet("a"), table)
	if res.F1Count != 1 || res.KPCount != 1 || res.GWLCount != 1 {
		t.Errorf("counts = f1:%d kp:%d gwl:%d, want 1/1/1", res.F1Count, res.KPCount, res.GWLCount)
	}
	if res.Matched != 1 {
		t.Errorf("Matched = %d, want 1", res.Matched)
	}
}

func TestCorrelateGWLExcludedFromDropoff(t *testing.T) {
	// A consent covered only by a GWL profile still counts as dropped off:
	// the drop-off formula deliberately ignores the GWL channel even though
	// the GWL count is reported.
	table := &profile.Table{Records: []profile.Record{
		{UserID: "a", GWLProfileID: "gwl-001"},
	}}

	res := Correlate(idSet("a"), table)
	if res.GWLCount != 1 {
		t.Fatalf("GWLCount = %d, want 1", res.GWLCount)
	}

	total := 1
	dropoff := total - (res.F1Count + res.KPCount)
	if dropoff != 1 {
		t.Errorf("dropoff_count = %d, want 1 (GWL does not prevent drop-off)", dropoff)
	}
}

func TestCorrelateNilTable(t *testing.T) {
	res := Correlate(idSet("a", "b"), nil)
	if res.F1Count != 0 || res.KPCount != 0 || res.GWLCount != 0 || res.Matched != 0 {
		t.Errorf("nil table should yield zero counts, got %+v", res)
	}
}

func TestNewUsers(t *testing.T) {
	prefixes := []string{"auth0|f1", "auth0|kp"}

	tests := []struct {
		name     string
		ids      []string
		expected int
	}{
		{"empty set", nil, 0},
		{"all existing", []string{"auth0|f1abc", "auth0|kp123"}, 0},
		{"all new", []string{"auth0|abc", "google-oauth2|123"}, 2},
		{"mixed", []string{"auth0|f1abc", "auth0|kp123", "auth0|new1", "line|u2"}, 2},
		// No GWL prefix is reserved, so a GWL-looking id counts as new.
		{"gwl id counts as new", []string{"auth0|gwl777"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewUsers(idSet(tt.ids...), prefixes); got != tt.expected {
				t.Errorf("NewUsers(%v) = %d, want %d", tt.ids, got, tt.expected)
			}
		})
	}
}

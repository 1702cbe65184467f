// Package correlate joins CMP consent identifiers against the profile
// export and derives channel-level metrics.
package correlate

import (
	"strings"

	"github.com/tuckkiez/consent-dashboard/internal/profile"
)

// Result carries per-channel presence counts over the matched subset of the
// profile table. The three counts are independent: one matched row counts
// toward every channel it has a profile id for.
type Result struct {
	F1Count  int
	KPCount  int
	GWLCount int
	Matched  int
}

// Correlate selects the profile rows whose identifier is a member of the
// consent identifier set and counts channel presence among them.
func Correlate(identifiers map[string]struct{}, table *profile.Table) Result {
	var res Result
	if table == nil {
		return res
	}

	for _, rec := range table.Records {
		if _, ok := identifiers[rec.UserID]; !ok {
			continue
		}
		res.Matched++
		if rec.F1ProfileID != "" {
			res.F1Count++
		}
		if rec.KPProfileID != "" {
			res.KPCount++
		}
		if rec.GWLProfileID != "" {
			res.GWLCount++
		}
	}

	return res
}

// NewUsers counts identifiers carrying none of the reserved prefixes that
// mark pre-existing channel accounts. It runs over the original identifier
// set, not the matched subset.
func NewUsers(identifiers map[string]struct{}, existingPrefixes []string) int {
	count := 0
	for id := range identifiers {
		if !hasAnyPrefix(id, existingPrefixes) {
			count++
		}
	}
	return count
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

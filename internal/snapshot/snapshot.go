// Package snapshot defines the per-date consent snapshot and its storage.
package snapshot

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date key format used everywhere.
const DateLayout = "2006-01-02"

// Snapshot is the single aggregated metrics row for one calendar date.
// Writes are full-row replacements keyed by Date; no revision history is
// kept.
type Snapshot struct {
	Date                        string    `json:"date"`
	TotalConsents               int       `json:"total_consents"`
	PrivacyPolicyConsents       int       `json:"privacy_policy_consents"`
	MarketingConsents           int       `json:"marketing_consents"`
	MarketingConsentPercentage  float64   `json:"marketing_consent_percentage"`
	F1ChannelConsents           int       `json:"f1_channel_consents"`
	KPChannelConsents           int       `json:"kp_channel_consents"`
	GWLChannelConsents          int       `json:"gwl_channel_consents"`
	DropoffCount                int       `json:"dropoff_count"`
	DropoffPercentage           float64   `json:"dropoff_percentage"`
	NewUsers                    int       `json:"new_users"`
	CreatedAt                   time.Time `json:"created_at"`
}

// Percent returns part/total as a percentage, 0 when total is zero.
func Percent(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// ParseDate validates a calendar-date key.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// DatesBetween enumerates every calendar date in [start, end] inclusive, in
// ascending order.
func DatesBetween(start, end string) ([]string, error) {
	from, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	to, err := ParseDate(end)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("date range %s..%s is inverted", start, end)
	}

	var dates []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates, nil
}

package pipeline

import (
	"context"
	"fmt"

	"github.com/tuckkiez/consent-dashboard/internal/snapshot"
)

// Summary aggregates every stored snapshot for the dashboard header.
type Summary struct {
	TotalConsents              int     `json:"total_consents"`
	PrivacyPolicyConsents      int     `json:"privacy_policy_consents"`
	MarketingConsents          int     `json:"marketing_consents"`
	MarketingConsentPercentage float64 `json:"marketing_consent_percentage"`
	F1ChannelConsents          int     `json:"f1_channel_consents"`
	KPChannelConsents          int     `json:"kp_channel_consents"`
	GWLChannelConsents         int     `json:"gwl_channel_consents"`
	DropoffCount               int     `json:"dropoff_count"`
	DropoffPercentage          float64 `json:"dropoff_percentage"`
	NewUsers                   int     `json:"new_users"`
}

// DailyPoint is the thin per-date projection used for charting.
type DailyPoint struct {
	Date                       string  `json:"date"`
	TotalConsents              int     `json:"total_consents"`
	MarketingConsentPercentage float64 `json:"marketing_consent_percentage"`
	DropoffPercentage          float64 `json:"dropoff_percentage"`
}

// Summarize sums all stored snapshots and derives the overall percentages.
func (p *Pipeline) Summarize(ctx context.Context) (Summary, error) {
	snaps, err := p.store.All(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load snapshots: %w", err)
	}

	var sum Summary
	for _, s := range snaps {
		sum.TotalConsents += s.TotalConsents
		sum.PrivacyPolicyConsents += s.PrivacyPolicyConsents
		sum.MarketingConsents += s.MarketingConsents
		sum.F1ChannelConsents += s.F1ChannelConsents
		sum.KPChannelConsents += s.KPChannelConsents
		sum.GWLChannelConsents += s.GWLChannelConsents
		sum.DropoffCount += s.DropoffCount
		sum.NewUsers += s.NewUsers
	}

	sum.MarketingConsentPercentage = snapshot.Percent(sum.MarketingConsents, sum.TotalConsents)
	sum.DropoffPercentage = snapshot.Percent(sum.DropoffCount, sum.TotalConsents)
	return sum, nil
}

// DailySeries projects every stored snapshot into chart points, newest
// first.
func (p *Pipeline) DailySeries(ctx context.Context) ([]DailyPoint, error) {
	snaps, err := p.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}

	points := make([]DailyPoint, 0, len(snaps))
	for _, s := range snaps {
		points = append(points, DailyPoint{
			Date:                       s.Date,
			TotalConsents:              s.TotalConsents,
			MarketingConsentPercentage: s.MarketingConsentPercentage,
			DropoffPercentage:          s.DropoffPercentage,
		})
	}
	return points, nil
}

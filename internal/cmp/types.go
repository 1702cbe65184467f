package cmp

// consentPage is one page of the CMP data-subject profile listing.
type consentPage struct {
	Content []ConsentRecord `json:"content"`
}

// ConsentRecord is a single data-subject profile as returned by the CMP.
// Records without an Identifier are legal: they count toward the day total
// but cannot be correlated.
type ConsentRecord struct {
	Identifier string    `json:"Identifier"`
	Purposes   []Purpose `json:"Purposes"`
}

// Purpose is a named consent purpose attached to a record.
type Purpose struct {
	Name   string `json:"Name"`
	Status string `json:"Status"`
}

// statusActive is the only purpose status that counts as a given consent.
const statusActive = "ACTIVE"

// DayAggregate is the result of walking every listing page for one date.
type DayAggregate struct {
	TotalCount         int
	PrivacyPolicyCount int
	MarketingCount     int
	Identifiers        map[string]struct{}
}

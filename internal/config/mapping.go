package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mapping names the CMP collection point, the consent purposes that are
// counted, the profile-export field projection, and the identifier prefixes
// that mark pre-existing channel accounts. The zero value is not usable;
// start from DefaultMapping.
type Mapping struct {
	CollectionPointID    string   `yaml:"collection_point_id"`
	PrivacyPolicyPurpose string   `yaml:"privacy_policy_purpose"`
	MarketingPurpose     string   `yaml:"marketing_purpose"`
	ExistingUserPrefixes []string `yaml:"existing_user_prefixes"`
	ProfileFields        []string `yaml:"profile_fields"`
}

// DefaultMapping returns the production purpose and channel mapping.
func DefaultMapping() Mapping {
	return Mapping{
		CollectionPointID:    "2b0e809d-9d2c-4ebd-ab48-1519d7bcf5cc",
		PrivacyPolicyPurpose: "King Power Online - Privacy Policy",
		MarketingPurpose:     "King Power Online - Marketing",
		// The GWL channel intentionally has no prefix here: GWL accounts
		// have never carried a reserved identifier prefix upstream.
		ExistingUserPrefixes: []string{"auth0|f1", "auth0|kp"},
		ProfileFields:        []string{"f1_profile_id", "kp_profile_id", "gwl_profile_id"},
	}
}

// LoadMapping reads a mapping overlay from a YAML file. Fields left empty in
// the file keep their defaults.
func LoadMapping(path string) (Mapping, error) {
	m := DefaultMapping()

	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read mapping file: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse mapping file: %w", err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// Validate checks that the mapping names everything the pipeline needs.
func (m Mapping) Validate() error {
	if m.CollectionPointID == "" {
		return errors.New("mapping: collection_point_id is required")
	}
	if m.PrivacyPolicyPurpose == "" || m.MarketingPurpose == "" {
		return errors.New("mapping: both consent purposes are required")
	}
	if len(m.ProfileFields) == 0 {
		return errors.New("mapping: at least one profile field is required")
	}
	return nil
}

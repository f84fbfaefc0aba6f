package models

// AggregatorCapability describes what one aggregator supports for one institution.
// A nil ExternalID means the institution is not onboarded to that aggregator.
type AggregatorCapability struct {
	ExternalID             *string `json:"id"`
	SupportsAggregation    bool    `json:"supports_aggregation"`
	SupportsOAuth          bool    `json:"supports_oauth"`
	SupportsIdentification bool    `json:"supports_identification"`
	SupportsVerification   bool    `json:"supports_verification"`
	SupportsFullHistory    bool    `json:"supports_history"`
}

// Has reports whether the capability flag is set.
func (c AggregatorCapability) Has(flag Capability) bool {
	switch flag {
	case CapabilityAggregation:
		return c.SupportsAggregation
	case CapabilityOAuth:
		return c.SupportsOAuth
	case CapabilityIdentification:
		return c.SupportsIdentification
	case CapabilityVerification:
		return c.SupportsVerification
	case CapabilityFullHistory:
		return c.SupportsFullHistory
	default:
		return false
	}
}

// Onboarded reports whether the institution is available on the aggregator at all.
func (c AggregatorCapability) Onboarded() bool {
	return c.ExternalID != nil
}

type Institution struct {
	ID             string                          `json:"id" db:"id"`
	Name           string                          `json:"name" db:"name"`
	URL            string                          `json:"url" db:"url"`
	LogoURL        string                          `json:"logo_url" db:"logo_url"`
	RoutingNumbers []string                        `json:"routing_numbers" db:"routing_numbers"`
	IsTestBank     bool                            `json:"is_test_bank" db:"is_test_bank"`
	Capabilities   map[string]AggregatorCapability `json:"capabilities"`
}

// Capability returns the embedded capability record for an aggregator.
func (i *Institution) Capability(aggregator string) (AggregatorCapability, bool) {
	c, ok := i.Capabilities[aggregator]
	return c, ok
}

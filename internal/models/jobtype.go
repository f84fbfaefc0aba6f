package models

// JobType is a requested category of financial data.
type JobType string

const (
	JobTypeAggregate    JobType = "aggregate"
	JobTypeIdentity     JobType = "identity"
	JobTypeVerification JobType = "verification"
	JobTypeFullHistory  JobType = "fullhistory"
	JobTypeAll          JobType = "all"
)

// Capability is a single flag on an AggregatorCapability.
type Capability string

const (
	CapabilityAggregation    Capability = "aggregation"
	CapabilityOAuth          Capability = "oauth"
	CapabilityIdentification Capability = "identification"
	CapabilityVerification   Capability = "verification"
	CapabilityFullHistory    Capability = "full_history"
)

// FullSupportCapabilities maps each job type to the capability flags an
// aggregator needs to fully serve it.
var FullSupportCapabilities = map[JobType][]Capability{
	JobTypeAggregate:    {CapabilityAggregation},
	JobTypeIdentity:     {CapabilityIdentification},
	JobTypeVerification: {CapabilityVerification},
	JobTypeFullHistory:  {CapabilityFullHistory},
	JobTypeAll:          {CapabilityIdentification, CapabilityVerification, CapabilityAggregation},
}

// PartialSupportCapabilities relaxes full history to plain aggregation.
var PartialSupportCapabilities = map[JobType][]Capability{
	JobTypeAggregate:    {CapabilityAggregation},
	JobTypeIdentity:     {CapabilityIdentification},
	JobTypeVerification: {CapabilityVerification},
	JobTypeFullHistory:  {CapabilityAggregation},
	JobTypeAll:          {CapabilityIdentification, CapabilityVerification, CapabilityAggregation},
}

// IsValid reports whether j is a known job type.
func (j JobType) IsValid() bool {
	_, ok := FullSupportCapabilities[j]
	return ok
}

// Package resolver picks the aggregator that will own a new connection for an institution.
//
// Candidates are the supported aggregators whose capability record for the
// institution is onboarded and satisfies every requested job type. Full support
// is preferred; partial support (full history served by plain aggregation) is
// only used when nothing supports the request fully. Among candidates the pick
// is, in order: the institution's volume map, the default volume map, the
// default aggregator, then a uniform random choice.
package resolver

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/aggregator-router/internal/metrics"
	"github.com/stanstork/aggregator-router/internal/models"
)

type InstitutionSource interface {
	GetInstitution(ctx context.Context, id string) (*models.Institution, error)
}

type PreferencesSource interface {
	Preferences(ctx context.Context) (*models.Preferences, error)
}

// TestAdapters reports which adapter stands in for an aggregator on test banks.
type TestAdapters interface {
	TestAdapterFor(aggregator string) (string, bool)
}

// Resolution is the routing decision. An empty Aggregator means no aggregator
// can serve the request and the caller must not route it.
type Resolution struct {
	Aggregator string `json:"aggregator,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	LogoURL    string `json:"logo_url"`
}

// Found reports whether an aggregator was resolved.
func (r Resolution) Found() bool {
	return r.Aggregator != ""
}

const (
	stageOverride          = "override"
	stageInstitutionVolume = "institution_volume"
	stageDefaultVolume     = "default_volume"
	stageDefaultAggregator = "default_aggregator"
	stageRandom            = "random"
)

type Resolver struct {
	institutions InstitutionSource
	preferences  PreferencesSource
	testAdapters TestAdapters
	random       func() float64
	logger       zerolog.Logger
}

type Option func(*Resolver)

// WithRandom replaces the [0,1) random source, e.g. for deterministic tests.
func WithRandom(fn func() float64) Option {
	return func(r *Resolver) {
		r.random = fn
	}
}

func New(institutions InstitutionSource, preferences PreferencesSource, testAdapters TestAdapters, logger zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		institutions: institutions,
		preferences:  preferences,
		testAdapters: testAdapters,
		random:       rand.Float64,
		logger:       logger.With().Str("component", "resolver").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve picks the aggregator for institutionID. A non-empty override bypasses
// selection entirely. Lookup failures are returned as errors; a routing miss is not.
func (r *Resolver) Resolve(ctx context.Context, institutionID string, jobTypes []models.JobType, override string) (Resolution, error) {
	inst, err := r.institutions.GetInstitution(ctx, institutionID)
	if err != nil {
		return Resolution{}, errors.Wrapf(err, "failed to load institution %s", institutionID)
	}
	prefs, err := r.preferences.Preferences(ctx)
	if err != nil {
		return Resolution{}, errors.Wrap(err, "failed to load preferences")
	}

	if len(jobTypes) == 0 {
		jobTypes = []models.JobType{models.JobTypeAggregate}
	}

	var (
		chosen string
		stage  string
	)
	if override != "" {
		chosen, stage = override, stageOverride
	} else {
		candidates := Candidates(inst, prefs.SupportedAggregators, jobTypes, models.FullSupportCapabilities)
		if len(candidates) == 0 {
			candidates = Candidates(inst, prefs.SupportedAggregators, jobTypes, models.PartialSupportCapabilities)
		}
		chosen, stage = r.pick(inst.ID, prefs, candidates)
	}

	res := Resolution{
		Name:    inst.Name,
		URL:     inst.URL,
		LogoURL: inst.LogoURL,
	}
	if chosen == "" {
		metrics.ResolverMisses.Inc()
		r.logger.Info().
			Str("institution_id", institutionID).
			Interface("job_types", jobTypes).
			Msg("no aggregator can serve institution")
		return res, nil
	}

	if capability, ok := inst.Capability(chosen); ok && capability.ExternalID != nil {
		res.ExternalID = *capability.ExternalID
	}
	res.Aggregator = chosen
	if inst.IsTestBank && r.testAdapters != nil {
		if testName, ok := r.testAdapters.TestAdapterFor(chosen); ok {
			res.Aggregator = testName
		}
	}

	metrics.ResolverPicks.WithLabelValues(res.Aggregator, stage).Inc()
	r.logger.Debug().
		Str("institution_id", institutionID).
		Str("aggregator", res.Aggregator).
		Str("stage", stage).
		Msg("resolved aggregator")
	return res, nil
}

func (r *Resolver) pick(institutionID string, prefs *models.Preferences, candidates []string) (string, string) {
	if len(candidates) == 0 {
		return "", ""
	}
	if volumes, ok := prefs.InstitutionAggregatorVolumeMap[institutionID]; ok {
		if agg := WeightedPick(volumes, r.random()*100); contains(candidates, agg) {
			return agg, stageInstitutionVolume
		}
	}
	if len(prefs.DefaultAggregatorVolume) > 0 {
		if agg := WeightedPick(prefs.DefaultAggregatorVolume, r.random()*100); contains(candidates, agg) {
			return agg, stageDefaultVolume
		}
	}
	if contains(candidates, prefs.DefaultAggregator) {
		return prefs.DefaultAggregator, stageDefaultAggregator
	}
	idx := int(math.Floor(r.random() * float64(len(candidates))))
	if idx >= len(candidates) {
		idx = len(candidates) - 1
	}
	return candidates[idx], stageRandom
}

// WeightedPick walks volumes in order and returns the aggregator whose
// (cutoff, cutoff+percent] interval contains draw. Volumes summing to less than
// 100 leave a gap that matches nothing.
func WeightedPick(volumes models.VolumeMap, draw float64) string {
	cutoff := 0.0
	for _, entry := range volumes {
		if draw > cutoff && draw <= cutoff+entry.Percent {
			return entry.Aggregator
		}
		cutoff += entry.Percent
	}
	return ""
}

// Candidates returns, in supported order, the aggregators onboarded for inst
// that have every capability flag required by every job type.
func Candidates(inst *models.Institution, supported []string, jobTypes []models.JobType, required map[models.JobType][]models.Capability) []string {
	var out []string
	for _, agg := range supported {
		capability, ok := inst.Capability(agg)
		if !ok || !capability.Onboarded() {
			continue
		}
		if satisfies(capability, jobTypes, required) {
			out = append(out, agg)
		}
	}
	return out
}

func satisfies(capability models.AggregatorCapability, jobTypes []models.JobType, required map[models.JobType][]models.Capability) bool {
	for _, jt := range jobTypes {
		flags, ok := required[jt]
		if !ok {
			return false
		}
		for _, flag := range flags {
			if !capability.Has(flag) {
				return false
			}
		}
	}
	return true
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

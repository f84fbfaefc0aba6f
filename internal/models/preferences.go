package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// VolumeEntry is one aggregator's share of traffic, in percent.
type VolumeEntry struct {
	Aggregator string
	Percent    float64
}

// VolumeMap is a percentage-weighted routing table. Entry order is the order
// cutoffs are accumulated in, so it is kept exactly as configured.
type VolumeMap []VolumeEntry

// UnmarshalYAML decodes a YAML mapping while keeping its key order.
func (m *VolumeMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("volume map must be a mapping, got line %d", node.Line)
	}
	entries := make(VolumeMap, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var percent float64
		if err := node.Content[i+1].Decode(&percent); err != nil {
			return fmt.Errorf("volume for %q: %w", node.Content[i].Value, err)
		}
		entries = append(entries, VolumeEntry{Aggregator: node.Content[i].Value, Percent: percent})
	}
	*m = entries
	return nil
}

// Total sums the configured percentages.
func (m VolumeMap) Total() float64 {
	var total float64
	for _, e := range m {
		total += e.Percent
	}
	return total
}

// Preferences is the traffic-shaping configuration used by the resolver.
type Preferences struct {
	SupportedAggregators           []string             `yaml:"supported_aggregators" json:"supported_aggregators"`
	DefaultAggregator              string               `yaml:"default_aggregator" json:"default_aggregator"`
	DefaultAggregatorVolume        VolumeMap            `yaml:"default_aggregator_volume" json:"-"`
	InstitutionAggregatorVolumeMap map[string]VolumeMap `yaml:"institution_aggregator_volume_map" json:"-"`
	RecommendedInstitutions        []string             `yaml:"recommended_institutions" json:"recommended_institutions"`
	HiddenInstitutions             []string             `yaml:"hidden_institutions" json:"hidden_institutions"`
}

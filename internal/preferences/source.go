// Package preferences loads the traffic-shaping preferences the resolver routes by.
package preferences

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/stanstork/aggregator-router/internal/models"
)

// Parse decodes a preferences document. Volume maps keep their key order.
func Parse(data []byte) (*models.Preferences, error) {
	var prefs models.Preferences
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		return nil, errors.Wrap(err, "failed to parse preferences")
	}
	return &prefs, nil
}

// FileSource serves preferences read from a YAML file. The file is read once
// at construction and again on Reload.
type FileSource struct {
	path   string
	logger zerolog.Logger

	mu    sync.RWMutex
	prefs *models.Preferences
}

func NewFileSource(path string, logger zerolog.Logger) (*FileSource, error) {
	s := &FileSource{
		path:   path,
		logger: logger.With().Str("component", "preferences").Logger(),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file. On failure the previous preferences stay in effect.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return errors.Wrapf(err, "failed to read preferences file %s", s.path)
	}
	prefs, err := Parse(data)
	if err != nil {
		return err
	}
	s.warnOnVolumeTotals(prefs)

	s.mu.Lock()
	s.prefs = prefs
	s.mu.Unlock()

	s.logger.Info().
		Str("path", s.path).
		Strs("supported_aggregators", prefs.SupportedAggregators).
		Str("default_aggregator", prefs.DefaultAggregator).
		Msg("preferences loaded")
	return nil
}

func (s *FileSource) Preferences(context.Context) (*models.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs, nil
}

// Volume maps summing past 100 make trailing entries unreachable; short ones
// fall through to the next selection stage. Neither is rejected.
func (s *FileSource) warnOnVolumeTotals(prefs *models.Preferences) {
	if total := prefs.DefaultAggregatorVolume.Total(); len(prefs.DefaultAggregatorVolume) > 0 && total != 100 {
		s.logger.Warn().Float64("total", total).Msg("default aggregator volume does not sum to 100")
	}
	for inst, volumes := range prefs.InstitutionAggregatorVolumeMap {
		if total := volumes.Total(); total != 100 {
			s.logger.Warn().Str("institution_id", inst).Float64("total", total).Msg("institution aggregator volume does not sum to 100")
		}
	}
}

// Static serves a fixed set of preferences.
type Static struct {
	Prefs *models.Preferences
}

func (s Static) Preferences(context.Context) (*models.Preferences, error) {
	if s.Prefs == nil {
		return nil, errors.New("no preferences configured")
	}
	return s.Prefs, nil
}

package runtime_config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/events"
)

// Service is the overlay's front door: the cycle asks it for the effective
// configuration every iteration, and the dashboard edits the document
// through it.
type Service struct {
	repo *Repository
	base config.Base
	bus  *events.Bus
	log  zerolog.Logger
}

// NewService creates the runtime config service. base is the loaded YAML
// document; it is copied on every Apply and never mutated.
func NewService(repo *Repository, base config.Base, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		base: base,
		bus:  bus,
		log:  log.With().Str("service", "runtime_config").Logger(),
	}
}

// Effective loads, normalises, validates and applies the stored document.
// Any failure is returned as-is: the caller pauses the cycle instead of
// trading on a partial or stale configuration.
func (s *Service) Effective() (config.Base, error) {
	doc, err := s.repo.Load()
	if err != nil {
		return config.Base{}, err
	}
	return Apply(s.base, doc)
}

// Document returns the stored document, normalised. Used by the dashboard
// GET endpoint.
func (s *Service) Document() (*Document, error) {
	doc, err := s.repo.Load()
	if err != nil {
		return nil, err
	}
	return Normalise(doc), nil
}

// Update validates and persists a full replacement document. The document
// must survive a trial Apply against the base so a stored overlay can never
// fail at cycle time for a reason Update would have caught.
func (s *Service) Update(doc *Document) (*Document, error) {
	norm := Normalise(doc)
	if err := Validate(norm); err != nil {
		return nil, err
	}
	if _, err := Apply(s.base, norm); err != nil {
		return nil, err
	}
	if err := s.repo.Save(norm); err != nil {
		return nil, err
	}

	s.log.Info().Str("active_strategy", norm.ActiveStrategy).Int("strategies", len(norm.Strategies)).Msg("Runtime config updated")
	if s.bus != nil {
		s.bus.Emit("runtime_config", &events.ConfigChangedData{Strategy: norm.ActiveStrategy})
	}
	return norm, nil
}

// Pause stops the cycle from trading until Resume. The flag survives
// restarts.
func (s *Service) Pause(reason string) error {
	if err := s.repo.SetPaused(true); err != nil {
		return err
	}
	s.log.Warn().Str("reason", reason).Msg("Trading paused")
	if s.bus != nil {
		s.bus.Emit("runtime_config", &events.PausedChangedData{Paused: true, Reason: reason})
	}
	return nil
}

// Resume clears the manual pause flag.
func (s *Service) Resume() error {
	if err := s.repo.SetPaused(false); err != nil {
		return err
	}
	s.log.Info().Msg("Trading resumed")
	if s.bus != nil {
		s.bus.Emit("runtime_config", &events.PausedChangedData{Paused: false})
	}
	return nil
}

// Paused reports the manual kill switch. Read errors surface: the cycle
// must not trade when it cannot tell whether it is paused.
func (s *Service) Paused() (bool, error) {
	paused, err := s.repo.Paused()
	if err != nil {
		return false, fmt.Errorf("paused flag unavailable: %w", err)
	}
	return paused, nil
}

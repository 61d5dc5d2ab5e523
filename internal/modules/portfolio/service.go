// Package portfolio records what the account looks like so the dashboard
// never has to talk to the broker: account summary values, position and
// open-order snapshots, and the equity series behind the performance chart.
package portfolio

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/risk"
)

// summaryTags are the account figures kept for the dashboard. CashBalance
// is included so per-currency availability is visible in the UI.
var summaryTags = map[string]bool{
	"NetLiquidation":     true,
	"TotalCashValue":     true,
	"AvailableFunds":     true,
	"GrossPositionValue": true,
	"CashBalance":        true,
}

// Broker is the slice of the bridge the portfolio service reads from
type Broker interface {
	AccountValues() ([]domain.AccountValue, error)
	Positions() ([]domain.Position, error)
	OpenOrders() ([]domain.OpenOrder, error)
}

// Service captures broker state into the cache.db snapshot tables. The
// cycle calls it best-effort; the maintenance scheduler calls it on a
// timer so the dashboard stays current outside trading hours.
type Service struct {
	broker Broker
	repo   *Repository
	log    zerolog.Logger
}

// NewService creates a portfolio snapshot service
func NewService(broker Broker, repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		broker: broker,
		repo:   repo,
		log:    log.With().Str("service", "portfolio").Logger(),
	}
}

// RecordPerformance stores the dashboard subset of the account summary and
// appends one equity observation. P&L totals are summed from the position
// snapshot; if positions cannot be fetched the totals record as zero
// rather than losing the equity point.
func (s *Service) RecordPerformance() error {
	values, err := s.broker.AccountValues()
	if err != nil {
		return fmt.Errorf("failed to fetch account values: %w", err)
	}

	var keep []domain.AccountValue
	for _, v := range values {
		if summaryTags[v.Tag] {
			keep = append(keep, v)
		}
	}
	if err := s.repo.UpsertAccountValues(keep); err != nil {
		return err
	}

	equity, err := risk.Equity(values)
	if err != nil {
		return fmt.Errorf("cannot record performance: %w", err)
	}

	var unrealized, realized float64
	positions, err := s.broker.Positions()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to fetch positions for P&L totals")
	} else {
		for _, p := range positions {
			unrealized += p.UnrealizedPnL
			realized += p.RealizedPnL
		}
	}

	account := accountOf(values)
	totals := []domain.AccountValue{
		{Account: account, Tag: "UnrealizedPnL", Value: fmt.Sprintf("%.2f", unrealized), Currency: "USD"},
		{Account: account, Tag: "RealizedPnL", Value: fmt.Sprintf("%.2f", realized), Currency: "USD"},
	}
	if err := s.repo.UpsertAccountValues(totals); err != nil {
		return err
	}

	if err := s.repo.InsertPerformance(equity, unrealized, realized); err != nil {
		return err
	}

	s.log.Debug().
		Float64("equity", equity).
		Float64("unrealized_pnl", unrealized).
		Float64("realized_pnl", realized).
		Msg("Recorded performance point")
	return nil
}

// SnapshotPortfolio replaces the stored position and open-order snapshots
// with the broker's current view. The two halves fail independently so a
// bad order fetch does not block the position snapshot.
func (s *Service) SnapshotPortfolio() error {
	var firstErr error

	positions, err := s.broker.Positions()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to snapshot positions")
		firstErr = err
	} else if err := s.repo.ReplacePositions(positions); err != nil {
		s.log.Error().Err(err).Msg("Failed to store position snapshot")
		firstErr = err
	}

	orders, err := s.broker.OpenOrders()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to snapshot open orders")
		if firstErr == nil {
			firstErr = err
		}
	} else if err := s.repo.ReplaceOpenOrders(orders); err != nil {
		s.log.Error().Err(err).Msg("Failed to store order snapshot")
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func accountOf(values []domain.AccountValue) string {
	for _, v := range values {
		if v.Account != "" {
			return v.Account
		}
	}
	return ""
}

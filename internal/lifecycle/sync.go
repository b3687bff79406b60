// Package lifecycle reconciles stored position lifecycle state against the
// brokerage's aggregate snapshot, one discrete pass at a time.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/broker"
	"github.com/eddiefleurent/schrute_books/internal/matcher"
	"github.com/eddiefleurent/schrute_books/internal/models"
	"github.com/eddiefleurent/schrute_books/internal/storage"
	"github.com/sirupsen/logrus"
)

const defaultFetchTimeout = 8 * time.Second

// Result reports one sync pass.
type Result struct {
	Updated        int `json:"updated"`
	Skipped        int `json:"skipped"`
	Unattributable int `json:"unattributable"`
	Unchanged      int `json:"unchanged"`
}

// Config holds explicit sync configuration; no ambient globals.
type Config struct {
	// FetchTimeout bounds the snapshot fetch, the pass's single
	// network-bound suspension point.
	FetchTimeout time.Duration
}

// SyncService classifies every app-owned open position against a freshly
// fetched broker snapshot and writes the resulting lifecycle transitions.
//
// A fetch failure skips the whole pass: a missing snapshot is not evidence
// of closure. A single position's classification failure is logged and
// skipped without aborting the batch. Re-running against an unchanged
// snapshot produces no writes.
type SyncService struct {
	broker       broker.Broker
	storage      storage.Interface
	logger       *logrus.Logger
	fetchTimeout time.Duration
}

// NewSyncService creates a sync service.
func NewSyncService(b broker.Broker, store storage.Interface, logger *logrus.Logger, cfg Config) *SyncService {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &SyncService{
		broker:       b,
		storage:      store,
		logger:       logger,
		fetchTimeout: timeout,
	}
}

// Run executes one reconciliation pass.
func (s *SyncService) Run(ctx context.Context) (*Result, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	snapshot, err := s.broker.GetPositionsCtx(fetchCtx)
	if err != nil {
		// No partial classification without broker truth.
		return nil, fmt.Errorf("no snapshot available, skipping sync pass: %w", err)
	}

	orders, err := s.storage.GetCachedOrders()
	if err != nil {
		return nil, fmt.Errorf("loading cached orders: %w", err)
	}
	positions, err := s.storage.GetOpenPositions()
	if err != nil {
		return nil, fmt.Errorf("loading open positions: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"open_positions":   len(positions),
		"snapshot_entries": len(snapshot),
	}).Debug("starting lifecycle sync pass")

	m := matcher.New(orders, positions)
	now := time.Now().UTC()
	result := &Result{}

	for i := range positions {
		p := &positions[i]

		if m.Unattributable(p) {
			result.Unattributable++
			s.logger.WithField("position", p.ID).
				Warn("no recoverable opening order; excluded from classification")
			continue
		}

		open, total := m.OpenLegCount(p, snapshot)
		target := Classify(open, total)
		if target == p.State {
			result.Unchanged++
			continue
		}

		reason := models.ClosureReason("")
		if target == models.StateClosed {
			reason = inferClosureReason(p, orders)
		}

		if err := s.storage.SetLifecycleState(p.ID, target, reason, now); err != nil {
			result.Skipped++
			s.logger.WithError(err).WithFields(logrus.Fields{
				"position": p.ID,
				"from":     p.State,
				"to":       target,
			}).Error("failed to write lifecycle transition")
			continue
		}

		result.Updated++
		s.logger.WithFields(logrus.Fields{
			"position":  p.ID,
			"from":      p.State,
			"to":        target,
			"legs_open": open,
			"legs":      total,
		}).Info("position lifecycle updated")
	}

	return result, nil
}

// Classify derives the lifecycle state from the open-leg ratio:
// 0 of N legs open -> closed; all N -> open_full; anything between ->
// open_partial.
func Classify(openLegs, totalLegs int) models.LifecycleState {
	switch {
	case openLegs <= 0:
		return models.StateClosed
	case openLegs >= totalLegs:
		return models.StateOpenFull
	default:
		return models.StateOpenPartial
	}
}

// inferClosureReason attributes a detected closure to the order that most
// plausibly caused it: a filled automation closing order, then a filled
// profit-target order, otherwise unknown.
func inferClosureReason(p *models.Position, orders []models.CachedOrder) models.ClosureReason {
	filled := make(map[string]bool, len(orders))
	for i := range orders {
		status := orders[i].Status
		if status == models.OrderStatusFilled || status == models.OrderStatusPartiallyFilled {
			filled[models.FormatOrderID(orders[i].ID)] = true
		}
	}

	if closingID := p.AutomationClosingOrderID(); closingID != "" {
		if filled[models.CanonicalOrderID(closingID)] {
			return models.ReasonDTEAutoClose
		}
	}
	for _, rawID := range p.ProfitTargetIDs {
		if filled[models.CanonicalOrderID(rawID)] {
			return models.ReasonProfitTarget
		}
	}
	return models.ReasonUnknown
}

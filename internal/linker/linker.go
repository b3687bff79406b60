package linker

import (
	"errors"
	"fmt"
	"sort"

	"github.com/eddiefleurent/schrute_books/internal/models"
	"github.com/eddiefleurent/schrute_books/internal/storage"
	"github.com/sirupsen/logrus"
)

// Result reports a link pass by attribution tier.
type Result struct {
	LinkedByOpening      int `json:"linked_by_opening"`
	LinkedByProfitTarget int `json:"linked_by_profit_target"`
	LinkedByAutomation   int `json:"linked_by_dte_automation"`
	LinkedBySymbol       int `json:"linked_by_symbol"`
	NotFound             int `json:"not_found"`
	AlreadyLinked        int `json:"already_linked"`
	Errors               int `json:"errors"`

	Anomalies []Anomaly `json:"anomalies,omitempty"`
}

// TotalLinked returns the number of transactions newly linked in the pass.
func (r *Result) TotalLinked() int {
	return r.LinkedByOpening + r.LinkedByProfitTarget + r.LinkedByAutomation + r.LinkedBySymbol
}

// Linker attributes unlinked transactions to positions with a four-tier
// waterfall: opening order id, profit-target order id, automation closing
// order id, then symbol-based fallback for closing fills. First match wins;
// each newly linked transaction is written exactly once.
type Linker struct {
	storage storage.Interface
	logger  *logrus.Logger
}

// New creates a transaction linker.
func New(store storage.Interface, logger *logrus.Logger) *Linker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Linker{storage: store, logger: logger}
}

// Run executes one link pass over the current unlinked transactions. The
// position set is snapshotted once at the start; a single transaction's
// failure never aborts the rest of the pass.
func (l *Linker) Run() (*Result, error) {
	positions, err := l.storage.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}
	txs, err := l.storage.GetUnlinkedTransactions()
	if err != nil {
		return nil, fmt.Errorf("loading unlinked transactions: %w", err)
	}

	resolver := NewResolver(positions)
	result := &Result{Anomalies: resolver.Anomalies()}
	for _, anomaly := range result.Anomalies {
		l.logger.WithFields(logrus.Fields{
			"order_id": anomaly.OrderID,
			"source":   anomaly.Source,
			"kept":     anomaly.KeptPosition,
			"dropped":  anomaly.DroppedPosition,
		}).Warn("order id claimed by two positions; keeping first seen")
	}

	for i := range txs {
		l.linkOne(&txs[i], resolver, positions, result)
	}

	l.logger.WithFields(logrus.Fields{
		"linked_by_opening":       result.LinkedByOpening,
		"linked_by_profit_target": result.LinkedByProfitTarget,
		"linked_by_automation":    result.LinkedByAutomation,
		"linked_by_symbol":        result.LinkedBySymbol,
		"not_found":               result.NotFound,
	}).Info("transaction link pass complete")
	return result, nil
}

func (l *Linker) linkOne(tx *models.Transaction, resolver *Resolver, positions []models.Position, result *Result) {
	if tx.Linked() {
		// An already linked transaction is never revisited, even if
		// storage hands one back.
		result.AlreadyLinked++
		return
	}

	if tx.HasOrderID() {
		if positionID, ok := resolver.OpeningPosition(tx.OrderID); ok {
			l.write(tx, positionID, &result.LinkedByOpening, result)
			return
		}
		if positionID, ok := resolver.ProfitTargetPosition(tx.OrderID); ok {
			l.write(tx, positionID, &result.LinkedByProfitTarget, result)
			return
		}
		if positionID, ok := resolver.AutomationPosition(tx.OrderID); ok {
			l.write(tx, positionID, &result.LinkedByAutomation, result)
			return
		}
	}

	// Symbol-based fallback: closing fills only, and only when the broker
	// gave us a contract symbol to match on.
	if !tx.Action.IsClosing() || tx.OCCSymbol == "" {
		result.NotFound++
		return
	}
	if candidate := earliestPlausibleCandidate(tx, positions); candidate != "" {
		l.write(tx, candidate, &result.LinkedBySymbol, result)
		return
	}
	result.NotFound++
}

func (l *Linker) write(tx *models.Transaction, positionID string, tier *int, result *Result) {
	if err := l.storage.LinkTransaction(tx.ID, positionID); err != nil {
		if errors.Is(err, storage.ErrAlreadyLinked) {
			result.AlreadyLinked++
			return
		}
		result.Errors++
		l.logger.WithError(err).WithFields(logrus.Fields{
			"transaction": tx.ID,
			"position":    positionID,
		}).Error("failed to link transaction")
		return
	}
	tx.RelatedPosition = positionID
	*tier++
}

// earliestPlausibleCandidate picks among still-open positions whose leg
// metadata contains the transaction's symbol and whose underlying matches.
// Ties resolve to the earliest opened_at that is still plausibly open at the
// fill time (opened_at <= executed_at). This is a documented heuristic, not
// a proven-unique assignment.
func earliestPlausibleCandidate(tx *models.Transaction, positions []models.Position) string {
	var candidates []*models.Position
	for i := range positions {
		p := &positions[i]
		if p.IsClosed() {
			continue
		}
		if p.Underlying != tx.Underlying {
			continue
		}
		if !p.HasLegSymbol(tx.OCCSymbol) {
			continue
		}
		if p.OpenedAt.After(tx.ExecutedAt) {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].OpenedAt.Before(candidates[j].OpenedAt)
	})
	return candidates[0].ID
}

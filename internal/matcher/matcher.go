// Package matcher resolves which order-history legs belong to which tracked
// position and classifies positions against the broker's aggregate snapshot.
package matcher

import (
	"math"

	"github.com/eddiefleurent/schrute_books/internal/broker"
	"github.com/eddiefleurent/schrute_books/internal/models"
)

// quantityEpsilon is the tolerance for treating a broker quantity as zero.
const quantityEpsilon = 1e-6

// LegMatcher answers leg and open/closed questions for a fixed set of cached
// orders and positions. Construct one per reconciliation pass so every
// answer refers to the same order/position snapshot.
type LegMatcher struct {
	ordersByID map[string]*models.CachedOrder
	positions  []models.Position
}

// New builds a LegMatcher over the given cached orders and positions.
func New(orders []models.CachedOrder, positions []models.Position) *LegMatcher {
	byID := make(map[string]*models.CachedOrder, len(orders))
	for i := range orders {
		byID[models.FormatOrderID(orders[i].ID)] = &orders[i]
	}
	return &LegMatcher{
		ordersByID: byID,
		positions:  positions,
	}
}

// OpeningOrderOf returns the cached opening order for the position, or nil
// when the position has no opening order id or the order is not in the
// ledger window.
func (m *LegMatcher) OpeningOrderOf(p *models.Position) *models.CachedOrder {
	if !p.HasOpeningOrder() {
		return nil
	}
	return m.ordersByID[models.CanonicalOrderID(p.OpeningOrderID)]
}

// LegsOf returns the full leg list of the position's opening order. Legacy
// positions with no recoverable opening order yield an empty list; no
// inference from leg metadata is attempted.
func (m *LegMatcher) LegsOf(p *models.Position) []models.OrderLeg {
	order := m.OpeningOrderOf(p)
	if order == nil {
		return nil
	}
	return order.Legs
}

// Unattributable reports whether the position's legs cannot be recovered
// from order history. Such positions are excluded from automatic
// classification and routed to manual handling by callers.
func (m *LegMatcher) Unattributable(p *models.Position) bool {
	return m.OpeningOrderOf(p) == nil
}

// SymbolsOf returns the distinct OCC symbols of the position's opening-order
// legs, in first-seen order. Two duplicate positions share the same symbol
// set; identity stays with the opening order id.
func (m *LegMatcher) SymbolsOf(p *models.Position) []string {
	order := m.OpeningOrderOf(p)
	if order == nil {
		return nil
	}
	return order.LegSymbols()
}

// IsStillOpenAtBroker reports whether at least one of the position's legs
// still shows nonzero aggregate quantity in the snapshot. The position is
// closed only when none of its legs appear at all.
//
// This classifier is deliberately conservative: the broker pools quantity per
// symbol across all positions, so it cannot tell "my contract closed" from
// "a sibling's identical contract closed". It detects total exhaustion of a
// symbol only, and never apportions a shared quantity among siblings.
func (m *LegMatcher) IsStillOpenAtBroker(p *models.Position, snapshot []broker.SnapshotEntry) bool {
	open, _ := m.OpenLegCount(p, snapshot)
	return open > 0
}

// OpenLegCount returns how many of the position's distinct leg symbols still
// have nonzero aggregate quantity at the broker, along with the total leg
// symbol count. total is 0 for unattributable positions.
func (m *LegMatcher) OpenLegCount(p *models.Position, snapshot []broker.SnapshotEntry) (open, total int) {
	symbols := m.SymbolsOf(p)
	if len(symbols) == 0 {
		return 0, 0
	}

	quantities := QuantitiesBySymbol(snapshot)
	for _, symbol := range symbols {
		if math.Abs(quantities[symbol]) > quantityEpsilon {
			open++
		}
	}
	return open, len(symbols)
}

// QuantitiesBySymbol nets the snapshot into a symbol→signed-quantity map.
func QuantitiesBySymbol(snapshot []broker.SnapshotEntry) map[string]float64 {
	quantities := make(map[string]float64, len(snapshot))
	for _, entry := range snapshot {
		quantities[entry.OCCSymbol] += entry.Quantity
	}
	return quantities
}

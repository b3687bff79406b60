// Package linker attributes fill transactions to the positions that caused
// them, using order-id lookups first and a symbol heuristic as last resort.
package linker

import (
	"github.com/eddiefleurent/schrute_books/internal/models"
)

// AnomalySource identifies which lookup cache a collision occurred in.
type AnomalySource string

const (
	// SourceProfitTarget marks a collision between profit-target order ids.
	SourceProfitTarget AnomalySource = "profit_target"
	// SourceAutomation marks a collision between automation closing order ids.
	SourceAutomation AnomalySource = "automation"
)

// Anomaly records two positions claiming the same order id. Under correct
// operation this never happens; first-seen wins and the collision is
// surfaced for review rather than guessed at.
type Anomaly struct {
	OrderID         string        `json:"order_id"`
	Source          AnomalySource `json:"source"`
	KeptPosition    string        `json:"kept_position"`
	DroppedPosition string        `json:"dropped_position"`
}

// Resolver builds auxiliary order-id→position caches from position metadata:
// one for embedded profit-target order ids (every leg-group key) and one for
// automation-embedded closing order ids. It extends the linker's exact-match
// tiers beyond the opening order id.
type Resolver struct {
	opening      map[string]string
	profitTarget map[string]string
	automation   map[string]string
	anomalies    []Anomaly
}

// NewResolver indexes the given position set.
func NewResolver(positions []models.Position) *Resolver {
	r := &Resolver{
		opening:      make(map[string]string),
		profitTarget: make(map[string]string),
		automation:   make(map[string]string),
	}

	for i := range positions {
		p := &positions[i]

		if p.HasOpeningOrder() {
			id := models.CanonicalOrderID(p.OpeningOrderID)
			if _, exists := r.opening[id]; !exists {
				r.opening[id] = p.ID
			}
		}

		for _, rawID := range p.ProfitTargetIDs {
			r.put(r.profitTarget, SourceProfitTarget, rawID, p.ID)
		}

		if closingID := p.AutomationClosingOrderID(); closingID != "" {
			r.put(r.automation, SourceAutomation, closingID, p.ID)
		}
	}
	return r
}

func (r *Resolver) put(cache map[string]string, source AnomalySource, rawID, positionID string) {
	id := models.CanonicalOrderID(rawID)
	if id == "" {
		return
	}
	if kept, exists := cache[id]; exists {
		if kept != positionID {
			r.anomalies = append(r.anomalies, Anomaly{
				OrderID:         id,
				Source:          source,
				KeptPosition:    kept,
				DroppedPosition: positionID,
			})
		}
		return
	}
	cache[id] = positionID
}

// OpeningPosition returns the position that claims orderID as its opening
// order.
func (r *Resolver) OpeningPosition(orderID string) (string, bool) {
	id, ok := r.opening[models.CanonicalOrderID(orderID)]
	return id, ok
}

// ProfitTargetPosition returns the position that claims orderID as a
// profit-target order.
func (r *Resolver) ProfitTargetPosition(orderID string) (string, bool) {
	id, ok := r.profitTarget[models.CanonicalOrderID(orderID)]
	return id, ok
}

// AutomationPosition returns the position that claims orderID as an
// automation closing order.
func (r *Resolver) AutomationPosition(orderID string) (string, bool) {
	id, ok := r.automation[models.CanonicalOrderID(orderID)]
	return id, ok
}

// Anomalies returns order-id collisions discovered while indexing.
func (r *Resolver) Anomalies() []Anomaly {
	return r.anomalies
}

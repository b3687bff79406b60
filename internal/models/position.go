// Package models provides data structures and lifecycle management for
// tracked multi-leg option positions.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StrategyKind tags the logical strategy a position was opened as.
type StrategyKind string

const (
	// StrategyVertical is a two-leg vertical (put or call) spread.
	StrategyVertical StrategyKind = "vertical_spread"
	// StrategyIronCondor is a four-leg iron condor.
	StrategyIronCondor StrategyKind = "iron_condor"
	// StrategyTrident is a six-leg multi-spread combination.
	StrategyTrident StrategyKind = "trident"
	// StrategyCustom covers manually entered or unrecognized leg sets.
	StrategyCustom StrategyKind = "custom"
)

// ClosureReason categorizes why a position left the book.
type ClosureReason string

const (
	// ReasonProfitTarget indicates the attached profit-target order filled.
	ReasonProfitTarget ClosureReason = "profit_target"
	// ReasonDTEAutoClose indicates the scheduled time-based closure fired.
	ReasonDTEAutoClose ClosureReason = "dte_auto_close"
	// ReasonManualClose indicates a close placed outside the system.
	ReasonManualClose ClosureReason = "manual_close"
	// ReasonUnknown is used when closure was detected but not attributable.
	ReasonUnknown ClosureReason = "unknown"
)

// Leg is one contract of a position as recorded at open time.
// Leg metadata is immutable once the position is created.
type Leg struct {
	OCCSymbol string    `json:"occ_symbol"`
	Action    LegAction `json:"action"`
}

// Automation holds metadata attached by scheduled closure actions.
// ClosingOrderID is set when a time-based (DTE) closure order was placed.
type Automation struct {
	ClosingOrderID string    `json:"closing_order_id,omitempty"`
	Trigger        string    `json:"trigger,omitempty"`
	ScheduledFor   time.Time `json:"scheduled_for,omitempty"`
}

// Position represents an internally owned multi-leg option strategy instance.
//
// Two positions may legitimately share an identical leg-symbol set (duplicate
// strategies); identity is established only through OpeningOrderID, never
// through symbols. Legs are fixed at creation; only State, ClosedAt,
// ClosureReason and quantity-derived fields mutate afterwards.
type Position struct {
	ID              string            `json:"id"`
	Underlying      string            `json:"underlying"`
	Strategy        StrategyKind      `json:"strategy"`
	Quantity        int               `json:"quantity"`
	AvgEntryPrice   float64           `json:"avg_entry_price"`
	State           LifecycleState    `json:"state"`
	OpeningOrderID  string            `json:"opening_order_id,omitempty"`
	ProfitTargetIDs map[string]string `json:"profit_target_ids,omitempty"`
	Automation      *Automation       `json:"automation,omitempty"`
	Legs            []Leg             `json:"legs"`
	OpenedAt        time.Time         `json:"opened_at"`
	ClosedAt        time.Time         `json:"closed_at,omitempty"`
	ClosureReason   ClosureReason     `json:"closure_reason,omitempty"`
}

// NewPosition creates an open_full position with its immutable leg metadata.
// An empty id gets a generated one. The legs slice is copied so callers
// cannot mutate it afterwards.
func NewPosition(id, underlying string, strategy StrategyKind, openingOrderID string, legs []Leg, quantity int, openedAt time.Time) (*Position, error) {
	if strings.TrimSpace(id) == "" {
		id = uuid.New().String()
	}
	if strings.TrimSpace(underlying) == "" {
		return nil, fmt.Errorf("position %s: underlying is required", id)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("position %s: quantity must be > 0 (got %d)", id, quantity)
	}
	if openedAt.IsZero() {
		return nil, fmt.Errorf("position %s: opened_at is required", id)
	}
	for i, leg := range legs {
		if leg.OCCSymbol == "" {
			return nil, fmt.Errorf("position %s: leg %d has empty OCC symbol", id, i)
		}
		if !leg.Action.Valid() {
			return nil, fmt.Errorf("position %s: leg %d has invalid action %q", id, i, leg.Action)
		}
	}
	copied := make([]Leg, len(legs))
	copy(copied, legs)
	return &Position{
		ID:             id,
		Underlying:     underlying,
		Strategy:       strategy,
		Quantity:       quantity,
		State:          StateOpenFull,
		OpeningOrderID: openingOrderID,
		Legs:           copied,
		OpenedAt:       openedAt.UTC(),
	}, nil
}

// HasOpeningOrder reports whether the position carries an attributable
// opening order id. Legacy rows entered by hand do not.
func (p *Position) HasOpeningOrder() bool {
	return strings.TrimSpace(p.OpeningOrderID) != ""
}

// IsClosed reports whether the position has left the book.
func (p *Position) IsClosed() bool {
	return p.State == StateClosed
}

// LegSymbols returns the distinct OCC symbols of the position's own leg
// metadata, in first-seen order.
func (p *Position) LegSymbols() []string {
	seen := make(map[string]struct{}, len(p.Legs))
	symbols := make([]string, 0, len(p.Legs))
	for _, leg := range p.Legs {
		if _, ok := seen[leg.OCCSymbol]; ok {
			continue
		}
		seen[leg.OCCSymbol] = struct{}{}
		symbols = append(symbols, leg.OCCSymbol)
	}
	return symbols
}

// HasLegSymbol reports whether symbol appears in the position's leg metadata.
func (p *Position) HasLegSymbol(symbol string) bool {
	for _, leg := range p.Legs {
		if leg.OCCSymbol == symbol {
			return true
		}
	}
	return false
}

// AutomationClosingOrderID returns the closing order id attached by a
// scheduled closure action, or "" when none exists.
func (p *Position) AutomationClosingOrderID() string {
	if p.Automation == nil {
		return ""
	}
	return p.Automation.ClosingOrderID
}

// TransitionState moves the position to a new lifecycle state after
// validating the transition. Closing stamps ClosedAt once and records the
// reason; reopening (audit corrections only) clears both.
func (p *Position) TransitionState(to LifecycleState, reason ClosureReason, at time.Time) error {
	if err := ValidateTransition(p.State, to); err != nil {
		return fmt.Errorf("position %s: %w", p.ID, err)
	}
	from := p.State
	p.State = to

	switch {
	case to == StateClosed:
		if p.ClosedAt.IsZero() {
			p.ClosedAt = at.UTC()
		}
		if p.ClosureReason == "" {
			if reason == "" {
				reason = ReasonUnknown
			}
			p.ClosureReason = reason
		}
	case from == StateClosed:
		// Reopened by an audit correction; closure fields no longer apply.
		p.ClosedAt = time.Time{}
		p.ClosureReason = ""
	}
	return nil
}

// Validate checks internal consistency between state and lifecycle fields.
func (p *Position) Validate() error {
	if !p.State.Valid() {
		return fmt.Errorf("position %s: invalid lifecycle state %q", p.ID, p.State)
	}
	if p.State == StateClosed {
		if p.ClosedAt.IsZero() {
			return fmt.Errorf("position %s: closed positions must have closed_at", p.ID)
		}
		if p.ClosureReason == "" {
			return fmt.Errorf("position %s: closed positions must have a closure_reason", p.ID)
		}
		if !p.OpenedAt.Before(p.ClosedAt) {
			return fmt.Errorf("position %s: opened_at (%v) must be before closed_at (%v)",
				p.ID, p.OpenedAt, p.ClosedAt)
		}
	} else {
		if !p.ClosedAt.IsZero() {
			return fmt.Errorf("position %s in state %s: closed_at must be zero", p.ID, p.State)
		}
		if p.ClosureReason != "" {
			return fmt.Errorf("position %s in state %s: closure_reason must be empty", p.ID, p.State)
		}
	}
	return nil
}

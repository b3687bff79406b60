// Package audit cross-checks stored lifecycle state against order history and
// the broker snapshot by process of elimination, and proposes corrections.
// It never applies them: the operator is the final gate before any write.
package audit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/broker"
	"github.com/eddiefleurent/schrute_books/internal/lifecycle"
	"github.com/eddiefleurent/schrute_books/internal/matcher"
	"github.com/eddiefleurent/schrute_books/internal/models"
	"github.com/eddiefleurent/schrute_books/internal/occ"
	"github.com/eddiefleurent/schrute_books/internal/storage"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultLookbackDays bounds how far back order history is trusted.
	// Older opening orders are unverifiable and go to manual review.
	DefaultLookbackDays = 90

	defaultFetchTimeout = 8 * time.Second
	quantityEpsilon     = 1e-6
)

// ActionTag names the state-changing action a correction proposes.
type ActionTag string

const (
	// ActionMarkClosed proposes transitioning the position to closed.
	ActionMarkClosed ActionTag = "mark_closed"
	// ActionMarkOpenFull proposes transitioning the position to open_full.
	ActionMarkOpenFull ActionTag = "mark_open_full"
	// ActionMarkOpenPartial proposes transitioning the position to open_partial.
	ActionMarkOpenPartial ActionTag = "mark_open_partial"
	// ActionManualReview flags a position the auditor cannot verify.
	ActionManualReview ActionTag = "manual_review"
)

// FollowUpCloseChildTrades accompanies mark_closed corrections: any child
// trade records still marked active must be closed alongside the position.
const FollowUpCloseChildTrades = "close_child_trades"

// Correction is one proposed state change (or review flag) for a position.
type Correction struct {
	PositionID   string                `json:"position_id"`
	Underlying   string                `json:"underlying"`
	CurrentState models.LifecycleState `json:"current_state"`
	CorrectState models.LifecycleState `json:"correct_state,omitempty"`
	Action       ActionTag             `json:"action"`
	FollowUp     string                `json:"follow_up,omitempty"`
	LegsOpen     int                   `json:"legs_open"`
	LegsTotal    int                   `json:"legs_total"`
	Note         string                `json:"note,omitempty"`
}

// UnaccountedLeg is a broker-reported symbol never claimed by any matched
// position - the signature of a manually placed or unmatchable external
// position.
type UnaccountedLeg struct {
	OCCSymbol  string  `json:"occ_symbol"`
	Underlying string  `json:"underlying"`
	Expiration string  `json:"expiration,omitempty"`
	Quantity   float64 `json:"quantity"`
}

// Plan is the auditor's structured output: proposed corrections, manual
// review items, and unaccounted broker legs. Nothing in it has been applied.
type Plan struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	LookbackDays    int              `json:"lookback_days"`
	Corrections     []Correction     `json:"corrections"`
	ManualReview    []Correction     `json:"manual_review"`
	UnaccountedLegs []UnaccountedLeg `json:"unaccounted_legs"`

	PositionsAudited int `json:"positions_audited"`
	AcceptedClosed   int `json:"accepted_closed"`
	StatesAgree      int `json:"states_agree"`
}

// HasFindings reports whether the plan contains anything an operator should
// look at.
func (p *Plan) HasFindings() bool {
	return len(p.Corrections) > 0 || len(p.ManualReview) > 0 || len(p.UnaccountedLegs) > 0
}

// Config holds explicit auditor configuration.
type Config struct {
	LookbackDays int
	FetchTimeout time.Duration
}

// Auditor builds correction plans from a full export of broker snapshot,
// stored positions, and bounded order history.
type Auditor struct {
	broker       broker.Broker
	storage      storage.Interface
	logger       *logrus.Logger
	lookbackDays int
	fetchTimeout time.Duration
}

// New creates an auditor.
func New(b broker.Broker, store storage.Interface, logger *logrus.Logger, cfg Config) *Auditor {
	if logger == nil {
		logger = logrus.New()
	}
	lookback := cfg.LookbackDays
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Auditor{
		broker:       b,
		storage:      store,
		logger:       logger,
		lookbackDays: lookback,
		fetchTimeout: timeout,
	}
}

// BuildPlan runs the process-of-elimination audit and returns the plan.
func (a *Auditor) BuildPlan(ctx context.Context) (*Plan, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer cancel()
	snapshot, err := a.broker.GetPositionsCtx(fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("no snapshot available, cannot audit: %w", err)
	}

	positions, err := a.storage.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}
	orders, err := a.storage.GetCachedOrders()
	if err != nil {
		return nil, fmt.Errorf("loading cached orders: %w", err)
	}

	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -a.lookbackDays)

	// Only orders inside the lookback window count as evidence.
	var windowOrders []models.CachedOrder
	for _, order := range orders {
		if !order.CreatedAt.Before(cutoff) {
			windowOrders = append(windowOrders, order)
		}
	}

	m := matcher.New(windowOrders, positions)
	plan := &Plan{
		GeneratedAt:  now,
		LookbackDays: a.lookbackDays,
	}
	claimed := make(map[string]struct{})

	for i := range positions {
		p := &positions[i]
		plan.PositionsAudited++

		if !p.HasOpeningOrder() {
			plan.ManualReview = append(plan.ManualReview, Correction{
				PositionID:   p.ID,
				Underlying:   p.Underlying,
				CurrentState: p.State,
				Action:       ActionManualReview,
				Note:         "no opening order id; legs cannot be attributed",
			})
			continue
		}

		if m.Unattributable(p) {
			// Opening order exists but predates the window (or was never
			// cached). A closed position is accepted as likely correct;
			// an open one is unverifiable without deeper history.
			if p.IsClosed() {
				plan.AcceptedClosed++
				continue
			}
			plan.ManualReview = append(plan.ManualReview, Correction{
				PositionID:   p.ID,
				Underlying:   p.Underlying,
				CurrentState: p.State,
				Action:       ActionManualReview,
				Note: fmt.Sprintf("opening order %s outside %d-day lookback window",
					p.OpeningOrderID, a.lookbackDays),
			})
			continue
		}

		for _, symbol := range m.SymbolsOf(p) {
			claimed[symbol] = struct{}{}
		}

		open, total := m.OpenLegCount(p, snapshot)
		correct := lifecycle.Classify(open, total)
		if correct == p.State {
			plan.StatesAgree++
			continue
		}

		correction := Correction{
			PositionID:   p.ID,
			Underlying:   p.Underlying,
			CurrentState: p.State,
			CorrectState: correct,
			Action:       actionFor(correct),
			LegsOpen:     open,
			LegsTotal:    total,
		}
		if correct == models.StateClosed {
			correction.FollowUp = FollowUpCloseChildTrades
		}
		plan.Corrections = append(plan.Corrections, correction)
	}

	plan.UnaccountedLegs = unaccountedLegs(snapshot, claimed)
	return plan, nil
}

func actionFor(state models.LifecycleState) ActionTag {
	switch state {
	case models.StateClosed:
		return ActionMarkClosed
	case models.StateOpenPartial:
		return ActionMarkOpenPartial
	default:
		return ActionMarkOpenFull
	}
}

// unaccountedLegs returns snapshot symbols with live quantity that no matched
// position claims, grouped by expiration then symbol for stable output.
func unaccountedLegs(snapshot []broker.SnapshotEntry, claimed map[string]struct{}) []UnaccountedLeg {
	quantities := matcher.QuantitiesBySymbol(snapshot)

	var legs []UnaccountedLeg
	for symbol, quantity := range quantities {
		if math.Abs(quantity) <= quantityEpsilon {
			continue
		}
		if _, ok := claimed[symbol]; ok {
			continue
		}
		legs = append(legs, UnaccountedLeg{
			OCCSymbol:  symbol,
			Underlying: occ.Underlying(symbol),
			Expiration: occ.ExpirationDate(symbol),
			Quantity:   quantity,
		})
	}
	sort.Slice(legs, func(i, j int) bool {
		if legs[i].Expiration != legs[j].Expiration {
			return legs[i].Expiration < legs[j].Expiration
		}
		return legs[i].OCCSymbol < legs[j].OCCSymbol
	})
	return legs
}

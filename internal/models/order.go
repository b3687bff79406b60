package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LegAction is the normalized open/close × buy/sell action of a leg or fill.
//
// Upstream data carries these inconsistently ("Sell to Open", "sell_to_open",
// an enum-ish code, ...); ParseLegAction normalizes once at ingestion and
// nothing downstream re-inspects raw strings.
type LegAction string

const (
	// BuyToOpen opens a long contract.
	BuyToOpen LegAction = "buy_to_open"
	// SellToOpen opens a short contract.
	SellToOpen LegAction = "sell_to_open"
	// BuyToClose closes a short contract.
	BuyToClose LegAction = "buy_to_close"
	// SellToClose closes a long contract.
	SellToClose LegAction = "sell_to_close"
)

// Valid returns true if the action is one of the defined constants.
func (a LegAction) Valid() bool {
	switch a {
	case BuyToOpen, SellToOpen, BuyToClose, SellToClose:
		return true
	default:
		return false
	}
}

// IsClosing reports whether the action denotes a closing fill.
func (a LegAction) IsClosing() bool {
	return a == BuyToClose || a == SellToClose
}

// IsOpening reports whether the action denotes an opening fill.
func (a LegAction) IsOpening() bool {
	return a == BuyToOpen || a == SellToOpen
}

// ParseLegAction normalizes an upstream action string into a LegAction.
// Accepts snake_case, spaced, and mixed-case forms.
func ParseLegAction(raw string) (LegAction, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	a := LegAction(normalized)
	if !a.Valid() {
		return "", fmt.Errorf("unrecognized leg action %q", raw)
	}
	return a, nil
}

// OrderStatus mirrors the broker's order lifecycle states.
type OrderStatus string

const (
	// OrderStatusFilled means the order executed completely.
	OrderStatusFilled OrderStatus = "filled"
	// OrderStatusPartiallyFilled means part of the requested quantity executed.
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	// OrderStatusOpen means the order is still working.
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusCanceled means the order was canceled before filling.
	OrderStatusCanceled OrderStatus = "canceled"
	// OrderStatusRejected means the broker refused the order.
	OrderStatusRejected OrderStatus = "rejected"
	// OrderStatusExpired means the order lapsed unfilled.
	OrderStatusExpired OrderStatus = "expired"
)

// Fill is one execution against a leg.
type Fill struct {
	Price    float64   `json:"price"`
	Quantity int       `json:"quantity"`
	Time     time.Time `json:"time"`
}

// OrderLeg is one contract of a placed order with its fill history.
type OrderLeg struct {
	OCCSymbol string    `json:"occ_symbol"`
	Action    LegAction `json:"action"`
	Quantity  int       `json:"quantity"`
	Fills     []Fill    `json:"fills,omitempty"`
}

// CachedOrder is an immutable record of a previously placed order.
// Rows are append-only: a refresh replaces the cached window wholesale
// rather than editing records in place.
type CachedOrder struct {
	ID         int64       `json:"id"`
	Status     OrderStatus `json:"status"`
	Underlying string      `json:"underlying"`
	CreatedAt  time.Time   `json:"created_at"`
	Legs       []OrderLeg  `json:"legs"`
}

// CanonicalOrderID normalizes an order id for comparison. Broker ids are
// numeric but upstream caches sometimes stringify them with padding, so
// numeric forms collapse to their canonical decimal representation and
// anything else compares verbatim.
func CanonicalOrderID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return s
}

// FormatOrderID renders a broker-side numeric order id in canonical form.
func FormatOrderID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// LegSymbols returns the distinct OCC symbols across the order's legs,
// in first-seen order.
func (o *CachedOrder) LegSymbols() []string {
	seen := make(map[string]struct{}, len(o.Legs))
	symbols := make([]string, 0, len(o.Legs))
	for _, leg := range o.Legs {
		if _, ok := seen[leg.OCCSymbol]; ok {
			continue
		}
		seen[leg.OCCSymbol] = struct{}{}
		symbols = append(symbols, leg.OCCSymbol)
	}
	return symbols
}

package models

import "time"

// FeeBreakdown itemizes the costs attached to a fill.
type FeeBreakdown struct {
	Commission float64 `json:"commission"`
	Regulatory float64 `json:"regulatory"`
	Other      float64 `json:"other"`
}

// Total returns the combined fees for the transaction.
func (f FeeBreakdown) Total() float64 {
	return f.Commission + f.Regulatory + f.Other
}

// Transaction is a ground-truth fill record. Rows are immutable once written
// except for RelatedPosition, which the transaction linker sets exactly once
// and never reassigns.
type Transaction struct {
	ID              string       `json:"id"`
	OrderID         string       `json:"order_id,omitempty"`
	Action          LegAction    `json:"action"`
	OCCSymbol       string       `json:"occ_symbol,omitempty"`
	Underlying      string       `json:"underlying"`
	Quantity        int          `json:"quantity"`
	Price           float64      `json:"price"`
	Value           float64      `json:"value"`
	Fees            FeeBreakdown `json:"fees"`
	ExecutedAt      time.Time    `json:"executed_at"`
	RelatedPosition string       `json:"related_position,omitempty"`
}

// Linked reports whether the transaction has already been attributed to a
// position.
func (t *Transaction) Linked() bool {
	return t.RelatedPosition != ""
}

// HasOrderID reports whether the broker attributed an order id to the fill.
func (t *Transaction) HasOrderID() bool {
	return t.OrderID != ""
}

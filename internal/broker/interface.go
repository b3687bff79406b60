// Package broker provides access to brokerage order history, account events,
// and the aggregate position snapshot used for reconciliation.
package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/models"
	"github.com/sony/gobreaker"
)

// SnapshotEntry is the brokerage's aggregate truth for one contract symbol at
// fetch time: all positions sharing that symbol are pooled into one signed
// quantity. Ephemeral; never persisted.
type SnapshotEntry struct {
	OCCSymbol  string  `json:"symbol"`
	Underlying string  `json:"underlying"`
	Quantity   float64 `json:"quantity"` // positive=long, negative=short
	AvgPrice   float64 `json:"avg_price"`
	Mark       float64 `json:"mark"`
}

// Broker defines the brokerage operations the reconciliation engine consumes.
//
// GetPositionsCtx errors must be treated as "no snapshot available", never as
// an empty account: a missing snapshot is not evidence of closure.
type Broker interface {
	// GetPositionsCtx returns the current aggregate open contracts.
	GetPositionsCtx(ctx context.Context) ([]SnapshotEntry, error)

	// GetOrdersCtx returns orders placed since the given time, each with its
	// leg composition and fill history. Leg actions are normalized at
	// ingestion.
	GetOrdersCtx(ctx context.Context, since time.Time) ([]models.CachedOrder, error)

	// GetOrderStatusCtx returns a single order by broker order id.
	GetOrderStatusCtx(ctx context.Context, orderID int64) (*models.CachedOrder, error)

	// GetAccountEventsCtx returns fill transactions recorded since the given
	// time.
	GetAccountEventsCtx(ctx context.Context, since time.Time) ([]models.Transaction, error)
}

// Ensure TradierAPI implements Broker at compile time.
var _ Broker = (*TradierAPI)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so a
// flapping brokerage API cannot stall every sync cycle.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with
// custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GetPositionsCtx wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetPositionsCtx(ctx context.Context) ([]SnapshotEntry, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]SnapshotEntry, error) {
		return b.GetPositionsCtx(ctx)
	})
}

// GetOrdersCtx wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOrdersCtx(ctx context.Context, since time.Time) ([]models.CachedOrder, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.CachedOrder, error) {
		return b.GetOrdersCtx(ctx, since)
	})
}

// GetOrderStatusCtx wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOrderStatusCtx(ctx context.Context, orderID int64) (*models.CachedOrder, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.CachedOrder, error) {
		return b.GetOrderStatusCtx(ctx, orderID)
	})
}

// GetAccountEventsCtx wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetAccountEventsCtx(ctx context.Context, since time.Time) ([]models.Transaction, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.Transaction, error) {
		return b.GetAccountEventsCtx(ctx, since)
	})
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

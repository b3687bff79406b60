// Package orders maintains the cached order ledger the matching engine reads:
// a bounded window of immutable order records and the fill transactions the
// broker reports alongside them.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/broker"
	"github.com/eddiefleurent/schrute_books/internal/storage"
	"github.com/sirupsen/logrus"
)

// Config contains configuration for the order ledger.
type Config struct {
	// LookbackDays bounds the order-history window. Orders older than this
	// are treated as unverifiable by downstream consumers.
	LookbackDays int
	// CallTimeout bounds each broker call.
	CallTimeout time.Duration
}

// DefaultConfig is the default configuration for the order ledger.
var DefaultConfig = Config{
	LookbackDays: 90,
	CallTimeout:  10 * time.Second,
}

// Ledger refreshes and serves the cached order window.
type Ledger struct {
	broker  broker.Broker
	storage storage.Interface
	logger  *logrus.Logger
	config  Config
}

// NewLedger creates a new order ledger instance.
func NewLedger(b broker.Broker, store storage.Interface, logger *logrus.Logger, config ...Config) *Ledger {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultConfig.LookbackDays
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	if b == nil {
		panic("orders.NewLedger: broker must not be nil")
	}
	if store == nil {
		panic("orders.NewLedger: storage must not be nil")
	}
	return &Ledger{broker: b, storage: store, logger: logger, config: cfg}
}

// WindowStart returns the beginning of the current lookback window.
func (l *Ledger) WindowStart() time.Time {
	return time.Now().UTC().AddDate(0, 0, -l.config.LookbackDays)
}

// Refresh replaces the cached order window with the broker's current view.
// Returns the number of orders cached.
func (l *Ledger) Refresh(ctx context.Context) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.config.CallTimeout)
	defer cancel()

	since := l.WindowStart()
	orders, err := l.broker.GetOrdersCtx(callCtx, since)
	if err != nil {
		return 0, fmt.Errorf("refreshing order window: %w", err)
	}
	if err := l.storage.ReplaceOrderWindow(orders); err != nil {
		return 0, fmt.Errorf("persisting order window: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"orders": len(orders),
		"since":  since.Format("2006-01-02"),
	}).Debug("order window refreshed")
	return len(orders), nil
}

// IngestEvents pulls fill transactions recorded inside the window into
// storage. Ingestion is idempotent: overlapping windows re-add the same
// transaction ids as no-ops.
func (l *Ledger) IngestEvents(ctx context.Context) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.config.CallTimeout)
	defer cancel()

	txs, err := l.broker.GetAccountEventsCtx(callCtx, l.WindowStart())
	if err != nil {
		return 0, fmt.Errorf("fetching account events: %w", err)
	}

	ingested := 0
	for _, tx := range txs {
		if err := l.storage.AddTransaction(tx); err != nil {
			l.logger.WithError(err).WithField("transaction", tx.ID).
				Error("failed to store transaction")
			continue
		}
		ingested++
	}
	return ingested, nil
}

// Package retry wraps the broker snapshot fetch with bounded retries so a
// transient brokerage hiccup does not cost a whole sync cycle.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/broker"
	"github.com/eddiefleurent/schrute_books/internal/models"
	"github.com/sirupsen/logrus"
)

// Config tunes the retry behavior.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is the default retry configuration.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries transient snapshot-fetch failures with backoff and jitter.
// Permanent errors (auth, bad request) surface immediately. It implements
// broker.Broker so it can sit between the circuit breaker and consumers;
// only the snapshot fetch is retried, the other calls pass straight through.
type Client struct {
	broker broker.Broker
	logger *logrus.Logger
	config Config
}

var _ broker.Broker = (*Client)(nil)

// NewClient creates a retrying snapshot fetcher.
func NewClient(b broker.Broker, logger *logrus.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{broker: b, logger: logger, config: cfg}
}

// GetPositionsWithRetry fetches the broker snapshot, retrying transient
// failures. Exhaustion returns the last error; callers treat any error as
// "no snapshot available".
func (c *Client) GetPositionsWithRetry(ctx context.Context) ([]broker.SnapshotEntry, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := fetchCtx.Err(); err != nil {
			return nil, fmt.Errorf("snapshot fetch timed out after %v: %w", c.config.Timeout, err)
		}

		snapshot, err := c.broker.GetPositionsCtx(fetchCtx)
		if err == nil {
			return snapshot, nil
		}

		lastErr = err
		c.logger.WithError(err).WithField("attempt", attempt+1).
			Warn("snapshot fetch failed")

		if c.isTransientError(err) && attempt < c.config.MaxRetries {
			select {
			case <-time.After(backoff):
				backoff = c.calculateNextBackoff(backoff)
			case <-fetchCtx.Done():
				return nil, fmt.Errorf("snapshot fetch timed out during backoff: %w", fetchCtx.Err())
			}
		} else {
			break
		}
	}

	return nil, fmt.Errorf("snapshot unavailable after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// GetPositionsCtx satisfies broker.Broker by delegating to the retrying fetch.
func (c *Client) GetPositionsCtx(ctx context.Context) ([]broker.SnapshotEntry, error) {
	return c.GetPositionsWithRetry(ctx)
}

// GetOrdersCtx passes through to the wrapped broker.
func (c *Client) GetOrdersCtx(ctx context.Context, since time.Time) ([]models.CachedOrder, error) {
	return c.broker.GetOrdersCtx(ctx, since)
}

// GetOrderStatusCtx passes through to the wrapped broker.
func (c *Client) GetOrderStatusCtx(ctx context.Context, orderID int64) (*models.CachedOrder, error) {
	return c.broker.GetOrderStatusCtx(ctx, orderID)
}

// GetAccountEventsCtx passes through to the wrapped broker.
func (c *Client) GetAccountEventsCtx(ctx context.Context, since time.Time) ([]models.Transaction, error) {
	return c.broker.GetAccountEventsCtx(ctx, since)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Warn("failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

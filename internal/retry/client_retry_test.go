package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/broker"
	"github.com/eddiefleurent/schrute_books/internal/models"
)

type flakyBroker struct {
	failures  int
	err       error
	snapshot  []broker.SnapshotEntry
	callCount int
}

func (f *flakyBroker) GetPositionsCtx(context.Context) ([]broker.SnapshotEntry, error) {
	f.callCount++
	if f.callCount <= f.failures {
		return nil, f.err
	}
	return f.snapshot, nil
}

func (f *flakyBroker) GetOrdersCtx(context.Context, time.Time) ([]models.CachedOrder, error) {
	return nil, nil
}

func (f *flakyBroker) GetOrderStatusCtx(context.Context, int64) (*models.CachedOrder, error) {
	return nil, errors.New("not implemented")
}

func (f *flakyBroker) GetAccountEventsCtx(context.Context, time.Time) ([]models.Transaction, error) {
	return nil, nil
}

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func TestGetPositionsWithRetryRecoversFromTransientFailure(t *testing.T) {
	b := &flakyBroker{
		failures: 2,
		err:      errors.New("connection reset by peer"),
		snapshot: []broker.SnapshotEntry{{OCCSymbol: "SPY240315P00480000", Quantity: -1}},
	}
	c := NewClient(b, nil, fastConfig())

	snapshot, err := c.GetPositionsWithRetry(context.Background())
	if err != nil {
		t.Fatalf("expected recovery, got: %v", err)
	}
	if len(snapshot) != 1 {
		t.Errorf("snapshot = %+v, expected 1 entry", snapshot)
	}
	if b.callCount != 3 {
		t.Errorf("call count = %d, expected 3", b.callCount)
	}
}

func TestGetPositionsWithRetryPermanentErrorFailsFast(t *testing.T) {
	b := &flakyBroker{
		failures: 100,
		err:      errors.New("401 unauthorized"),
	}
	c := NewClient(b, nil, fastConfig())

	if _, err := c.GetPositionsWithRetry(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if b.callCount != 1 {
		t.Errorf("call count = %d, expected 1 (no retries on permanent errors)", b.callCount)
	}
}

func TestGetPositionsWithRetryExhaustion(t *testing.T) {
	b := &flakyBroker{
		failures: 100,
		err:      errors.New("503 service unavailable"),
	}
	c := NewClient(b, nil, fastConfig())

	if _, err := c.GetPositionsWithRetry(context.Background()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if b.callCount != 4 {
		t.Errorf("call count = %d, expected 4 (1 initial + 3 retries)", b.callCount)
	}
}

func TestGetPositionsWithRetryHonorsContextCancellation(t *testing.T) {
	b := &flakyBroker{
		failures: 100,
		err:      errors.New("timeout"),
	}
	cfg := fastConfig()
	cfg.InitialBackoff = time.Minute // force the backoff path to block
	c := NewClient(b, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if _, err := c.GetPositionsWithRetry(ctx); err == nil {
		t.Fatal("expected error after cancellation")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v, expected prompt return", elapsed)
	}
}

func TestIsTransientError(t *testing.T) {
	c := NewClient(&flakyBroker{}, nil)

	transient := []string{
		"dial tcp: connection refused",
		"request timeout",
		"HTTP 429 Too Many Requests",
		"HTTP 502 Bad Gateway",
		"rate limit exceeded",
		"dns lookup failed",
	}
	for _, msg := range transient {
		if !c.isTransientError(errors.New(msg)) {
			t.Errorf("expected %q to be transient", msg)
		}
	}

	permanent := []string{
		"401 unauthorized",
		"invalid account id",
		"400 bad request",
	}
	for _, msg := range permanent {
		if c.isTransientError(errors.New(msg)) {
			t.Errorf("expected %q to be permanent", msg)
		}
	}

	if c.isTransientError(nil) {
		t.Error("nil error must not be transient")
	}
}

func TestCalculateNextBackoffCapped(t *testing.T) {
	c := NewClient(&flakyBroker{}, nil, Config{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     2 * time.Second,
		Timeout:        time.Minute,
	})

	backoff := time.Second
	for i := 0; i < 10; i++ {
		backoff = c.calculateNextBackoff(backoff)
		// Jitter adds at most a quarter on top of the cap.
		if backoff > 2*time.Second+2*time.Second/4 {
			t.Fatalf("backoff %v exceeded cap with jitter", backoff)
		}
	}
}

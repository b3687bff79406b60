package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/broker"
	"github.com/eddiefleurent/schrute_books/internal/models"
	"github.com/eddiefleurent/schrute_books/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	snapshot []broker.SnapshotEntry
	err      error
}

func (f *fakeBroker) GetPositionsCtx(context.Context) ([]broker.SnapshotEntry, error) {
	return f.snapshot, f.err
}

func (f *fakeBroker) GetOrdersCtx(context.Context, time.Time) ([]models.CachedOrder, error) {
	return nil, nil
}

func (f *fakeBroker) GetOrderStatusCtx(context.Context, int64) (*models.CachedOrder, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBroker) GetAccountEventsCtx(context.Context, time.Time) ([]models.Transaction, error) {
	return nil, nil
}

var _ broker.Broker = (*fakeBroker)(nil)

const (
	auditPutShort = "SPY240315P00480000"
	auditPutLong  = "SPY240315P00470000"
)

func auditLegs() []models.Leg {
	return []models.Leg{
		{OCCSymbol: auditPutShort, Action: models.SellToOpen},
		{OCCSymbol: auditPutLong, Action: models.BuyToOpen},
	}
}

func auditOrder(id int64, createdAt time.Time) models.CachedOrder {
	return models.CachedOrder{
		ID:         id,
		Status:     models.OrderStatusFilled,
		Underlying: "SPY",
		CreatedAt:  createdAt,
		Legs: []models.OrderLeg{
			{OCCSymbol: auditPutShort, Action: models.SellToOpen, Quantity: 1},
			{OCCSymbol: auditPutLong, Action: models.BuyToOpen, Quantity: 1},
		},
	}
}

func auditPosition(t *testing.T, id, orderID string, openedAt time.Time) models.Position {
	t.Helper()
	p, err := models.NewPosition(id, "SPY", models.StrategyVertical, orderID, auditLegs(), 1, openedAt)
	require.NoError(t, err)
	return *p
}

func TestBuildPlanSnapshotFailureAbortsAudit(t *testing.T) {
	store := storage.NewMockStorage()
	a := New(&fakeBroker{err: errors.New("timeout")}, store, nil, Config{})

	plan, err := a.BuildPlan(context.Background())
	require.Error(t, err)
	assert.Nil(t, plan, "no snapshot means no plan, not an empty plan")
}

func TestBuildPlanStatesAgree(t *testing.T) {
	now := time.Now().UTC()
	store := storage.NewMockStorage()
	store.SeedPositions(auditPosition(t, "pos-1", "100", now.Add(-24*time.Hour)))
	store.SeedOrders(auditOrder(100, now.Add(-24*time.Hour)))

	b := &fakeBroker{snapshot: []broker.SnapshotEntry{
		{OCCSymbol: auditPutShort, Underlying: "SPY", Quantity: -1},
		{OCCSymbol: auditPutLong, Underlying: "SPY", Quantity: 1},
	}}

	plan, err := New(b, store, nil, Config{}).BuildPlan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, plan.StatesAgree)
	assert.False(t, plan.HasFindings())
	assert.Contains(t, plan.Report(), "No discrepancies detected")
}

func TestBuildPlanProposesMarkClosed(t *testing.T) {
	now := time.Now().UTC()
	store := storage.NewMockStorage()
	store.SeedPositions(auditPosition(t, "pos-1", "100", now.Add(-24*time.Hour)))
	store.SeedOrders(auditOrder(100, now.Add(-24*time.Hour)))

	// Both legs gone from the broker.
	b := &fakeBroker{snapshot: nil}

	plan, err := New(b, store, nil, Config{}).BuildPlan(context.Background())
	require.NoError(t, err)

	require.Len(t, plan.Corrections, 1)
	c := plan.Corrections[0]
	assert.Equal(t, ActionMarkClosed, c.Action)
	assert.Equal(t, models.StateClosed, c.CorrectState)
	assert.Equal(t, FollowUpCloseChildTrades, c.FollowUp)
	assert.True(t, plan.HasFindings())
	assert.Contains(t, plan.Report(), "PROPOSED CORRECTIONS")
}

func TestBuildPlanProposesReopen(t *testing.T) {
	now := time.Now().UTC()
	p := auditPosition(t, "pos-1", "100", now.Add(-48*time.Hour))
	require.NoError(t, p.TransitionState(models.StateClosed, models.ReasonManualClose, now.Add(-24*time.Hour)))

	store := storage.NewMockStorage()
	store.SeedPositions(p)
	store.SeedOrders(auditOrder(100, now.Add(-48*time.Hour)))

	b := &fakeBroker{snapshot: []broker.SnapshotEntry{
		{OCCSymbol: auditPutShort, Underlying: "SPY", Quantity: -1},
		{OCCSymbol: auditPutLong, Underlying: "SPY", Quantity: 1},
	}}

	plan, err := New(b, store, nil, Config{}).BuildPlan(context.Background())
	require.NoError(t, err)

	require.Len(t, plan.Corrections, 1)
	assert.Equal(t, ActionMarkOpenFull, plan.Corrections[0].Action)
	assert.Empty(t, plan.Corrections[0].FollowUp)
}

func TestBuildPlanOutOfWindowClosedAccepted(t *testing.T) {
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -120)
	p := auditPosition(t, "pos-old", "100", old)
	require.NoError(t, p.TransitionState(models.StateClosed, models.ReasonProfitTarget, old.Add(24*time.Hour)))

	store := storage.NewMockStorage()
	store.SeedPositions(p)
	store.SeedOrders(auditOrder(100, old)) // predates the 90-day window

	plan, err := New(&fakeBroker{}, store, nil, Config{}).BuildPlan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, plan.AcceptedClosed)
	assert.Empty(t, plan.ManualReview)
	assert.Empty(t, plan.Corrections)
}

func TestBuildPlanOutOfWindowOpenNeedsReview(t *testing.T) {
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -120)

	store := storage.NewMockStorage()
	store.SeedPositions(auditPosition(t, "pos-old", "100", old))
	store.SeedOrders(auditOrder(100, old))

	plan, err := New(&fakeBroker{}, store, nil, Config{}).BuildPlan(context.Background())
	require.NoError(t, err)

	require.Len(t, plan.ManualReview, 1)
	assert.Equal(t, ActionManualReview, plan.ManualReview[0].Action)
	assert.Contains(t, plan.ManualReview[0].Note, "lookback window")
	assert.Empty(t, plan.Corrections, "stale history must never auto-correct")
	assert.Contains(t, plan.Report(), "MANUAL REVIEW REQUIRED")
}

func TestBuildPlanNoOpeningOrderNeedsReview(t *testing.T) {
	now := time.Now().UTC()
	store := storage.NewMockStorage()
	store.SeedPositions(auditPosition(t, "pos-legacy", "", now.Add(-24*time.Hour)))

	plan, err := New(&fakeBroker{}, store, nil, Config{}).BuildPlan(context.Background())
	require.NoError(t, err)

	require.Len(t, plan.ManualReview, 1)
	assert.Contains(t, plan.ManualReview[0].Note, "no opening order")
}

func TestBuildPlanUnaccountedLegs(t *testing.T) {
	now := time.Now().UTC()
	store := storage.NewMockStorage()
	store.SeedPositions(auditPosition(t, "pos-1", "100", now.Add(-24*time.Hour)))
	store.SeedOrders(auditOrder(100, now.Add(-24*time.Hour)))

	foreign := "QQQ240419C00430000"
	b := &fakeBroker{snapshot: []broker.SnapshotEntry{
		{OCCSymbol: auditPutShort, Underlying: "SPY", Quantity: -1},
		{OCCSymbol: auditPutLong, Underlying: "SPY", Quantity: 1},
		{OCCSymbol: foreign, Underlying: "QQQ", Quantity: -2},
	}}

	plan, err := New(b, store, nil, Config{}).BuildPlan(context.Background())
	require.NoError(t, err)

	require.Len(t, plan.UnaccountedLegs, 1)
	leg := plan.UnaccountedLegs[0]
	assert.Equal(t, foreign, leg.OCCSymbol)
	assert.Equal(t, "QQQ", leg.Underlying)
	assert.Equal(t, "2024-04-19", leg.Expiration)
	assert.Equal(t, -2.0, leg.Quantity)
	assert.Contains(t, plan.Report(), "UNACCOUNTED BROKER LEGS")
}

func TestBuildPlanUnaccountedLegsSortedByExpiration(t *testing.T) {
	store := storage.NewMockStorage()
	b := &fakeBroker{snapshot: []broker.SnapshotEntry{
		{OCCSymbol: "SPY240621P00450000", Underlying: "SPY", Quantity: -1},
		{OCCSymbol: "SPY240315P00480000", Underlying: "SPY", Quantity: -1},
		{OCCSymbol: "SPY240315C00520000", Underlying: "SPY", Quantity: 1},
	}}

	plan, err := New(b, store, nil, Config{}).BuildPlan(context.Background())
	require.NoError(t, err)

	require.Len(t, plan.UnaccountedLegs, 3)
	assert.Equal(t, "SPY240315C00520000", plan.UnaccountedLegs[0].OCCSymbol)
	assert.Equal(t, "SPY240315P00480000", plan.UnaccountedLegs[1].OCCSymbol)
	assert.Equal(t, "SPY240621P00450000", plan.UnaccountedLegs[2].OCCSymbol)
}

func TestBuildPlanNettedFlatSymbolNotUnaccounted(t *testing.T) {
	store := storage.NewMockStorage()
	b := &fakeBroker{snapshot: []broker.SnapshotEntry{
		{OCCSymbol: auditPutShort, Underlying: "SPY", Quantity: -2},
		{OCCSymbol: auditPutShort, Underlying: "SPY", Quantity: 2},
	}}

	plan, err := New(b, store, nil, Config{}).BuildPlan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, plan.UnaccountedLegs)
}

func TestReportListsEverySection(t *testing.T) {
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -120)

	mismatched := auditPosition(t, "pos-wrong", "100", now.Add(-24*time.Hour))
	staleOpen := auditPosition(t, "pos-stale", "999", old)

	store := storage.NewMockStorage()
	store.SeedPositions(mismatched, staleOpen)
	store.SeedOrders(auditOrder(100, now.Add(-24*time.Hour)))

	b := &fakeBroker{snapshot: []broker.SnapshotEntry{
		{OCCSymbol: "QQQ240419C00430000", Underlying: "QQQ", Quantity: 1},
	}}

	plan, err := New(b, store, nil, Config{}).BuildPlan(context.Background())
	require.NoError(t, err)

	report := plan.Report()
	for _, section := range []string{"PROPOSED CORRECTIONS", "MANUAL REVIEW REQUIRED", "UNACCOUNTED BROKER LEGS"} {
		if !strings.Contains(report, section) {
			t.Errorf("report missing section %q:\n%s", section, report)
		}
	}
}

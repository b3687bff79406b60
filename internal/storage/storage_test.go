package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/models"
)

func mustTempBook(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "storage_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
	})
	return filepath.Join(dir, "book.json")
}

func testPosition(t *testing.T, id, openingOrderID string) *models.Position {
	t.Helper()
	p, err := models.NewPosition(id, "SPY", models.StrategyVertical, openingOrderID,
		[]models.Leg{
			{OCCSymbol: "SPY240315P00480000", Action: models.SellToOpen},
			{OCCSymbol: "SPY240315P00470000", Action: models.BuyToOpen},
		}, 1, time.Date(2024, 2, 1, 15, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewPosition failed: %v", err)
	}
	return p
}

func TestNewJSONStorageEmptyBook(t *testing.T) {
	store, err := NewJSONStorage(mustTempBook(t))
	if err != nil {
		t.Fatalf("NewJSONStorage failed: %v", err)
	}

	positions, err := store.GetPositions()
	if err != nil {
		t.Fatalf("GetPositions failed: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("expected empty book, got %d positions", len(positions))
	}
}

func TestAddPositionPersistsAcrossReopen(t *testing.T) {
	path := mustTempBook(t)
	store, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("NewJSONStorage failed: %v", err)
	}

	if err := store.AddPosition(testPosition(t, "pos-1", "12345")); err != nil {
		t.Fatalf("AddPosition failed: %v", err)
	}

	reopened, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("reopening storage failed: %v", err)
	}
	p, err := reopened.GetPositionByID("pos-1")
	if err != nil {
		t.Fatalf("GetPositionByID failed after reopen: %v", err)
	}
	if p.OpeningOrderID != "12345" || len(p.Legs) != 2 {
		t.Errorf("persisted position lost fields: %+v", p)
	}
}

func TestAddPositionRejectsDuplicateID(t *testing.T) {
	store, _ := NewJSONStorage(mustTempBook(t))
	if err := store.AddPosition(testPosition(t, "pos-1", "1")); err != nil {
		t.Fatalf("AddPosition failed: %v", err)
	}
	err := store.AddPosition(testPosition(t, "pos-1", "2"))
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

func TestSetLifecycleState(t *testing.T) {
	store, _ := NewJSONStorage(mustTempBook(t))
	if err := store.AddPosition(testPosition(t, "pos-1", "1")); err != nil {
		t.Fatalf("AddPosition failed: %v", err)
	}

	closedAt := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	if err := store.SetLifecycleState("pos-1", models.StateClosed, models.ReasonProfitTarget, closedAt); err != nil {
		t.Fatalf("SetLifecycleState failed: %v", err)
	}

	p, err := store.GetPositionByID("pos-1")
	if err != nil {
		t.Fatalf("GetPositionByID failed: %v", err)
	}
	if p.State != models.StateClosed || p.ClosureReason != models.ReasonProfitTarget {
		t.Errorf("lifecycle write lost fields: state=%s reason=%s", p.State, p.ClosureReason)
	}
	if p.OpeningOrderID != "1" {
		t.Error("lifecycle write must not touch identity fields")
	}

	if err := store.SetLifecycleState("missing", models.StateClosed, "", closedAt); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestGetOpenPositionsExcludesClosed(t *testing.T) {
	store, _ := NewJSONStorage(mustTempBook(t))
	_ = store.AddPosition(testPosition(t, "pos-1", "1"))
	_ = store.AddPosition(testPosition(t, "pos-2", "2"))
	if err := store.SetLifecycleState("pos-2", models.StateClosed, models.ReasonManualClose, time.Now()); err != nil {
		t.Fatalf("SetLifecycleState failed: %v", err)
	}

	open, err := store.GetOpenPositions()
	if err != nil {
		t.Fatalf("GetOpenPositions failed: %v", err)
	}
	if len(open) != 1 || open[0].ID != "pos-1" {
		t.Errorf("expected only pos-1 open, got %+v", open)
	}
}

func TestAddTransactionIdempotent(t *testing.T) {
	store, _ := NewJSONStorage(mustTempBook(t))
	tx := models.Transaction{
		ID:         "tx-1",
		OrderID:    "12345",
		Action:     models.SellToClose,
		OCCSymbol:  "SPY240315P00480000",
		Underlying: "SPY",
		Quantity:   1,
		ExecutedAt: time.Now().UTC(),
	}

	if err := store.AddTransaction(tx); err != nil {
		t.Fatalf("AddTransaction failed: %v", err)
	}
	if err := store.AddTransaction(tx); err != nil {
		t.Fatalf("re-adding same id should be a no-op, got: %v", err)
	}

	txs, _ := store.GetTransactions()
	if len(txs) != 1 {
		t.Errorf("expected 1 transaction after duplicate add, got %d", len(txs))
	}
}

func TestLinkTransactionSetOnce(t *testing.T) {
	store, _ := NewJSONStorage(mustTempBook(t))
	_ = store.AddTransaction(models.Transaction{ID: "tx-1", Underlying: "SPY"})

	if err := store.LinkTransaction("tx-1", "pos-1"); err != nil {
		t.Fatalf("LinkTransaction failed: %v", err)
	}
	if err := store.LinkTransaction("tx-1", "pos-2"); !errors.Is(err, ErrAlreadyLinked) {
		t.Errorf("expected ErrAlreadyLinked on relink, got %v", err)
	}

	unlinked, _ := store.GetUnlinkedTransactions()
	if len(unlinked) != 0 {
		t.Errorf("expected no unlinked transactions, got %d", len(unlinked))
	}

	txs, _ := store.GetTransactions()
	if txs[0].RelatedPosition != "pos-1" {
		t.Errorf("first link must win, got %q", txs[0].RelatedPosition)
	}

	if err := store.LinkTransaction("missing", "pos-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown transaction, got %v", err)
	}
}

func TestReplaceOrderWindow(t *testing.T) {
	store, _ := NewJSONStorage(mustTempBook(t))
	first := []models.CachedOrder{
		{ID: 1, Status: models.OrderStatusFilled, Underlying: "SPY", CreatedAt: time.Now()},
		{ID: 2, Status: models.OrderStatusCanceled, Underlying: "SPY", CreatedAt: time.Now()},
	}
	if err := store.ReplaceOrderWindow(first); err != nil {
		t.Fatalf("ReplaceOrderWindow failed: %v", err)
	}

	second := []models.CachedOrder{
		{ID: 3, Status: models.OrderStatusFilled, Underlying: "SPY", CreatedAt: time.Now()},
	}
	if err := store.ReplaceOrderWindow(second); err != nil {
		t.Fatalf("ReplaceOrderWindow failed: %v", err)
	}

	orders, _ := store.GetCachedOrders()
	if len(orders) != 1 || orders[0].ID != 3 {
		t.Errorf("expected wholesale replacement, got %+v", orders)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	path := mustTempBook(t)
	store, _ := NewJSONStorage(path)
	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file must not survive a save")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("book file missing after save: %v", err)
	}
}

package storage

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/models"
)

// MockStorage implements Interface in memory for testing.
type MockStorage struct {
	positions    []models.Position
	transactions []models.Transaction
	orders       []models.CachedOrder

	saveError      error
	lifecycleError error
	linkError      error

	saveCallCount      int
	lifecycleCallCount int
	linkCallCount      int
}

// NewMockStorage creates a new mock storage for testing.
func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

// SeedPositions replaces the mock's position set.
func (m *MockStorage) SeedPositions(positions ...models.Position) {
	m.positions = append([]models.Position(nil), positions...)
}

// SeedTransactions replaces the mock's transaction set.
func (m *MockStorage) SeedTransactions(txs ...models.Transaction) {
	m.transactions = append([]models.Transaction(nil), txs...)
}

// SeedOrders replaces the mock's cached order window.
func (m *MockStorage) SeedOrders(orders ...models.CachedOrder) {
	m.orders = append([]models.CachedOrder(nil), orders...)
}

// FailLifecycleWrites makes SetLifecycleState return err.
func (m *MockStorage) FailLifecycleWrites(err error) { m.lifecycleError = err }

// FailLinkWrites makes LinkTransaction return err.
func (m *MockStorage) FailLinkWrites(err error) { m.linkError = err }

// LifecycleWriteCount reports how many lifecycle writes were attempted.
func (m *MockStorage) LifecycleWriteCount() int { return m.lifecycleCallCount }

// LinkWriteCount reports how many link writes were attempted.
func (m *MockStorage) LinkWriteCount() int { return m.linkCallCount }

// GetPositions returns the seeded positions.
func (m *MockStorage) GetPositions() ([]models.Position, error) {
	return append([]models.Position(nil), m.positions...), nil
}

// GetOpenPositions returns seeded positions that are not closed.
func (m *MockStorage) GetOpenPositions() ([]models.Position, error) {
	var out []models.Position
	for _, p := range m.positions {
		if p.State.IsOpen() {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetPositionByID returns the seeded position with the given id.
func (m *MockStorage) GetPositionByID(id string) (*models.Position, error) {
	for i := range m.positions {
		if m.positions[i].ID == id {
			p := m.positions[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
}

// AddPosition appends a position.
func (m *MockStorage) AddPosition(p *models.Position) error {
	for i := range m.positions {
		if m.positions[i].ID == p.ID {
			return fmt.Errorf("position %s: %w", p.ID, ErrDuplicateID)
		}
	}
	m.positions = append(m.positions, *p)
	return nil
}

// SetLifecycleState transitions a seeded position.
func (m *MockStorage) SetLifecycleState(id string, to models.LifecycleState, reason models.ClosureReason, at time.Time) error {
	m.lifecycleCallCount++
	if m.lifecycleError != nil {
		return m.lifecycleError
	}
	for i := range m.positions {
		if m.positions[i].ID != id {
			continue
		}
		return m.positions[i].TransitionState(to, reason, at)
	}
	return fmt.Errorf("position %s: %w", id, ErrNotFound)
}

// AddTransaction appends a transaction, ignoring duplicate ids.
func (m *MockStorage) AddTransaction(tx models.Transaction) error {
	for i := range m.transactions {
		if m.transactions[i].ID == tx.ID {
			return nil
		}
	}
	m.transactions = append(m.transactions, tx)
	return nil
}

// GetUnlinkedTransactions returns seeded transactions with no link.
func (m *MockStorage) GetUnlinkedTransactions() ([]models.Transaction, error) {
	var out []models.Transaction
	for _, tx := range m.transactions {
		if !tx.Linked() {
			out = append(out, tx)
		}
	}
	return out, nil
}

// GetTransactions returns every seeded transaction.
func (m *MockStorage) GetTransactions() ([]models.Transaction, error) {
	return append([]models.Transaction(nil), m.transactions...), nil
}

// LinkTransaction sets a transaction's related position exactly once.
func (m *MockStorage) LinkTransaction(txID, positionID string) error {
	m.linkCallCount++
	if m.linkError != nil {
		return m.linkError
	}
	for i := range m.transactions {
		if m.transactions[i].ID != txID {
			continue
		}
		if m.transactions[i].RelatedPosition != "" {
			return fmt.Errorf("transaction %s: %w", txID, ErrAlreadyLinked)
		}
		m.transactions[i].RelatedPosition = positionID
		return nil
	}
	return fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
}

// GetCachedOrders returns the seeded order window.
func (m *MockStorage) GetCachedOrders() ([]models.CachedOrder, error) {
	return append([]models.CachedOrder(nil), m.orders...), nil
}

// ReplaceOrderWindow swaps the seeded order window.
func (m *MockStorage) ReplaceOrderWindow(orders []models.CachedOrder) error {
	m.orders = append([]models.CachedOrder(nil), orders...)
	return nil
}

// Save counts calls and returns the injected error, if any.
func (m *MockStorage) Save() error {
	m.saveCallCount++
	return m.saveError
}

// Load is a no-op for the mock.
func (m *MockStorage) Load() error { return nil }

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)

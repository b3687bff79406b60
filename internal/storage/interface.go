package storage

import (
	"time"

	"github.com/eddiefleurent/schrute_books/internal/models"
)

// Interface defines the contract for the position/transaction/order book.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe and can safely call them from multiple
// goroutines.
//
// Mutations are deliberately narrow: positions change only through
// SetLifecycleState, transactions only through the set-once LinkTransaction,
// and the cached order window is replaced wholesale. There is no generic
// update method.
type Interface interface {
	// Position management
	GetPositions() ([]models.Position, error)
	GetOpenPositions() ([]models.Position, error)
	GetPositionByID(id string) (*models.Position, error)
	AddPosition(p *models.Position) error
	SetLifecycleState(id string, to models.LifecycleState, reason models.ClosureReason, at time.Time) error

	// Transaction management
	AddTransaction(tx models.Transaction) error
	GetUnlinkedTransactions() ([]models.Transaction, error)
	GetTransactions() ([]models.Transaction, error)
	LinkTransaction(txID, positionID string) error

	// Cached order ledger
	GetCachedOrders() ([]models.CachedOrder, error)
	ReplaceOrderWindow(orders []models.CachedOrder) error

	// Data persistence
	Save() error
	Load() error
}

// NewStorage creates a new storage implementation (currently JSON-based).
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/models"
)

// JSONStorage persists the book to a single JSON file guarded by a RWMutex.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *bookData
}

type bookData struct {
	Positions    []models.Position    `json:"positions"`
	Transactions []models.Transaction `json:"transactions"`
	Orders       []models.CachedOrder `json:"orders"`
	LastUpdated  time.Time            `json:"last_updated"`
}

// NewJSONStorage opens (or initializes) the book at the given path.
func NewJSONStorage(filepath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filepath,
		data:     &bookData{},
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// Load reads the book file from disk.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	var book bookData
	if err := json.Unmarshal(data, &book); err != nil {
		return err
	}
	s.data = &book
	return nil
}

// Save writes the book to disk via temp file + atomic rename.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// GetPositions returns a copy of every tracked position.
func (s *JSONStorage) GetPositions() ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Position, len(s.data.Positions))
	copy(out, s.data.Positions)
	return out, nil
}

// GetOpenPositions returns positions whose lifecycle state is not closed.
func (s *JSONStorage) GetOpenPositions() ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Position
	for _, p := range s.data.Positions {
		if p.State.IsOpen() {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetPositionByID returns a copy of the position with the given id.
func (s *JSONStorage) GetPositionByID(id string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.Positions {
		if s.data.Positions[i].ID == id {
			p := s.data.Positions[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
}

// AddPosition appends a new position to the book.
func (s *JSONStorage) AddPosition(p *models.Position) error {
	if p == nil {
		return fmt.Errorf("nil position")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Positions {
		if s.data.Positions[i].ID == p.ID {
			return fmt.Errorf("position %s: %w", p.ID, ErrDuplicateID)
		}
	}
	s.data.Positions = append(s.data.Positions, *p)
	return s.saveLocked()
}

// SetLifecycleState transitions a stored position and persists only the
// lifecycle fields; leg metadata and identity fields are never rewritten.
func (s *JSONStorage) SetLifecycleState(id string, to models.LifecycleState, reason models.ClosureReason, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Positions {
		if s.data.Positions[i].ID != id {
			continue
		}
		if err := s.data.Positions[i].TransitionState(to, reason, at); err != nil {
			return err
		}
		return s.saveLocked()
	}
	return fmt.Errorf("position %s: %w", id, ErrNotFound)
}

// AddTransaction appends a fill record. Adding an id that already exists is a
// no-op so event ingestion can safely re-read overlapping windows.
func (s *JSONStorage) AddTransaction(tx models.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("transaction id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Transactions {
		if s.data.Transactions[i].ID == tx.ID {
			return nil
		}
	}
	s.data.Transactions = append(s.data.Transactions, tx)
	return s.saveLocked()
}

// GetUnlinkedTransactions returns transactions with no related position yet.
func (s *JSONStorage) GetUnlinkedTransactions() ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Transaction
	for _, tx := range s.data.Transactions {
		if !tx.Linked() {
			out = append(out, tx)
		}
	}
	return out, nil
}

// GetTransactions returns a copy of every stored transaction.
func (s *JSONStorage) GetTransactions() ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Transaction, len(s.data.Transactions))
	copy(out, s.data.Transactions)
	return out, nil
}

// LinkTransaction sets a transaction's related position exactly once.
func (s *JSONStorage) LinkTransaction(txID, positionID string) error {
	if positionID == "" {
		return fmt.Errorf("position id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Transactions {
		if s.data.Transactions[i].ID != txID {
			continue
		}
		if s.data.Transactions[i].RelatedPosition != "" {
			return fmt.Errorf("transaction %s: %w", txID, ErrAlreadyLinked)
		}
		s.data.Transactions[i].RelatedPosition = positionID
		return s.saveLocked()
	}
	return fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
}

// GetCachedOrders returns a copy of the cached order window.
func (s *JSONStorage) GetCachedOrders() ([]models.CachedOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CachedOrder, len(s.data.Orders))
	copy(out, s.data.Orders)
	return out, nil
}

// ReplaceOrderWindow swaps the cached order window wholesale. Order records
// are immutable, so a refresh replaces rather than edits.
func (s *JSONStorage) ReplaceOrderWindow(orders []models.CachedOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replacement := make([]models.CachedOrder, len(orders))
	copy(replacement, orders)
	s.data.Orders = replacement
	return s.saveLocked()
}

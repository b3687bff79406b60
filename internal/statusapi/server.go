// Package statusapi exposes a read-only JSON view of the reconciliation
// state: stored positions, unlinked transactions, and the results of the most
// recent sync and link passes. It never mutates the book.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/lifecycle"
	"github.com/eddiefleurent/schrute_books/internal/linker"
	"github.com/eddiefleurent/schrute_books/internal/models"
	"github.com/eddiefleurent/schrute_books/internal/storage"
	"github.com/eddiefleurent/schrute_books/internal/util"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Config holds server settings.
type Config struct {
	Port      int
	AuthToken string
}

// Server serves the status API for one account's book.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	logger    *logrus.Logger
	port      int
	authToken string

	mu        sync.RWMutex
	lastCycle *CycleStatus
}

// CycleStatus summarizes the most recent reconciliation cycle.
type CycleStatus struct {
	Account        string            `json:"account"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	OrdersCached   int               `json:"orders_cached"`
	EventsIngested int               `json:"events_ingested"`
	Sync           *lifecycle.Result `json:"sync,omitempty"`
	Link           *linker.Result    `json:"link,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// PositionView is the wire representation of a stored position.
type PositionView struct {
	ID             string   `json:"id"`
	Underlying     string   `json:"underlying"`
	Strategy       string   `json:"strategy"`
	State          string   `json:"state"`
	OpeningOrderID string   `json:"opening_order_id,omitempty"`
	Legs           []string `json:"legs"`
	Quantity       int      `json:"quantity"`
	AvgEntryPrice  float64  `json:"avg_entry_price"`
	OpenedAt       string   `json:"opened_at"`
	ClosedAt       string   `json:"closed_at,omitempty"`
	ClosureReason  string   `json:"closure_reason,omitempty"`
}

// NewServer creates a status server over the given book.
func NewServer(cfg Config, store storage.Interface, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/position/{id}", s.handleGetPosition)
	s.router.Get("/api/transactions/unlinked", s.handleUnlinked)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RecordCycle publishes the outcome of a reconciliation cycle.
func (s *Server) RecordCycle(status CycleStatus) {
	s.mu.Lock()
	s.lastCycle = &status
	s.mu.Unlock()
}

// Start begins serving. Blocks until shutdown or listener failure.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting status server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	last := s.lastCycle
	s.mu.RUnlock()

	if last == nil {
		s.writeJSON(w, map[string]string{"status": "no cycle completed yet"})
		return
	}
	s.writeJSON(w, last)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, _ *http.Request) {
	positions, err := s.storage.GetPositions()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load positions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	views := make([]PositionView, 0, len(positions))
	for i := range positions {
		views = append(views, convertPositionToView(&positions[i]))
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	position, err := s.storage.GetPositionByID(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("Failed to load position")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, convertPositionToView(position))
}

func (s *Server) handleUnlinked(w http.ResponseWriter, _ *http.Request) {
	txs, err := s.storage.GetUnlinkedTransactions()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load unlinked transactions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, txs)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func convertPositionToView(p *models.Position) PositionView {
	view := PositionView{
		ID:             p.ID,
		Underlying:     p.Underlying,
		Strategy:       string(p.Strategy),
		State:          string(p.State),
		OpeningOrderID: p.OpeningOrderID,
		Legs:           p.LegSymbols(),
		Quantity:       p.Quantity,
		AvgEntryPrice:  util.RoundToCent(p.AvgEntryPrice),
		OpenedAt:       p.OpenedAt.Format(time.RFC3339),
		ClosureReason:  string(p.ClosureReason),
	}
	if !p.ClosedAt.IsZero() {
		view.ClosedAt = p.ClosedAt.Format(time.RFC3339)
	}
	return view
}

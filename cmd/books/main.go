// Command books runs the reconciliation daemon: on a schedule it refreshes
// the cached order window, ingests fill transactions, syncs position
// lifecycle state against the broker snapshot, and links transactions to
// positions. One book per configured account; accounts reconcile in parallel
// and never net against each other.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/broker"
	"github.com/eddiefleurent/schrute_books/internal/config"
	"github.com/eddiefleurent/schrute_books/internal/lifecycle"
	"github.com/eddiefleurent/schrute_books/internal/linker"
	"github.com/eddiefleurent/schrute_books/internal/orders"
	"github.com/eddiefleurent/schrute_books/internal/retry"
	"github.com/eddiefleurent/schrute_books/internal/statusapi"
	"github.com/eddiefleurent/schrute_books/internal/storage"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// accountBook holds the per-account reconciliation stack.
type accountBook struct {
	name    string
	storage storage.Interface
	ledger  *orders.Ledger
	sync    *lifecycle.SyncService
	linker  *linker.Linker
	logger  *logrus.Entry

	// running guards against overlapping cycles when a pass outlives the
	// schedule interval.
	running sync.Mutex
}

func main() {
	var configPath string
	var runOnce bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&runOnce, "once", false, "Run a single reconciliation cycle and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.WithFields(logrus.Fields{
		"mode":     cfg.Environment.Mode,
		"accounts": len(cfg.Accounts),
		"schedule": cfg.Sync.Schedule,
	}).Info("Starting reconciliation daemon")

	books, err := buildBooks(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize account books")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
		cancel()
	}()

	var status *statusapi.Server
	if cfg.Status.Enabled {
		// Status endpoint serves the first account's book; cycle results for
		// all accounts are published to it.
		status = statusapi.NewServer(statusapi.Config{
			Port:      cfg.Status.Port,
			AuthToken: cfg.Status.AuthToken,
		}, books[0].storage, logger)
		go func() {
			if err := status.Start(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("Status server failed")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := status.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("Status server shutdown failed")
			}
		}()
	}

	runAll := func() {
		g, gctx := errgroup.WithContext(ctx)
		for _, book := range books {
			book := book
			g.Go(func() error {
				runCycle(gctx, book, status)
				return nil
			})
		}
		_ = g.Wait()
	}

	if runOnce {
		runAll()
		logger.Info("Single cycle complete")
		return
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Sync.Schedule, runAll); err != nil {
		logger.WithError(err).Fatal("Invalid sync schedule")
	}
	scheduler.Start()

	// Run immediately on start rather than waiting for the first tick.
	runAll()

	<-ctx.Done()
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("Daemon stopped")
}

// buildBooks constructs the broker stack and services for every account:
// Tradier client, circuit breaker, retrying snapshot fetcher, then the
// ledger, sync, and link services sharing that broker.
func buildBooks(cfg *config.Config, logger *logrus.Logger) ([]*accountBook, error) {
	books := make([]*accountBook, 0, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		store, err := storage.NewStorage(account.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("account %s: opening book: %w", account.Name, err)
		}

		var api broker.Broker
		if cfg.Broker.APIEndpoint != "" {
			api = broker.NewTradierAPIWithBaseURL(
				cfg.APIKeyFor(account), account.AccountID, cfg.IsPaperTrading(), cfg.Broker.APIEndpoint)
		} else {
			api = broker.NewTradierAPI(
				cfg.APIKeyFor(account), account.AccountID, cfg.IsPaperTrading())
		}
		b := retry.NewClient(broker.NewCircuitBreakerBroker(api), logger)

		books = append(books, &accountBook{
			name:    account.Name,
			storage: store,
			ledger: orders.NewLedger(b, store, logger, orders.Config{
				LookbackDays: cfg.Sync.LookbackDays,
				CallTimeout:  cfg.GetFetchTimeout(),
			}),
			sync: lifecycle.NewSyncService(b, store, logger, lifecycle.Config{
				FetchTimeout: cfg.GetFetchTimeout(),
			}),
			linker: linker.New(store, logger),
			logger: logger.WithField("account", account.Name),
		})
	}
	return books, nil
}

// runCycle executes one reconciliation pass for a single account. Each step
// failure is logged and the remaining steps still run where that is safe:
// linking does not depend on a fresh snapshot, so a failed sync never blocks
// it.
func runCycle(ctx context.Context, book *accountBook, status *statusapi.Server) {
	if !book.running.TryLock() {
		book.logger.Warn("Previous cycle still running, skipping")
		return
	}
	defer book.running.Unlock()

	started := time.Now().UTC()
	book.logger.Info("Reconciliation cycle starting")
	cycle := statusapi.CycleStatus{Account: book.name, StartedAt: started}
	var problems []string

	cached, err := book.ledger.Refresh(ctx)
	if err != nil {
		book.logger.WithError(err).Error("Order window refresh failed")
		problems = append(problems, err.Error())
	}
	cycle.OrdersCached = cached

	ingested, err := book.ledger.IngestEvents(ctx)
	if err != nil {
		book.logger.WithError(err).Error("Event ingestion failed")
		problems = append(problems, err.Error())
	}
	cycle.EventsIngested = ingested

	syncResult, err := book.sync.Run(ctx)
	if err != nil {
		// No snapshot means no lifecycle evidence; the pass is skipped
		// rather than guessed at.
		book.logger.WithError(err).Warn("Lifecycle sync skipped")
		problems = append(problems, err.Error())
	} else {
		cycle.Sync = syncResult
	}

	linkResult, err := book.linker.Run()
	if err != nil {
		book.logger.WithError(err).Error("Transaction linking failed")
		problems = append(problems, err.Error())
	} else {
		cycle.Link = linkResult
	}

	cycle.FinishedAt = time.Now().UTC()
	cycle.Error = strings.Join(problems, "; ")
	if status != nil {
		status.RecordCycle(cycle)
	}

	book.logger.WithField("elapsed", cycle.FinishedAt.Sub(started).Round(time.Millisecond)).
		Info("Reconciliation cycle complete")
}

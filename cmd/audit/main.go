// Command audit runs the process-of-elimination position audit for one
// account and prints a correction plan. It is strictly read-only: nothing in
// the plan is applied until an operator acts on it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/audit"
	"github.com/eddiefleurent/schrute_books/internal/broker"
	"github.com/eddiefleurent/schrute_books/internal/config"
	"github.com/eddiefleurent/schrute_books/internal/orders"
	"github.com/eddiefleurent/schrute_books/internal/storage"
	"github.com/sirupsen/logrus"
)

// maskAccountID masks all but the last 4 characters of an account ID to prevent PII exposure
func maskAccountID(id string) string {
	if len(id) > 4 {
		return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
	}
	return id
}

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "Path to configuration file")
		accountName = flag.String("account", "", "Account name to audit (default: first configured account)")
		jsonOutput  = flag.Bool("json", false, "Output the plan as JSON")
		refresh     = flag.Bool("refresh", true, "Refresh the cached order window before auditing")
		verbose     = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	account := cfg.Accounts[0]
	if *accountName != "" {
		found := false
		for _, a := range cfg.Accounts {
			if a.Name == *accountName {
				account = a
				found = true
				break
			}
		}
		if !found {
			log.Fatalf("No account named %q in config", *accountName)
		}
	}

	if *verbose {
		fmt.Printf("Using config: %s\n", *configPath)
		fmt.Printf("Broker: %s (sandbox: %t)\n", cfg.Broker.Provider, cfg.IsPaperTrading())
		fmt.Printf("Account: %s (%s)\n", account.Name, maskAccountID(account.AccountID))
		fmt.Printf("Book: %s\n", account.StoragePath)
		fmt.Printf("Lookback: %d days\n\n", cfg.Sync.LookbackDays)
	}

	store, err := storage.NewStorage(account.StoragePath)
	if err != nil {
		log.Fatalf("Failed to open book: %v", err)
	}

	var api broker.Broker
	if cfg.Broker.APIEndpoint != "" {
		api = broker.NewTradierAPIWithBaseURL(
			cfg.APIKeyFor(account), account.AccountID, cfg.IsPaperTrading(), cfg.Broker.APIEndpoint)
	} else {
		api = broker.NewTradierAPI(cfg.APIKeyFor(account), account.AccountID, cfg.IsPaperTrading())
	}
	b := broker.NewCircuitBreakerBroker(api)

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if *refresh {
		ledger := orders.NewLedger(b, store, logger, orders.Config{
			LookbackDays: cfg.Sync.LookbackDays,
			CallTimeout:  cfg.GetFetchTimeout(),
		})
		if n, err := ledger.Refresh(ctx); err != nil {
			log.Fatalf("Failed to refresh order window: %v", err)
		} else if *verbose {
			fmt.Printf("Cached %d orders inside the lookback window\n\n", n)
		}
	}

	auditor := audit.New(b, store, logger, audit.Config{
		LookbackDays: cfg.Sync.LookbackDays,
		FetchTimeout: cfg.GetFetchTimeout(),
	})

	fmt.Printf("Auditing positions against broker snapshot...\n\n")
	plan, err := auditor.BuildPlan(ctx)
	if err != nil {
		log.Fatalf("Audit failed: %v", err)
	}

	if *jsonOutput {
		output, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal JSON: %v", err)
		}
		fmt.Println(string(output))
	} else {
		fmt.Print(plan.Report())
	}

	if plan.HasFindings() {
		os.Exit(1)
	}
}

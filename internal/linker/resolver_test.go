package linker

import (
	"testing"
	"time"

	"github.com/eddiefleurent/schrute_books/internal/models"
)

func resolverPosition(t *testing.T, id, openingOrderID string) models.Position {
	t.Helper()
	p, err := models.NewPosition(id, "SPY", models.StrategyVertical, openingOrderID,
		[]models.Leg{
			{OCCSymbol: "SPY240315P00480000", Action: models.SellToOpen},
			{OCCSymbol: "SPY240315P00470000", Action: models.BuyToOpen},
		}, 1, time.Date(2024, 2, 1, 15, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewPosition failed: %v", err)
	}
	return *p
}

func TestResolverLookups(t *testing.T) {
	a := resolverPosition(t, "pos-a", "100")
	a.ProfitTargetIDs = map[string]string{"put_spread": "200"}
	a.Automation = &models.Automation{ClosingOrderID: "300", Trigger: "dte"}

	r := NewResolver([]models.Position{a})

	if id, ok := r.OpeningPosition("100"); !ok || id != "pos-a" {
		t.Errorf("OpeningPosition = %q/%v, expected pos-a", id, ok)
	}
	if id, ok := r.ProfitTargetPosition("200"); !ok || id != "pos-a" {
		t.Errorf("ProfitTargetPosition = %q/%v, expected pos-a", id, ok)
	}
	if id, ok := r.AutomationPosition("300"); !ok || id != "pos-a" {
		t.Errorf("AutomationPosition = %q/%v, expected pos-a", id, ok)
	}
	if _, ok := r.OpeningPosition("999"); ok {
		t.Error("unexpected match for unknown order id")
	}
}

func TestResolverCanonicalizesIDs(t *testing.T) {
	a := resolverPosition(t, "pos-a", "00100")
	r := NewResolver([]models.Position{a})

	if id, ok := r.OpeningPosition("100"); !ok || id != "pos-a" {
		t.Error("zero-padded and plain numeric ids must resolve to the same position")
	}
}

func TestResolverCollisionFirstSeenWins(t *testing.T) {
	a := resolverPosition(t, "pos-a", "100")
	a.ProfitTargetIDs = map[string]string{"put_spread": "555"}
	b := resolverPosition(t, "pos-b", "101")
	b.ProfitTargetIDs = map[string]string{"put_spread": "555"}

	r := NewResolver([]models.Position{a, b})

	id, ok := r.ProfitTargetPosition("555")
	if !ok || id != "pos-a" {
		t.Errorf("collision winner = %q, expected first-seen pos-a", id)
	}

	anomalies := r.Anomalies()
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	got := anomalies[0]
	if got.Source != SourceProfitTarget || got.KeptPosition != "pos-a" || got.DroppedPosition != "pos-b" {
		t.Errorf("anomaly = %+v", got)
	}
}

func TestResolverIgnoresEmptyIDs(t *testing.T) {
	a := resolverPosition(t, "pos-a", "100")
	a.ProfitTargetIDs = map[string]string{"put_spread": "  "}
	r := NewResolver([]models.Position{a})

	if _, ok := r.ProfitTargetPosition(""); ok {
		t.Error("blank order ids must not index")
	}
	if len(r.Anomalies()) != 0 {
		t.Errorf("unexpected anomalies: %+v", r.Anomalies())
	}
}

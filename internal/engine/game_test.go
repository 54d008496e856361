package engine

import (
	"testing"

	"tighten/internal/types"
)

func newTestGame(t *testing.T) *Game {
	t.Helper()
	g := NewGame("TESTCODE", DefaultConfig(), NoopObserver{})
	g.AddPlayer("alice", "Alice")
	g.AddPlayer("bob", "Bob")
	g.AddMarket(&Market{ID: "M", Name: "X"})
	if err := g.StartGame(); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	return g
}

// TestForcedTradeScenario reproduces the spec's S1 worked example: Alice
// wins the spread, quotes 99/101, and Bob forces a buy of 5.
func TestForcedTradeScenario(t *testing.T) {
	g := newTestGame(t)

	if err := g.SubmitSpread("alice", 2.0); err != nil {
		t.Fatalf("SubmitSpread: %v", err)
	}
	// Simulate the no-tighter window expiring.
	g.mu.Lock()
	effects := g.endSpreadStageLocked()
	g.mu.Unlock()
	g.emitAll(effects)

	if g.Round.Stage != types.StageMarketMakerQuote {
		t.Fatalf("expected MARKET_MAKER_QUOTE, got %s", g.Round.Stage)
	}
	if !g.Players["alice"].IsMarketMaker {
		t.Fatal("expected alice to be flagged as market maker")
	}

	if err := g.SubmitMMQuote("alice", 99, 101); err != nil {
		t.Fatalf("SubmitMMQuote: %v", err)
	}
	if g.Round.Stage != types.StageForcedTrading {
		t.Fatalf("expected FORCED_TRADING, got %s", g.Round.Stage)
	}

	if err := g.SubmitForcedTrade("bob", types.DirectionBuy, 5); err != nil {
		t.Fatalf("SubmitForcedTrade: %v", err)
	}

	bob := g.Players["bob"]
	alice := g.Players["alice"]

	if bob.Cash != 10000-101*5 {
		t.Errorf("expected bob.cash=9495, got %v", bob.Cash)
	}
	if bob.Positions["M"].Quantity != 5 || bob.Positions["M"].AvgCost != 101 {
		t.Errorf("expected bob position +5 @101, got %+v", bob.Positions["M"])
	}
	if alice.Cash != 10000+101*5 {
		t.Errorf("expected alice.cash=10505, got %v", alice.Cash)
	}
	if alice.Positions["M"].Quantity != -5 {
		t.Errorf("expected alice position -5, got %+v", alice.Positions["M"])
	}
}

func TestForcedTradeRejectsMarketMakerAndGamemaster(t *testing.T) {
	g := newTestGame(t)
	g.SetGamemaster("bob")

	if err := g.SubmitSpread("alice", 2.0); err != nil {
		t.Fatalf("SubmitSpread: %v", err)
	}
	g.mu.Lock()
	effects := g.endSpreadStageLocked()
	g.mu.Unlock()
	g.emitAll(effects)
	if err := g.SubmitMMQuote("alice", 99, 101); err != nil {
		t.Fatalf("SubmitMMQuote: %v", err)
	}

	if err := g.SubmitForcedTrade("alice", types.DirectionBuy, 1); err == nil {
		t.Error("expected an error when the market maker force-trades against themself")
	}
	if err := g.SubmitForcedTrade("bob", types.DirectionBuy, 1); err == nil {
		t.Error("expected an error when the gamemaster attempts to trade")
	}
}

// TestSpreadSubmissionStrictlyTighter reproduces S5: a tie is rejected, a
// strictly tighter width is accepted.
func TestSpreadSubmissionStrictlyTighter(t *testing.T) {
	g := newTestGame(t)
	g.AddPlayer("carol", "Carol")

	if err := g.SubmitSpread("alice", 1.50); err != nil {
		t.Fatalf("SubmitSpread: %v", err)
	}
	if err := g.SubmitSpread("bob", 1.50); err == nil {
		t.Error("expected a tie to be rejected")
	}
	if err := g.SubmitSpread("carol", 1.49); err != nil {
		t.Fatalf("expected a strictly tighter spread to be accepted: %v", err)
	}
	if g.Round.BestSpreadPlayerID != "carol" {
		t.Errorf("expected carol to hold the best spread, got %s", g.Round.BestSpreadPlayerID)
	}
}

func TestSpreadSubmissionRejectsGamemaster(t *testing.T) {
	g := newTestGame(t)
	g.SetGamemaster("alice")
	if err := g.SubmitSpread("alice", 1.0); err == nil {
		t.Error("expected the gamemaster to be rejected from submitting a spread")
	}
}

// TestExposureLimitGatesForcedTrade covers S4's exposure-gating property
// against the forced-trading path.
func TestExposureLimitGatesForcedTrade(t *testing.T) {
	g := newTestGame(t)
	g.SetMaxExposure(2)

	if err := g.SubmitSpread("alice", 2.0); err != nil {
		t.Fatalf("SubmitSpread: %v", err)
	}
	g.mu.Lock()
	effects := g.endSpreadStageLocked()
	g.mu.Unlock()
	g.emitAll(effects)
	if err := g.SubmitMMQuote("alice", 99, 101); err != nil {
		t.Fatalf("SubmitMMQuote: %v", err)
	}

	if err := g.SubmitForcedTrade("bob", types.DirectionBuy, 3); err == nil {
		t.Error("expected a trade that would push bob's exposure to 3 to be rejected")
	}
	if bob := g.Players["bob"]; bob.Positions["M"].Quantity != 0 {
		t.Errorf("expected the rejected trade to leave bob's position untouched, got %+v", bob.Positions["M"])
	}
}

// TestDerivativeValuation reproduces S6: D = 1*A - 2*B.
func TestDerivativeValuation(t *testing.T) {
	markets := map[string]*Market{
		"A": {ID: "A"},
		"B": {ID: "B"},
		"D": {ID: "D", UnderlyingWeights: map[string]float64{"A": 1, "B": -2}},
	}
	direct := map[string]float64{"A": 10, "B": 4}

	v, ok := resolveTrueValue(markets, direct, "D", map[string]bool{})
	if !ok {
		t.Fatal("expected D's true value to resolve")
	}
	if v != 2 {
		t.Errorf("expected true value 2, got %v", v)
	}
}

func TestFinalizePnlSkipsUndefinedMarkets(t *testing.T) {
	g := newTestGame(t)
	g.AddMarket(&Market{ID: "D", UnderlyingWeights: map[string]float64{"A": 1}})
	g.SetMarketTrueValue("M", 10)
	// "A" is never defined, so D stays undefined and is skipped.

	g.Players["bob"].Positions["M"] = &Position{Quantity: 3}
	g.Players["bob"].Positions["D"] = &Position{Quantity: 5}
	g.Players["bob"].Cash = 1000

	if err := g.FinalizePnl(); err == nil {
		t.Fatal("expected finalize to be refused before all markets complete")
	}

	g.AllMarketsComplete = true
	if err := g.FinalizePnl(); err != nil {
		t.Fatalf("FinalizePnl: %v", err)
	}

	bob := g.Players["bob"]
	wantSettlement := 1000.0 + 3*10
	if bob.TotalPnl != wantSettlement-initialEndowment {
		t.Errorf("expected totalPnl=%v, got %v", wantSettlement-initialEndowment, bob.TotalPnl)
	}

	// Idempotent: a second call must not change anything.
	if err := g.FinalizePnl(); err != nil {
		t.Errorf("expected a second finalize to succeed idempotently: %v", err)
	}
}

func TestSnapshotHidesTrueValuesAndPositionsForNonGM(t *testing.T) {
	g := newTestGame(t)
	g.SetMarketTrueValue("M", 42)
	g.SetShowIndividualPositions(false)

	snap := g.GetSnapshot(false, "bob")
	if snap.Markets[0].TrueValue != nil {
		t.Error("expected a non-gamemaster snapshot to omit true values")
	}
	for _, p := range snap.Players {
		if len(p.Positions) != 0 {
			t.Errorf("expected empty positions for player %s, got %+v", p.ID, p.Positions)
		}
		if p.Cash != 0 || p.RoundPnl != 0 {
			t.Errorf("expected zeroed cash/roundPnl for player %s, got cash=%v roundPnl=%v", p.ID, p.Cash, p.RoundPnl)
		}
	}

	gmSnap := g.GetSnapshot(true, "")
	if gmSnap.Markets[0].TrueValue == nil || *gmSnap.Markets[0].TrueValue != 42 {
		t.Errorf("expected the gamemaster snapshot to include the true value, got %+v", gmSnap.Markets[0])
	}
}

func TestSnapshotZeroesViewersOwnCash(t *testing.T) {
	g := newTestGame(t)
	// showIndividualPositions stays at its default (true).
	snap := g.GetSnapshot(false, "bob")
	for _, p := range snap.Players {
		if p.ID == "bob" && p.Cash != 0 {
			t.Errorf("expected the viewer's own cash to be zeroed, got %v", p.Cash)
		}
		if p.ID == "alice" && p.Cash != initialEndowment {
			t.Errorf("expected another player's cash to remain visible, got %v", p.Cash)
		}
	}
}

func TestGamemasterSecretHashing(t *testing.T) {
	g := NewGame("TESTCODE", DefaultConfig(), NoopObserver{})
	if err := g.SetGamemasterSecret("hunter2"); err != nil {
		t.Fatalf("SetGamemasterSecret: %v", err)
	}
	if !g.CheckGamemasterSecret("hunter2") {
		t.Error("expected the matching secret to check out")
	}
	if g.CheckGamemasterSecret("wrong") {
		t.Error("expected a mismatched secret to fail")
	}
}

func TestAddMarketReopensAfterAllMarketsComplete(t *testing.T) {
	g := newTestGame(t)
	// Drive the single market to ROUND_END with no bids, which exhausts it.
	g.mu.Lock()
	effects := g.endSpreadStageLocked()
	g.mu.Unlock()
	g.emitAll(effects)

	if !g.AllMarketsComplete {
		t.Fatal("expected allMarketsComplete once the only market is exhausted")
	}
	if g.Round != nil {
		t.Fatal("expected a nil round once every market is exhausted")
	}

	g.AddMarket(&Market{ID: "N", Name: "Y"})
	if g.AllMarketsComplete {
		t.Error("expected allMarketsComplete to clear once a new market starts a round")
	}
	if g.Round == nil || g.Round.MarketID != "N" {
		t.Fatalf("expected a fresh round on the new market, got %+v", g.Round)
	}
}

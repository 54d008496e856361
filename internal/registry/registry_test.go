package registry

import (
	"testing"

	"tighten/internal/engine"
)

func TestCreateGameAssignsACanonicalCode(t *testing.T) {
	r := New(engine.NoopObserver{})
	g, err := r.CreateGame(engine.DefaultConfig())
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if len(g.Code) != 6 {
		t.Fatalf("expected a 6-character code, got %q", g.Code)
	}
	for _, c := range g.Code {
		if c < 'A' || c > 'Z' {
			if c < '0' || c > '9' {
				t.Errorf("unexpected character %q in game code %q", c, g.Code)
			}
		}
	}
}

// TestGameCodeLookupIsCaseInsensitive covers the quantified property that
// getGame(c) = getGame(uppercase(c)) for all c.
func TestGameCodeLookupIsCaseInsensitive(t *testing.T) {
	r := New(engine.NoopObserver{})
	g, err := r.CreateGame(engine.DefaultConfig())
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	lower := ""
	for _, c := range g.Code {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower += string(c)
	}

	got, ok := r.GetGame(lower)
	if !ok || got != g {
		t.Fatalf("expected lower-cased lookup %q to resolve to the same game", lower)
	}
}

func TestJoinAndLeaveGame(t *testing.T) {
	r := New(engine.NoopObserver{})
	g, err := r.CreateGame(engine.DefaultConfig())
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	if _, err := r.JoinGame(g.Code, "alice", "Alice"); err != nil {
		t.Fatalf("JoinGame: %v", err)
	}
	if _, ok := r.GameForPlayer("alice"); !ok {
		t.Fatal("expected alice to resolve to a game after joining")
	}

	r.LeaveGame("alice")
	if _, ok := r.GameForPlayer("alice"); ok {
		t.Error("expected alice to no longer resolve to a game after leaving")
	}
	// Alice was the last player: the game must be gone entirely.
	if _, ok := r.GetGame(g.Code); ok {
		t.Error("expected the game to be deleted once its last player leaves")
	}
}

func TestJoinUnknownGameFails(t *testing.T) {
	r := New(engine.NoopObserver{})
	if _, err := r.JoinGame("NOSUCH", "alice", "Alice"); err == nil {
		t.Error("expected joining an unknown game code to fail")
	}
}

func TestAddMarketAndAddDerivative(t *testing.T) {
	r := New(engine.NoopObserver{})
	g, err := r.CreateGame(engine.DefaultConfig())
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	markets, err := r.AddMarket(g.Code, "Wheat", "")
	if err != nil {
		t.Fatalf("AddMarket: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("expected 1 market, got %d", len(markets))
	}

	markets, err = r.AddDerivative(g.Code, "Basket", "", map[string]float64{markets[0].ID: 2}, "")
	if err != nil {
		t.Fatalf("AddDerivative: %v", err)
	}
	if len(markets) != 2 || !markets[1].IsDerivative() {
		t.Fatalf("expected a second, derivative market, got %+v", markets)
	}
}

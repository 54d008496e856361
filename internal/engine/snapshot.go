package engine

import (
	"time"

	"tighten/internal/orderbook"
)

// PlayerView is one player's state as projected for a particular viewer.
// In a non-gamemaster view with showIndividualPositions false, Cash and
// Positions are zeroed out for every player, the viewer included; RoundPnl
// is zeroed the same way.
// TotalPnl is always visible once computed — hiding positions obscures how
// a player got there, not the final settlement number.
type PlayerView struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Cash          float64             `json:"cash"`
	Positions     map[string]Position `json:"positions"`
	RoundPnl      float64             `json:"roundPnl"`
	TotalPnl      float64             `json:"totalPnl"`
	IsMarketMaker bool                `json:"isMarketMaker"`
	IsGamemaster  bool                `json:"isGamemaster"`
}

// MarketView describes one market, with its true value present only for the
// gamemaster.
type MarketView struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	UnderlyingWeights map[string]float64 `json:"underlyingWeights,omitempty"`
	TrueValue         *float64           `json:"trueValue,omitempty"`
}

// Snapshot is the full state view delivered to one connection.
type Snapshot struct {
	Code                    string                 `json:"code"`
	Status                  string                 `json:"status"`
	CreatedAt               time.Time              `json:"createdAt"`
	Markets                 []MarketView           `json:"markets"`
	CurrentMarketIndex      int                    `json:"currentMarketIndex"`
	Round                   *Round                 `json:"round"`
	OrderBook               *orderbook.Snapshot    `json:"orderBook,omitempty"`
	Players                 []PlayerView           `json:"players"`
	Announcements           []Announcement         `json:"announcements"`
	ShowIndividualPositions bool                   `json:"showIndividualPositions"`
	AllMarketsComplete      bool                   `json:"allMarketsComplete"`
	PnlFinalized            bool                   `json:"pnlFinalized"`
	MaxExposure             int64                  `json:"maxExposure"`
}

// GetSnapshot builds the state view for one recipient, per spec.md 4.B's
// three-step projection: true values are gamemaster-only; with
// showIndividualPositions off every non-GM recipient sees every player's
// positions/cash/roundPnl zeroed (totalPnl survives); and a non-GM viewer's
// own cash is zeroed on top of that regardless (the UI shows exposure, not
// cash, to the player holding it).
func (g *Game) GetSnapshot(forGamemaster bool, viewerPlayerID string) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	markets := make([]MarketView, 0, len(g.Markets))
	byID := g.marketsByID()
	for _, m := range g.Markets {
		mv := MarketView{ID: m.ID, Name: m.Name, Description: m.Description, UnderlyingWeights: m.UnderlyingWeights}
		if forGamemaster {
			if v, ok := resolveTrueValue(byID, g.MarketTrueValues, m.ID, map[string]bool{}); ok {
				mv.TrueValue = &v
			}
		}
		markets = append(markets, mv)
	}

	players := make([]PlayerView, 0, len(g.Players))
	for _, p := range g.Players {
		pv := PlayerView{
			ID:            p.ID,
			Name:          p.Name,
			TotalPnl:      p.TotalPnl,
			IsMarketMaker: p.IsMarketMaker,
			IsGamemaster:  p.IsGamemaster,
		}
		if forGamemaster || g.ShowIndividualPositions {
			pv.Cash = p.Cash
			pv.RoundPnl = p.RoundPnl
			pv.Positions = copyPositions(p.Positions)
		} else {
			pv.Positions = make(map[string]Position)
		}
		if !forGamemaster && viewerPlayerID != "" && p.ID == viewerPlayerID {
			pv.Cash = 0
		}
		players = append(players, pv)
	}

	var book *orderbook.Snapshot
	if g.book != nil {
		snap := g.book.GetSnapshot()
		book = &snap
	}

	return Snapshot{
		Code:                    g.Code,
		Status:                  string(g.Status),
		CreatedAt:               g.CreatedAt,
		Markets:                 markets,
		CurrentMarketIndex:      g.CurrentMarketIndex,
		Round:                   g.Round,
		OrderBook:               book,
		Players:                 players,
		Announcements:           append([]Announcement(nil), g.Announcements...),
		ShowIndividualPositions: g.ShowIndividualPositions,
		AllMarketsComplete:      g.AllMarketsComplete,
		PnlFinalized:            g.PnlFinalized,
		MaxExposure:             g.MaxExposure,
	}
}

func copyPositions(src map[string]*Position) map[string]Position {
	out := make(map[string]Position, len(src))
	for id, pos := range src {
		out[id] = *pos
	}
	return out
}

// SpreadView is the dedicated game:spread_update payload, separate from the
// full Snapshot broadcast.
type SpreadView struct {
	BestSpread         *float64           `json:"bestSpread"`
	BestSpreadPlayerID string             `json:"bestSpreadPlayerId,omitempty"`
	Submissions        []SpreadSubmission `json:"submissions"`
}

// SpreadSnapshot reports the current round's Stage-1 bidding state.
func (g *Game) SpreadSnapshot() SpreadView {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Round == nil {
		return SpreadView{}
	}
	return SpreadView{
		BestSpread:         g.Round.BestSpread,
		BestSpreadPlayerID: g.Round.BestSpreadPlayerID,
		Submissions:        append([]SpreadSubmission(nil), g.Round.Submissions...),
	}
}

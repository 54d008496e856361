package engine

const initialEndowment = 10000.0

// Position is a player's signed holding in one market. AvgCost is only
// meaningful while Quantity is non-zero.
type Position struct {
	Quantity int64
	AvgCost  float64
}

// Player is one participant's state within a game.
type Player struct {
	ID           string
	Name         string
	Cash         float64
	Positions    map[string]*Position
	RoundPnl     float64
	TotalPnl     float64
	IsMarketMaker bool
	IsGamemaster bool
}

// NewPlayer creates a player with the standard starting endowment and a zero
// position in every market currently known to the caller.
func NewPlayer(id, name string, marketIDs []string) *Player {
	p := &Player{
		ID:        id,
		Name:      name,
		Cash:      initialEndowment,
		Positions: make(map[string]*Position),
	}
	for _, id := range marketIDs {
		p.Positions[id] = &Position{}
	}
	return p
}

// positionFor returns the player's position in a market, creating a zero
// position if the player had none yet (e.g. a market added after they
// joined).
func (p *Player) positionFor(marketID string) *Position {
	pos, ok := p.Positions[marketID]
	if !ok {
		pos = &Position{}
		p.Positions[marketID] = pos
	}
	return pos
}

// applyFillWithCostBasis applies a signed quantity delta at a fill price and
// recomputes the average cost as the quantity-weighted mean of the prior
// cost and this fill.
func (p *Player) applyFillWithCostBasis(marketID string, signedQty int64, price float64) {
	pos := p.positionFor(marketID)
	newQty := pos.Quantity + signedQty

	switch {
	case newQty == 0:
		pos.AvgCost = 0
	case pos.Quantity == 0:
		pos.AvgCost = price
	default:
		totalCost := float64(pos.Quantity)*pos.AvgCost + float64(signedQty)*price
		pos.AvgCost = totalCost / float64(newQty)
	}
	pos.Quantity = newQty
}

// applyFillQuantityOnly applies a signed quantity delta without touching
// average cost — used for the counterparty whose avg-cost tracking is
// waived (the market maker in forced trades, the seller in open trading).
func (p *Player) applyFillQuantityOnly(marketID string, signedQty int64) {
	pos := p.positionFor(marketID)
	pos.Quantity += signedQty
}

// exposureAfter returns the absolute position size a market would have after
// a further signed delta, for exposure-limit checks.
func (p *Player) exposureAfter(marketID string, signedQty int64) int64 {
	pos := p.positionFor(marketID)
	after := pos.Quantity + signedQty
	if after < 0 {
		return -after
	}
	return after
}

// Package orderbook implements price-time priority matching for a single
// market. One Book serves exactly one market at a time; the engine owns the
// Book for the market currently in OPEN_TRADING and discards it between
// rounds.
package orderbook

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"tighten/internal/types"
)

// Order is a resting or newly-submitted limit order.
type Order struct {
	ID        string
	MarketID  string
	PlayerID  string
	Side      types.Side
	Price     float64
	Quantity  int64
	Remaining int64
	CreatedAt time.Time
	Seq       uint64
}

// Trade is a single matched fill. BidOrderID/AskOrderID are empty for
// forced-trading fills synthesized outside the book.
type Trade struct {
	ID         string
	MarketID   string
	BuyerID    string
	SellerID   string
	BidOrderID string
	AskOrderID string
	Price      float64
	Quantity   int64
	Timestamp  time.Time
}

// Validator gates a prospective fill before it is recorded. Returning false
// stops the matching loop entirely; the trades accumulated so far still
// stand and the incoming order keeps whatever quantity remains unfilled.
type Validator func(buyerID, sellerID, marketID string, quantity int64) bool

// Level is one aggregated price level of a Book snapshot.
type Level struct {
	Price     float64
	Quantity  int64
	PlayerIDs []string
}

// Snapshot is the aggregated, read-only view of a Book.
type Snapshot struct {
	Bids           []Level
	Asks           []Level
	LastTradePrice *float64
}

// Book is an in-memory order book for one market.
type Book struct {
	MarketID string

	mu   sync.Mutex
	bids []*Order // descending price, ascending seq on ties
	asks []*Order // ascending price, ascending seq on ties

	orders         map[string]*Order
	seq            uint64
	lastTradePrice *float64
}

// New creates an empty book for the given market.
func New(marketID string) *Book {
	return &Book{
		MarketID: marketID,
		orders:   make(map[string]*Order),
	}
}

// AddOrder validates, inserts, and matches a new limit order. It returns the
// order as left after matching (Remaining == 0 means fully filled and not
// resting) and the ordered list of trades produced.
func (b *Book) AddOrder(playerID string, side types.Side, price float64, quantity int64, validator Validator) (Order, []Trade, error) {
	if price <= 0 || quantity <= 0 {
		return Order{}, nil, fmt.Errorf("invalid order")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	order := &Order{
		ID:        types.NewID(),
		MarketID:  b.MarketID,
		PlayerID:  playerID,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		CreatedAt: time.Now(),
		Seq:       b.seq,
	}
	b.orders[order.ID] = order

	if side == types.Bid {
		b.insertBid(order)
	} else {
		b.insertAsk(order)
	}

	trades := b.match(validator)

	if order.Remaining == 0 {
		delete(b.orders, order.ID)
	}

	return *order, trades, nil
}

func (b *Book) insertBid(order *Order) {
	i := sort.Search(len(b.bids), func(i int) bool {
		if b.bids[i].Price != order.Price {
			return b.bids[i].Price < order.Price
		}
		return b.bids[i].Seq > order.Seq
	})
	b.bids = append(b.bids, nil)
	copy(b.bids[i+1:], b.bids[i:])
	b.bids[i] = order
}

func (b *Book) insertAsk(order *Order) {
	i := sort.Search(len(b.asks), func(i int) bool {
		if b.asks[i].Price != order.Price {
			return b.asks[i].Price > order.Price
		}
		return b.asks[i].Seq > order.Seq
	})
	b.asks = append(b.asks, nil)
	copy(b.asks[i+1:], b.asks[i:])
	b.asks[i] = order
}

// match runs the price-time priority matching loop against the book's
// current head-of-book orders until the spread closes, the validator
// refuses, or one side empties.
func (b *Book) match(validator Validator) []Trade {
	var trades []Trade

	for len(b.bids) > 0 && len(b.asks) > 0 && b.bids[0].Price >= b.asks[0].Price {
		bidOrder := b.bids[0]
		askOrder := b.asks[0]

		qty := min64(bidOrder.Remaining, askOrder.Remaining)

		if validator != nil && !validator(bidOrder.PlayerID, askOrder.PlayerID, b.MarketID, qty) {
			break
		}

		// Execution price is the resting (earlier-inserted) order's price —
		// passive-price priority.
		var price float64
		if bidOrder.Seq < askOrder.Seq {
			price = bidOrder.Price
		} else {
			price = askOrder.Price
		}

		bidOrder.Remaining -= qty
		askOrder.Remaining -= qty

		trade := Trade{
			ID:         types.NewID(),
			MarketID:   b.MarketID,
			BuyerID:    bidOrder.PlayerID,
			SellerID:   askOrder.PlayerID,
			BidOrderID: bidOrder.ID,
			AskOrderID: askOrder.ID,
			Price:      price,
			Quantity:   qty,
			Timestamp:  time.Now(),
		}
		trades = append(trades, trade)
		b.lastTradePrice = &trade.Price

		if bidOrder.Remaining == 0 {
			delete(b.orders, bidOrder.ID)
			b.bids = b.bids[1:]
		}
		if askOrder.Remaining == 0 {
			delete(b.orders, askOrder.ID)
			b.asks = b.asks[1:]
		}
	}

	return trades
}

// CancelOrder removes a resting order from the book. Not wired to the public
// protocol — see spec.md Section 6, game:order:cancel.
func (b *Book) CancelOrder(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return false
	}
	delete(b.orders, orderID)

	if order.Side == types.Bid {
		b.bids = removeOrder(b.bids, orderID)
	} else {
		b.asks = removeOrder(b.asks, orderID)
	}
	return true
}

func removeOrder(orders []*Order, orderID string) []*Order {
	for i, o := range orders {
		if o.ID == orderID {
			return append(orders[:i], orders[i+1:]...)
		}
	}
	return orders
}

// GetOrder looks up a resting order by id.
func (b *Book) GetOrder(orderID string) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *order, true
}

// GetSnapshot aggregates resting orders by price level.
func (b *Book) GetSnapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Bids:           aggregate(b.bids),
		Asks:           aggregate(b.asks),
		LastTradePrice: b.lastTradePrice,
	}
}

func aggregate(orders []*Order) []Level {
	levels := make([]Level, 0)
	var current *Level
	players := make(map[string]bool)

	flush := func() {
		if current == nil {
			return
		}
		ids := make([]string, 0, len(players))
		for id := range players {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		current.PlayerIDs = ids
		levels = append(levels, *current)
	}

	for _, o := range orders {
		if current == nil || current.Price != o.Price {
			flush()
			current = &Level{Price: o.Price}
			players = make(map[string]bool)
		}
		current.Quantity += o.Remaining
		players[o.PlayerID] = true
	}
	flush()

	return levels
}

// GetSpread returns bestAsk - bestBid, or nil if either side is empty.
func (b *Book) GetSpread() *float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.bids) == 0 || len(b.asks) == 0 {
		return nil
	}
	spread := b.asks[0].Price - b.bids[0].Price
	return &spread
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

package orderbook

import (
	"testing"

	"tighten/internal/types"
)

func TestAddOrderRests(t *testing.T) {
	book := New("WHEAT")

	_, trades, err := book.AddOrder("alice", types.Bid, 100, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected 0 trades, got %d", len(trades))
	}

	snap := book.GetSnapshot()
	if len(snap.Bids) != 1 {
		t.Fatalf("expected 1 bid level, got %d", len(snap.Bids))
	}
	if snap.Bids[0].Price != 100 || snap.Bids[0].Quantity != 10 {
		t.Errorf("unexpected bid level: %+v", snap.Bids[0])
	}
}

func TestMatchingCrossesAtRestingPrice(t *testing.T) {
	book := New("WHEAT")

	if _, _, err := book.AddOrder("alice", types.Bid, 100, 10, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, trades, err := book.AddOrder("bob", types.Ask, 95, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	// Alice's bid rested first, so the passive price is hers.
	if trades[0].Price != 100 {
		t.Errorf("expected trade price 100, got %v", trades[0].Price)
	}
	if trades[0].BuyerID != "alice" || trades[0].SellerID != "bob" {
		t.Errorf("unexpected counterparties: %+v", trades[0])
	}

	snap := book.GetSnapshot()
	if len(snap.Bids) != 0 || len(snap.Asks) != 0 {
		t.Errorf("expected an empty book after a full match, got %+v", snap)
	}
	if snap.LastTradePrice == nil || *snap.LastTradePrice != 100 {
		t.Errorf("expected lastTradePrice=100, got %v", snap.LastTradePrice)
	}
}

func TestPartialFillLeavesRemainder(t *testing.T) {
	book := New("WHEAT")

	if _, _, err := book.AddOrder("alice", types.Bid, 100, 10, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	order, trades, err := book.AddOrder("bob", types.Ask, 100, 4, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 || trades[0].Quantity != 4 {
		t.Fatalf("expected a single 4-lot trade, got %+v", trades)
	}
	if order.Remaining != 0 {
		t.Errorf("expected the aggressing ask to be fully filled, got remaining=%d", order.Remaining)
	}

	snap := book.GetSnapshot()
	if len(snap.Bids) != 1 || snap.Bids[0].Quantity != 6 {
		t.Fatalf("expected 6 remaining on the bid, got %+v", snap.Bids)
	}
}

func TestTimePriorityAtSamePrice(t *testing.T) {
	book := New("WHEAT")

	if _, _, err := book.AddOrder("alice", types.Bid, 100, 5, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := book.AddOrder("carol", types.Bid, 100, 5, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, trades, err := book.AddOrder("bob", types.Ask, 100, 5, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 || trades[0].BuyerID != "alice" {
		t.Fatalf("expected the earlier bid (alice) to match first, got %+v", trades)
	}
}

func TestValidatorHaltsMatchingWithoutRejectingTheOrder(t *testing.T) {
	book := New("WHEAT")

	if _, _, err := book.AddOrder("alice", types.Bid, 100, 10, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	blockAll := func(buyerID, sellerID, marketID string, qty int64) bool { return false }
	order, trades, err := book.AddOrder("bob", types.Ask, 95, 10, blockAll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected the validator to prevent any trade, got %+v", trades)
	}
	if order.Remaining != 10 {
		t.Errorf("expected the new ask to rest in full, got remaining=%d", order.Remaining)
	}

	snap := book.GetSnapshot()
	if len(snap.Asks) != 1 || snap.Asks[0].Quantity != 10 {
		t.Fatalf("expected the blocked ask to still be resting, got %+v", snap.Asks)
	}
}

func TestInvalidOrderRejected(t *testing.T) {
	book := New("WHEAT")

	if _, _, err := book.AddOrder("alice", types.Bid, 0, 10, nil); err == nil {
		t.Error("expected an error for a non-positive price")
	}
	if _, _, err := book.AddOrder("alice", types.Bid, 100, 0, nil); err == nil {
		t.Error("expected an error for a non-positive quantity")
	}
}

func TestCancelOrder(t *testing.T) {
	book := New("WHEAT")

	order, _, err := book.AddOrder("alice", types.Bid, 100, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !book.CancelOrder(order.ID) {
		t.Fatal("expected cancel to succeed")
	}
	if book.CancelOrder(order.ID) {
		t.Error("expected a second cancel of the same order to fail")
	}
	snap := book.GetSnapshot()
	if len(snap.Bids) != 0 {
		t.Errorf("expected an empty book after cancellation, got %+v", snap.Bids)
	}
}

func TestGetSpread(t *testing.T) {
	book := New("WHEAT")
	if book.GetSpread() != nil {
		t.Error("expected a nil spread on an empty book")
	}
	if _, _, err := book.AddOrder("alice", types.Bid, 100, 10, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if book.GetSpread() != nil {
		t.Error("expected a nil spread with only one side populated")
	}
	if _, _, err := book.AddOrder("bob", types.Ask, 105, 10, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	spread := book.GetSpread()
	if spread == nil || *spread != 5 {
		t.Fatalf("expected a spread of 5, got %v", spread)
	}
}

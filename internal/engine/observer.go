package engine

import (
	"time"

	"tighten/internal/orderbook"
	"tighten/internal/types"
)

// Observer is the single subscriber interface a Game reports to. A game
// instance owns exactly one Observer, set at construction — the gateway
// implements it and holds the room identity (spec.md Section 9's Design
// Notes favor this over four independently reassigned callback slots).
// Implementations must not block or panic; calls happen synchronously from
// whichever goroutine triggered the mutation (an inbound event handler or a
// timer), after the game's internal lock has been released.
type Observer interface {
	// round is nil when a stage change reflects every market having been
	// played out (stage is empty in that case too).
	OnStageChange(gameCode string, stage types.Stage, round *Round)
	OnOrderBookChange(gameCode string, snapshot orderbook.Snapshot)
	OnTrade(gameCode string, trade orderbook.Trade)
	OnTimer(gameCode string, stage types.Stage, endsAt time.Time, secondsRemaining int)
}

// NoopObserver discards every event; useful in tests that only assert on
// returned state.
type NoopObserver struct{}

func (NoopObserver) OnStageChange(string, types.Stage, *Round)   {}
func (NoopObserver) OnOrderBookChange(string, orderbook.Snapshot) {}
func (NoopObserver) OnTrade(string, orderbook.Trade)              {}
func (NoopObserver) OnTimer(string, types.Stage, time.Time, int)  {}

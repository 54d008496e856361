// Package types holds identifiers and wire contracts shared across the engine,
// registry, and gateway — the data every other package imports but none of
// them owns.
package types

import (
	"strings"

	"github.com/google/uuid"
)

// GameCodeAlphabet excludes the visually ambiguous characters I, O, 0, 1.
const GameCodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GameCodeLength is the number of characters in a canonical game code.
const GameCodeLength = 6

// NormalizeGameCode upper-cases a user-supplied code for lookup. Game-code
// matching is case-insensitive; the stored canonical form is uppercase.
func NormalizeGameCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewID returns a fresh globally-unique opaque identifier for players,
// orders, and trades.
func NewID() string {
	return uuid.New().String()
}

// Side is a limit order's direction.
type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

// Direction is a forced-trade direction, distinct from Side because forced
// trades are always against the market maker's quote, not a resting order.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Stage is one of the five round stages driven by the game state machine.
type Stage string

const (
	StageSpreadQuoting   Stage = "SPREAD_QUOTING"
	StageMarketMakerQuote Stage = "MARKET_MAKER_QUOTE"
	StageForcedTrading   Stage = "FORCED_TRADING"
	StageOpenTrading     Stage = "OPEN_TRADING"
	StageRoundEnd        Stage = "ROUND_END"
)

// GameStatus is the lifecycle status of a game.
type GameStatus string

const (
	StatusLobby   GameStatus = "lobby"
	StatusPlaying GameStatus = "playing"
	StatusPaused  GameStatus = "paused"
	StatusStopped GameStatus = "stopped"
)

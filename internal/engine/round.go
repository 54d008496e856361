package engine

import (
	"time"

	"tighten/internal/types"
)

// SpreadSubmission records one accepted Stage-1 bid for the market-maker
// role.
type SpreadSubmission struct {
	PlayerID  string    `json:"playerId"`
	Width     float64   `json:"width"`
	Timestamp time.Time `json:"timestamp"`
}

// MMQuote is the market maker's two-sided Stage-2 quote.
type MMQuote struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// Round is the mutable state of one market's trading round.
type Round struct {
	Index               int                `json:"roundIndex"`
	Stage               types.Stage        `json:"stage"`
	MarketID            string             `json:"marketId"`
	BestSpread          *float64           `json:"bestSpread"`
	BestSpreadPlayerID  string             `json:"bestSpreadPlayerId,omitempty"`
	Submissions         []SpreadSubmission `json:"submissions"`
	MMQuote             *MMQuote           `json:"mmQuote"`
	StageEndsAt         *time.Time         `json:"stageEndsAt"`
	NoTighterUntil      *time.Time         `json:"-"`
}

func newRound(index int, marketID string) *Round {
	return &Round{
		Index:       index,
		Stage:       types.StageSpreadQuoting,
		MarketID:    marketID,
		Submissions: make([]SpreadSubmission, 0),
	}
}

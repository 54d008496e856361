package types

// Inbound event names, matching spec.md Section 6.
const (
	EventGameJoin          = "game:join"
	EventGameLeave         = "game:leave"
	EventSpreadSubmit      = "game:spread:submit"
	EventMMQuote           = "game:mm:quote"
	EventForcedTrade       = "game:forced:trade"
	EventOrderSubmit       = "game:order:submit"
	EventOrderCancel       = "game:order:cancel"
	EventGMCreate          = "gm:create"
	EventGMStart           = "gm:start"
	EventGMPause           = "gm:pause"
	EventGMResume          = "gm:resume"
	EventGMStop            = "gm:stop"
	EventGMNextStage       = "gm:next_stage"
	EventGMPrevStage       = "gm:prev_stage"
	EventGMAddMarket       = "gm:add_market"
	EventGMAddDerivative   = "gm:add_derivative"
	EventGMBroadcast       = "gm:broadcast"
	EventGMSetTimer        = "gm:set_timer"
	EventGMSetVisibility   = "gm:set_visibility"
	EventGMSetTrueValue    = "gm:set_true_value"
	EventGMSetExposureLimit = "gm:set_exposure_limit"
	EventGMFinalizePnl     = "gm:finalize_pnl"
)

// Outbound event names.
const (
	OutGameJoined       = "game:joined"
	OutGameState        = "game:state"
	OutStageChanged     = "game:stage_changed"
	OutSpreadUpdate     = "game:spread_update"
	OutOrderBook        = "game:order_book"
	OutTrade            = "game:trade"
	OutAnnouncement     = "game:announcement"
	OutTimer            = "game:timer"
	OutPlayerLeft       = "game:player_left"
	OutError            = "game:error"
	OutGameEnded        = "game:ended"
)

// JoinPayload is the inbound game:join payload.
type JoinPayload struct {
	GameCode          string `json:"gameCode"`
	DisplayName       string `json:"displayName"`
	IsGamemaster      bool   `json:"isGamemaster,omitempty"`
	GamemasterSecret  string `json:"gamemasterSecret,omitempty"`
}

// SpreadSubmitPayload is the inbound game:spread:submit payload.
type SpreadSubmitPayload struct {
	SpreadWidth float64 `json:"spreadWidth"`
}

// MMQuotePayload is the inbound game:mm:quote payload.
type MMQuotePayload struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// ForcedTradePayload is the inbound game:forced:trade payload.
type ForcedTradePayload struct {
	Direction Direction `json:"direction"`
	Quantity  int64     `json:"quantity"`
}

// OrderSubmitPayload is the inbound game:order:submit payload.
type OrderSubmitPayload struct {
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
}

// OrderCancelPayload is the inbound game:order:cancel payload. The operation
// is unimplemented; the gateway always replies with an error (spec.md
// Section 6/7).
type OrderCancelPayload struct {
	OrderID string `json:"orderId"`
}

// GMCreatePayload is the inbound gm:create payload.
type GMCreatePayload struct {
	GamemasterSecret        string `json:"gamemasterSecret"`
	SpreadTimerSeconds      int    `json:"spreadTimerSeconds,omitempty"`
	OpenTradingTimerSeconds int    `json:"openTradingTimerSeconds,omitempty"`
	NoTighterWindowSeconds  int    `json:"noTighterWindowSeconds,omitempty"`
}

// GMAddMarketPayload is the inbound gm:add_market payload.
type GMAddMarketPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// GMAddDerivativePayload is the inbound gm:add_derivative payload.
type GMAddDerivativePayload struct {
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	UnderlyingWeights map[string]float64 `json:"underlyingWeights"`
	Condition         string             `json:"condition,omitempty"`
}

// GMBroadcastPayload is the inbound gm:broadcast payload.
type GMBroadcastPayload struct {
	Text string `json:"text"`
}

// GMSetTimerPayload is the inbound gm:set_timer payload.
type GMSetTimerPayload struct {
	Seconds int `json:"seconds"`
}

// GMSetVisibilityPayload is the inbound gm:set_visibility payload.
type GMSetVisibilityPayload struct {
	ShowIndividualPositions bool `json:"showIndividualPositions"`
}

// GMSetTrueValuePayload is the inbound gm:set_true_value payload.
type GMSetTrueValuePayload struct {
	MarketID string  `json:"marketId"`
	Value    float64 `json:"value"`
}

// GMSetExposureLimitPayload is the inbound gm:set_exposure_limit payload.
type GMSetExposureLimitPayload struct {
	MaxExposure int64 `json:"maxExposure"`
}

// JoinedPayload is the outbound game:joined / the game:join ack payload.
type JoinedPayload struct {
	GameCode     string      `json:"gameCode"`
	PlayerID     string      `json:"playerId"`
	IsGamemaster bool        `json:"isGamemaster"`
	State        interface{} `json:"state"`
}

// ErrorPayload is the outbound game:error payload, and the ack error shape.
type ErrorPayload struct {
	Error string `json:"error"`
}

// GMCreateAckPayload is the ack reply for gm:create.
type GMCreateAckPayload struct {
	GameCode string `json:"gameCode,omitempty"`
	Error    string `json:"error,omitempty"`
}

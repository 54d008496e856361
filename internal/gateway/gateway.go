// Package gateway mediates between connected clients and the engine: it
// owns per-connection session bookkeeping, enforces gamemaster
// authorization, dispatches inbound events to game-instance methods, and
// fans out the engine's callbacks as outbound events with a per-recipient
// projected state snapshot.
package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"tighten/internal/engine"
	"tighten/internal/orderbook"
	"tighten/internal/registry"
	"tighten/internal/types"
)

const (
	joinAttemptLimit  = 10
	joinAttemptWindow = time.Minute
)

// Dispatcher routes inbound events to the registry/engine and implements
// engine.Observer to translate engine callbacks into outbound broadcasts.
// One Dispatcher is wired onto every game the registry creates.
type Dispatcher struct {
	log           *zap.Logger
	registry      *registry.Registry
	transport     Transport
	defaultConfig engine.Config

	joinLimiter *rateLimiter

	mu       sync.Mutex
	sessions map[Conn]*session
}

// New creates a Dispatcher using the engine's stock timer defaults. Wire it
// to a transport's onMessage/onClose hooks, and construct the registry with
// this Dispatcher as its Observer.
func New(log *zap.Logger, reg *registry.Registry, transport Transport) *Dispatcher {
	return NewWithDefaults(log, reg, transport, engine.DefaultConfig())
}

// NewWithDefaults is New, but lets the caller supply the per-game timer
// defaults new games start with absent a gm:create override — wired to the
// process-wide config so an operator can tune it without touching code.
func NewWithDefaults(log *zap.Logger, reg *registry.Registry, transport Transport, defaultConfig engine.Config) *Dispatcher {
	return &Dispatcher{
		log:           log,
		registry:      reg,
		transport:     transport,
		defaultConfig: defaultConfig,
		joinLimiter:   newRateLimiter(joinAttemptLimit, joinAttemptWindow),
		sessions:      make(map[Conn]*session),
	}
}

// SetRegistry rewires the Dispatcher onto a different registry. It exists to
// break the construction cycle between Registry (which needs an Observer)
// and Dispatcher (which needs the Registry): build the Dispatcher against a
// throwaway registry, build the real registry with that Dispatcher as its
// Observer, then call SetRegistry with the real one.
func (d *Dispatcher) SetRegistry(reg *registry.Registry) {
	d.registry = reg
}

// Shutdown stops the Dispatcher's background goroutines.
func (d *Dispatcher) Shutdown() {
	d.joinLimiter.Stop()
}

func (d *Dispatcher) sessionFor(conn Conn) *session {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[conn]
	if !ok {
		s = &session{}
		d.sessions[conn] = s
	}
	return s
}

// HandleClose releases a closing connection's seat in whatever game it had
// joined, mirroring an explicit game:leave.
func (d *Dispatcher) HandleClose(conn Conn) {
	d.mu.Lock()
	s, ok := d.sessions[conn]
	delete(d.sessions, conn)
	d.mu.Unlock()
	if !ok || !s.joined() {
		return
	}
	d.leaveGame(conn, s)
}

// HandleMessage is the inbound entry point wired to the transport's
// onMessage hook.
func (d *Dispatcher) HandleMessage(conn Conn, event string, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event handler panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	s := d.sessionFor(conn)

	switch event {
	case types.EventGameJoin:
		d.handleJoin(conn, s, payload)
		return
	case types.EventGMCreate:
		d.handleGMCreate(conn, s, payload)
		return
	case types.EventGameLeave:
		d.leaveGame(conn, s)
		return
	}

	if !s.joined() {
		return
	}
	g, ok := d.registry.GetGame(s.gameCode)
	if !ok {
		d.leaveGame(conn, s)
		return
	}

	isGMEvent := len(event) >= 3 && event[:3] == "gm:"
	if isGMEvent && !g.IsGamemaster(s.playerID) {
		d.log.Warn("gamemaster authorization refused",
			zap.String("gameCode", s.gameCode),
			zap.String("playerId", s.playerID),
			zap.String("event", event),
		)
		conn.Send(types.OutError, types.ErrorPayload{Error: "gamemaster authorization required"})
		return
	}

	var err error
	switch event {
	case types.EventSpreadSubmit:
		var p types.SpreadSubmitPayload
		if err = json.Unmarshal(payload, &p); err == nil {
			err = g.SubmitSpread(s.playerID, p.SpreadWidth)
		}
	case types.EventMMQuote:
		var p types.MMQuotePayload
		if err = json.Unmarshal(payload, &p); err == nil {
			err = g.SubmitMMQuote(s.playerID, p.Bid, p.Ask)
		}
	case types.EventForcedTrade:
		var p types.ForcedTradePayload
		if err = json.Unmarshal(payload, &p); err == nil {
			err = g.SubmitForcedTrade(s.playerID, p.Direction, p.Quantity)
		}
	case types.EventOrderSubmit:
		var p types.OrderSubmitPayload
		if err = json.Unmarshal(payload, &p); err == nil {
			err = g.SubmitOrder(s.playerID, p.Side, p.Price, p.Quantity)
		}
	case types.EventOrderCancel:
		err = fmt.Errorf("order cancellation is not supported")
	case types.EventGMStart:
		err = g.StartGame()
	case types.EventGMPause:
		err = g.Pause()
	case types.EventGMResume:
		err = g.Resume()
	case types.EventGMNextStage:
		err = g.NextStage()
	case types.EventGMPrevStage:
		err = g.PrevStage()
	case types.EventGMAddMarket:
		var p types.GMAddMarketPayload
		if err = json.Unmarshal(payload, &p); err == nil {
			_, err = d.registry.AddMarket(s.gameCode, p.Name, p.Description)
		}
	case types.EventGMAddDerivative:
		var p types.GMAddDerivativePayload
		if err = json.Unmarshal(payload, &p); err == nil {
			_, err = d.registry.AddDerivative(s.gameCode, p.Name, p.Description, p.UnderlyingWeights, p.Condition)
		}
	case types.EventGMBroadcast:
		var p types.GMBroadcastPayload
		if err = json.Unmarshal(payload, &p); err == nil {
			a := g.AddAnnouncement(p.Text)
			d.transport.Broadcast(s.room(), types.OutAnnouncement, a)
		}
	case types.EventGMSetTimer:
		var p types.GMSetTimerPayload
		if err = json.Unmarshal(payload, &p); err == nil {
			err = g.SetTimer(p.Seconds)
		}
	case types.EventGMSetVisibility:
		var p types.GMSetVisibilityPayload
		if err = json.Unmarshal(payload, &p); err == nil {
			g.SetShowIndividualPositions(p.ShowIndividualPositions)
		}
	case types.EventGMSetTrueValue:
		var p types.GMSetTrueValuePayload
		if err = json.Unmarshal(payload, &p); err == nil {
			g.SetMarketTrueValue(p.MarketID, p.Value)
		}
	case types.EventGMSetExposureLimit:
		var p types.GMSetExposureLimitPayload
		if err = json.Unmarshal(payload, &p); err == nil {
			g.SetMaxExposure(p.MaxExposure)
		}
	case types.EventGMStop:
		d.handleGMStop(conn, s, g)
		return
	case types.EventGMFinalizePnl:
		err = g.FinalizePnl()
	default:
		return
	}

	if err != nil {
		conn.Send(types.OutError, types.ErrorPayload{Error: err.Error()})
		return
	}

	if event == types.EventSpreadSubmit {
		d.transport.Broadcast(s.room(), types.OutSpreadUpdate, g.SpreadSnapshot())
	}
	d.broadcastState(g, s.room())
}

func (d *Dispatcher) handleGMStop(conn Conn, s *session, g *engine.Game) {
	if err := g.Stop(); err != nil {
		conn.Send(types.OutError, types.ErrorPayload{Error: err.Error()})
		return
	}
	d.transport.Broadcast(s.room(), types.OutGameEnded, map[string]any{
		"message": "the gamemaster ended the game",
		"state":   g.GetSnapshot(true, ""),
	})
}

func (d *Dispatcher) handleJoin(conn Conn, s *session, payload json.RawMessage) {
	if !d.joinLimiter.Allow(conn.RemoteAddr()) {
		conn.Send(types.OutError, types.ErrorPayload{Error: "too many join attempts, slow down"})
		return
	}
	var p types.JoinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		conn.Send(types.OutError, types.ErrorPayload{Error: "malformed join request"})
		return
	}

	g, ok := d.registry.GetGame(p.GameCode)
	if !ok {
		conn.Send(types.OutError, types.ErrorPayload{Error: "game not found"})
		return
	}

	isGamemaster := false
	if p.IsGamemaster {
		if !g.CheckGamemasterSecret(p.GamemasterSecret) {
			conn.Send(types.OutError, types.ErrorPayload{Error: "invalid gamemaster secret"})
			return
		}
		isGamemaster = true
	}

	playerID := types.NewID()
	g.AddPlayer(playerID, p.DisplayName)
	if isGamemaster {
		g.SetGamemaster(playerID)
	}

	if _, err := d.registry.JoinGame(p.GameCode, playerID, p.DisplayName); err != nil {
		conn.Send(types.OutError, types.ErrorPayload{Error: err.Error()})
		return
	}

	s.playerID = playerID
	s.gameCode = types.NormalizeGameCode(p.GameCode)
	s.displayName = p.DisplayName
	s.isGamemaster = isGamemaster
	d.transport.Join(s.room(), conn)

	conn.Send(types.OutGameJoined, types.JoinedPayload{
		GameCode:     s.gameCode,
		PlayerID:     playerID,
		IsGamemaster: isGamemaster,
		State:        g.GetSnapshot(isGamemaster, playerID),
	})
	d.broadcastState(g, s.room())
}

func (d *Dispatcher) handleGMCreate(conn Conn, s *session, payload json.RawMessage) {
	if !d.joinLimiter.Allow(conn.RemoteAddr()) {
		conn.Send(types.OutError, types.ErrorPayload{Error: "too many attempts, slow down"})
		return
	}
	var p types.GMCreatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		conn.Send(types.OutError, types.GMCreateAckPayload{Error: "malformed create request"})
		return
	}

	cfg := d.defaultConfig
	if p.SpreadTimerSeconds > 0 {
		cfg.SpreadTimerMs = int64(p.SpreadTimerSeconds) * 1000
	}
	if p.OpenTradingTimerSeconds > 0 {
		cfg.OpenTradingTimerMs = int64(p.OpenTradingTimerSeconds) * 1000
	}
	if p.NoTighterWindowSeconds > 0 {
		cfg.NoTighterWindowMs = int64(p.NoTighterWindowSeconds) * 1000
	}

	g, err := d.registry.CreateGame(cfg)
	if err != nil {
		conn.Send(types.OutError, types.GMCreateAckPayload{Error: err.Error()})
		return
	}
	if err := g.SetGamemasterSecret(p.GamemasterSecret); err != nil {
		conn.Send(types.OutError, types.GMCreateAckPayload{Error: err.Error()})
		return
	}

	playerID := types.NewID()
	g.AddPlayer(playerID, "Gamemaster")
	g.SetGamemaster(playerID)
	if _, err := d.registry.JoinGame(g.Code, playerID, "Gamemaster"); err != nil {
		conn.Send(types.OutError, types.GMCreateAckPayload{Error: err.Error()})
		return
	}

	s.playerID = playerID
	s.gameCode = g.Code
	s.isGamemaster = true
	d.transport.Join(s.room(), conn)

	conn.Send(types.OutGameJoined, types.JoinedPayload{
		GameCode:     g.Code,
		PlayerID:     playerID,
		IsGamemaster: true,
		State:        g.GetSnapshot(true, playerID),
	})
	conn.Send("gm:create:ack", types.GMCreateAckPayload{GameCode: g.Code})
}

func (d *Dispatcher) leaveGame(conn Conn, s *session) {
	if !s.joined() {
		return
	}
	code, playerID, room := s.gameCode, s.playerID, s.room()
	_, existedBefore := d.registry.GetGame(code)
	d.registry.LeaveGame(playerID)
	d.transport.Leave(room, conn)
	s.clear()

	if !existedBefore {
		return
	}
	d.transport.Broadcast(room, types.OutPlayerLeft, map[string]string{"playerId": playerID})
	if remaining, stillExists := d.registry.GetGame(code); stillExists {
		d.broadcastState(remaining, room)
	}
}

// broadcastState sends game.GetSnapshot(...), projected per recipient, to
// every connection in room.
func (d *Dispatcher) broadcastState(g *engine.Game, room string) {
	for _, conn := range d.transport.ConnectionsIn(room) {
		s := d.sessionFor(conn)
		conn.Send(types.OutGameState, g.GetSnapshot(s.isGamemaster, s.playerID))
	}
}

// ---- engine.Observer ---------------------------------------------------

func (d *Dispatcher) OnStageChange(gameCode string, stage types.Stage, round *engine.Round) {
	g, ok := d.registry.GetGame(gameCode)
	if !ok {
		return
	}
	d.log.Info("stage changed",
		zap.String("gameCode", gameCode),
		zap.String("stage", string(stage)),
	)
	room := roomKey(gameCode)
	d.transport.Broadcast(room, types.OutStageChanged, map[string]any{
		"stage": stage,
		"round": round,
	})
	if round != nil && round.StageEndsAt != nil {
		d.transport.Broadcast(room, types.OutTimer, timerPayload(stage, *round.StageEndsAt))
	}
	d.broadcastState(g, room)
}

func (d *Dispatcher) OnOrderBookChange(gameCode string, snapshot orderbook.Snapshot) {
	d.transport.Broadcast(roomKey(gameCode), types.OutOrderBook, snapshot)
}

func (d *Dispatcher) OnTrade(gameCode string, trade orderbook.Trade) {
	d.log.Info("trade",
		zap.String("gameCode", gameCode),
		zap.String("buyerId", trade.BuyerID),
		zap.String("sellerId", trade.SellerID),
		zap.String("marketId", trade.MarketID),
		zap.Int64("quantity", trade.Quantity),
		zap.Float64("price", trade.Price),
	)
	d.transport.Broadcast(roomKey(gameCode), types.OutTrade, trade)
}

func (d *Dispatcher) OnTimer(gameCode string, stage types.Stage, endsAt time.Time, secondsRemaining int) {
	d.transport.Broadcast(roomKey(gameCode), types.OutTimer, map[string]any{
		"stage":            stage,
		"endsAt":           endsAt,
		"secondsRemaining": secondsRemaining,
	})
}

func timerPayload(stage types.Stage, endsAt time.Time) map[string]any {
	remaining := time.Until(endsAt)
	if remaining < 0 {
		remaining = 0
	}
	return map[string]any{
		"stage":            stage,
		"endsAt":           endsAt,
		"secondsRemaining": int(math.Ceil(remaining.Seconds())),
	}
}

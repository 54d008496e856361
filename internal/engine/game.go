package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tighten/internal/orderbook"
	"tighten/internal/types"
)

const maxAnnouncements = 50

// Config holds the per-game parameters fixed at creation time.
type Config struct {
	SpreadTimerMs       int64
	OpenTradingTimerMs  int64
	NoTighterWindowMs   int64
	GamemasterSecretHash []byte
}

// DefaultConfig returns the stock timer durations used when a gm:create
// request omits overrides.
func DefaultConfig() Config {
	return Config{
		SpreadTimerMs:      60000,
		OpenTradingTimerMs: 120000,
		NoTighterWindowMs:  10000,
	}
}

// Announcement is a gamemaster broadcast message retained for late joiners.
type Announcement struct {
	ID   string    `json:"id"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// effect describes one observer notification produced by a locked mutation.
// Mutating methods collect effects while holding the lock and the caller
// dispatches them to the Observer only after releasing it.
type effect struct {
	kind             effectKind
	stage            types.Stage
	round            *Round
	snapshot         orderbook.Snapshot
	trade            orderbook.Trade
	endsAt           time.Time
	secondsRemaining int
}

type effectKind int

const (
	effectStageChange effectKind = iota
	effectOrderBookChange
	effectTrade
	effectTimer
)

func stageChangeEffect(round *Round) effect {
	stage := types.Stage("")
	if round != nil {
		stage = round.Stage
	}
	return effect{kind: effectStageChange, stage: stage, round: round}
}

func orderBookEffect(s orderbook.Snapshot) effect {
	return effect{kind: effectOrderBookChange, snapshot: s}
}

func tradeEffect(t orderbook.Trade) effect {
	return effect{kind: effectTrade, trade: t}
}

func timerEffect(stage types.Stage, endsAt time.Time, secondsRemaining int) effect {
	return effect{kind: effectTimer, stage: stage, endsAt: endsAt, secondsRemaining: secondsRemaining}
}

// Game is one market-making session: its players, its market list, the
// active round and order book, and the timers driving stage transitions.
// All mutation goes through g.mu; Observer callbacks fire only once it has
// been released (see observer.go).
type Game struct {
	mu sync.Mutex

	Code      string
	Status    types.GameStatus
	CreatedAt time.Time

	cfg Config

	Markets            []*Market
	CurrentMarketIndex int
	CurrentRoundIndex  int
	Round              *Round

	Players map[string]*Player

	Announcements           []Announcement
	ShowIndividualPositions bool
	MarketTrueValues        map[string]float64
	AllMarketsComplete      bool
	PnlFinalized            bool
	MaxExposure             int64

	book *orderbook.Book

	stageTimer     *timer
	noTighterTimer *timer
	stageExpiryFn  func() []effect

	observer Observer
}

// NewGame creates an empty, lobby-status game. The caller supplies the
// Observer once; a Game never reassigns it.
func NewGame(code string, cfg Config, observer Observer) *Game {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &Game{
		Code:                    code,
		Status:                  types.StatusLobby,
		CreatedAt:               time.Now(),
		cfg:                     cfg,
		Players:                 make(map[string]*Player),
		MarketTrueValues:        make(map[string]float64),
		ShowIndividualPositions: true,
		observer:                observer,
	}
}

// emitAll dispatches a batch of effects to the Observer. Must never be
// called while g.mu is held.
func (g *Game) emitAll(effects []effect) {
	for _, e := range effects {
		switch e.kind {
		case effectStageChange:
			g.observer.OnStageChange(g.Code, e.stage, e.round)
		case effectOrderBookChange:
			g.observer.OnOrderBookChange(g.Code, e.snapshot)
		case effectTrade:
			g.observer.OnTrade(g.Code, e.trade)
		case effectTimer:
			g.observer.OnTimer(g.Code, e.stage, e.endsAt, e.secondsRemaining)
		}
	}
}

func (g *Game) marketsByID() map[string]*Market {
	out := make(map[string]*Market, len(g.Markets))
	for _, m := range g.Markets {
		out[m.ID] = m
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ---- lifecycle -------------------------------------------------------

// AddPlayer registers a player, or returns the existing player unchanged if
// the id is still seated in the game (its cash and positions are kept).
func (g *Game) AddPlayer(id, name string) *Player {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.Players[id]; ok {
		return p
	}
	marketIDs := make([]string, 0, len(g.Markets))
	for _, m := range g.Markets {
		marketIDs = append(marketIDs, m.ID)
	}
	p := NewPlayer(id, name, marketIDs)
	g.Players[id] = p
	return p
}

// PlayerCount reports how many players currently hold a seat in the game.
func (g *Game) PlayerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Players)
}

// RemovePlayer drops a player's session from the game. Their cash and
// positions are discarded; a later AddPlayer with the same id starts fresh.
func (g *Game) RemovePlayer(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.Players, id)
}

// IsGamemaster reports whether the given player holds the gamemaster role
// in this game, authoritative over whatever a caller's session claims.
func (g *Game) IsGamemaster(playerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.Players[playerID]
	return ok && p.IsGamemaster
}

// SetGamemaster marks a player (already added) as the gamemaster.
func (g *Game) SetGamemaster(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.Players[id]; ok {
		p.IsGamemaster = true
	}
}

// SetGamemasterSecret hashes and stores the secret a later gamemaster
// game:join must match.
func (g *Game) SetGamemasterSecret(secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.cfg.GamemasterSecretHash = hash
	g.mu.Unlock()
	return nil
}

// CheckGamemasterSecret reports whether secret matches the stored hash.
func (g *Game) CheckGamemasterSecret(secret string) bool {
	g.mu.Lock()
	hash := g.cfg.GamemasterSecretHash
	g.mu.Unlock()
	if len(hash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}

// AddMarket appends a tradeable market. If every previously-known market had
// already been played (allMarketsComplete, round nil), the new market
// immediately gets a fresh round and allMarketsComplete is cleared.
func (g *Game) AddMarket(m *Market) []*Market {
	var effects []effect
	g.mu.Lock()
	g.Markets = append(g.Markets, m)
	for _, p := range g.Players {
		p.positionFor(m.ID)
	}
	if g.AllMarketsComplete && g.CurrentMarketIndex < len(g.Markets) {
		g.AllMarketsComplete = false
		effects = g.startRoundLocked(g.CurrentMarketIndex)
	}
	markets := append([]*Market(nil), g.Markets...)
	g.mu.Unlock()
	g.emitAll(effects)
	return markets
}

// SetMaxExposure updates the exposure cap (0 = unlimited).
func (g *Game) SetMaxExposure(v int64) {
	g.mu.Lock()
	g.MaxExposure = v
	g.mu.Unlock()
}

// SetShowIndividualPositions toggles whether non-gamemaster viewers can see
// other players' positions and cash in their state snapshots.
func (g *Game) SetShowIndividualPositions(v bool) {
	g.mu.Lock()
	g.ShowIndividualPositions = v
	g.mu.Unlock()
}

// SetMarketTrueValue records a direct settlement value for a market.
func (g *Game) SetMarketTrueValue(marketID string, value float64) {
	g.mu.Lock()
	g.MarketTrueValues[marketID] = value
	g.mu.Unlock()
}

// AddAnnouncement appends a gamemaster broadcast, dropping the oldest once
// the retained count exceeds maxAnnouncements.
func (g *Game) AddAnnouncement(text string) Announcement {
	a := Announcement{ID: types.NewID(), Text: text, At: time.Now()}
	g.mu.Lock()
	g.Announcements = append(g.Announcements, a)
	if len(g.Announcements) > maxAnnouncements {
		g.Announcements = g.Announcements[len(g.Announcements)-maxAnnouncements:]
	}
	g.mu.Unlock()
	return a
}

// StartGame moves a lobby game into play, starting a round on its first
// market. Requires at least one market to have been added.
func (g *Game) StartGame() error {
	g.mu.Lock()
	if g.Status != types.StatusLobby {
		g.mu.Unlock()
		return fmt.Errorf("game is not in the lobby")
	}
	if len(g.Markets) == 0 {
		g.mu.Unlock()
		return fmt.Errorf("at least one market is required to start")
	}
	g.Status = types.StatusPlaying
	g.CurrentMarketIndex = 0
	effects := g.startRoundLocked(0)
	g.mu.Unlock()
	g.emitAll(effects)
	return nil
}

func (g *Game) startRoundLocked(marketIndex int) []effect {
	market := g.Markets[marketIndex]
	g.book = orderbook.New(market.ID)
	g.CurrentMarketIndex = marketIndex
	g.CurrentRoundIndex++
	g.Round = newRound(g.CurrentRoundIndex, market.ID)
	g.stageTimer.Cancel()
	g.noTighterTimer.Cancel()
	g.stageTimer = nil
	g.noTighterTimer = nil
	g.stageExpiryFn = nil
	for _, p := range g.Players {
		p.IsMarketMaker = false
		p.RoundPnl = 0
	}
	return []effect{stageChangeEffect(g.Round)}
}

// ---- stage machine -----------------------------------------------------

func (g *Game) cancelTimersLocked() {
	g.stageTimer.Cancel()
	g.noTighterTimer.Cancel()
	g.stageTimer = nil
	g.noTighterTimer = nil
	g.stageExpiryFn = nil
}

// endSpreadStageLocked ends Stage 1, triggered by either timer expiring or a
// manual nextStage. A bid was accepted -> MARKET_MAKER_QUOTE; otherwise the
// round skips straight to ROUND_END and advances.
func (g *Game) endSpreadStageLocked() []effect {
	if g.Round == nil || g.Round.Stage != types.StageSpreadQuoting {
		return nil
	}
	g.cancelTimersLocked()

	if g.Round.BestSpreadPlayerID != "" {
		if p, ok := g.Players[g.Round.BestSpreadPlayerID]; ok {
			p.IsMarketMaker = true
		}
		g.Round.Stage = types.StageMarketMakerQuote
		g.Round.StageEndsAt = nil
		return []effect{stageChangeEffect(g.Round)}
	}
	return g.enterRoundEndLocked()
}

func (g *Game) endOpenTradingLocked() []effect {
	if g.Round == nil || g.Round.Stage != types.StageOpenTrading {
		return nil
	}
	g.cancelTimersLocked()
	g.book = nil
	return g.enterRoundEndLocked()
}

func (g *Game) enterRoundEndLocked() []effect {
	g.Round.Stage = types.StageRoundEnd
	g.Round.StageEndsAt = nil
	effects := []effect{stageChangeEffect(g.Round)}
	return append(effects, g.advanceToNextMarketLocked()...)
}

func (g *Game) advanceToNextMarketLocked() []effect {
	g.CurrentMarketIndex++
	if g.CurrentMarketIndex < len(g.Markets) {
		return g.startRoundLocked(g.CurrentMarketIndex)
	}
	g.Round = nil
	g.AllMarketsComplete = true
	return []effect{stageChangeEffect(nil)}
}

// NextStage advances the current stage under gamemaster control. The
// transition taken depends on which stage is active; see spec.md 4.B.
func (g *Game) NextStage() error {
	g.mu.Lock()
	effects, err := g.nextStageLocked()
	g.mu.Unlock()
	g.emitAll(effects)
	return err
}

func (g *Game) nextStageLocked() ([]effect, error) {
	if g.Round == nil {
		return nil, fmt.Errorf("no active round")
	}
	switch g.Round.Stage {
	case types.StageSpreadQuoting:
		return g.endSpreadStageLocked(), nil
	case types.StageMarketMakerQuote:
		if g.Round.MMQuote == nil {
			return nil, fmt.Errorf("market maker has not quoted yet")
		}
		g.cancelTimersLocked()
		g.Round.Stage = types.StageForcedTrading
		return []effect{stageChangeEffect(g.Round)}, nil
	case types.StageForcedTrading:
		g.cancelTimersLocked()
		g.Round.Stage = types.StageOpenTrading
		return []effect{stageChangeEffect(g.Round)}, nil
	case types.StageOpenTrading:
		return g.endOpenTradingLocked(), nil
	case types.StageRoundEnd:
		return g.advanceToNextMarketLocked(), nil
	default:
		return nil, fmt.Errorf("unrecognized stage")
	}
}

// PrevStage rewinds the round by one stage. Only MARKET_MAKER_QUOTE ->
// SPREAD_QUOTING and FORCED_TRADING -> MARKET_MAKER_QUOTE are supported;
// this is a deliberately minimal rewind (spec.md Section 9 Open Questions),
// not a full state restore — submissions and order-book history are not
// undone.
func (g *Game) PrevStage() error {
	g.mu.Lock()
	effects, err := g.prevStageLocked()
	g.mu.Unlock()
	g.emitAll(effects)
	return err
}

func (g *Game) prevStageLocked() ([]effect, error) {
	if g.Round == nil {
		return nil, fmt.Errorf("no active round")
	}
	switch g.Round.Stage {
	case types.StageMarketMakerQuote:
		g.cancelTimersLocked()
		g.Round.Stage = types.StageSpreadQuoting
		endsAt := time.Now().Add(time.Duration(g.cfg.SpreadTimerMs) * time.Millisecond)
		g.Round.StageEndsAt = &endsAt
		return []effect{stageChangeEffect(g.Round)}, nil
	case types.StageForcedTrading:
		if g.Round.MMQuote == nil {
			return nil, fmt.Errorf("no quote to rewind")
		}
		g.cancelTimersLocked()
		g.Round.Stage = types.StageMarketMakerQuote
		g.Round.MMQuote = nil
		return []effect{stageChangeEffect(g.Round)}, nil
	default:
		return nil, fmt.Errorf("cannot rewind from stage %s", g.Round.Stage)
	}
}

// Pause freezes an in-progress game, cancelling live timers while
// preserving their recorded deadlines for Resume.
func (g *Game) Pause() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Status != types.StatusPlaying {
		return fmt.Errorf("game is not in progress")
	}
	expiryFn := g.stageExpiryFn
	g.cancelTimersLocked()
	g.stageExpiryFn = expiryFn
	g.Status = types.StatusPaused
	return nil
}

// Resume re-arms the active stage timer against its preserved deadline and
// resumes play.
func (g *Game) Resume() error {
	var effects []effect
	g.mu.Lock()
	if g.Status != types.StatusPaused {
		g.mu.Unlock()
		return fmt.Errorf("game is not paused")
	}
	g.Status = types.StatusPlaying
	if g.Round != nil && g.Round.StageEndsAt != nil && g.stageExpiryFn != nil {
		remaining := time.Until(*g.Round.StageEndsAt)
		if remaining < 0 {
			remaining = 0
		}
		effects = g.armStageTimerLocked(remaining, g.stageExpiryFn)
	}
	g.mu.Unlock()
	g.emitAll(effects)
	return nil
}

// Stop ends the game. Refused once every market has been played until P&L
// has been finalized, so a gamemaster cannot walk away from unsettled
// totals.
func (g *Game) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.AllMarketsComplete && !g.PnlFinalized {
		return fmt.Errorf("finalize P&L before stopping")
	}
	g.cancelTimersLocked()
	g.Status = types.StatusStopped
	return nil
}

// ---- timers --------------------------------------------------------

// SetTimer overrides the current stage's remaining duration. Only
// meaningful in SPREAD_QUOTING and OPEN_TRADING; a no-op otherwise.
func (g *Game) SetTimer(seconds int) error {
	g.mu.Lock()
	if g.Round == nil {
		g.mu.Unlock()
		return fmt.Errorf("no active round")
	}
	seconds = clampInt(seconds, 1, 3600)

	var expiryFn func() []effect
	switch g.Round.Stage {
	case types.StageSpreadQuoting:
		expiryFn = g.endSpreadStageLocked
	case types.StageOpenTrading:
		expiryFn = g.endOpenTradingLocked
	default:
		g.mu.Unlock()
		return nil
	}
	effects := g.armStageTimerLocked(time.Duration(seconds)*time.Second, expiryFn)
	g.mu.Unlock()
	g.emitAll(effects)
	return nil
}

func (g *Game) armStageTimerLocked(d time.Duration, expiryFn func() []effect) []effect {
	g.stageTimer.Cancel()
	g.stageExpiryFn = expiryFn

	endsAt := time.Now().Add(d)
	g.Round.StageEndsAt = &endsAt

	onTick := func(endsAt time.Time, secondsRemaining int) {
		g.mu.Lock()
		stage := types.Stage("")
		if g.Round != nil {
			stage = g.Round.Stage
		}
		g.mu.Unlock()
		g.observer.OnTimer(g.Code, stage, endsAt, secondsRemaining)
	}
	onExpiry := func() {
		g.mu.Lock()
		effects := expiryFn()
		g.mu.Unlock()
		g.emitAll(effects)
	}
	g.stageTimer = newTimer(endsAt, onTick, onExpiry)

	stage := types.Stage("")
	if g.Round != nil {
		stage = g.Round.Stage
	}
	return []effect{timerEffect(stage, endsAt, secondsRemaining(endsAt))}
}

func (g *Game) scheduleNoTighterLocked() []effect {
	g.noTighterTimer.Cancel()
	endsAt := time.Now().Add(time.Duration(g.cfg.NoTighterWindowMs) * time.Millisecond)
	g.Round.NoTighterUntil = &endsAt
	onExpiry := func() {
		g.mu.Lock()
		effects := g.endSpreadStageLocked()
		g.mu.Unlock()
		g.emitAll(effects)
	}
	g.noTighterTimer = newTimer(endsAt, nil, onExpiry)
	return nil
}

// ---- trading contracts ------------------------------------------------

// SubmitSpread records a non-gamemaster player's bid to become the round's
// market maker. Only strictly tighter (lower) widths than the current best
// are accepted.
func (g *Game) SubmitSpread(playerID string, width float64) error {
	g.mu.Lock()
	effects, err := g.submitSpreadLocked(playerID, width)
	g.mu.Unlock()
	g.emitAll(effects)
	return err
}

func (g *Game) submitSpreadLocked(playerID string, width float64) ([]effect, error) {
	player, ok := g.Players[playerID]
	if !ok {
		return nil, fmt.Errorf("unknown player")
	}
	if player.IsGamemaster {
		return nil, fmt.Errorf("gamemaster cannot submit a spread")
	}
	if g.Round == nil || g.Round.Stage != types.StageSpreadQuoting {
		return nil, fmt.Errorf("not accepting spread submissions")
	}
	if width <= 0 {
		return nil, fmt.Errorf("spread width must be positive")
	}
	if g.Round.BestSpread != nil && width >= *g.Round.BestSpread {
		return nil, fmt.Errorf("spread must be strictly tighter than the current best")
	}

	g.Round.BestSpread = &width
	g.Round.BestSpreadPlayerID = playerID
	g.Round.Submissions = append(g.Round.Submissions, SpreadSubmission{
		PlayerID:  playerID,
		Width:     width,
		Timestamp: time.Now(),
	})
	g.scheduleNoTighterLocked()
	return nil, nil
}

// SubmitMMQuote accepts the elected market maker's two-sided quote and
// advances to FORCED_TRADING.
func (g *Game) SubmitMMQuote(playerID string, bid, ask float64) error {
	g.mu.Lock()
	effects, err := g.submitMMQuoteLocked(playerID, bid, ask)
	g.mu.Unlock()
	g.emitAll(effects)
	return err
}

func (g *Game) submitMMQuoteLocked(playerID string, bid, ask float64) ([]effect, error) {
	if g.Round == nil || g.Round.Stage != types.StageMarketMakerQuote {
		return nil, fmt.Errorf("not accepting a market-maker quote")
	}
	if playerID != g.Round.BestSpreadPlayerID {
		return nil, fmt.Errorf("only the elected market maker may quote")
	}
	if ask <= bid {
		return nil, fmt.Errorf("ask must exceed bid")
	}
	width := ask - bid
	if g.Round.BestSpread == nil || math.Abs(width-*g.Round.BestSpread) > 1e-6 {
		return nil, fmt.Errorf("quote width must match the accepted spread")
	}

	g.Round.MMQuote = &MMQuote{Bid: bid, Ask: ask}
	g.cancelTimersLocked()
	g.Round.Stage = types.StageForcedTrading
	g.Round.StageEndsAt = nil
	return []effect{stageChangeEffect(g.Round)}, nil
}

// SubmitForcedTrade executes a forced trade between a non-MM, non-GM player
// and the round's market maker at the quoted bid or ask. The caller's
// average cost is recomputed; the market maker's position moves by
// quantity only.
func (g *Game) SubmitForcedTrade(playerID string, direction types.Direction, quantity int64) error {
	g.mu.Lock()
	effects, err := g.submitForcedTradeLocked(playerID, direction, quantity)
	g.mu.Unlock()
	g.emitAll(effects)
	return err
}

func (g *Game) submitForcedTradeLocked(playerID string, direction types.Direction, quantity int64) ([]effect, error) {
	if g.Round == nil || g.Round.Stage != types.StageForcedTrading {
		return nil, fmt.Errorf("not accepting forced trades")
	}
	if g.Round.MMQuote == nil {
		return nil, fmt.Errorf("no market-maker quote")
	}
	mmID := g.Round.BestSpreadPlayerID
	if playerID == mmID {
		return nil, fmt.Errorf("the market maker cannot force-trade against themself")
	}
	caller, ok := g.Players[playerID]
	if !ok {
		return nil, fmt.Errorf("unknown player")
	}
	if caller.IsGamemaster {
		return nil, fmt.Errorf("gamemaster cannot trade")
	}
	mm, ok := g.Players[mmID]
	if !ok {
		return nil, fmt.Errorf("market maker is unavailable")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	marketID := g.Round.MarketID
	var callerDelta int64
	if direction == types.DirectionBuy {
		callerDelta = quantity
	} else {
		callerDelta = -quantity
	}
	mmDelta := -callerDelta

	if g.MaxExposure > 0 {
		if caller.exposureAfter(marketID, callerDelta) > g.MaxExposure {
			return nil, fmt.Errorf("trade would exceed exposure limit")
		}
		if mm.exposureAfter(marketID, mmDelta) > g.MaxExposure {
			return nil, fmt.Errorf("trade would exceed market maker's exposure limit")
		}
	}

	var price float64
	if direction == types.DirectionBuy {
		price = g.Round.MMQuote.Ask
	} else {
		price = g.Round.MMQuote.Bid
	}

	var callerCashDelta float64
	if direction == types.DirectionBuy {
		callerCashDelta = -price * float64(quantity)
	} else {
		callerCashDelta = price * float64(quantity)
	}
	caller.Cash += callerCashDelta
	mm.Cash -= callerCashDelta

	caller.applyFillWithCostBasis(marketID, callerDelta, price)
	mm.applyFillQuantityOnly(marketID, mmDelta)

	trade := orderbook.Trade{
		ID:        types.NewID(),
		MarketID:  marketID,
		Price:     price,
		Quantity:  quantity,
		Timestamp: time.Now(),
	}
	if direction == types.DirectionBuy {
		trade.BuyerID, trade.SellerID = playerID, mmID
	} else {
		trade.BuyerID, trade.SellerID = mmID, playerID
	}
	return []effect{tradeEffect(trade)}, nil
}

// SubmitOrder places a limit order in the active market's order book.
// Resulting trades apply the buyer's average cost and never the seller's.
func (g *Game) SubmitOrder(playerID string, side types.Side, price float64, quantity int64) error {
	g.mu.Lock()
	effects, err := g.submitOrderLocked(playerID, side, price, quantity)
	g.mu.Unlock()
	g.emitAll(effects)
	return err
}

func (g *Game) submitOrderLocked(playerID string, side types.Side, price float64, quantity int64) ([]effect, error) {
	if g.Round == nil || g.Round.Stage != types.StageOpenTrading || g.book == nil {
		return nil, fmt.Errorf("not accepting orders")
	}
	if _, ok := g.Players[playerID]; !ok {
		return nil, fmt.Errorf("unknown player")
	}

	marketID := g.Round.MarketID
	maxExposure := g.MaxExposure
	players := g.Players

	validator := func(buyerID, sellerID, marketID string, qty int64) bool {
		if maxExposure <= 0 {
			return true
		}
		buyer, buyerOK := players[buyerID]
		seller, sellerOK := players[sellerID]
		if !buyerOK || !sellerOK {
			return true
		}
		if buyer.exposureAfter(marketID, qty) > maxExposure {
			return false
		}
		if seller.exposureAfter(marketID, -qty) > maxExposure {
			return false
		}
		return true
	}

	_, trades, err := g.book.AddOrder(playerID, side, price, quantity, validator)
	if err != nil {
		return nil, err
	}

	effects := []effect{orderBookEffect(g.book.GetSnapshot())}
	for _, t := range trades {
		if buyer, ok := g.Players[t.BuyerID]; ok {
			buyer.Cash -= t.Price * float64(t.Quantity)
			buyer.applyFillWithCostBasis(marketID, t.Quantity, t.Price)
		}
		if seller, ok := g.Players[t.SellerID]; ok {
			seller.Cash += t.Price * float64(t.Quantity)
			seller.applyFillQuantityOnly(marketID, -t.Quantity)
		}
		effects = append(effects, tradeEffect(t))
	}
	return effects, nil
}

// CancelOrder withdraws a resting order from the active order book.
func (g *Game) CancelOrder(playerID, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.book == nil {
		return fmt.Errorf("no active order book")
	}
	order, ok := g.book.GetOrder(orderID)
	if !ok {
		return fmt.Errorf("order not found")
	}
	if order.PlayerID != playerID {
		return fmt.Errorf("order belongs to another player")
	}
	if !g.book.CancelOrder(orderID) {
		return fmt.Errorf("order not found")
	}
	return nil
}

// ---- settlement --------------------------------------------------------

// FinalizePnl computes each player's total settlement P&L once every market
// has been played. Idempotent: a second call after success is a no-op.
func (g *Game) FinalizePnl() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.AllMarketsComplete {
		return fmt.Errorf("cannot finalize before all markets are complete")
	}
	if g.PnlFinalized {
		return nil
	}
	markets := g.marketsByID()
	for _, p := range g.Players {
		if p.IsGamemaster {
			continue
		}
		settlement := p.Cash
		for marketID, pos := range p.Positions {
			if pos.Quantity == 0 {
				continue
			}
			v, ok := resolveTrueValue(markets, g.MarketTrueValues, marketID, map[string]bool{})
			if !ok {
				continue
			}
			settlement += float64(pos.Quantity) * v
		}
		p.TotalPnl = settlement - initialEndowment
	}
	g.PnlFinalized = true
	return nil
}

// Package registry owns every live game instance: it issues collision-free
// game codes, routes players to their game via a reverse index, and tears a
// game down the moment its last player leaves.
package registry

import (
	"fmt"
	"sync"

	"tighten/internal/engine"
	"tighten/internal/types"
)

const maxCodeAttempts = 50

// Registry is the process-wide table of in-progress games.
type Registry struct {
	mu         sync.RWMutex
	games      map[string]*engine.Game
	playerGame map[string]string
	observer   engine.Observer
}

// New creates an empty registry. observer is wired onto every game it
// creates — a single Observer value shared across games, since every
// callback method already takes the game code as its first argument.
func New(observer engine.Observer) *Registry {
	return &Registry{
		games:      make(map[string]*engine.Game),
		playerGame: make(map[string]string),
		observer:   observer,
	}
}

// CreateGame allocates a fresh game under a freshly generated, collision-free
// code.
func (r *Registry) CreateGame(cfg engine.Config) (*engine.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.generateUniqueCodeLocked()
	if err != nil {
		return nil, err
	}
	g := engine.NewGame(code, cfg, r.observer)
	r.games[code] = g
	return g, nil
}

func (r *Registry) generateUniqueCodeLocked() (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		if _, taken := r.games[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("exhausted attempts generating a unique game code")
}

// GetGame looks up a game by code, case-insensitively.
func (r *Registry) GetGame(code string) (*engine.Game, bool) {
	code = types.NormalizeGameCode(code)
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.games[code]
	return g, ok
}

// JoinGame adds a player to the named game and records the reverse index
// entry used for O(1) session routing on later events.
func (r *Registry) JoinGame(code, playerID, displayName string) (*engine.Game, error) {
	g, ok := r.GetGame(code)
	if !ok {
		return nil, fmt.Errorf("game not found")
	}
	g.AddPlayer(playerID, displayName)

	r.mu.Lock()
	r.playerGame[playerID] = types.NormalizeGameCode(code)
	r.mu.Unlock()
	return g, nil
}

// LeaveGame removes a player from whichever game they last joined. If that
// was the game's last player, the game is deleted from the registry —
// including when the departing player was the gamemaster.
func (r *Registry) LeaveGame(playerID string) {
	r.mu.Lock()
	code, ok := r.playerGame[playerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.playerGame, playerID)
	g, ok := r.games[code]
	r.mu.Unlock()

	if !ok {
		return
	}
	g.RemovePlayer(playerID)
	if g.PlayerCount() == 0 {
		r.mu.Lock()
		delete(r.games, code)
		r.mu.Unlock()
	}
}

// GameCount reports the number of currently live games.
func (r *Registry) GameCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// GameForPlayer resolves a player id to their current game via the reverse
// index.
func (r *Registry) GameForPlayer(playerID string) (*engine.Game, bool) {
	r.mu.RLock()
	code, ok := r.playerGame[playerID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.GetGame(code)
}

// AddMarket appends a non-derivative market to the named game.
func (r *Registry) AddMarket(code, name, description string) ([]*engine.Market, error) {
	g, ok := r.GetGame(code)
	if !ok {
		return nil, fmt.Errorf("game not found")
	}
	m := &engine.Market{ID: types.NewID(), Name: name, Description: description}
	return g.AddMarket(m), nil
}

// AddDerivative appends a derivative market whose value resolves from the
// weighted sum of its underlyings.
func (r *Registry) AddDerivative(code, name, description string, underlyingWeights map[string]float64, condition string) ([]*engine.Market, error) {
	g, ok := r.GetGame(code)
	if !ok {
		return nil, fmt.Errorf("game not found")
	}
	m := &engine.Market{ID: types.NewID(), Name: name, Description: description, UnderlyingWeights: underlyingWeights, Condition: condition}
	return g.AddMarket(m), nil
}

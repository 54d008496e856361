package engine

// Market is a tradeable instrument for one round. A market with
// UnderlyingWeights is a derivative; its true value is resolved by summing
// its referenced underlyings' true values, weighted, possibly recursively.
type Market struct {
	ID                string
	Name              string
	Description       string
	UnderlyingWeights map[string]float64
	Condition         string
}

// IsDerivative reports whether this market's value depends on others.
func (m *Market) IsDerivative() bool {
	return len(m.UnderlyingWeights) > 0
}

// resolveTrueValue resolves a market's settlement value: the direct value if
// set, otherwise the weighted sum of its underlyings' resolved values.
// Missing or undefined underlyings, or a cycle, make the result undefined
// (spec.md 4.E). visited guards against cyclic derivative definitions.
func resolveTrueValue(markets map[string]*Market, direct map[string]float64, marketID string, visited map[string]bool) (float64, bool) {
	if v, ok := direct[marketID]; ok {
		return v, true
	}

	market, ok := markets[marketID]
	if !ok || !market.IsDerivative() {
		return 0, false
	}

	if visited[marketID] {
		return 0, false
	}
	visited[marketID] = true
	defer delete(visited, marketID)

	var total float64
	for underlyingID, weight := range market.UnderlyingWeights {
		v, ok := resolveTrueValue(markets, direct, underlyingID, visited)
		if !ok {
			return 0, false
		}
		total += weight * v
	}
	return total, true
}

package registry

import (
	"crypto/rand"
	"math/big"

	"tighten/internal/types"
)

// generateCode draws GameCodeLength characters uniformly at random from
// types.GameCodeAlphabet. Collision avoidance, not unpredictability, is the
// goal here; crypto/rand is used purely because it needs no seeding.
func generateCode() (string, error) {
	alphabetLen := big.NewInt(int64(len(types.GameCodeAlphabet)))
	b := make([]byte, types.GameCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		b[i] = types.GameCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

package pacchetto

import (
	"encoding/binary"
	"math/rand/v2"
)

// Roll reports whether a ChaCha8 draw seeded with seed falls under
// probability. The same seed always gives the same answer.
func Roll(seed uint64, probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}

	var seedBytes [32]byte
	binary.LittleEndian.PutUint64(seedBytes[0:8], seed)
	r := rand.New(rand.NewChaCha8(seedBytes))

	return r.Float64() < probability
}

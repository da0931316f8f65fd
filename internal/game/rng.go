package game

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// RandomSource yields uniform samples in [0, 1).
type RandomSource interface {
	Float64() float64
}

type cryptoSource struct{}

func (cryptoSource) Float64() float64 {
	var buf [8]byte
	if _, err := cryptoRand.Read(buf[:]); err != nil {
		return rand.Float64()
	}
	// 53 bits fill the float64 mantissa exactly
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
}

// CryptoSource draws from crypto/rand.
func CryptoSource() RandomSource { return cryptoSource{} }

type seededSource struct{ r *rand.Rand }

// NewSeededSource returns a reproducible source for replays and simulations.
func NewSeededSource(seed uint64) RandomSource {
	return &seededSource{r: rand.New(rand.NewPCG(seed, 0))}
}

func (s *seededSource) Float64() float64 { return s.r.Float64() }

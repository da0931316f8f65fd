package game

import (
	"time"

	"github.com/shopspring/decimal"
)

// BaseScore is the time-based score after elapsed play.
func BaseScore(elapsed time.Duration, pointsPerSecond float64) int64 {
	if elapsed <= 0 || pointsPerSecond <= 0 {
		return 0
	}
	seconds := decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(time.Second)))
	return seconds.Mul(decimal.NewFromFloat(pointsPerSecond)).Floor().IntPart()
}

// FinalScore is floor(baseScore * multiplier), computed in decimal so that
// products like 29 * 1.1 do not lose a point to binary rounding.
func FinalScore(baseScore int64, multiplier float64) int64 {
	return decimal.NewFromInt(baseScore).Mul(decimal.NewFromFloat(multiplier)).Floor().IntPart()
}

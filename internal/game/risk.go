package game

import (
	"math"
	"time"
)

// RiskEngine maps elapsed time to a multiplier and a multiplier to a per-tick
// crash probability. It holds configuration only; every method is a pure
// function of its arguments.
type RiskEngine struct {
	cfg RoundConfig
}

func NewRiskEngine(cfg RoundConfig) RiskEngine {
	return RiskEngine{cfg: cfg}
}

// MultiplierAt returns the multiplier after elapsed time of play.
// MultiplierAt(0) == 1 and the result never decreases as elapsed grows.
func (e RiskEngine) MultiplierAt(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return MIN_MULTIPLIER
	}
	ms := float64(elapsed) / float64(time.Millisecond)

	switch e.cfg.GrowthLaw {
	case GrowthStepped:
		// steps accelerate: the step rate itself grows by one step/s every second
		halfSeconds := ms / 500
		stepsPerSecond := 1 + ms/1000
		steps := math.Floor(halfSeconds * stepsPerSecond)
		return MIN_MULTIPLIER + steps*e.cfg.StepSize
	default:
		m := math.Pow(e.cfg.GrowthBase, ms/1000)
		if m < MIN_MULTIPLIER {
			return MIN_MULTIPLIER
		}
		return m
	}
}

// CrashRiskPerTick returns the probability that a round crashes during one
// reference tick at the given multiplier. It is 0 below 1x, never decreases
// with the multiplier and never exceeds RiskCap.
func (e RiskEngine) CrashRiskPerTick(multiplier float64) float64 {
	if multiplier < MIN_MULTIPLIER || math.IsNaN(multiplier) {
		return 0
	}

	var risk float64
	switch e.cfg.RiskLaw {
	case RiskZoned:
		// zone 0 is [1x,2x), zone 1 is [2x,4x), ...; risk doubles per zone and
		// rises linearly inside it so the curve is continuous at the borders
		logM := math.Log2(multiplier)
		zone := math.Floor(logM)
		progress := logM - zone
		risk = e.cfg.BaseRisk * math.Pow(2, zone) * (1 + progress)
	default:
		risk = e.cfg.BaseRisk * math.Pow(e.cfg.RiskGrowth, multiplier-1)
	}

	// +Inf multipliers make the zoned law NaN; treat anything unordered as capped
	if !(risk <= e.cfg.RiskCap) {
		return e.cfg.RiskCap
	}
	return risk
}

// ShouldCrash draws one sample from rng and reports whether it falls under
// the crash risk for the multiplier.
func (e RiskEngine) ShouldCrash(multiplier float64, rng RandomSource) bool {
	return rng.Float64() < e.CrashRiskPerTick(multiplier)
}

// ScaledRisk converts the per-reference-tick risk into the risk for a tick of
// length dt, so that survival per second of play is independent of the
// driver's tick rate.
func (e RiskEngine) ScaledRisk(multiplier float64, dt time.Duration) float64 {
	p := e.CrashRiskPerTick(multiplier)
	if p == 0 || dt <= 0 {
		return 0
	}
	if dt == e.cfg.ReferenceTick {
		return p
	}
	k := float64(dt) / float64(e.cfg.ReferenceTick)
	return 1 - math.Pow(1-p, k)
}

// ShouldCrashOver is ShouldCrash for a tick of length dt.
func (e RiskEngine) ShouldCrashOver(multiplier float64, dt time.Duration, rng RandomSource) bool {
	return rng.Float64() < e.ScaledRisk(multiplier, dt)
}

const maxSurvivalTicks = 10_000_000

// SurvivalProbability returns the probability that a participant is still
// flying when the multiplier first reaches target, with ticks of fixed length.
func (e RiskEngine) SurvivalProbability(target float64, tick time.Duration) float64 {
	if target <= MIN_MULTIPLIER || tick <= 0 {
		return 1
	}

	survival := 1.0
	var elapsed time.Duration
	for i := 0; i < maxSurvivalTicks; i++ {
		elapsed += tick
		m := e.MultiplierAt(elapsed)
		if m >= target {
			return survival
		}
		risk := e.CrashRiskPerTick(m)
		if e.cfg.TickCompensation {
			risk = e.ScaledRisk(m, tick)
		}
		survival *= 1 - risk
	}
	return survival
}

package game

import (
	"errors"
	"math"
	"sort"
	"time"
)

// SimParams describes one Monte Carlo run over many rounds.
type SimParams struct {
	Config  RoundConfig
	Rounds  int
	Tick    time.Duration
	Seed    uint64
	Targets []float64 // multipliers to report survival for
}

// Stats summarizes crash multipliers.
type Stats struct {
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	P99  float64 `json:"p99"`
	Max  float64 `json:"max"`
}

type SurvivalPoint struct {
	Target    float64 `json:"target"`
	Empirical float64 `json:"empirical"`
	Expected  float64 `json:"expected"`
}

type SimResult struct {
	Rounds   int             `json:"rounds"`
	Samples  int             `json:"samples"`
	Crashes  Stats           `json:"crashes"`
	Survival []SurvivalPoint `json:"survival"`
	AvgTicks float64         `json:"avg_ticks"`
}

// Simulate plays Rounds rounds through a Controller with a seeded source and
// compares the empirical survival rate at each target with the analytic
// SurvivalProbability. Each participant's crash multiplier is one sample.
func Simulate(p SimParams) (SimResult, error) {
	if p.Rounds <= 0 {
		return SimResult{}, errors.New("rounds must be positive")
	}
	if p.Tick <= 0 {
		p.Tick = p.Config.ReferenceTick
	}

	var c *Controller
	samples := make([]float64, 0, p.Rounds*max(p.Config.ParticipantCount, 1))
	sink := func(e Event) {
		if _, ok := e.(ParticipantCrashed); ok {
			samples = append(samples, c.Multiplier())
		}
	}

	c, err := NewController(p.Config, WithRandomSource(NewSeededSource(p.Seed)), WithEventSink(sink))
	if err != nil {
		return SimResult{}, err
	}

	totalTicks := 0
	for i := 0; i < p.Rounds; i++ {
		if err := c.Start(); err != nil {
			return SimResult{}, err
		}
		for n := 0; n < MAX_REPLAY_TICKS && c.State() == StatePlaying; n++ {
			c.Tick(p.Tick)
		}
		if c.State() != StateResolved {
			return SimResult{}, errors.New("round did not resolve; risk never reaches a crash")
		}
		totalTicks += c.Snapshot().Tick
		if err := c.Reset(); err != nil {
			return SimResult{}, err
		}
	}

	engine := NewRiskEngine(p.Config)
	res := SimResult{
		Rounds:   p.Rounds,
		Samples:  len(samples),
		Crashes:  calcStats(samples),
		AvgTicks: float64(totalTicks) / float64(p.Rounds),
	}
	for _, target := range p.Targets {
		reached := 0
		for _, m := range samples {
			if m >= target {
				reached++
			}
		}
		res.Survival = append(res.Survival, SurvivalPoint{
			Target:    target,
			Empirical: float64(reached) / float64(len(samples)),
			Expected:  engine.SurvivalProbability(target, p.Tick),
		})
	}
	return res, nil
}

func calcStats(xs []float64) Stats {
	if len(xs) == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, x := range sorted {
		sum += x
	}
	pct := func(q float64) float64 {
		idx := int(math.Ceil(q*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		return sorted[idx]
	}
	return Stats{
		Mean: sum / float64(len(sorted)),
		P50:  pct(0.50),
		P90:  pct(0.90),
		P99:  pct(0.99),
		Max:  sorted[len(sorted)-1],
	}
}

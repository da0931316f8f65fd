package game

import (
	"errors"
	"fmt"
	"time"
)

// GrowthLaw selects how the multiplier grows with elapsed time.
type GrowthLaw string

const (
	GrowthExponential GrowthLaw = "exponential"
	GrowthStepped     GrowthLaw = "stepped"
)

// RiskLaw selects how the per-tick crash probability grows with the multiplier.
type RiskLaw string

const (
	RiskExponential RiskLaw = "exponential"
	RiskZoned       RiskLaw = "zoned"
)

const (
	MIN_MULTIPLIER   = 1.00
	MAX_PARTICIPANTS = 2

	DEFAULT_TICK = 100 * time.Millisecond
)

// RoundConfig holds the tuning constants of a round. It is a value object:
// copy it freely, never mutate one that a controller already holds.
type RoundConfig struct {
	GrowthLaw  GrowthLaw `yaml:"growth_law" json:"growth_law"`
	GrowthBase float64   `yaml:"growth_base" json:"growth_base"`
	StepSize   float64   `yaml:"step_size" json:"step_size"`

	RiskLaw    RiskLaw `yaml:"risk_law" json:"risk_law"`
	BaseRisk   float64 `yaml:"base_risk" json:"base_risk"`
	RiskGrowth float64 `yaml:"risk_growth" json:"risk_growth"`
	RiskCap    float64 `yaml:"risk_cap" json:"risk_cap"`

	PointsPerSecond  float64 `yaml:"points_per_second" json:"points_per_second"`
	ParticipantCount int     `yaml:"participants" json:"participants"`

	// ReferenceTick is the tick length CrashRiskPerTick is calibrated for.
	ReferenceTick    time.Duration `yaml:"reference_tick" json:"reference_tick"`
	TickCompensation bool          `yaml:"tick_compensation" json:"tick_compensation"`
}

var errInvalidConfig = errors.New("invalid round config")

// DefaultRoundConfig returns the reference tuning: 1%/s compounding growth and
// a crash risk starting at 0.1% per 100ms tick, doubling per unit of
// multiplier, capped at 2%.
func DefaultRoundConfig() RoundConfig {
	return RoundConfig{
		GrowthLaw:        GrowthExponential,
		GrowthBase:       1.01,
		StepSize:         0.01,
		RiskLaw:          RiskExponential,
		BaseRisk:         0.001,
		RiskGrowth:       2.0,
		RiskCap:          0.02,
		PointsPerSecond:  10,
		ParticipantCount: 1,
		ReferenceTick:    DEFAULT_TICK,
	}
}

// Validate reports the first constant that would break the engine invariants.
func (c RoundConfig) Validate() error {
	switch c.GrowthLaw {
	case GrowthExponential:
		if c.GrowthBase < 1 {
			return fmt.Errorf("%w: growth_base must be >= 1, got %v", errInvalidConfig, c.GrowthBase)
		}
	case GrowthStepped:
		if c.StepSize < 0 {
			return fmt.Errorf("%w: step_size must be >= 0, got %v", errInvalidConfig, c.StepSize)
		}
	default:
		return fmt.Errorf("%w: unknown growth_law %q", errInvalidConfig, c.GrowthLaw)
	}

	switch c.RiskLaw {
	case RiskExponential, RiskZoned:
	default:
		return fmt.Errorf("%w: unknown risk_law %q", errInvalidConfig, c.RiskLaw)
	}
	if c.BaseRisk < 0 || c.BaseRisk > 1 {
		return fmt.Errorf("%w: base_risk must be in [0,1], got %v", errInvalidConfig, c.BaseRisk)
	}
	if c.RiskGrowth < 1 {
		return fmt.Errorf("%w: risk_growth must be >= 1, got %v", errInvalidConfig, c.RiskGrowth)
	}
	if c.RiskCap <= 0 || c.RiskCap >= 1 {
		return fmt.Errorf("%w: risk_cap must be in (0,1), got %v", errInvalidConfig, c.RiskCap)
	}
	if c.PointsPerSecond < 0 {
		return fmt.Errorf("%w: points_per_second must be >= 0, got %v", errInvalidConfig, c.PointsPerSecond)
	}
	if c.ParticipantCount < 1 || c.ParticipantCount > MAX_PARTICIPANTS {
		return fmt.Errorf("%w: participants must be between 1 and %d, got %d", errInvalidConfig, MAX_PARTICIPANTS, c.ParticipantCount)
	}
	if c.ReferenceTick <= 0 {
		return fmt.Errorf("%w: reference_tick must be positive", errInvalidConfig)
	}
	return nil
}

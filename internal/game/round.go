package game

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidTransition rejects a command the current state does not accept.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrUnknownParticipant rejects a participant id outside the round.
	ErrUnknownParticipant = errors.New("unknown participant")
)

// EventSink receives controller events synchronously, in emission order.
// It must not call back into the controller.
type EventSink func(Event)

// Controller runs the round state machine for 1..N participants sharing one
// multiplier clock. It has a single writer: callers serialize Start, Tick,
// Land and Reset themselves.
type Controller struct {
	cfg  RoundConfig
	risk RiskEngine
	rng  RandomSource
	now  func() time.Time
	sink EventSink

	state      RoundState
	startedAt  time.Time
	elapsed    time.Duration
	tick       int
	multiplier float64
	riskLevel  float64

	participants map[ParticipantID]*Participant
	order        []ParticipantID
}

type Option func(*Controller)

// WithRandomSource sets the source for crash draws. Defaults to CryptoSource.
func WithRandomSource(rng RandomSource) Option {
	return func(c *Controller) { c.rng = rng }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithEventSink(sink EventSink) Option {
	return func(c *Controller) { c.sink = sink }
}

func NewController(cfg RoundConfig, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:  cfg,
		risk: NewRiskEngine(cfg),
		rng:  CryptoSource(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.order = make([]ParticipantID, cfg.ParticipantCount)
	for i := range c.order {
		c.order[i] = ParticipantID(i + 1)
	}
	c.clear()
	return c, nil
}

func (c *Controller) clear() {
	c.state = StateWaiting
	c.startedAt = time.Time{}
	c.elapsed = 0
	c.tick = 0
	c.multiplier = MIN_MULTIPLIER
	c.riskLevel = 0
	c.participants = make(map[ParticipantID]*Participant, len(c.order))
	for _, id := range c.order {
		c.participants[id] = &Participant{ID: id}
	}
}

func (c *Controller) emit(e Event) {
	if c.sink != nil {
		c.sink(e)
	}
}

// SetRandomSource replaces the crash-draw source for the next round.
func (c *Controller) SetRandomSource(rng RandomSource) error {
	if c.state == StatePlaying {
		return fmt.Errorf("%w: cannot swap random source while playing", ErrInvalidTransition)
	}
	c.rng = rng
	return nil
}

// Start begins a round. Only a waiting round can start.
func (c *Controller) Start() error {
	if c.state != StateWaiting {
		return fmt.Errorf("%w: cannot start while %s", ErrInvalidTransition, c.state)
	}

	c.clear()
	c.state = StatePlaying
	c.startedAt = c.now()
	c.riskLevel = c.risk.CrashRiskPerTick(c.multiplier)

	c.emit(StateChanged{State: StatePlaying})
	return nil
}

// Tick advances a playing round by dt. Outside Playing it only returns the
// current snapshot.
func (c *Controller) Tick(dt time.Duration) Snapshot {
	if c.state != StatePlaying {
		return c.Snapshot()
	}
	if dt < 0 {
		dt = 0
	}

	if dt > time.Duration(math.MaxInt64)-c.elapsed {
		c.elapsed = time.Duration(math.MaxInt64)
	} else {
		c.elapsed += dt
	}
	c.tick++
	if m := c.risk.MultiplierAt(c.elapsed); m > c.multiplier {
		c.multiplier = m
	}

	alive := make([]*Participant, 0, len(c.order))
	for _, id := range c.order {
		if p := c.participants[id]; !p.HasCrashed {
			alive = append(alive, p)
		}
	}

	base := BaseScore(c.elapsed, c.cfg.PointsPerSecond)
	for _, p := range alive {
		if base > p.BaseScore {
			p.BaseScore = base
		}
		c.emit(ScoreUpdated{Participant: p.ID, BaseScore: p.BaseScore, Multiplier: c.multiplier})
	}

	if c.cfg.TickCompensation {
		c.riskLevel = c.risk.ScaledRisk(c.multiplier, dt)
	} else {
		c.riskLevel = c.risk.CrashRiskPerTick(c.multiplier)
	}
	c.emit(RiskUpdated{Risk: c.riskLevel, Multiplier: c.multiplier})

	// shared multiplier, one independent draw per participant
	for _, p := range alive {
		if !c.shouldCrash(dt) {
			continue
		}
		p.HasCrashed = true
		p.CrashTick = c.tick
		if !p.HasLanded {
			p.FinalScore = 0
		}
		c.emit(ParticipantCrashed{Participant: p.ID, FinalScore: p.FinalScore, Landed: p.HasLanded})
	}

	if c.allCrashed() {
		c.state = StateResolved
		c.emit(RoundResolved{Multiplier: c.multiplier, Elapsed: c.elapsed, Ticks: c.tick})
		c.emit(StateChanged{State: StateResolved})
	}
	return c.Snapshot()
}

func (c *Controller) shouldCrash(dt time.Duration) bool {
	if c.cfg.TickCompensation {
		return c.risk.ShouldCrashOver(c.multiplier, dt, c.rng)
	}
	return c.risk.ShouldCrash(c.multiplier, c.rng)
}

func (c *Controller) allCrashed() bool {
	for _, p := range c.participants {
		if !p.HasCrashed {
			return false
		}
	}
	return true
}

// Land cashes out a participant at the current multiplier and returns the
// locked-in final score. The participant keeps flying and may still crash,
// which no longer changes the score.
func (c *Controller) Land(id ParticipantID) (int64, error) {
	p, ok := c.participants[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}
	if c.state != StatePlaying {
		return 0, fmt.Errorf("%w: cannot land while %s", ErrInvalidTransition, c.state)
	}
	if p.HasLanded {
		return 0, fmt.Errorf("%w: participant %d already landed", ErrInvalidTransition, id)
	}
	if p.HasCrashed {
		return 0, fmt.Errorf("%w: participant %d already crashed", ErrInvalidTransition, id)
	}

	p.HasLanded = true
	p.LandedAt = c.multiplier
	p.FinalScore = FinalScore(p.BaseScore, c.multiplier)

	c.emit(ParticipantLanded{Participant: id, FinalScore: p.FinalScore, Multiplier: c.multiplier})
	return p.FinalScore, nil
}

// Reset returns a resolved (or still waiting) round to its construction state.
func (c *Controller) Reset() error {
	if c.state == StatePlaying {
		return fmt.Errorf("%w: cannot reset while playing", ErrInvalidTransition)
	}

	c.clear()
	c.emit(RoundReset{})
	c.emit(StateChanged{State: StateWaiting})
	return nil
}

func (c *Controller) State() RoundState      { return c.state }
func (c *Controller) Multiplier() float64    { return c.multiplier }
func (c *Controller) Elapsed() time.Duration { return c.elapsed }
func (c *Controller) Config() RoundConfig    { return c.cfg }

// Participants lists the participant ids in draw order.
func (c *Controller) Participants() []ParticipantID {
	return append([]ParticipantID(nil), c.order...)
}

// Snapshot copies the public round state.
func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{
		State:        c.state,
		StartedAt:    c.startedAt,
		Elapsed:      c.elapsed,
		Tick:         c.tick,
		Multiplier:   c.multiplier,
		Risk:         c.riskLevel,
		Participants: make([]Participant, 0, len(c.order)),
	}
	for _, id := range c.order {
		s.Participants = append(s.Participants, *c.participants[id])
	}
	return s
}

package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	COMMAND_BUFFER  = 256
	COMMAND_TIMEOUT = 500 * time.Millisecond
	PERSIST_TIMEOUT = 3 * time.Second
)

var (
	ErrQueueFull      = errors.New("command queue full")
	ErrCommandTimeout = errors.New("command timeout")
	ErrSeatTaken      = errors.New("seat taken")
	ErrNoSeat         = errors.New("no seat")
)

// TableConfig describes one table: its round tuning and the server cadence.
type TableConfig struct {
	ID           string        `yaml:"id" json:"id"`
	Round        RoundConfig   `yaml:"round" json:"round"`
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`
	// WaitingTime auto-starts a waiting round after this long; 0 waits for a start command.
	WaitingTime time.Duration `yaml:"waiting_time" json:"waiting_time"`
	// CooldownTime auto-resets a resolved round after this long; 0 waits for a reset command.
	CooldownTime time.Duration `yaml:"cooldown_time" json:"cooldown_time"`
	// MaxRoundDuration abandons a round still playing after this long; 0 disables.
	MaxRoundDuration time.Duration `yaml:"max_round_duration" json:"max_round_duration"`
}

func DefaultTableConfig(id string) TableConfig {
	return TableConfig{
		ID:               id,
		Round:            DefaultRoundConfig(),
		TickInterval:     DEFAULT_TICK,
		WaitingTime:      5 * time.Second,
		CooldownTime:     3 * time.Second,
		MaxRoundDuration: 30 * time.Minute,
	}
}

type ParticipantRecord struct {
	Participant ParticipantID `json:"participant"`
	UserID      string        `json:"user_id,omitempty"`
	Landed      bool          `json:"landed"`
	LandedAt    float64       `json:"landed_at,omitempty"`
	FinalScore  int64         `json:"final_score"`
	CrashTick   int           `json:"crash_tick"`
}

// RoundRecord is the durable result of a resolved round.
type RoundRecord struct {
	RoundID        string              `json:"round_id"`
	TableID        string              `json:"table_id"`
	ServerSeed     string              `json:"server_seed"`
	HashCommitment string              `json:"hash_commitment"`
	ClientSeed     string              `json:"client_seed"`
	Nonce          uint64              `json:"nonce"`
	TickInterval   time.Duration       `json:"tick_interval"`
	Multiplier     float64             `json:"multiplier"`
	Ticks          int                 `json:"ticks"`
	StartedAt      time.Time           `json:"started_at"`
	ResolvedAt     time.Time           `json:"resolved_at"`
	Participants   []ParticipantRecord `json:"participants"`
}

// RoundStore keeps resolved rounds.
type RoundStore interface {
	SaveRound(ctx context.Context, rec RoundRecord) error
}

// LiveCache holds the live state of each table and per-player results.
type LiveCache interface {
	SaveRoundInfo(ctx context.Context, info RoundInfo) error
	RecordResult(ctx context.Context, rec RoundRecord) error
}

// Publisher receives table events, typically the websocket Hub.
type Publisher interface {
	Publish(tableID string, e Event) bool
	Broadcast(tableID string, message any) bool
}

// Manager runs one table: a single goroutine owns the Controller, drives
// ticks at TickInterval and serializes commands arriving on a channel.
type Manager struct {
	table     TableConfig
	publisher Publisher
	store     RoundStore
	cache     LiveCache
	logger    *slog.Logger
	ctx       context.Context

	ctrl       *Controller
	commands   chan CommandRequest
	stopChan   chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	stateMutex sync.RWMutex
	info       RoundInfo

	started      bool
	nonce        uint64
	serverSeed   string
	seats        map[ParticipantID]string
	phaseStarted time.Time
	resolved     bool
}

type ManagerOption func(*Manager)

func WithStore(store RoundStore) ManagerOption {
	return func(m *Manager) { m.store = store }
}

func WithCache(cache LiveCache) ManagerOption {
	return func(m *Manager) { m.cache = cache }
}

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(table TableConfig, publisher Publisher, opts ...ManagerOption) (*Manager, error) {
	if table.ID == "" {
		return nil, errors.New("table id is required")
	}
	if table.TickInterval <= 0 {
		table.TickInterval = DEFAULT_TICK
	}

	m := &Manager{
		table:     table,
		publisher: publisher,
		logger:    slog.Default(),
		ctx:       context.Background(),
		commands:  make(chan CommandRequest, COMMAND_BUFFER),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
		seats:     make(map[ParticipantID]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "table", "table", table.ID)

	ctrl, err := NewController(table.Round, WithEventSink(m.onEvent))
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", table.ID, err)
	}
	m.ctrl = ctrl
	return m, nil
}

func (m *Manager) ID() string { return m.table.ID }

func (m *Manager) Config() TableConfig { return m.table }

// Start launches the table loop.
func (m *Manager) Start(ctx context.Context) error {
	if m.started {
		return fmt.Errorf("table %s already started", m.table.ID)
	}
	m.started = true
	m.ctx = ctx
	m.prepareRound()
	go m.loop()
	return nil
}

// Stop ends the table loop and waits for it to exit.
func (m *Manager) Stop() error {
	if !m.started {
		return nil
	}
	m.stopOnce.Do(func() { close(m.stopChan) })
	<-m.done
	return nil
}

// GetCurrentRound returns a copy of the current round as seen by clients.
func (m *Manager) GetCurrentRound() RoundInfo {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	info := m.info
	info.Seats = make(map[ParticipantID]string, len(m.info.Seats))
	for k, v := range m.info.Seats {
		info.Seats[k] = v
	}
	info.Snapshot.Participants = append([]Participant(nil), m.info.Snapshot.Participants...)
	return info
}

// Submit hands a command to the table loop and waits for its answer.
func (m *Manager) Submit(req CommandRequest) CommandResponse {
	respChan := make(chan CommandResponse, 1)
	req.ResponseChan = respChan

	select {
	case m.commands <- req:
		select {
		case resp := <-respChan:
			return resp
		case <-time.After(COMMAND_TIMEOUT):
			return CommandResponse{Success: false, Message: ErrCommandTimeout.Error(), Err: ErrCommandTimeout}
		}
	default:
		return CommandResponse{Success: false, Message: ErrQueueFull.Error(), Err: ErrQueueFull}
	}
}

func (m *Manager) Join(userID string, participant ParticipantID) CommandResponse {
	return m.Submit(CommandRequest{Type: CommandJoin, UserID: userID, Participant: participant})
}

func (m *Manager) StartRound(userID string) CommandResponse {
	return m.Submit(CommandRequest{Type: CommandStart, UserID: userID})
}

func (m *Manager) Land(userID string, participant ParticipantID) CommandResponse {
	return m.Submit(CommandRequest{Type: CommandLand, UserID: userID, Participant: participant})
}

func (m *Manager) ResetRound(userID string) CommandResponse {
	return m.Submit(CommandRequest{Type: CommandReset, UserID: userID})
}

func (m *Manager) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.table.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			m.logger.Info("table loop stopped")
			return
		case <-m.ctx.Done():
			m.logger.Info("table loop cancelled")
			return
		case cmd := <-m.commands:
			m.handleCommand(cmd)
		case now := <-ticker.C:
			m.step(now)
		}
	}
}

// step advances the table by one server tick.
func (m *Manager) step(now time.Time) {
	switch m.ctrl.State() {
	case StateWaiting:
		if m.table.WaitingTime > 0 && now.Sub(m.phaseStarted) >= m.table.WaitingTime {
			if err := m.startRound(); err != nil {
				m.logger.Warn("auto start failed", "err", err)
			}
		}

	case StatePlaying:
		// fixed dt keeps the round replayable from its seeds
		m.ctrl.Tick(m.table.TickInterval)
		if m.resolved {
			m.finishRound(now)
		} else if m.table.MaxRoundDuration > 0 && now.Sub(m.phaseStarted) >= m.table.MaxRoundDuration {
			m.abandonRound()
		}
		m.refresh()

	case StateResolved:
		if m.table.CooldownTime > 0 && now.Sub(m.phaseStarted) >= m.table.CooldownTime {
			if err := m.ctrl.Reset(); err != nil {
				m.logger.Warn("auto reset failed", "err", err)
				return
			}
			m.prepareRound()
		}
	}
}

func (m *Manager) onEvent(e Event) {
	if _, ok := e.(RoundResolved); ok {
		m.resolved = true
	}
	if m.publisher != nil {
		m.publisher.Publish(m.table.ID, e)
	}
}

// prepareRound commits to a fresh server seed for the next round.
func (m *Manager) prepareRound() {
	m.nonce++
	m.serverSeed = GenerateSeed()
	clientSeed := GenerateSeed()
	commitment := HashCommitment(m.serverSeed)

	if err := m.ctrl.SetRandomSource(NewFairSource(m.serverSeed, clientSeed, m.nonce)); err != nil {
		m.logger.Error("set random source", "err", err)
	}
	m.seats = make(map[ParticipantID]string)
	m.resolved = false
	m.phaseStarted = time.Now()

	m.stateMutex.Lock()
	m.info = RoundInfo{
		RoundID:        uuid.NewString(),
		TableID:        m.table.ID,
		HashCommitment: commitment,
		ClientSeed:     clientSeed,
		Nonce:          m.nonce,
	}
	m.stateMutex.Unlock()
	m.refresh()

	m.logger.Info("round prepared", "round", m.info.RoundID, "commitment", commitment[:16]+"...")
	m.broadcast("round_prepared", map[string]any{
		"round_id":    m.info.RoundID,
		"commitment":  commitment,
		"client_seed": clientSeed,
		"nonce":       m.nonce,
		"time_left":   m.table.WaitingTime.Seconds(),
	})
}

func (m *Manager) startRound() error {
	if err := m.ctrl.Start(); err != nil {
		return err
	}
	m.phaseStarted = time.Now()
	m.refresh()
	m.logger.Info("round started", "round", m.info.RoundID, "seats", len(m.seats))
	return nil
}

// finishRound reveals the seed and persists the result. Storage failures are
// logged and never touch the round state.
func (m *Manager) finishRound(now time.Time) {
	m.phaseStarted = now
	snap := m.ctrl.Snapshot()

	m.stateMutex.Lock()
	m.info.ServerSeed = m.serverSeed
	info := m.info
	m.stateMutex.Unlock()

	rec := RoundRecord{
		RoundID:        info.RoundID,
		TableID:        m.table.ID,
		ServerSeed:     m.serverSeed,
		HashCommitment: info.HashCommitment,
		ClientSeed:     info.ClientSeed,
		Nonce:          info.Nonce,
		TickInterval:   m.table.TickInterval,
		Multiplier:     snap.Multiplier,
		Ticks:          snap.Tick,
		StartedAt:      snap.StartedAt,
		ResolvedAt:     now,
	}
	for _, p := range snap.Participants {
		rec.Participants = append(rec.Participants, ParticipantRecord{
			Participant: p.ID,
			UserID:      m.seats[p.ID],
			Landed:      p.HasLanded,
			LandedAt:    p.LandedAt,
			FinalScore:  p.FinalScore,
			CrashTick:   p.CrashTick,
		})
	}

	m.logger.Info("round resolved", "round", rec.RoundID, "multiplier", rec.Multiplier, "ticks", rec.Ticks)
	m.broadcast("round_revealed", map[string]any{
		"round_id":    rec.RoundID,
		"server_seed": rec.ServerSeed,
		"multiplier":  rec.Multiplier,
		"ticks":       rec.Ticks,
	})

	ctx, cancel := context.WithTimeout(m.ctx, PERSIST_TIMEOUT)
	defer cancel()
	if m.store != nil {
		if err := m.store.SaveRound(ctx, rec); err != nil {
			m.logger.Error("save round", "round", rec.RoundID, "err", err)
		}
	}
	if m.cache != nil {
		if err := m.cache.RecordResult(ctx, rec); err != nil {
			m.logger.Error("record result", "round", rec.RoundID, "err", err)
		}
	}
}

// abandonRound replaces a round that outlived MaxRoundDuration.
func (m *Manager) abandonRound() {
	m.logger.Warn("round abandoned", "round", m.info.RoundID, "elapsed", m.ctrl.Elapsed())
	ctrl, err := NewController(m.table.Round, WithEventSink(m.onEvent))
	if err != nil {
		m.logger.Error("recreate controller", "err", err)
		return
	}
	m.ctrl = ctrl
	m.broadcast(string(EventRoundReset), RoundReset{})
	m.prepareRound()
}

func (m *Manager) handleCommand(req CommandRequest) {
	resp := CommandResponse{}
	defer func() {
		if req.ResponseChan != nil {
			req.ResponseChan <- resp
		}
	}()
	resp.RoundID = m.info.RoundID

	var err error
	switch req.Type {
	case CommandJoin:
		resp.Participant, err = m.join(req.UserID, req.Participant)
		resp.Message = "Seat claimed"

	case CommandStart:
		err = m.startRound()
		resp.Message = "Round started"

	case CommandLand:
		resp.Participant, resp.FinalScore, err = m.land(req.UserID, req.Participant)
		resp.Multiplier = m.ctrl.Multiplier()
		resp.Message = fmt.Sprintf("Landed at %.2fx", resp.Multiplier)

	case CommandReset:
		if err = m.ctrl.Reset(); err == nil {
			m.prepareRound()
			resp.RoundID = m.info.RoundID
		}
		resp.Message = "Round reset"

	default:
		err = fmt.Errorf("unknown command %q", req.Type)
	}

	if err != nil {
		resp.Message = err.Error()
		resp.Err = err
		return
	}
	resp.Success = true
	m.refresh()
}

func (m *Manager) join(userID string, want ParticipantID) (ParticipantID, error) {
	if m.ctrl.State() != StateWaiting {
		return 0, fmt.Errorf("%w: seats are only assigned while waiting", ErrInvalidTransition)
	}
	for id, owner := range m.seats {
		if owner == userID {
			return id, nil
		}
	}

	ids := m.ctrl.Participants()
	if want != 0 {
		known := false
		for _, id := range ids {
			known = known || id == want
		}
		if !known {
			return 0, fmt.Errorf("%w: %d", ErrUnknownParticipant, want)
		}
		if _, taken := m.seats[want]; taken {
			return 0, fmt.Errorf("%w: participant %d", ErrSeatTaken, want)
		}
		m.seats[want] = userID
		return want, nil
	}

	for _, id := range ids {
		if _, taken := m.seats[id]; !taken {
			m.seats[id] = userID
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: all %d seats claimed", ErrSeatTaken, len(ids))
}

// land resolves which participant the user means: an explicit id must be a
// seat the user claimed, no id means the user's own seat.
func (m *Manager) land(userID string, participant ParticipantID) (ParticipantID, int64, error) {
	if participant == 0 {
		for id, owner := range m.seats {
			if owner == userID {
				participant = id
			}
		}
		if participant == 0 {
			return 0, 0, fmt.Errorf("%w: user %s holds no seat", ErrNoSeat, userID)
		}
	} else if owner, taken := m.seats[participant]; !taken {
		return 0, 0, fmt.Errorf("%w: participant %d is unclaimed", ErrNoSeat, participant)
	} else if owner != userID {
		return 0, 0, fmt.Errorf("%w: participant %d belongs to another player", ErrSeatTaken, participant)
	}

	score, err := m.ctrl.Land(participant)
	return participant, score, err
}

// refresh publishes the controller snapshot to readers and the live cache.
func (m *Manager) refresh() {
	snap := m.ctrl.Snapshot()

	m.stateMutex.Lock()
	m.info.Snapshot = snap
	m.info.Seats = make(map[ParticipantID]string, len(m.seats))
	for k, v := range m.seats {
		m.info.Seats[k] = v
	}
	info := m.info
	m.stateMutex.Unlock()

	if m.cache != nil {
		ctx, cancel := context.WithTimeout(m.ctx, PERSIST_TIMEOUT)
		defer cancel()
		if err := m.cache.SaveRoundInfo(ctx, info); err != nil {
			m.logger.Debug("save round info", "err", err)
		}
	}
}

func (m *Manager) broadcast(kind string, data any) {
	if m.publisher != nil {
		m.publisher.Broadcast(m.table.ID, WSMessage{Type: kind, TableID: m.table.ID, Data: data})
	}
}

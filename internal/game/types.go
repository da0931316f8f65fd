package game

import (
	"time"
)

type RoundState string

const (
	StateWaiting  RoundState = "WAITING"
	StatePlaying  RoundState = "PLAYING"
	StateResolved RoundState = "RESOLVED"
)

// ParticipantID numbers the balloons of a round from 1.
type ParticipantID int

type Participant struct {
	ID         ParticipantID `json:"id"`
	HasLanded  bool          `json:"has_landed"`
	HasCrashed bool          `json:"has_crashed"`
	BaseScore  int64         `json:"base_score"`
	FinalScore int64         `json:"final_score"`
	LandedAt   float64       `json:"landed_at,omitempty"` // multiplier locked in by Land
	CrashTick  int           `json:"crash_tick,omitempty"`
}

// Snapshot is the public state of a round after a command or tick.
type Snapshot struct {
	State        RoundState    `json:"state"`
	StartedAt    time.Time     `json:"started_at,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	Tick         int           `json:"tick"`
	Multiplier   float64       `json:"multiplier"`
	Risk         float64       `json:"risk"`
	Participants []Participant `json:"participants"`
}

// Participant returns the participant with the given id from the snapshot.
func (s Snapshot) Participant(id ParticipantID) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

type EventType string

const (
	EventStateChanged       EventType = "state_changed"
	EventScoreUpdated       EventType = "score_update"
	EventRiskUpdated        EventType = "risk_update"
	EventParticipantCrashed EventType = "crash"
	EventParticipantLanded  EventType = "land"
	EventRoundResolved      EventType = "round_resolved"
	EventRoundReset         EventType = "round_reset"
)

// Event is anything a Controller emits to its collaborators.
type Event interface {
	Type() EventType
}

type StateChanged struct {
	State RoundState `json:"state"`
}

type ScoreUpdated struct {
	Participant ParticipantID `json:"participant"`
	BaseScore   int64         `json:"base_score"`
	Multiplier  float64       `json:"multiplier"`
}

type RiskUpdated struct {
	Risk       float64 `json:"risk"`
	Multiplier float64 `json:"multiplier"`
}

type ParticipantCrashed struct {
	Participant ParticipantID `json:"participant"`
	FinalScore  int64         `json:"final_score"`
	Landed      bool          `json:"landed"`
}

type ParticipantLanded struct {
	Participant ParticipantID `json:"participant"`
	FinalScore  int64         `json:"final_score"`
	Multiplier  float64       `json:"multiplier"`
}

type RoundResolved struct {
	Multiplier float64       `json:"multiplier"`
	Elapsed    time.Duration `json:"elapsed"`
	Ticks      int           `json:"ticks"`
}

type RoundReset struct{}

func (StateChanged) Type() EventType       { return EventStateChanged }
func (ScoreUpdated) Type() EventType       { return EventScoreUpdated }
func (RiskUpdated) Type() EventType        { return EventRiskUpdated }
func (ParticipantCrashed) Type() EventType { return EventParticipantCrashed }
func (ParticipantLanded) Type() EventType  { return EventParticipantLanded }
func (RoundResolved) Type() EventType      { return EventRoundResolved }
func (RoundReset) Type() EventType         { return EventRoundReset }

// Network-facing types used by Manager and the server.

type CommandType string

const (
	CommandJoin  CommandType = "join"
	CommandStart CommandType = "start"
	CommandLand  CommandType = "land"
	CommandReset CommandType = "reset"
)

type CommandRequest struct {
	Type         CommandType          `json:"type"`
	UserID       string               `json:"user_id"`
	Participant  ParticipantID        `json:"participant,omitempty"`
	ResponseChan chan CommandResponse `json:"-"`
}

type CommandResponse struct {
	Success     bool          `json:"success"`
	Message     string        `json:"message"`
	RoundID     string        `json:"round_id,omitempty"`
	Participant ParticipantID `json:"participant,omitempty"`
	FinalScore  int64         `json:"final_score,omitempty"`
	Multiplier  float64       `json:"multiplier,omitempty"`
	Err         error         `json:"-"`
}

// RoundInfo is what a table exposes about its current round.
type RoundInfo struct {
	RoundID        string                   `json:"round_id"`
	TableID        string                   `json:"table_id"`
	HashCommitment string                   `json:"hash_commitment"`
	ClientSeed     string                   `json:"client_seed"`
	ServerSeed     string                   `json:"server_seed,omitempty"` // revealed once resolved
	Nonce          uint64                   `json:"nonce"`
	Seats          map[ParticipantID]string `json:"seats"`
	Snapshot       Snapshot                 `json:"snapshot"`
}

type WSMessage struct {
	Type    string `json:"type"`
	TableID string `json:"table_id,omitempty"`
	Data    any    `json:"data,omitempty"`
}

package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// MAX_REPLAY_TICKS bounds a replay for configurations that never crash.
const MAX_REPLAY_TICKS = 1_000_000

// FairSource is a RandomSource derived from HMAC-SHA256(serverSeed,
// "clientSeed:nonce:block"). Publishing HashCommitment(serverSeed) before the
// round and the seed after it lets anyone replay every crash draw.
type FairSource struct {
	serverSeed string
	clientSeed string
	nonce      uint64
	block      uint64
	pos        int
	buffer     [32]byte
}

func NewFairSource(serverSeed, clientSeed string, nonce uint64) *FairSource {
	fs := &FairSource{
		serverSeed: serverSeed,
		clientSeed: clientSeed,
		nonce:      nonce,
	}
	fs.fill()
	return fs
}

func (fs *FairSource) fill() {
	h := hmac.New(sha256.New, []byte(fs.serverSeed))
	fmt.Fprintf(h, "%s:%d:%d", fs.clientSeed, fs.nonce, fs.block)
	copy(fs.buffer[:], h.Sum(nil))
	fs.pos = 0
}

// Float64 consumes 8 bytes of the stream and keeps the top 53 bits.
func (fs *FairSource) Float64() float64 {
	if fs.pos+8 > len(fs.buffer) {
		fs.block++
		fs.fill()
	}
	u := binary.BigEndian.Uint64(fs.buffer[fs.pos:fs.pos+8]) >> 11
	fs.pos += 8
	return float64(u) / (1 << 53)
}

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment creates a SHA256 hash of the seed for commitment
func HashCommitment(seed string) string {
	h := sha256.New()
	h.Write([]byte(seed))
	return hex.EncodeToString(h.Sum(nil))
}

// ReplayCrashTicks reruns a round with fixed ticks and returns the tick on
// which each participant crashed. Land commands never consume draws, so the
// result depends only on the seeds, the nonce, the config and the tick.
func ReplayCrashTicks(cfg RoundConfig, serverSeed, clientSeed string, nonce uint64, tick time.Duration) (map[ParticipantID]int, error) {
	c, err := NewController(cfg, WithRandomSource(NewFairSource(serverSeed, clientSeed, nonce)))
	if err != nil {
		return nil, err
	}
	if err := c.Start(); err != nil {
		return nil, err
	}

	var snap Snapshot
	for i := 0; i < MAX_REPLAY_TICKS && c.State() == StatePlaying; i++ {
		snap = c.Tick(tick)
	}
	if c.State() != StateResolved {
		return nil, fmt.Errorf("round did not resolve within %d ticks", MAX_REPLAY_TICKS)
	}

	ticks := make(map[ParticipantID]int, len(snap.Participants))
	for _, p := range snap.Participants {
		ticks[p.ID] = p.CrashTick
	}
	return ticks, nil
}

// VerifyRound allows players to verify the fairness of a round: the revealed
// seed must match the commitment and replay to the claimed crash ticks.
func VerifyRound(cfg RoundConfig, serverSeed, commitment, clientSeed string, nonce uint64, tick time.Duration, claimed map[ParticipantID]int) bool {
	if !hmac.Equal([]byte(HashCommitment(serverSeed)), []byte(commitment)) {
		return false
	}

	ticks, err := ReplayCrashTicks(cfg, serverSeed, clientSeed, nonce, tick)
	if err != nil || len(ticks) != len(claimed) {
		return false
	}
	for id, t := range claimed {
		if ticks[id] != t {
			return false
		}
	}
	return true
}

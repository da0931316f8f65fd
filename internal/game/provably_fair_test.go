package game

import (
	"testing"
	"time"
)

func fastCrashConfig() RoundConfig {
	cfg := DefaultRoundConfig()
	cfg.ParticipantCount = 2
	cfg.BaseRisk = 0.05
	cfg.RiskCap = 0.5
	return cfg
}

func TestFairSource_Deterministic(t *testing.T) {
	a := NewFairSource("server_seed", "client_seed", 1)
	b := NewFairSource("server_seed", "client_seed", 1)

	// 10 draws cross the 32-byte block boundary twice
	for i := 0; i < 10; i++ {
		x, y := a.Float64(), b.Float64()
		if x != y {
			t.Fatalf("draw %d: %v != %v", i, x, y)
		}
		if x < 0 || x >= 1 {
			t.Fatalf("draw %d: %v outside [0,1)", i, x)
		}
	}
}

func TestFairSource_InputsChangeStream(t *testing.T) {
	first := NewFairSource("server_seed", "client_seed", 1).Float64()

	tests := []struct {
		name string
		src  *FairSource
	}{
		{"different nonce", NewFairSource("server_seed", "client_seed", 2)},
		{"different client seed", NewFairSource("server_seed", "other_client", 1)},
		{"different server seed", NewFairSource("other_server", "client_seed", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.src.Float64(); got == first {
				t.Errorf("Float64() = %v, same as base stream", got)
			}
		})
	}
}

func TestFairSource_Uniform(t *testing.T) {
	src := NewFairSource(GenerateSeed(), "client", 7)
	const n = 20000
	sum := 0.0
	below := 0
	for i := 0; i < n; i++ {
		x := src.Float64()
		sum += x
		if x < 0.1 {
			below++
		}
	}
	if mean := sum / n; mean < 0.48 || mean > 0.52 {
		t.Errorf("mean = %v, want ~0.5", mean)
	}
	if frac := float64(below) / n; frac < 0.09 || frac > 0.11 {
		t.Errorf("P(x<0.1) = %v, want ~0.1", frac)
	}
}

func TestGenerateSeed(t *testing.T) {
	seed1 := GenerateSeed()
	seed2 := GenerateSeed()

	if seed1 == seed2 {
		t.Error("GenerateSeed() produced duplicate seeds")
	}

	if len(seed1) != 64 { // 32 bytes = 64 hex characters
		t.Errorf("GenerateSeed() length = %v, want 64", len(seed1))
	}
}

func TestHashCommitment(t *testing.T) {
	seed := "test_seed_12345"

	hash1 := HashCommitment(seed)
	hash2 := HashCommitment(seed)

	if hash1 != hash2 {
		t.Error("HashCommitment() is not deterministic")
	}

	if len(hash1) != 64 { // SHA256 = 64 hex characters
		t.Errorf("HashCommitment() length = %v, want 64", len(hash1))
	}
}

func TestReplayCrashTicks(t *testing.T) {
	cfg := fastCrashConfig()

	ticks, err := ReplayCrashTicks(cfg, "replay_seed", "client", 3, DEFAULT_TICK)
	if err != nil {
		t.Fatalf("ReplayCrashTicks() error = %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("len(ticks) = %d, want 2", len(ticks))
	}
	for id, tick := range ticks {
		if tick < 1 {
			t.Errorf("participant %d crash tick = %d, want >= 1", id, tick)
		}
	}

	again, _ := ReplayCrashTicks(cfg, "replay_seed", "client", 3, DEFAULT_TICK)
	for id := range ticks {
		if ticks[id] != again[id] {
			t.Errorf("participant %d: replay %d != %d", id, again[id], ticks[id])
		}
	}
}

// A live round driven by the same FairSource lands on the ticks a replay reports,
// regardless of land commands.
func TestReplayCrashTicks_MatchesLiveRound(t *testing.T) {
	cfg := fastCrashConfig()
	c, err := NewController(cfg, WithRandomSource(NewFairSource("live_seed", "client", 9)))
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	c.Start()
	c.Tick(DEFAULT_TICK)
	c.Land(1)

	var snap Snapshot
	for i := 0; i < MAX_REPLAY_TICKS && c.State() == StatePlaying; i++ {
		snap = c.Tick(DEFAULT_TICK)
	}
	if snap.State != StateResolved {
		t.Fatalf("round did not resolve")
	}

	ticks, err := ReplayCrashTicks(cfg, "live_seed", "client", 9, DEFAULT_TICK)
	if err != nil {
		t.Fatalf("ReplayCrashTicks() error = %v", err)
	}
	for _, p := range snap.Participants {
		if ticks[p.ID] != p.CrashTick {
			t.Errorf("participant %d: replay %d, live %d", p.ID, ticks[p.ID], p.CrashTick)
		}
	}
}

func TestReplayCrashTicks_NeverCrashes(t *testing.T) {
	cfg := DefaultRoundConfig()
	cfg.BaseRisk = 0
	cfg.GrowthLaw = GrowthStepped
	cfg.StepSize = 0

	if testing.Short() {
		t.Skip("replays the full tick bound")
	}
	if _, err := ReplayCrashTicks(cfg, "s", "c", 1, time.Second); err == nil {
		t.Error("ReplayCrashTicks() resolved a round with zero risk")
	}
}

func TestVerifyRound(t *testing.T) {
	cfg := fastCrashConfig()
	serverSeed := "verification_test_seed"
	clientSeed := "verification_client_seed"
	commitment := HashCommitment(serverSeed)
	var nonce uint64 = 100

	actual, err := ReplayCrashTicks(cfg, serverSeed, clientSeed, nonce, DEFAULT_TICK)
	if err != nil {
		t.Fatalf("ReplayCrashTicks() error = %v", err)
	}
	shifted := map[ParticipantID]int{1: actual[1] + 1, 2: actual[2]}

	tests := []struct {
		name       string
		serverSeed string
		commitment string
		nonce      uint64
		claimed    map[ParticipantID]int
		want       bool
	}{
		{
			name:       "Valid verification",
			serverSeed: serverSeed,
			commitment: commitment,
			nonce:      nonce,
			claimed:    actual,
			want:       true,
		},
		{
			name:       "Invalid crash tick",
			serverSeed: serverSeed,
			commitment: commitment,
			nonce:      nonce,
			claimed:    shifted,
			want:       false,
		},
		{
			name:       "Wrong server seed",
			serverSeed: "wrong_seed",
			commitment: commitment,
			nonce:      nonce,
			claimed:    actual,
			want:       false,
		},
		{
			name:       "Missing participant",
			serverSeed: serverSeed,
			commitment: commitment,
			nonce:      nonce,
			claimed:    map[ParticipantID]int{1: actual[1]},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VerifyRound(cfg, tt.serverSeed, tt.commitment, clientSeed, tt.nonce, DEFAULT_TICK, tt.claimed)
			if got != tt.want {
				t.Errorf("VerifyRound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func BenchmarkFairSource(b *testing.B) {
	src := NewFairSource("benchmark_server_seed", "benchmark_client_seed", 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		src.Float64()
	}
}

func BenchmarkGenerateSeed(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GenerateSeed()
	}
}

func BenchmarkHashCommitment(b *testing.B) {
	seed := "benchmark_seed_12345"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		HashCommitment(seed)
	}
}

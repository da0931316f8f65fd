package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"balloon/internal/game"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

func mustStartRedis(t *testing.T) Service {
	t.Helper()
	if testing.Short() || !isDockerAvailable() {
		t.Skip("docker not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	svc := NewWithClient(redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()}))
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestIntegration_RoundInfo(t *testing.T) {
	svc := mustStartRedis(t)
	ctx := context.Background()

	if _, err := svc.LoadRoundInfo(ctx, "main"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadRoundInfo() on empty cache error = %v, want ErrNotFound", err)
	}

	info := game.RoundInfo{
		RoundID:        "round-1",
		TableID:        "main",
		HashCommitment: game.HashCommitment("seed"),
		Nonce:          3,
		Seats:          map[game.ParticipantID]string{1: "alice", 2: "bob"},
		Snapshot: game.Snapshot{
			State:        game.StatePlaying,
			StartedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			Elapsed:      1500 * time.Millisecond,
			Tick:         15,
			Multiplier:   1.015,
			Participants: []game.Participant{{ID: 1, BaseScore: 15}, {ID: 2, HasLanded: true, BaseScore: 15, FinalScore: 15}},
		},
	}
	if err := svc.SaveRoundInfo(ctx, info); err != nil {
		t.Fatalf("SaveRoundInfo() error = %v", err)
	}

	got, err := svc.LoadRoundInfo(ctx, "main")
	if err != nil {
		t.Fatalf("LoadRoundInfo() error = %v", err)
	}
	if got.RoundID != info.RoundID || got.Nonce != 3 || got.Seats[2] != "bob" {
		t.Errorf("LoadRoundInfo() = %+v", got)
	}
	if got.Snapshot.Elapsed != info.Snapshot.Elapsed || !got.Snapshot.StartedAt.Equal(info.Snapshot.StartedAt) {
		t.Errorf("snapshot = %+v, want %+v", got.Snapshot, info.Snapshot)
	}
	if len(got.Snapshot.Participants) != 2 || !got.Snapshot.Participants[1].HasLanded {
		t.Errorf("participants = %+v", got.Snapshot.Participants)
	}
}

func TestIntegration_RecordResult(t *testing.T) {
	svc := mustStartRedis(t)
	ctx := context.Background()

	rounds := []game.RoundRecord{
		{
			RoundID: "r1",
			TableID: "main",
			Participants: []game.ParticipantRecord{
				{Participant: 1, UserID: "alice", Landed: true, FinalScore: 120},
				{Participant: 2, UserID: "bob", FinalScore: 0},
			},
		},
		{
			RoundID: "r2",
			TableID: "main",
			Participants: []game.ParticipantRecord{
				{Participant: 1, UserID: "alice", Landed: true, FinalScore: 80},
				{Participant: 2, UserID: "bob", Landed: true, FinalScore: 200},
			},
		},
	}
	for _, rec := range rounds {
		if err := svc.RecordResult(ctx, rec); err != nil {
			t.Fatalf("RecordResult(%s) error = %v", rec.RoundID, err)
		}
	}

	alice, err := svc.PlayerStats(ctx, "alice")
	if err != nil {
		t.Fatalf("PlayerStats() error = %v", err)
	}
	want := PlayerStats{UserID: "alice", GamesPlayed: 2, Landings: 2, TotalScore: 200, HighScore: 120, AverageScore: 100}
	if alice != want {
		t.Errorf("PlayerStats(alice) = %+v, want %+v", alice, want)
	}

	bob, _ := svc.PlayerStats(ctx, "bob")
	if bob.Crashes != 1 || bob.Landings != 1 || bob.HighScore != 200 {
		t.Errorf("PlayerStats(bob) = %+v", bob)
	}

	if _, err := svc.PlayerStats(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("PlayerStats(nobody) error = %v, want ErrNotFound", err)
	}

	board, err := svc.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if len(board) != 2 || board[0].UserID != "bob" || board[0].Rank != 1 || board[1].HighScore != 120 {
		t.Errorf("Leaderboard() = %+v", board)
	}

	history, err := svc.RecentResults(ctx, "main", 10)
	if err != nil {
		t.Fatalf("RecentResults() error = %v", err)
	}
	if len(history) != 2 || history[0].RoundID != "r2" {
		t.Errorf("RecentResults() = %+v, want newest first", history)
	}
}

package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"balloon/internal/game"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	ROUND_TTL       = time.Hour
	HISTORY_SIZE    = 50
	LEADERBOARD_KEY = "leaderboard:high_score"
)

// ErrNotFound is returned when a key holds nothing yet.
var ErrNotFound = errors.New("not found")

type Service interface {
	GetClient() *redis.Client
	Health() map[string]string
	Close() error

	SaveRoundInfo(ctx context.Context, info game.RoundInfo) error
	LoadRoundInfo(ctx context.Context, tableID string) (game.RoundInfo, error)
	RecordResult(ctx context.Context, rec game.RoundRecord) error
	RecentResults(ctx context.Context, tableID string, n int) ([]game.RoundRecord, error)
	Leaderboard(ctx context.Context, n int) ([]LeaderboardEntry, error)
	PlayerStats(ctx context.Context, userID string) (PlayerStats, error)
}

type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	UserID    string `json:"user_id"`
	HighScore int64  `json:"high_score"`
}

type PlayerStats struct {
	UserID       string  `json:"user_id"`
	GamesPlayed  int64   `json:"games_played"`
	Landings     int64   `json:"landings"`
	Crashes      int64   `json:"crashes"`
	TotalScore   int64   `json:"total_score"`
	HighScore    int64   `json:"high_score"`
	AverageScore float64 `json:"average_score"`
}

type service struct {
	client *redis.Client
	logger *slog.Logger
}

var (
	redisAddr     = getEnv("REDIS_URL", "localhost:6379")
	redisPassword = getEnv("REDIS_PASSWORD", "")
	redisDB       = getEnvAsInt("REDIS_DB", 0)
	cacheInstance *service
)

// New connects to Redis once per process. It returns nil when Redis is
// unreachable so the server can run without a cache.
func New() Service {
	if cacheInstance != nil {
		return cacheInstance
	}

	client := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           redisDB,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger := slog.Default().With("component", "cache")
	if _, err := client.Ping(ctx).Result(); err != nil {
		logger.Warn("redis connection failed, running without cache", "addr", redisAddr, "err", err)
		client.Close()
		return nil
	}

	logger.Info("redis connected", "addr", redisAddr)
	cacheInstance = &service{client: client, logger: logger}
	return cacheInstance
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) Service {
	return &service{client: client, logger: slog.Default().With("component", "cache")}
}

func (s *service) GetClient() *redis.Client {
	return s.client
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	_, err := s.client.Ping(ctx).Result()
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("redis down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "Redis is healthy"

	poolStats := s.client.PoolStats()
	stats["hits"] = strconv.FormatUint(uint64(poolStats.Hits), 10)
	stats["misses"] = strconv.FormatUint(uint64(poolStats.Misses), 10)
	stats["timeouts"] = strconv.FormatUint(uint64(poolStats.Timeouts), 10)
	stats["total_conns"] = strconv.FormatUint(uint64(poolStats.TotalConns), 10)
	stats["idle_conns"] = strconv.FormatUint(uint64(poolStats.IdleConns), 10)
	stats["stale_conns"] = strconv.FormatUint(uint64(poolStats.StaleConns), 10)

	return stats
}

func (s *service) Close() error {
	s.logger.Info("disconnecting from redis")
	if s == cacheInstance {
		cacheInstance = nil
	}
	return s.client.Close()
}

func roundKey(tableID string) string   { return "table:" + tableID + ":round" }
func historyKey(tableID string) string { return "table:" + tableID + ":history" }
func playerKey(userID string) string   { return "player:" + userID + ":stats" }

// SaveRoundInfo stores the live round of a table for readers in other
// processes.
func (s *service) SaveRoundInfo(ctx context.Context, info game.RoundInfo) error {
	data, err := marshal(info)
	if err != nil {
		return fmt.Errorf("encode round info: %w", err)
	}
	return s.client.Set(ctx, roundKey(info.TableID), data, ROUND_TTL).Err()
}

func (s *service) LoadRoundInfo(ctx context.Context, tableID string) (game.RoundInfo, error) {
	var info game.RoundInfo
	data, err := s.client.Get(ctx, roundKey(tableID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return info, fmt.Errorf("round for table %s: %w", tableID, ErrNotFound)
	}
	if err != nil {
		return info, err
	}
	if err := unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("decode round info: %w", err)
	}
	return info, nil
}

// RecordResult appends the round to the table history and folds every seated
// participant into their stats and the high-score leaderboard.
func (s *service) RecordResult(ctx context.Context, rec game.RoundRecord) error {
	data, err := marshal(rec)
	if err != nil {
		return fmt.Errorf("encode round record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, historyKey(rec.TableID), data)
		pipe.LTrim(ctx, historyKey(rec.TableID), 0, HISTORY_SIZE-1)

		for _, p := range rec.Participants {
			if p.UserID == "" {
				continue
			}
			key := playerKey(p.UserID)
			pipe.HIncrBy(ctx, key, "games_played", 1)
			if p.Landed {
				pipe.HIncrBy(ctx, key, "landings", 1)
			} else {
				pipe.HIncrBy(ctx, key, "crashes", 1)
			}
			pipe.HIncrBy(ctx, key, "total_score", p.FinalScore)
			pipe.ZAddGT(ctx, LEADERBOARD_KEY, redis.Z{Score: float64(p.FinalScore), Member: p.UserID})
		}
		return nil
	})
	return err
}

func (s *service) RecentResults(ctx context.Context, tableID string, n int) ([]game.RoundRecord, error) {
	if n <= 0 || n > HISTORY_SIZE {
		n = HISTORY_SIZE
	}
	items, err := s.client.LRange(ctx, historyKey(tableID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}

	records := make([]game.RoundRecord, 0, len(items))
	for _, item := range items {
		var rec game.RoundRecord
		if err := unmarshal([]byte(item), &rec); err != nil {
			s.logger.Warn("skip undecodable history entry", "table", tableID, "err", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *service) Leaderboard(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}
	zs, err := s.client.ZRevRangeWithScores(ctx, LEADERBOARD_KEY, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(zs))
	for i, z := range zs {
		user, _ := z.Member.(string)
		entries = append(entries, LeaderboardEntry{Rank: i + 1, UserID: user, HighScore: int64(z.Score)})
	}
	return entries, nil
}

func (s *service) PlayerStats(ctx context.Context, userID string) (PlayerStats, error) {
	stats := PlayerStats{UserID: userID}

	fields, err := s.client.HGetAll(ctx, playerKey(userID)).Result()
	if err != nil {
		return stats, err
	}
	if len(fields) == 0 {
		return stats, fmt.Errorf("player %s: %w", userID, ErrNotFound)
	}
	stats.GamesPlayed = parseInt(fields["games_played"])
	stats.Landings = parseInt(fields["landings"])
	stats.Crashes = parseInt(fields["crashes"])
	stats.TotalScore = parseInt(fields["total_score"])

	high, err := s.client.ZScore(ctx, LEADERBOARD_KEY, userID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return stats, err
	}
	stats.HighScore = int64(high)
	if stats.GamesPlayed > 0 {
		stats.AverageScore = float64(stats.TotalScore) / float64(stats.GamesPlayed)
	}
	return stats, nil
}

// marshal encodes with the json field names so cached values read the same
// as the API payloads.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

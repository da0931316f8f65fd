package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"balloon/internal/game"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"
)

// ErrRoundNotFound is returned when no round has the requested id.
var ErrRoundNotFound = errors.New("round not found")

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	Health() map[string]string

	// Close terminates the database connection.
	Close() error

	DB() *sql.DB

	// SaveRound stores a resolved round and its participants atomically.
	SaveRound(ctx context.Context, rec game.RoundRecord) error
	// RecentRounds lists a table's latest rounds, newest first.
	RecentRounds(ctx context.Context, tableID string, limit int) ([]game.RoundRecord, error)
	GetRound(ctx context.Context, roundID string) (game.RoundRecord, error)
}

type service struct {
	db *sql.DB
}

var (
	database   = getEnv("BLUEPRINT_DB_DATABASE", "balloondb")
	password   = getEnv("BLUEPRINT_DB_PASSWORD", "postgres")
	username   = getEnv("BLUEPRINT_DB_USERNAME", "postgres")
	port       = getEnv("BLUEPRINT_DB_PORT", "5432")
	host       = getEnv("BLUEPRINT_DB_HOST", "localhost")
	schema     = getEnv("BLUEPRINT_DB_SCHEMA", "public")
	dbInstance *service
)

// ConnString is the DSN built from the BLUEPRINT_DB_* variables.
func ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s", username, password, host, port, database, schema)
}

func New() Service {
	// Reuse Connection
	if dbInstance != nil {
		return dbInstance
	}
	db, err := sql.Open("pgx", ConnString())
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	dbInstance = &service{db: db}
	return dbInstance
}

func (s *service) DB() *sql.DB { return s.db }

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	// Ping the database
	err := s.db.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		slog.Error("database down", "err", err)
		return stats
	}

	// Database is up, add more statistics
	stats["status"] = "up"
	stats["message"] = "It's healthy"

	// Get database stats (like open connections, in use, idle, etc.)
	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()
	stats["max_idle_closed"] = strconv.FormatInt(dbStats.MaxIdleClosed, 10)
	stats["max_lifetime_closed"] = strconv.FormatInt(dbStats.MaxLifetimeClosed, 10)

	// Evaluate stats to provide a health message
	if dbStats.OpenConnections > 40 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the database connection.
// If the connection is successfully closed, it returns nil.
// If an error occurs while closing the connection, it returns the error.
func (s *service) Close() error {
	slog.Info("disconnected from database", "database", database)
	if s == dbInstance {
		dbInstance = nil
	}
	return s.db.Close()
}

func (s *service) SaveRound(ctx context.Context, rec game.RoundRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rounds (id, table_id, server_seed, hash_commitment, client_seed, nonce,
			tick_interval_ns, multiplier, ticks, started_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.RoundID, rec.TableID, rec.ServerSeed, rec.HashCommitment, rec.ClientSeed, int64(rec.Nonce),
		int64(rec.TickInterval), rec.Multiplier, rec.Ticks, rec.StartedAt, rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert round %s: %w", rec.RoundID, err)
	}

	for _, p := range rec.Participants {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO round_participants (round_id, participant, user_id, landed, landed_at, final_score, crash_tick)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.RoundID, int(p.Participant), nullString(p.UserID), p.Landed, p.LandedAt, p.FinalScore, p.CrashTick,
		)
		if err != nil {
			return fmt.Errorf("insert participant %d of round %s: %w", p.Participant, rec.RoundID, err)
		}
	}
	return tx.Commit()
}

const roundColumns = `r.id, r.table_id, r.server_seed, r.hash_commitment, r.client_seed, r.nonce,
	r.tick_interval_ns, r.multiplier, r.ticks, r.started_at, r.resolved_at,
	p.participant, p.user_id, p.landed, p.landed_at, p.final_score, p.crash_tick`

func (s *service) RecentRounds(ctx context.Context, tableID string, limit int) ([]game.RoundRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roundColumns+`
		FROM (SELECT * FROM rounds WHERE table_id = $1 ORDER BY resolved_at DESC LIMIT $2) r
		JOIN round_participants p ON p.round_id = r.id
		ORDER BY r.resolved_at DESC, r.id, p.participant`,
		tableID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()
	return scanRounds(rows)
}

func (s *service) GetRound(ctx context.Context, roundID string) (game.RoundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roundColumns+`
		FROM rounds r
		JOIN round_participants p ON p.round_id = r.id
		WHERE r.id::text = $1
		ORDER BY p.participant`,
		roundID,
	)
	if err != nil {
		return game.RoundRecord{}, fmt.Errorf("query round: %w", err)
	}
	defer rows.Close()

	records, err := scanRounds(rows)
	if err != nil {
		return game.RoundRecord{}, err
	}
	if len(records) == 0 {
		return game.RoundRecord{}, fmt.Errorf("%w: %s", ErrRoundNotFound, roundID)
	}
	return records[0], nil
}

// scanRounds folds joined round/participant rows back into records. Rows of
// one round must be adjacent.
func scanRounds(rows *sql.Rows) ([]game.RoundRecord, error) {
	var records []game.RoundRecord
	for rows.Next() {
		var (
			rec     game.RoundRecord
			p       game.ParticipantRecord
			nonce   int64
			tickNs  int64
			userID  sql.NullString
			partNum int
		)
		err := rows.Scan(
			&rec.RoundID, &rec.TableID, &rec.ServerSeed, &rec.HashCommitment, &rec.ClientSeed, &nonce,
			&tickNs, &rec.Multiplier, &rec.Ticks, &rec.StartedAt, &rec.ResolvedAt,
			&partNum, &userID, &p.Landed, &p.LandedAt, &p.FinalScore, &p.CrashTick,
		)
		if err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		p.Participant = game.ParticipantID(partNum)
		p.UserID = userID.String

		if n := len(records); n > 0 && records[n-1].RoundID == rec.RoundID {
			records[n-1].Participants = append(records[n-1].Participants, p)
			continue
		}
		rec.Nonce = uint64(nonce)
		rec.TickInterval = time.Duration(tickNs)
		rec.Participants = []game.ParticipantRecord{p}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

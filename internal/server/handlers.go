package server

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"balloon/internal/cache"
	"balloon/internal/database"
	"balloon/internal/game"
)

// Health handler
func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"game": fiber.Map{
			"status":            "running",
			"tables":            s.registry.IDs(),
			"connected_clients": s.hub.GetClientCount(),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	} else {
		health["cache"] = fiber.Map{"status": "disabled"}
	}
	return c.JSON(health)
}

// Table handlers

type tableSummary struct {
	ID     string           `json:"id"`
	Config game.TableConfig `json:"config"`
	Round  game.RoundInfo   `json:"round"`
}

func (s *FiberServer) listTablesHandler(c *fiber.Ctx) error {
	ids := s.registry.IDs()
	tables := make([]tableSummary, 0, len(ids))
	for _, id := range ids {
		t, _ := s.registry.Get(id)
		tables = append(tables, tableSummary{ID: id, Config: t.Config(), Round: t.GetCurrentRound()})
	}
	return c.JSON(fiber.Map{"tables": tables})
}

func (s *FiberServer) getTableStateHandler(c *fiber.Ctx) error {
	table, ok := s.registry.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Table not found",
		})
	}
	return c.JSON(table.GetCurrentRound())
}

// Round history handlers

func (s *FiberServer) recentRoundsHandler(c *fiber.Ctx) error {
	tableID := c.Params("id")
	if _, ok := s.registry.Get(tableID); !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Table not found",
		})
	}
	limit := c.QueryInt("limit", 20)

	var (
		rounds []game.RoundRecord
		err    error
	)
	switch {
	case s.db != nil:
		rounds, err = s.db.RecentRounds(c.UserContext(), tableID, limit)
	case s.cache != nil:
		rounds, err = s.cache.RecentResults(c.UserContext(), tableID, limit)
	default:
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Round history unavailable",
		})
	}
	if err != nil {
		s.logger.Error("recent rounds", "table", tableID, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load rounds",
		})
	}
	return c.JSON(fiber.Map{"table_id": tableID, "rounds": rounds})
}

func (s *FiberServer) loadRound(c *fiber.Ctx) (game.RoundRecord, error) {
	if s.db == nil {
		return game.RoundRecord{}, c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Round history unavailable",
		})
	}
	rec, err := s.db.GetRound(c.UserContext(), c.Params("roundId"))
	if errors.Is(err, database.ErrRoundNotFound) {
		return rec, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Round not found",
		})
	}
	if err != nil {
		s.logger.Error("get round", "round", c.Params("roundId"), "err", err)
		return rec, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load round",
		})
	}
	return rec, nil
}

func (s *FiberServer) getRoundHandler(c *fiber.Ctx) error {
	rec, err := s.loadRound(c)
	if err != nil || rec.RoundID == "" {
		return err
	}
	return c.JSON(rec)
}

// verifyRoundHandler replays a stored round from its revealed seeds and
// checks every participant's crash tick.
func (s *FiberServer) verifyRoundHandler(c *fiber.Ctx) error {
	rec, err := s.loadRound(c)
	if err != nil || rec.RoundID == "" {
		return err
	}

	table, ok := s.registry.Get(rec.TableID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Table config unavailable for round",
		})
	}
	cfg := table.Config().Round

	claimed := make(map[game.ParticipantID]int, len(rec.Participants))
	for _, p := range rec.Participants {
		claimed[p.Participant] = p.CrashTick
	}
	replayed, _ := game.ReplayCrashTicks(cfg, rec.ServerSeed, rec.ClientSeed, rec.Nonce, rec.TickInterval)

	return c.JSON(fiber.Map{
		"round_id":        rec.RoundID,
		"verified":        game.VerifyRound(cfg, rec.ServerSeed, rec.HashCommitment, rec.ClientSeed, rec.Nonce, rec.TickInterval, claimed),
		"server_seed":     rec.ServerSeed,
		"hash_commitment": rec.HashCommitment,
		"client_seed":     rec.ClientSeed,
		"nonce":           rec.Nonce,
		"crash_ticks":     claimed,
		"replayed_ticks":  replayed,
	})
}

// Player handlers

func (s *FiberServer) leaderboardHandler(c *fiber.Ctx) error {
	if s.cache == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Leaderboard unavailable",
		})
	}
	entries, err := s.cache.Leaderboard(c.UserContext(), c.QueryInt("limit", 10))
	if err != nil {
		s.logger.Error("leaderboard", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load leaderboard",
		})
	}
	return c.JSON(fiber.Map{"leaderboard": entries})
}

func (s *FiberServer) playerStatsHandler(c *fiber.Ctx) error {
	if s.cache == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Player stats unavailable",
		})
	}
	stats, err := s.cache.PlayerStats(c.UserContext(), c.Params("userId"))
	if errors.Is(err, cache.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Player not found",
		})
	}
	if err != nil {
		s.logger.Error("player stats", "user", c.Params("userId"), "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load player stats",
		})
	}
	return c.JSON(stats)
}

type wsCommand struct {
	Type        string             `json:"type"`
	Participant game.ParticipantID `json:"participant"`
}

// gameWebSocketHandler streams one table's events and accepts its commands.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")
	tableID := conn.Query("table")

	table, ok := s.registry.Get(tableID)
	if !ok {
		data, _ := json.Marshal(game.WSMessage{Type: "error", Data: "Table not found"})
		conn.WriteMessage(websocket.TextMessage, data)
		conn.Close()
		return
	}

	client := s.hub.RegisterClient(conn, userID, tableID)
	defer s.hub.UnregisterClient(client)

	client.Send(game.WSMessage{Type: "initial_state", TableID: tableID, Data: table.GetCurrentRound()})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("websocket read", "user", userID, "table", tableID, "err", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd wsCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Type {
		case "ping":
			client.Send(game.WSMessage{Type: "pong"})

		case string(game.CommandJoin), string(game.CommandStart), string(game.CommandLand), string(game.CommandReset):
			resp := runCommand(table, game.CommandType(cmd.Type), userID, cmd.Participant)
			client.Send(game.WSMessage{Type: "command_result", TableID: tableID, Data: resp})

		default:
			client.Send(game.WSMessage{Type: "error", Data: "Unknown message type " + cmd.Type})
		}
	}
}

package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"balloon/internal/game"
)

// RegisterGameRoutes registers the per-table routes.
func (s *FiberServer) RegisterGameRoutes(api fiber.Router) {
	tables := api.Group("/tables")

	tables.Get("/", s.listTablesHandler)
	tables.Get("/:id", s.getTableStateHandler)
	tables.Get("/:id/rounds", s.recentRoundsHandler)

	tables.Post("/:id/join", s.commandHandler(game.CommandJoin))
	tables.Post("/:id/start", s.commandHandler(game.CommandStart))
	tables.Post("/:id/land", s.commandHandler(game.CommandLand))
	tables.Post("/:id/reset", s.commandHandler(game.CommandReset))
}

type commandBody struct {
	UserID      string             `json:"user_id"`
	Participant game.ParticipantID `json:"participant"`
}

// commandHandler turns one table command into a POST handler.
func (s *FiberServer) commandHandler(cmd game.CommandType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		table, ok := s.registry.Get(c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Table not found",
			})
		}

		var body commandBody
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if body.UserID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "User ID is required",
			})
		}

		resp := runCommand(table, cmd, body.UserID, body.Participant)
		if !resp.Success {
			return c.Status(commandStatus(resp.Err)).JSON(resp)
		}
		return c.JSON(resp)
	}
}

func runCommand(table game.Table, cmd game.CommandType, userID string, participant game.ParticipantID) game.CommandResponse {
	switch cmd {
	case game.CommandJoin:
		return table.Join(userID, participant)
	case game.CommandStart:
		return table.StartRound(userID)
	case game.CommandLand:
		return table.Land(userID, participant)
	case game.CommandReset:
		return table.ResetRound(userID)
	default:
		return game.CommandResponse{Message: "Unknown command " + string(cmd)}
	}
}

// commandStatus maps a rejected command to an HTTP status.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, game.ErrUnknownParticipant), errors.Is(err, game.ErrNoSeat):
		return fiber.StatusBadRequest
	case errors.Is(err, game.ErrSeatTaken), errors.Is(err, game.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, game.ErrQueueFull), errors.Is(err, game.ErrCommandTimeout):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusBadRequest
	}
}

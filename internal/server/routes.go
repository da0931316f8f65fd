package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func (s *FiberServer) RegisterFiberRoutes() {
	// Apply CORS middleware
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.AllowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	// Basic routes
	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")
	s.RegisterGameRoutes(api)

	api.Get("/rounds/:roundId", s.getRoundHandler)
	api.Get("/rounds/:roundId/verify", s.verifyRoundHandler)
	api.Get("/leaderboard", s.leaderboardHandler)
	api.Get("/players/:userId/stats", s.playerStatsHandler)

	// WebSocket route
	s.App.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

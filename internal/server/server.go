package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"balloon/internal/cache"
	"balloon/internal/config"
	"balloon/internal/database"
	"balloon/internal/game"
)

type FiberServer struct {
	*fiber.App

	cfg      *config.Config
	db       database.Service
	cache    cache.Service
	hub      *game.Hub
	registry *game.Registry
	logger   *slog.Logger
}

// Deps are the collaborators a server is built from. DB and Cache may be nil.
type Deps struct {
	DB       database.Service
	Cache    cache.Service
	Hub      *game.Hub
	Registry *game.Registry
}

// New wires the production server: Postgres, optional Redis, the hub and one
// manager per configured table.
func New(cfg *config.Config, logger *slog.Logger) (*FiberServer, error) {
	db := database.New()
	if cfg.AutoMigrate {
		if err := database.RunMigrations(db.DB(), cfg.MigrationsPath); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	redisService := cache.New()
	if redisService == nil && cfg.RequireCache {
		return nil, errors.New("redis is required but unreachable")
	}

	hub := game.NewHub(logger)
	registry := game.NewRegistry(logger)
	for _, table := range cfg.Tables {
		opts := []game.ManagerOption{game.WithStore(db), game.WithLogger(logger)}
		if redisService != nil {
			opts = append(opts, game.WithCache(redisService))
		}
		manager, err := game.NewManager(table, hub, opts...)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(manager); err != nil {
			return nil, err
		}
	}

	return NewServer(cfg, logger, Deps{
		DB:       db,
		Cache:    redisService,
		Hub:      hub,
		Registry: registry,
	}), nil
}

// NewServer builds the fiber app around already constructed collaborators.
func NewServer(cfg *config.Config, logger *slog.Logger, deps Deps) *FiberServer {
	if logger == nil {
		logger = slog.Default()
	}
	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "balloon",
			AppName:       "balloon",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		cfg:      cfg,
		db:       deps.DB,
		cache:    deps.Cache,
		hub:      deps.Hub,
		registry: deps.Registry,
		logger:   logger.With("component", "server"),
	}

	// Apply global middleware
	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimit,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/ws"
		},
	}))

	server.RegisterFiberRoutes()
	return server
}

// Start runs the hub and every table loop.
func (s *FiberServer) Start(ctx context.Context) error {
	go s.hub.Run()
	if err := s.registry.StartAll(ctx); err != nil {
		return err
	}
	s.logger.Info("tables started", "tables", s.registry.IDs())
	return nil
}

// Shutdown gracefully shuts down the server and game components
func (s *FiberServer) Shutdown() error {
	s.logger.Info("shutting down")

	if err := s.App.Shutdown(); err != nil {
		s.logger.Error("http shutdown", "err", err)
	}

	if s.registry != nil {
		if err := s.registry.StopAll(); err != nil {
			s.logger.Error("stop tables", "err", err)
		}
	}
	if s.hub != nil {
		s.hub.Stop()
	}

	// Close connections
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return nil
}

// Package api exposes the engine over HTTP: trigger ingress, job status,
// live status streams and metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meikuraledutech/flow"
)

// Config configures the API server.
type Config struct {
	// JWTSecret enables bearer-token authentication when set.
	JWTSecret []byte
	// Issuer, if set, must match the token's iss claim.
	Issuer string
	// Heartbeat is the interval of keep-alive comments on event streams.
	// Default 15s.
	Heartbeat time.Duration
	Logger    *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	app    *fiber.App
	store  flow.Store
	queue  *flow.Queue
	broker *flow.Broker
	cfg    Config
	logger *slog.Logger
}

// New builds the server and its routes.
func New(store flow.Store, queue *flow.Queue, broker *flow.Broker, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	s := &Server{
		// Handlers hand request values to long-lived stores.
		app:    fiber.New(fiber.Config{Immutable: true}),
		store:  store,
		queue:  queue,
		broker: broker,
		cfg:    cfg,
		logger: cfg.Logger,
	}
	s.routes()
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(s.logRequests)

	s.app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Webhooks are public and run as the workflow owner.
	s.app.All("/hooks/:id", s.webhook)

	workflows := s.app.Group("/workflows", s.authenticate)
	workflows.Put("/:id", s.putWorkflow)
	workflows.Get("/:id", s.getWorkflow)
	workflows.Post("/:id/run", s.runWorkflow)
	workflows.Get("/:id/events", s.workflowEvents)

	jobs := s.app.Group("/jobs", s.authenticate)
	jobs.Get("/:id", s.getJob)
	jobs.Post("/:id/cancel", s.cancelJob)
	jobs.Get("/:id/events", s.jobEvents)
}

func (s *Server) logRequests(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return err
}

// writeError maps engine errors to responses. Unexpected errors are logged
// and reported without detail.
func (s *Server) writeError(c fiber.Ctx, err error) error {
	var (
		cycle  *flow.GraphCycleError
		intake *flow.QueueIntakeError
	)
	switch {
	case errors.As(err, &cycle):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "workflow contains a cycle",
			"nodes": cycle.Nodes,
		})
	case errors.Is(err, flow.ErrDanglingConnection), errors.Is(err, flow.ErrDuplicateNode),
		errors.Is(err, flow.ErrInvalidNodeID):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, flow.ErrWorkflowNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "workflow not found"})
	case errors.Is(err, flow.ErrJobNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	case errors.Is(err, flow.ErrUnauthorized):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not allowed"})
	case errors.Is(err, flow.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "job cannot change state"})
	case errors.As(err, &intake):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "trigger rejected"})
	}
	s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

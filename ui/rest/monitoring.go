package rest

import (
	"context"
	"time"

	"github.com/AzielCF/az-crm/pkg/msgworker"
	"github.com/AzielCF/az-crm/session/application"
	"github.com/AzielCF/az-crm/pkg/utils"
	"github.com/AzielCF/az-crm/ui/websocket"
	"github.com/gofiber/fiber/v2"
)

type HubStatsProvider interface {
	Stats() websocket.Stats
}

type PoolStatsProvider interface {
	Stats() msgworker.PoolStats
}

type LiveSessionsProvider interface {
	LiveSessions() []application.LiveSession
}

// Pinger reports whether a backing store answers.
type Pinger func(ctx context.Context) error

type Monitoring struct {
	Hub      HubStatsProvider
	Pool     PoolStatsProvider
	Sessions func() int
	Live     LiveSessionsProvider
	Checks   map[string]Pinger
}

// InitRestMonitoring registra los endpoints de estado del nodo
func InitRestMonitoring(app fiber.Router, handler Monitoring) Monitoring {
	app.Get("/hub/stats", handler.HubStats)

	g := app.Group("/monitoring")
	g.Get("/workers", handler.WorkerStats)
	g.Get("/health", handler.Health)
	g.Get("/sessions", handler.LiveSessions)

	return handler
}

func (h *Monitoring) HubStats(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Hub stats retrieved",
		Results: h.Hub.Stats(),
	})
}

func (h *Monitoring) WorkerStats(c *fiber.Ctx) error {
	if h.Pool == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(utils.ResponseData{
			Status:  fiber.StatusServiceUnavailable,
			Code:    "SERVICE_UNAVAILABLE",
			Message: "message worker pool not initialized",
		})
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Worker pool stats retrieved",
		Results: h.Pool.Stats(),
	})
}

func (h *Monitoring) LiveSessions(c *fiber.Ctx) error {
	list := []application.LiveSession{}
	if h.Live != nil {
		list = h.Live.LiveSessions()
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Live sessions retrieved",
		Results: list,
	})
}

func (h *Monitoring) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.Checks))
	healthy := true
	for name, ping := range h.Checks {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	results := map[string]any{"checks": checks}
	if h.Sessions != nil {
		results["live_sessions"] = h.Sessions()
	}
	if h.Hub != nil {
		results["observers"] = h.Hub.Stats().Observers
	}

	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(utils.ResponseData{
			Status:  fiber.StatusServiceUnavailable,
			Code:    "UNHEALTHY",
			Message: "One or more dependencies are down",
			Results: results,
		})
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Healthy",
		Results: results,
	})
}

package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// PeerView is what the health check reports about the relay
type PeerView interface {
	Peers(ctx context.Context) map[string]string
}

// BreakerView exposes per-peer circuit breaker states
type BreakerView interface {
	BreakerStates() map[string]string
}

// HealthCheckHandler reports node identity, dependencies and peer state
type HealthCheckHandler struct {
	identity string
	backend  string
	rdb      redis.UniversalClient
	peers    PeerView
	breakers BreakerView
}

func NewHealthCheckHandler(identity, backend string, rdb redis.UniversalClient, peers PeerView, breakers BreakerView) *HealthCheckHandler {
	return &HealthCheckHandler{
		identity: identity,
		backend:  backend,
		rdb:      rdb,
		peers:    peers,
		breakers: breakers,
	}
}

type HealthCheckResponse struct {
	Status    string                 `json:"status"`
	Node      string                 `json:"node"`
	Store     string                 `json:"store"`
	Timestamp string                 `json:"timestamp"`
	Uptime    float64                `json:"uptime_seconds"`
	Checks    map[string]CheckStatus `json:"checks"`
	Peers     map[string]string      `json:"peers"`
	Breakers  map[string]string      `json:"breakers"`
}

type CheckStatus struct {
	Status      string  `json:"status"`
	Message     string  `json:"message,omitempty"`
	Latency     float64 `json:"latency_ms,omitempty"`
	LastChecked string  `json:"last_checked"`
}

var startTime = time.Now()

// HandleHealthCheck answers 503 when a dependency is unhealthy
func (h *HealthCheckHandler) HandleHealthCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		response := HealthCheckResponse{
			Status:    "healthy",
			Node:      h.identity,
			Store:     h.backend,
			Timestamp: time.Now().Format(time.RFC3339),
			Uptime:    time.Since(startTime).Seconds(),
			Checks: map[string]CheckStatus{
				"server": {Status: "up", Message: "Server is running", LastChecked: time.Now().Format(time.RFC3339)},
			},
			Peers:    map[string]string{},
			Breakers: map[string]string{},
		}

		if h.rdb != nil {
			redisStatus := h.checkRedis(ctx)
			response.Checks["redis"] = redisStatus
			if redisStatus.Status == "unhealthy" {
				response.Status = "degraded"
			}
		}
		if h.peers != nil {
			response.Peers = h.peers.Peers(ctx)
		}
		if h.breakers != nil {
			response.Breakers = h.breakers.BreakerStates()
		}

		if response.Status != "healthy" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(response)
		}
		return c.JSON(response)
	}
}

// checkRedis verifies Redis connectivity and latency
func (h *HealthCheckHandler) checkRedis(ctx context.Context) CheckStatus {
	start := time.Now()
	err := h.rdb.Ping(ctx).Err()
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return CheckStatus{
			Status:      "unhealthy",
			Message:     "Redis connection failed: " + err.Error(),
			Latency:     float64(latency),
			LastChecked: time.Now().Format(time.RFC3339),
		}
	}

	status, message := "healthy", "Redis is responding"
	if latency > 100 {
		status, message = "degraded", "Redis latency is high"
	}

	return CheckStatus{
		Status:      status,
		Message:     message,
		Latency:     float64(latency),
		LastChecked: time.Now().Format(time.RFC3339),
	}
}

// HandleLivenessCheck is a simple liveness probe
func (h *HealthCheckHandler) HandleLivenessCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendString("OK")
	}
}

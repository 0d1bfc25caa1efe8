// Package api provides the REST handlers for the fleet service.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/robofleet/robofleet/internal/config"
	"github.com/robofleet/robofleet/internal/remote"
	"github.com/robofleet/robofleet/internal/service"
)

// Handler handles HTTP requests on the public listener.
type Handler struct {
	svc *service.Service
	cfg *config.Config
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, cfg *config.Config) *Handler {
	return &Handler{svc: svc, cfg: cfg}
}

// RegisterRoutes registers the public API routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	api := e.Group("/api", h.requireAPIKey)

	// Robot fleet
	robots := api.Group("/robots")
	robots.POST("", h.RegisterRobot)
	robots.GET("", h.ListRobots)
	robots.GET("/:robot_id", h.GetRobot)
	robots.PATCH("/:robot_id", h.UpdateRobot)
	robots.DELETE("/:robot_id", h.DeleteRobot)
	robots.POST("/:robot_id/telemetry", h.IngestTelemetry)
	robots.GET("/:robot_id/telemetry", h.GetTelemetry)
	robots.POST("/:robot_id/commands", h.IssueCommand)
	robots.GET("/:robot_id/commands", h.ListCommands)
	robots.GET("/:robot_id/urdf", h.GetRobotURDF)

	// A2A agents, conversations, tasks
	a2a := api.Group("/a2a")
	a2a.POST("/agents", h.RegisterAgent)
	a2a.GET("/agents", h.ListAgents)
	a2a.GET("/agents/:agent_id", h.GetAgent)
	a2a.DELETE("/agents/:agent_id", h.DeleteAgent)
	a2a.POST("/agents/:agent_id/heartbeat", h.HeartbeatAgent)
	a2a.POST("/conversations", h.CreateConversation)
	a2a.GET("/conversations", h.ListConversations)
	a2a.GET("/conversations/:conversation_id", h.GetConversation)
	a2a.DELETE("/conversations/:conversation_id", h.DeleteConversation)
	a2a.GET("/conversations/:conversation_id/messages", h.ListMessages)
	a2a.POST("/conversations/:conversation_id/messages", h.SendMessage)
	a2a.GET("/tasks", h.ListTasks)
	a2a.GET("/tasks/:task_id", h.GetTask)
	a2a.GET("/tasks/:task_id/events", h.ListTaskEvents)
	a2a.POST("/tasks/:task_id/cancel", h.CancelTask)
	a2a.POST("/events", h.IngestEvent)

	// Synthetic data generation
	synth := api.Group("/synthetic")
	synth.POST("/generate", h.StartGeneration)
	synth.GET("/jobs", h.ListSyntheticJobs)
	synth.GET("/jobs/:job_id", h.GetSyntheticJob)
	synth.DELETE("/jobs/:job_id", h.CancelSyntheticJob)
	synth.GET("/datasets", h.ListDatasets)

	// Model registry (MLflow)
	models := api.Group("/models", h.requireRegistry)
	models.GET("", h.ListRegisteredModels)
	models.GET("/experiments", h.ListExperiments)
	models.GET("/experiments/:experiment_id/runs", h.ListRuns)
	models.GET("/:name", h.GetRegisteredModel)
	models.GET("/:name/versions", h.ListModelVersions)
	models.POST("/:name/versions/:version/stage", h.TransitionModelStage)

	// VLA inference
	vlaGroup := api.Group("/vla", h.requireVLA)
	vlaGroup.GET("/models", h.VLAModels)
	vlaGroup.POST("/models/:model_type/load", h.LoadVLAModel)
	vlaGroup.POST("/models/:model_type/unload", h.UnloadVLAModel)
	vlaGroup.POST("/predict", h.Predict)
	vlaGroup.POST("/predict/batch", h.PredictBatch)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// requireAPIKey rejects requests without the configured API key. When no
// key is configured the API is open.
func (h *Handler) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.cfg.APIKey != "" && c.Request().Header.Get("X-API-Key") != h.cfg.APIKey {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
		}
		return next(c)
	}
}

// requireRegistry guards the model registry routes when no MLflow client
// is wired.
func (h *Handler) requireRegistry(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.svc.MLflow() == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "model registry is not configured"})
		}
		return next(c)
	}
}

// requireVLA guards the inference routes when no VLA engine is wired.
func (h *Handler) requireVLA(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.svc.VLA() == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "vla engine is not available"})
		}
		return next(c)
	}
}

// respondError maps service and upstream errors to HTTP statuses: 404 for
// missing records, 503 for unreachable upstreams, 502 for upstream
// failures (except upstream 404, which stays 404), 500 otherwise.
func (h *Handler) respondError(c echo.Context, err error) error {
	var netErr *remote.NetworkError
	var apiErr *remote.APIError
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &netErr):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == http.StatusNotFound {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

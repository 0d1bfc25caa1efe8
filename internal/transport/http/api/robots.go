package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/robofleet/robofleet/internal/domain"
)

// RegisterRobot registers a new robot.
// POST /api/robots
func (h *Handler) RegisterRobot(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.RegisterRobotRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Name == "" {
		return badRequest(c, "name is required")
	}
	if req.Embodiment == "" {
		return badRequest(c, "embodiment is required")
	}

	robot, err := h.svc.RegisterRobot(ctx, req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, robot)
}

// ListRobots lists all registered robots.
// GET /api/robots
func (h *Handler) ListRobots(c echo.Context) error {
	robots, err := h.svc.ListRobots(c.Request().Context())
	if err != nil {
		return h.respondError(c, err)
	}
	if robots == nil {
		robots = []domain.Robot{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"robots": robots})
}

// GetRobot returns one robot.
// GET /api/robots/:robot_id
func (h *Handler) GetRobot(c echo.Context) error {
	robot, err := h.svc.GetRobot(c.Request().Context(), c.Param("robot_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, robot)
}

// UpdateRobot applies a partial update to a robot.
// PATCH /api/robots/:robot_id
func (h *Handler) UpdateRobot(c echo.Context) error {
	var req domain.UpdateRobotRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	robot, err := h.svc.UpdateRobot(c.Request().Context(), c.Param("robot_id"), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, robot)
}

// DeleteRobot removes a robot and its telemetry.
// DELETE /api/robots/:robot_id
func (h *Handler) DeleteRobot(c echo.Context) error {
	if err := h.svc.DeleteRobot(c.Request().Context(), c.Param("robot_id")); err != nil {
		return h.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// IngestTelemetry accepts one telemetry sample over HTTP, as an
// alternative to the WebSocket uplink.
// POST /api/robots/:robot_id/telemetry
func (h *Handler) IngestTelemetry(c echo.Context) error {
	robotID := c.Param("robot_id")

	var sample domain.Telemetry
	if err := c.Bind(&sample); err != nil {
		return badRequest(c, "invalid request body")
	}
	if sample.RobotID == "" {
		sample.RobotID = robotID
	}
	if sample.RobotID != robotID {
		return badRequest(c, "robot_id mismatch")
	}
	if sample.Ts == 0 {
		sample.Ts = time.Now().UnixMilli()
	}

	if err := h.svc.IngestTelemetry(c.Request().Context(), sample); err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]bool{"ok": true})
}

// GetTelemetry returns recent telemetry samples for a robot, oldest
// first. ?limit bounds the count; the whole ring is returned by default.
// GET /api/robots/:robot_id/telemetry
func (h *Handler) GetTelemetry(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	samples, err := h.svc.RecentTelemetry(c.Request().Context(), c.Param("robot_id"), limit)
	if err != nil {
		return h.respondError(c, err)
	}
	if samples == nil {
		samples = []domain.Telemetry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"telemetry": samples})
}

// IssueCommand issues a command to a robot. Policy-denied commands come
// back 403 with the decision reason on the record.
// POST /api/robots/:robot_id/commands
func (h *Handler) IssueCommand(c echo.Context) error {
	var req domain.CommandRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Type == "" {
		return badRequest(c, "type is required")
	}
	if !req.Type.Valid() {
		return badRequest(c, "unknown command type: "+string(req.Type))
	}

	cmd, err := h.svc.IssueCommand(c.Request().Context(), c.Param("robot_id"), req)
	if err != nil {
		return h.respondError(c, err)
	}
	if cmd.Status == domain.CommandStatusDenied {
		return c.JSON(http.StatusForbidden, cmd)
	}
	return c.JSON(http.StatusCreated, cmd)
}

// ListCommands lists a robot's commands, newest first.
// GET /api/robots/:robot_id/commands
func (h *Handler) ListCommands(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}

	commands, err := h.svc.ListCommands(c.Request().Context(), c.Param("robot_id"), limit)
	if err != nil {
		return h.respondError(c, err)
	}
	if commands == nil {
		commands = []domain.Command{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"commands": commands})
}

// GetRobotURDF returns the robot's parsed URDF and the joint states
// derived from its latest telemetry.
// GET /api/robots/:robot_id/urdf
func (h *Handler) GetRobotURDF(c echo.Context) error {
	model, states, err := h.svc.RobotURDF(c.Request().Context(), c.Param("robot_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"model":        model,
		"joint_states": states,
	})
}

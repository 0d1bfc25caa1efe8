package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/robofleet/robofleet/internal/domain"
)

// ListRegisteredModels lists models from the MLflow registry.
// GET /api/models
func (h *Handler) ListRegisteredModels(c echo.Context) error {
	maxResults, _ := strconv.Atoi(c.QueryParam("max_results"))

	models, err := h.svc.MLflow().SearchRegisteredModels(c.Request().Context(), maxResults)
	if err != nil {
		return h.respondError(c, err)
	}
	if models == nil {
		models = []domain.RegisteredModel{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"models": models})
}

// GetRegisteredModel returns one registered model.
// GET /api/models/:name
func (h *Handler) GetRegisteredModel(c echo.Context) error {
	model, err := h.svc.MLflow().GetRegisteredModel(c.Request().Context(), c.Param("name"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, model)
}

// ListModelVersions lists a registered model's versions.
// GET /api/models/:name/versions
func (h *Handler) ListModelVersions(c echo.Context) error {
	versions, err := h.svc.MLflow().SearchModelVersions(c.Request().Context(), c.Param("name"))
	if err != nil {
		return h.respondError(c, err)
	}
	if versions == nil {
		versions = []domain.ModelVersion{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"versions": versions})
}

// TransitionModelStage moves a model version to a new stage.
// POST /api/models/:name/versions/:version/stage
func (h *Handler) TransitionModelStage(c echo.Context) error {
	var req domain.StageTransitionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Stage == "" {
		return badRequest(c, "stage is required")
	}

	version, err := h.svc.MLflow().TransitionModelVersionStage(
		c.Request().Context(), c.Param("name"), c.Param("version"), req.Stage, req.ArchiveExistingVersions)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, version)
}

// ListExperiments lists MLflow experiments.
// GET /api/models/experiments
func (h *Handler) ListExperiments(c echo.Context) error {
	maxResults, _ := strconv.Atoi(c.QueryParam("max_results"))

	experiments, err := h.svc.MLflow().SearchExperiments(c.Request().Context(), maxResults)
	if err != nil {
		return h.respondError(c, err)
	}
	if experiments == nil {
		experiments = []domain.Experiment{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"experiments": experiments})
}

// ListRuns lists an experiment's training runs.
// GET /api/models/experiments/:experiment_id/runs
func (h *Handler) ListRuns(c echo.Context) error {
	maxResults, _ := strconv.Atoi(c.QueryParam("max_results"))

	runs, err := h.svc.MLflow().SearchRuns(c.Request().Context(), []string{c.Param("experiment_id")}, maxResults)
	if err != nil {
		return h.respondError(c, err)
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

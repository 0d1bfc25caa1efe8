package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/robofleet/robofleet/internal/domain"
)

// StartGeneration submits a synthetic data generation job to Isaac Lab.
// POST /api/synthetic/generate
func (h *Handler) StartGeneration(c echo.Context) error {
	var req domain.SyntheticGenerateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Task == "" {
		return badRequest(c, "task is required")
	}
	if req.Embodiment == "" {
		return badRequest(c, "embodiment is required")
	}
	if req.TrajectoryCount <= 0 {
		return badRequest(c, "trajectoryCount must be positive")
	}

	job, err := h.svc.StartGeneration(c.Request().Context(), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, job)
}

// ListSyntheticJobs lists generation jobs, newest first.
// GET /api/synthetic/jobs
func (h *Handler) ListSyntheticJobs(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}

	jobs, err := h.svc.ListSyntheticJobs(c.Request().Context(), limit)
	if err != nil {
		return h.respondError(c, err)
	}
	if jobs == nil {
		jobs = []domain.SyntheticJob{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// GetSyntheticJob returns one generation job.
// GET /api/synthetic/jobs/:job_id
func (h *Handler) GetSyntheticJob(c echo.Context) error {
	job, err := h.svc.GetSyntheticJob(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// CancelSyntheticJob cancels a generation job upstream.
// DELETE /api/synthetic/jobs/:job_id
func (h *Handler) CancelSyntheticJob(c echo.Context) error {
	job, err := h.svc.CancelGeneration(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// ListDatasets proxies the Isaac Lab dataset listing.
// GET /api/synthetic/datasets
func (h *Handler) ListDatasets(c echo.Context) error {
	datasets, err := h.svc.ListDatasets(c.Request().Context())
	if err != nil {
		return h.respondError(c, err)
	}
	if datasets == nil {
		datasets = []domain.Dataset{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"datasets": datasets})
}

package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/robofleet/robofleet/internal/config"
	"github.com/robofleet/robofleet/internal/vla"
)

// VLAModels lists the servable model types and the engine's state.
// GET /api/vla/models
func (h *Handler) VLAModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"models": config.ValidModelTypes,
		"status": h.svc.VLA().Status(),
	})
}

// LoadVLAModel switches the engine to the given model type and loads it.
// POST /api/vla/models/:model_type/load
func (h *Handler) LoadVLAModel(c echo.Context) error {
	modelType := c.Param("model_type")
	if !validModelType(modelType) {
		return badRequest(c, "unknown model type: "+modelType)
	}

	if err := h.svc.VLA().Switch(c.Request().Context(), modelType); err != nil {
		if errors.Is(err, vla.ErrGrootUnavailable) {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		}
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, h.svc.VLA().Status())
}

// UnloadVLAModel releases the active model.
// POST /api/vla/models/:model_type/unload
func (h *Handler) UnloadVLAModel(c echo.Context) error {
	modelType := c.Param("model_type")
	status := h.svc.VLA().Status()
	if status.ModelType != modelType {
		return badRequest(c, "model "+modelType+" is not active")
	}

	h.svc.VLA().Unload()
	return c.JSON(http.StatusOK, h.svc.VLA().Status())
}

// Predict runs one inference on the active model.
// POST /api/vla/predict
func (h *Handler) Predict(c echo.Context) error {
	var obs vla.Observation
	if err := c.Bind(&obs); err != nil {
		return badRequest(c, "invalid request body")
	}

	chunk, err := h.svc.VLA().Predict(c.Request().Context(), obs)
	if err != nil {
		if errors.Is(err, vla.ErrGrootUnavailable) {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		}
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, chunk)
}

// PredictBatch runs inference for a batch of observations.
// POST /api/vla/predict/batch
func (h *Handler) PredictBatch(c echo.Context) error {
	var req struct {
		Observations []vla.Observation `json:"observations"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Observations) == 0 {
		return badRequest(c, "observations is required")
	}
	if max := h.cfg.VLA.MaxBatchSize; max > 0 && len(req.Observations) > max {
		return badRequest(c, "batch size exceeds limit")
	}

	chunks, err := h.svc.VLA().PredictBatch(c.Request().Context(), req.Observations)
	if err != nil {
		if errors.Is(err, vla.ErrGrootUnavailable) {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		}
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"chunks": chunks})
}

func validModelType(modelType string) bool {
	for _, m := range config.ValidModelTypes {
		if m == modelType {
			return true
		}
	}
	return false
}

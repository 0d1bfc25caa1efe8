package vla

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robofleet/robofleet/internal/config"
	"github.com/robofleet/robofleet/internal/metrics"
)

// EngineStatus is the engine's current state, as served by the status
// endpoint.
type EngineStatus struct {
	ModelType string    `json:"model_type"`
	Device    string    `json:"device"`
	Loaded    bool      `json:"loaded"`
	Info      ModelInfo `json:"info"`
}

// Engine owns the active model backend and serializes inference. Models
// keep per-sequence trajectory state, so concurrent predicts would
// interleave chunks; one inference at a time matches how a single GPU
// would run the real checkpoints anyway.
type Engine struct {
	cfg config.VLAConfig
	log *slog.Logger

	mu        sync.Mutex
	modelType string
	model     Model
	loaded    bool
}

// NewEngine creates an engine for the configured model type. The model is
// loaded lazily on first use unless PreloadOnStartup is set, in which case
// the caller invokes Load during startup.
func NewEngine(cfg config.VLAConfig, log *slog.Logger) (*Engine, error) {
	model, err := newModel(cfg.ModelType, cfg)
	if err != nil {
		return nil, fmt.Errorf("vla: %w", err)
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		modelType: cfg.ModelType,
		model:     model,
	}, nil
}

// newModel builds a backend and applies the configuration knobs it
// understands. Only π0 runs flow integration, so the denoising step count
// has no effect on the other backends.
func newModel(modelType string, cfg config.VLAConfig) (Model, error) {
	m, err := New(modelType)
	if err != nil {
		return nil, err
	}
	if p, ok := m.(*Pi0); ok && cfg.DenoisingSteps > 0 {
		p.steps = cfg.DenoisingSteps
	}
	return m, nil
}

// Load loads the active model. Loading an already loaded engine is a
// no-op.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked(ctx)
}

func (e *Engine) loadLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.loaded {
		return nil
	}

	start := time.Now()
	if err := e.model.Load(e.cfg.ModelVariant, e.cfg.Device); err != nil {
		return fmt.Errorf("vla: failed to load %s model: %w", e.modelType, err)
	}
	e.loaded = true

	info := e.model.Info()
	metrics.ModelInfo.Reset()
	metrics.ModelInfo.WithLabelValues(info.ModelName, info.ModelVersion, info.BaseModel).Set(1)
	e.log.Info("vla model loaded",
		"model", info.ModelName,
		"version", info.ModelVersion,
		"device", e.cfg.Device,
		"duration", time.Since(start))
	return nil
}

// Predict runs one inference, loading the model first if needed. The call
// is bounded by PredictTimeout, counted from submission; a predict that
// waits out its deadline in the queue is abandoned. Chunks longer than
// ActionChunkSize are trimmed.
func (e *Engine) Predict(ctx context.Context, obs Observation) (*ActionChunk, error) {
	if e.cfg.PredictTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.PredictTimeout)
		defer cancel()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.loadLocked(ctx); err != nil {
		return nil, err
	}

	info := e.model.Info()
	start := time.Now()
	chunk, err := e.model.Predict(obs)
	elapsed := time.Since(start)

	metrics.InferenceLatency.WithLabelValues(info.BaseModel, obs.EmbodimentTag).Observe(elapsed.Seconds())
	if err != nil {
		metrics.InferenceRequests.WithLabelValues(info.BaseModel, "error").Inc()
		return nil, fmt.Errorf("vla: inference failed: %w", err)
	}
	metrics.InferenceRequests.WithLabelValues(info.BaseModel, "success").Inc()

	if n := e.cfg.ActionChunkSize; n > 0 && len(chunk.Actions) > n {
		chunk.Actions = chunk.Actions[:n]
	}
	return chunk, nil
}

// PredictBatch runs inference for each observation in order. The batch
// size is capped by configuration.
func (e *Engine) PredictBatch(ctx context.Context, observations []Observation) ([]*ActionChunk, error) {
	if len(observations) == 0 {
		return nil, nil
	}
	if len(observations) > e.cfg.MaxBatchSize {
		return nil, fmt.Errorf("vla: batch size %d exceeds limit %d", len(observations), e.cfg.MaxBatchSize)
	}

	chunks := make([]*ActionChunk, 0, len(observations))
	for _, obs := range observations {
		chunk, err := e.Predict(ctx, obs)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}

	e.mu.Lock()
	base := e.model.Info().BaseModel
	e.mu.Unlock()
	metrics.BatchSize.WithLabelValues(base).Observe(float64(len(observations)))
	return chunks, nil
}

// Switch replaces the active model with a different backend. The new
// model is loaded before the old one is dropped; on load failure the
// previous model keeps serving.
func (e *Engine) Switch(ctx context.Context, modelType string) error {
	next, err := newModel(modelType, e.cfg)
	if err != nil {
		return fmt.Errorf("vla: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := next.Load(e.cfg.ModelVariant, e.cfg.Device); err != nil {
		return fmt.Errorf("vla: failed to load %s model: %w", modelType, err)
	}

	if e.loaded {
		e.model.Unload()
	}
	prev := e.modelType
	e.model = next
	e.modelType = modelType
	e.loaded = true

	info := next.Info()
	metrics.ModelInfo.Reset()
	metrics.ModelInfo.WithLabelValues(info.ModelName, info.ModelVersion, info.BaseModel).Set(1)
	e.log.Info("vla model switched", "from", prev, "to", modelType)
	return nil
}

// Unload releases the active model.
func (e *Engine) Unload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return
	}
	e.model.Unload()
	e.loaded = false
	metrics.ModelInfo.Reset()
	e.log.Info("vla model unloaded", "model", e.modelType)
}

// Info returns the active model's metadata.
func (e *Engine) Info() ModelInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model.Info()
}

// Status reports the engine state.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStatus{
		ModelType: e.modelType,
		Device:    e.cfg.Device,
		Loaded:    e.loaded,
		Info:      e.model.Info(),
	}
}

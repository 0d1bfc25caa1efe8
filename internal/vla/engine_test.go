package vla

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robofleet/robofleet/internal/config"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(config.VLAConfig{
		ModelType:    "pi0",
		Device:       "cpu",
		MaxBatchSize: 4,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return engine
}

func TestEngineRejectsUnknownModelType(t *testing.T) {
	_, err := NewEngine(config.VLAConfig{ModelType: "rt2"}, slog.New(slog.DiscardHandler))
	require.Error(t, err)
}

func TestEngineLoadsLazilyOnPredict(t *testing.T) {
	engine := newTestEngine(t)
	assert.False(t, engine.Status().Loaded)

	chunk, err := engine.Predict(context.Background(), sampleObservation())
	require.NoError(t, err)
	assert.Len(t, chunk.Actions, 16)
	assert.True(t, engine.Status().Loaded)
}

func TestEngineSwitchModel(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.Load(context.Background()))

	require.NoError(t, engine.Switch(context.Background(), "openvla"))

	status := engine.Status()
	assert.Equal(t, "openvla", status.ModelType)
	assert.True(t, status.Loaded)

	chunk, err := engine.Predict(context.Background(), sampleObservation())
	require.NoError(t, err)
	assert.Len(t, chunk.Actions, 8)
}

func TestEngineSwitchToGrootKeepsCurrentModel(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.Load(context.Background()))

	err := engine.Switch(context.Background(), "groot")
	require.ErrorIs(t, err, ErrGrootUnavailable)

	// The previous model keeps serving.
	status := engine.Status()
	assert.Equal(t, "pi0", status.ModelType)
	assert.True(t, status.Loaded)

	chunk, err := engine.Predict(context.Background(), sampleObservation())
	require.NoError(t, err)
	assert.Len(t, chunk.Actions, 16)
}

func TestEnginePredictBatch(t *testing.T) {
	engine := newTestEngine(t)

	obs := sampleObservation()
	chunks, err := engine.PredictBatch(context.Background(), []Observation{obs, obs, obs})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	// Sequence numbers advance across the batch.
	assert.Equal(t, 1, chunks[0].SequenceNumber)
	assert.Equal(t, 3, chunks[2].SequenceNumber)
}

func TestEnginePredictBatchCapped(t *testing.T) {
	engine := newTestEngine(t)

	obs := sampleObservation()
	_, err := engine.PredictBatch(context.Background(), []Observation{obs, obs, obs, obs, obs})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestEngineTrimsChunkToConfiguredSize(t *testing.T) {
	engine, err := NewEngine(config.VLAConfig{
		ModelType:       "pi0",
		Device:          "cpu",
		MaxBatchSize:    4,
		ActionChunkSize: 4,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	chunk, err := engine.Predict(context.Background(), sampleObservation())
	require.NoError(t, err)
	assert.Len(t, chunk.Actions, 4)
}

func TestEngineConfiguresPi0FlowSteps(t *testing.T) {
	engine, err := NewEngine(config.VLAConfig{
		ModelType:      "pi0",
		Device:         "cpu",
		MaxBatchSize:   4,
		DenoisingSteps: 3,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	p, ok := engine.model.(*Pi0)
	require.True(t, ok)
	assert.Equal(t, 3, p.steps)
}

func TestEnginePredictHonorsCancelledContext(t *testing.T) {
	engine := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Predict(ctx, sampleObservation())
	require.ErrorIs(t, err, context.Canceled)
}

func TestEngineUnload(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.Load(context.Background()))

	engine.Unload()
	assert.False(t, engine.Status().Loaded)

	// Predict reloads on demand.
	chunk, err := engine.Predict(context.Background(), sampleObservation())
	require.NoError(t, err)
	assert.Equal(t, 1, chunk.SequenceNumber)
}

// Package vla provides the vision-language-action inference engine that
// turns robot observations into short action chunks. The model backends
// are CPU simulations with the same interface and output shapes as the
// real checkpoints, so the control loop and dashboard can be exercised
// without GPU weights.
package vla

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
)

// ErrNotLoaded is returned when Predict is called before Load.
var ErrNotLoaded = errors.New("model not loaded")

// ErrGrootUnavailable is returned by the GR00T backend, which has no
// released weights to load yet.
var ErrGrootUnavailable = errors.New("groot model weights are not yet available; use pi0 or openvla")

// ModelInfo is model metadata for client discovery.
type ModelInfo struct {
	ModelName            string   `json:"model_name"`
	ModelVersion         string   `json:"model_version"`
	ActionDim            int      `json:"action_dim"`
	ChunkSize            int      `json:"chunk_size"`
	SupportedEmbodiments []string `json:"supported_embodiments"`
	ImageWidth           int      `json:"image_width"`
	ImageHeight          int      `json:"image_height"`
	BaseModel            string   `json:"base_model"`
}

// Observation is the robot sensory state driving one inference.
type Observation struct {
	CameraImage         []byte    `json:"camera_image,omitempty"`
	JointPositions      []float64 `json:"joint_positions"`
	JointVelocities     []float64 `json:"joint_velocities,omitempty"`
	LanguageInstruction string    `json:"language_instruction"`
	Timestamp           float64   `json:"timestamp"`
	EmbodimentTag       string    `json:"embodiment_tag"`
	SessionID           string    `json:"session_id,omitempty"`
}

// Action is one timestep of robot control.
type Action struct {
	JointCommands  []float64 `json:"joint_commands"`
	GripperCommand float64   `json:"gripper_command"`
	Timestamp      float64   `json:"timestamp"`
}

// ActionChunk is a predicted action sequence.
type ActionChunk struct {
	Actions         []Action `json:"actions"`
	InferenceTimeMs float64  `json:"inference_time_ms"`
	ModelVersion    string   `json:"model_version"`
	Confidence      float64  `json:"confidence"`
	SequenceNumber  int      `json:"sequence_number"`
}

// Model is a VLA model backend. Implementations are not safe for
// concurrent use; the engine serializes access.
type Model interface {
	// Load prepares the model for inference on the given device.
	Load(checkpointPath, device string) error
	// Predict runs one inference on a loaded model.
	Predict(obs Observation) (*ActionChunk, error)
	// Unload releases model resources and resets sequence state.
	Unload()
	// Info returns model metadata.
	Info() ModelInfo
}

// New creates a model backend by type. "pi0_6" is an alias for "pi0".
func New(modelType string) (Model, error) {
	switch strings.ToLower(modelType) {
	case "pi0", "pi0_6":
		return NewPi0(), nil
	case "openvla":
		return NewOpenVLA(), nil
	case "groot":
		return NewGroot(), nil
	default:
		return nil, fmt.Errorf("unknown model type %q (available: groot, openvla, pi0, pi0_6)", modelType)
	}
}

// seedJoints normalizes the first n observed joint positions into [-1, 1],
// zero-padding when fewer are present.
func seedJoints(positions []float64, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n && i < len(positions); i++ {
		out[i] = clamp(positions[i], -1, 1)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// confidence scores the embodiment against the supported list, with a
// small random wobble clamped to [floor, 1].
func confidence(embodiment string, supported []string, inList, outOfList, floor float64) float64 {
	base := outOfList
	if slices.Contains(supported, embodiment) {
		base = inList
	}
	return clamp(base+(rand.Float64()-0.5)*0.1, floor, 1.0)
}

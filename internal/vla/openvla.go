package vla

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	openvlaName      = "openvla-sim"
	openvlaVersion   = "7b-sim"
	openvlaChunkSize = 8 // 160ms lookahead at 50Hz
)

var openvlaEmbodiments = []string{"franka_panda", "kuka_iiwa", "ur5", "widowx", "google_robot"}

// OpenVLA simulates the OpenVLA 7B model: step-like motion toward
// instruction-derived targets with noise, 8 actions per chunk, and more
// binary gripper behavior than π0.
type OpenVLA struct {
	loaded     bool
	device     string
	checkpoint string
	seq        int
	history    [][]float64 // recent chunk end states, joints + gripper
}

// NewOpenVLA creates an unloaded OpenVLA backend.
func NewOpenVLA() *OpenVLA {
	return &OpenVLA{}
}

// Load marks the model ready. Loading twice is a no-op.
func (m *OpenVLA) Load(checkpointPath, device string) error {
	if m.loaded {
		return nil
	}
	if device == "" {
		device = "cpu"
	}
	m.checkpoint = checkpointPath
	m.device = device
	m.loaded = true
	m.seq = 0
	m.history = nil
	return nil
}

// Predict generates the next action chunk.
func (m *OpenVLA) Predict(obs Observation) (*ActionChunk, error) {
	if !m.loaded {
		return nil, ErrNotLoaded
	}
	start := time.Now()
	actions := m.generate(obs)
	m.seq++
	return &ActionChunk{
		Actions:         actions,
		InferenceTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		ModelVersion:    openvlaVersion,
		Confidence:      confidence(obs.EmbodimentTag, openvlaEmbodiments, 0.85, 0.55, 0.4),
		SequenceNumber:  m.seq,
	}, nil
}

// Unload releases the model and resets trajectory state.
func (m *OpenVLA) Unload() {
	if !m.loaded {
		return
	}
	m.loaded = false
	m.seq = 0
	m.history = nil
}

// Info returns OpenVLA metadata.
func (m *OpenVLA) Info() ModelInfo {
	return ModelInfo{
		ModelName:            openvlaName,
		ModelVersion:         openvlaVersion,
		ActionDim:            7,
		ChunkSize:            openvlaChunkSize,
		SupportedEmbodiments: openvlaEmbodiments,
		ImageWidth:           336,
		ImageHeight:          336,
		BaseModel:            "openvla",
	}
}

// generate steps the joints toward an instruction-derived target, keeping
// a short history so consecutive chunks continue from the last end state.
func (m *OpenVLA) generate(obs Observation) []Action {
	const dt = 0.02

	var current []float64
	gripper := 0.5
	if n := len(m.history); n > 0 {
		prev := m.history[n-1]
		current = append([]float64(nil), prev[:6]...)
		if len(prev) > 6 {
			gripper = prev[6]
		}
	} else {
		current = seedJoints(obs.JointPositions, 6)
	}

	target := instructionTarget(obs.LanguageInstruction)
	gripperTarget := 0.0
	if strings.Contains(strings.ToLower(obs.LanguageInstruction), "pick") {
		gripperTarget = 1.0
	}

	actions := make([]Action, 0, openvlaChunkSize)
	for i := 0; i < openvlaChunkSize; i++ {
		cmds := make([]float64, len(current))
		for j := range current {
			step := 0.05 + (rand.Float64()-0.5)*0.04
			next := current[j]
			if target[j] > next {
				next = math.Min(target[j], next+step)
			} else {
				next = math.Max(target[j], next-step)
			}
			next = clamp(next+(rand.Float64()-0.5)*0.02, -1, 1)
			cmds[j] = next
			current[j] = next
		}

		gripper = clamp(gripper+0.15*(gripperTarget-gripper)+(rand.Float64()-0.5)*0.1, 0, 1)

		actions = append(actions, Action{
			JointCommands:  cmds,
			GripperCommand: gripper,
			Timestamp:      obs.Timestamp + float64(i+1)*dt,
		})
	}

	m.history = append(m.history, append(current, gripper))
	if len(m.history) > 10 {
		m.history = m.history[1:]
	}
	return actions
}

// instructionTarget derives a joint-space target from instruction keywords.
func instructionTarget(instruction string) []float64 {
	lower := strings.ToLower(instruction)

	base := make([]float64, 6)
	switch {
	case strings.Contains(lower, "pick"), strings.Contains(lower, "grab"):
		base = []float64{0.3, 0.2, -0.4, 0.0, 0.5, 0.0}
	case strings.Contains(lower, "place"), strings.Contains(lower, "put"):
		base = []float64{0.2, 0.3, 0.1, 0.0, 0.2, 0.0}
	case strings.Contains(lower, "move"):
		base = []float64{0.1, 0.1, 0.0, 0.0, 0.0, 0.0}
	}

	for i := range base {
		base[i] += (rand.Float64() - 0.5) * 0.2
	}
	return base
}

package vla

import (
	"math"
	"time"
)

const (
	pi0Name      = "pi0-sim"
	pi0Version   = "0.6.0-sim"
	pi0ChunkSize = 16  // 320ms lookahead at 50Hz
	pi0PhaseStep = 0.1 // phase advance per action step
	pi0FlowSteps = 10  // default flow integration steps
	pi0Amplitude = 0.02
)

var pi0Embodiments = []string{"unitree_h1", "so101_arm", "franka_panda", "aloha"}

// Pi0 simulates the π0.6 model: smooth sinusoidal joint trajectories with
// cross-chunk continuity, 16 actions per chunk. Each action increment is
// the joint's velocity field integrated over one control period in steps
// Euler steps, as flow matching would run it.
type Pi0 struct {
	loaded     bool
	device     string
	checkpoint string
	steps      int
	seq        int
	last       []float64
}

// NewPi0 creates an unloaded π0 backend.
func NewPi0() *Pi0 {
	return &Pi0{steps: pi0FlowSteps}
}

// Load marks the model ready. Loading twice is a no-op.
func (m *Pi0) Load(checkpointPath, device string) error {
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
	m.last = nil
	return nil
}

// Predict generates the next action chunk, continuing from the previous
// chunk's end position.
func (m *Pi0) Predict(obs Observation) (*ActionChunk, error) {
	if !m.loaded {
		return nil, ErrNotLoaded
	}
	start := time.Now()
	actions := m.generate(obs)
	m.seq++
	return &ActionChunk{
		Actions:         actions,
		InferenceTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		ModelVersion:    pi0Version,
		Confidence:      confidence(obs.EmbodimentTag, pi0Embodiments, 0.9, 0.6, 0.5),
		SequenceNumber:  m.seq,
	}, nil
}

// Unload releases the model and resets trajectory state.
func (m *Pi0) Unload() {
	if !m.loaded {
		return
	}
	m.loaded = false
	m.seq = 0
	m.last = nil
}

// Info returns π0 metadata.
func (m *Pi0) Info() ModelInfo {
	return ModelInfo{
		ModelName:            pi0Name,
		ModelVersion:         pi0Version,
		ActionDim:            7, // 6 joints + gripper
		ChunkSize:            pi0ChunkSize,
		SupportedEmbodiments: pi0Embodiments,
		ImageWidth:           224,
		ImageHeight:          224,
		BaseModel:            "pi0",
	}
}

// generate produces a smooth trajectory. The first chunk seeds from the
// observed joint positions; later chunks continue from the stored end
// position so consecutive chunks join without jumps.
func (m *Pi0) generate(obs Observation) []Action {
	const dt = 0.02 // 50Hz control period

	var current []float64
	if m.last != nil {
		current = append([]float64(nil), m.last...)
	} else {
		current = seedJoints(obs.JointPositions, 6)
	}

	actions := make([]Action, 0, pi0ChunkSize)
	for i := 0; i < pi0ChunkSize; i++ {
		phase := float64(m.seq*pi0ChunkSize+i) * pi0PhaseStep

		cmds := make([]float64, len(current))
		for j := range current {
			next := clamp(current[j]+m.flowDelta(phase, j), -1, 1)
			cmds[j] = next
			current[j] = next
		}

		gripper := clamp(0.5+0.3*math.Sin(phase*0.3), 0, 1)

		actions = append(actions, Action{
			JointCommands:  cmds,
			GripperCommand: gripper,
			Timestamp:      obs.Timestamp + float64(i+1)*dt,
		})
	}

	m.last = current
	return actions
}

// flowDelta integrates the joint's velocity field over one control period
// in m.steps Euler steps. One step reduces to sampling the field at the
// start of the period; the magnitude is bounded by the field amplitude
// either way.
func (m *Pi0) flowDelta(phase float64, joint int) float64 {
	steps := m.steps
	if steps < 1 {
		steps = 1
	}
	var sum float64
	for k := 0; k < steps; k++ {
		t := phase + float64(k)*pi0PhaseStep/float64(steps)
		sum += pi0Amplitude * math.Sin(t+float64(joint)*0.5)
	}
	return sum / float64(steps)
}

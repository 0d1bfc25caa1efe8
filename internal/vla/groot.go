package vla

// Groot is a placeholder backend for NVIDIA GR00T, the humanoid
// foundation model. The weights are not publicly released, so Load always
// fails with ErrGrootUnavailable; the metadata is still served so clients
// can discover the expected interface.
type Groot struct{}

// NewGroot creates the GR00T placeholder backend.
func NewGroot() *Groot {
	return &Groot{}
}

// Load always fails until GR00T weights are released.
func (m *Groot) Load(checkpointPath, device string) error {
	return ErrGrootUnavailable
}

// Predict always fails; the model cannot be loaded.
func (m *Groot) Predict(obs Observation) (*ActionChunk, error) {
	return nil, ErrNotLoaded
}

// Unload is a no-op.
func (m *Groot) Unload() {}

// Info returns the expected GR00T metadata.
func (m *Groot) Info() ModelInfo {
	return ModelInfo{
		ModelName:            "groot-sim",
		ModelVersion:         "0.0.0-sim",
		ActionDim:            32, // full humanoid DOF
		ChunkSize:            20,
		SupportedEmbodiments: []string{"nvidia_jetbot", "figure_01", "unitree_h1", "unitree_g1"},
		ImageWidth:           448,
		ImageHeight:          448,
		BaseModel:            "groot",
	}
}

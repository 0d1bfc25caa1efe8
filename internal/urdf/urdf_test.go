package urdf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleURDF = `<?xml version="1.0"?>
<robot name="test_arm">
  <link name="base_link"/>
  <link name="upper_arm"/>
  <link name="forearm"/>
  <link name="tool"/>
  <joint name="shoulder" type="revolute">
    <parent link="base_link"/>
    <child link="upper_arm"/>
    <origin xyz="0 0 0.1" rpy="0 0 0"/>
    <axis xyz="0 0 1"/>
    <limit lower="-1.57" upper="1.57" effort="50" velocity="1.0"/>
  </joint>
  <joint name="elbow" type="revolute">
    <parent link="upper_arm"/>
    <child link="forearm"/>
    <axis xyz="0 1 0"/>
    <limit lower="-2.0" upper="2.0"/>
  </joint>
  <joint name="wrist" type="continuous">
    <parent link="forearm"/>
    <child link="tool"/>
    <axis xyz="1 0 0"/>
  </joint>
  <joint name="mount" type="fixed">
    <parent link="base_link"/>
    <child link="tool"/>
  </joint>
</robot>`

func parseSample(t *testing.T) *Model {
	t.Helper()
	m, err := Parse(strings.NewReader(sampleURDF))
	require.NoError(t, err)
	return m
}

func TestParse(t *testing.T) {
	m := parseSample(t)

	assert.Equal(t, "test_arm", m.Name)
	assert.Len(t, m.Links, 4)
	require.Len(t, m.Joints, 4)

	shoulder := m.Joint("shoulder")
	require.NotNil(t, shoulder)
	assert.Equal(t, "revolute", shoulder.Type)
	assert.Equal(t, "base_link", shoulder.Parent.Link)
	assert.Equal(t, "upper_arm", shoulder.Child.Link)
	require.NotNil(t, shoulder.Origin)
	assert.Equal(t, Vec3{0, 0, 0.1}, shoulder.Origin.XYZ)
	require.NotNil(t, shoulder.Limit)
	assert.Equal(t, -1.57, shoulder.Limit.Lower)
	assert.Equal(t, 1.57, shoulder.Limit.Upper)
}

func TestParseRejectsUnnamedRobot(t *testing.T) {
	_, err := Parse(strings.NewReader(`<robot><link name="a"/></robot>`))
	require.Error(t, err)
}

func TestParseRejectsBadVector(t *testing.T) {
	bad := `<robot name="r"><joint name="j" type="revolute"><axis xyz="0 0"/></joint></robot>`
	_, err := Parse(strings.NewReader(bad))
	require.Error(t, err)
}

func TestMovableJoints(t *testing.T) {
	m := parseSample(t)

	movable := m.MovableJoints()
	require.Len(t, movable, 3)
	assert.Equal(t, "shoulder", movable[0].Name)
	assert.Equal(t, "elbow", movable[1].Name)
	assert.Equal(t, "wrist", movable[2].Name)
}

func TestClampPositions(t *testing.T) {
	m := parseSample(t)

	clamped := m.ClampPositions([]float64{3.0, -5.0, 9.9, 1.0})
	require.Len(t, clamped, 3)
	assert.Equal(t, 1.57, clamped[0])
	assert.Equal(t, -2.0, clamped[1])
	assert.Equal(t, 9.9, clamped[2]) // continuous joint is unlimited
}

func TestJointStates(t *testing.T) {
	m := parseSample(t)

	states := m.JointStates([]float64{0.5, 2.5})
	require.Len(t, states, 3)
	assert.Equal(t, 0.5, states["shoulder"])
	assert.Equal(t, 2.0, states["elbow"])
	assert.Equal(t, 0.0, states["wrist"]) // no sample, rests at zero
}

func TestLoadFromStaysInsideDir(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "urdf")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "arm.urdf"), []byte(sampleURDF), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "outside.urdf"), []byte(sampleURDF), 0o644))

	m, err := LoadFrom(dir, "arm.urdf")
	require.NoError(t, err)
	assert.Equal(t, "test_arm", m.Name)

	// Traversal is rooted back inside dir, so the outside file stays
	// unreachable.
	_, err = LoadFrom(dir, "../outside.urdf")
	require.Error(t, err)
}

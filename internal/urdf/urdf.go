// Package urdf parses URDF robot descriptions and maps telemetry joint
// positions onto a model's movable joints.
package urdf

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Vec3 is a space-separated 3-vector URDF attribute, e.g. "0 0 0.1".
type Vec3 [3]float64

// UnmarshalXMLAttr implements xml.UnmarshalerAttr.
func (v *Vec3) UnmarshalXMLAttr(attr xml.Attr) error {
	fields := strings.Fields(attr.Value)
	if len(fields) != 3 {
		return fmt.Errorf("expected 3 components in %q", attr.Value)
	}
	for i, f := range fields {
		val, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return fmt.Errorf("bad vector component %q: %w", f, err)
		}
		v[i] = val
	}
	return nil
}

// Model is a parsed URDF robot description.
type Model struct {
	XMLName xml.Name `xml:"robot" json:"-"`
	Name    string   `xml:"name,attr" json:"name"`
	Links   []Link   `xml:"link" json:"links"`
	Joints  []Joint  `xml:"joint" json:"joints"`
}

// Link is a rigid body in the kinematic tree.
type Link struct {
	Name string `xml:"name,attr" json:"name"`
}

// Joint connects two links.
type Joint struct {
	Name   string  `xml:"name,attr" json:"name"`
	Type   string  `xml:"type,attr" json:"type"`
	Parent LinkRef `xml:"parent" json:"parent"`
	Child  LinkRef `xml:"child" json:"child"`
	Origin *Origin `xml:"origin" json:"origin,omitempty"`
	Axis   *Axis   `xml:"axis" json:"axis,omitempty"`
	Limit  *Limit  `xml:"limit" json:"limit,omitempty"`
}

// LinkRef names the link on one side of a joint.
type LinkRef struct {
	Link string `xml:"link,attr" json:"link"`
}

// Origin is a joint frame offset.
type Origin struct {
	XYZ Vec3 `xml:"xyz,attr" json:"xyz"`
	RPY Vec3 `xml:"rpy,attr" json:"rpy"`
}

// Axis is a joint's axis of motion.
type Axis struct {
	XYZ Vec3 `xml:"xyz,attr" json:"xyz"`
}

// Limit bounds a joint's motion.
type Limit struct {
	Lower    float64 `xml:"lower,attr" json:"lower"`
	Upper    float64 `xml:"upper,attr" json:"upper"`
	Effort   float64 `xml:"effort,attr" json:"effort,omitempty"`
	Velocity float64 `xml:"velocity,attr" json:"velocity,omitempty"`
}

// Parse reads a URDF document.
func Parse(r io.Reader) (*Model, error) {
	var m Model
	if err := xml.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse urdf: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("urdf robot element has no name")
	}
	return &m, nil
}

// ParseFile reads a URDF document from a file.
func ParseFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open urdf: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// LoadFrom parses the URDF at rel resolved inside dir. The relative path
// is rooted so it cannot escape dir.
func LoadFrom(dir, rel string) (*Model, error) {
	return ParseFile(filepath.Join(dir, filepath.Clean("/"+rel)))
}

// movable joint types drive one degree of freedom each.
var movableTypes = map[string]bool{
	"revolute":   true,
	"continuous": true,
	"prismatic":  true,
}

// MovableJoints returns the joints that carry a joint state, in
// declaration order.
func (m *Model) MovableJoints() []Joint {
	var out []Joint
	for _, j := range m.Joints {
		if movableTypes[j.Type] {
			out = append(out, j)
		}
	}
	return out
}

// Joint returns the named joint, or nil.
func (m *Model) Joint(name string) *Joint {
	for i := range m.Joints {
		if m.Joints[i].Name == name {
			return &m.Joints[i]
		}
	}
	return nil
}

// Clamp limits a position to the joint's range. Joints without limits
// (continuous, or missing limit element) pass values through.
func (j Joint) Clamp(pos float64) float64 {
	if j.Limit == nil || j.Type == "continuous" {
		return pos
	}
	if pos < j.Limit.Lower {
		return j.Limit.Lower
	}
	if pos > j.Limit.Upper {
		return j.Limit.Upper
	}
	return pos
}

// ClampPositions clamps positions against the movable joints in order.
// Positions beyond the joint count are dropped; missing positions leave
// the result short.
func (m *Model) ClampPositions(positions []float64) []float64 {
	joints := m.MovableJoints()
	n := len(positions)
	if len(joints) < n {
		n = len(joints)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = joints[i].Clamp(positions[i])
	}
	return out
}

// JointStates maps telemetry joint positions onto the movable joints,
// clamped into each joint's limits. This is the shape the dashboard's
// robot viewer consumes.
func (m *Model) JointStates(positions []float64) map[string]float64 {
	joints := m.MovableJoints()
	states := make(map[string]float64, len(joints))
	for i, j := range joints {
		var pos float64
		if i < len(positions) {
			pos = positions[i]
		}
		states[j.Name] = j.Clamp(pos)
	}
	return states
}

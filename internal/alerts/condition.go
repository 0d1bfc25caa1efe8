package alerts

import (
	"math"
	"strconv"
	"strings"

	"github.com/robofleet/robofleet/internal/domain"
)

// evalCondition evaluates a rule condition string against a telemetry
// sample.
//
// Supported expressions (field operator value):
//
//	battery_pct < 20
//	joint_velocity > 2.5
//	state == error
//	state != idle
//	extras.motor_temp_c > 70
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is
// not present in the sample.
func evalCondition(cond string, t domain.Telemetry) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if field == "state" {
		switch op {
		case "==":
			return string(t.State) == rhs, 0
		case "!=":
			return string(t.State) != rhs, 0
		}
		return false, 0
	}

	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	v, ok := numericField(field, t)
	if !ok {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// numericField maps a field name to its value in the sample. Fields under
// extras. read from the sample's extras map.
func numericField(field string, t domain.Telemetry) (float64, bool) {
	if name, found := strings.CutPrefix(field, "extras."); found {
		v, ok := t.Extras[name]
		return v, ok
	}
	switch field {
	case "battery_pct":
		return t.BatteryPct, true
	case "joint_velocity":
		var peak float64
		for _, v := range t.JointVelocities {
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}
		return peak, true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}

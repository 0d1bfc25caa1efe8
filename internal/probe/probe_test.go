package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robofleet/robofleet/internal/domain"
)

// robotMetrics is a realistic exposition from a robot's onboard exporter.
const robotMetrics = `
# HELP robot_battery_voltage_volts Battery pack voltage.
# TYPE robot_battery_voltage_volts gauge
robot_battery_voltage_volts 48.2

# HELP robot_cpu_temp_celsius Onboard computer CPU temperature.
# TYPE robot_cpu_temp_celsius gauge
robot_cpu_temp_celsius 61.5

# HELP robot_wifi_signal_strength_dbm WiFi RSSI.
# TYPE robot_wifi_signal_strength_dbm gauge
robot_wifi_signal_strength_dbm -58

# HELP robot_motor_temp_celsius Per-motor winding temperature.
# TYPE robot_motor_temp_celsius gauge
robot_motor_temp_celsius{motor="left_wheel"} 44.0
robot_motor_temp_celsius{motor="right_wheel"} 52.5
robot_motor_temp_celsius{motor="arm_shoulder"} 39.1

# HELP robot_controller_faults_total Controller fault count since boot.
# TYPE robot_controller_faults_total counter
robot_controller_faults_total 2
`

func testRobot(url string) domain.Robot {
	return domain.Robot{RobotID: "bot_1", MetricsURL: url}
}

func TestProbeExtractsFamilies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(robotMetrics))
	}))
	defer srv.Close()

	res := New(time.Second).Probe(context.Background(), testRobot(srv.URL))
	require.NoError(t, res.Err)
	assert.Equal(t, "bot_1", res.RobotID)

	assert.Equal(t, 48.2, res.Extras["battery_voltage"])
	assert.Equal(t, 61.5, res.Extras["cpu_temp_c"])
	assert.Equal(t, -58.0, res.Extras["wifi_dbm"])
	assert.Equal(t, 2.0, res.Extras["controller_faults"])
	// Peak across the three motors, not the sum.
	assert.Equal(t, 52.5, res.Extras["motor_temp_c"])
}

func TestProbeSkipsAbsentFamilies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("robot_battery_voltage_volts 50.1\n"))
	}))
	defer srv.Close()

	res := New(time.Second).Probe(context.Background(), testRobot(srv.URL))
	require.NoError(t, res.Err)
	assert.Equal(t, 50.1, res.Extras["battery_voltage"])
	_, present := res.Extras["cpu_temp_c"]
	assert.False(t, present)
}

func TestProbeUnreachableRecordsError(t *testing.T) {
	res := New(time.Second).Probe(context.Background(), testRobot("http://127.0.0.1:1/metrics"))
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "bot_1")
	assert.Empty(t, res.Extras)
}

func TestProbeBadStatusRecordsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := New(time.Second).Probe(context.Background(), testRobot(srv.URL))
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "status 503")
}

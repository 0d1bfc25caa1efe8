package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robofleet/robofleet/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), DefaultPolicy)
	require.NoError(t, err)
	return engine
}

func evaluate(t *testing.T, engine *Engine, cmdType domain.CommandType, robot *domain.Robot) Decision {
	t.Helper()
	cmd := domain.Command{CommandID: "cmd_1", RobotID: "bot_1", Type: cmdType}
	decision, err := engine.Evaluate(context.Background(), CommandInput(cmd, robot))
	require.NoError(t, err)
	return decision
}

func TestPolicyAllowsMotionOnHealthyRobot(t *testing.T) {
	engine := newTestEngine(t)
	robot := &domain.Robot{RobotID: "bot_1", State: domain.RobotStateIdle, BatteryPct: 80}

	decision := evaluate(t, engine, domain.CommandTypeMove, robot)
	assert.True(t, decision.Allow)
	assert.Empty(t, decision.Reason)
}

func TestPolicyDeniesMotionWhenEstopped(t *testing.T) {
	engine := newTestEngine(t)
	robot := &domain.Robot{RobotID: "bot_1", State: domain.RobotStateEstopped, BatteryPct: 80}

	decision := evaluate(t, engine, domain.CommandTypeMove, robot)
	assert.False(t, decision.Allow)
	assert.Equal(t, "robot is emergency stopped", decision.Reason)
}

func TestPolicyAlwaysAllowsStopCommands(t *testing.T) {
	engine := newTestEngine(t)
	robot := &domain.Robot{RobotID: "bot_1", State: domain.RobotStateEstopped, BatteryPct: 2}

	assert.True(t, evaluate(t, engine, domain.CommandTypeEStop, robot).Allow)
	assert.True(t, evaluate(t, engine, domain.CommandTypeStop, robot).Allow)
}

func TestPolicyDeniesMotionOnLowBattery(t *testing.T) {
	engine := newTestEngine(t)
	robot := &domain.Robot{RobotID: "bot_1", State: domain.RobotStateIdle, BatteryPct: 10}

	decision := evaluate(t, engine, domain.CommandTypeSetJoints, robot)
	assert.False(t, decision.Allow)
	assert.Equal(t, "battery too low for motion", decision.Reason)

	// Docking is how a low robot reaches a charger, so it stays allowed.
	assert.True(t, evaluate(t, engine, domain.CommandTypeDock, robot).Allow)
}

func TestPolicyDeniesCommandsToOfflineRobot(t *testing.T) {
	engine := newTestEngine(t)
	robot := &domain.Robot{RobotID: "bot_1", State: domain.RobotStateOffline, BatteryPct: 50}

	decision := evaluate(t, engine, domain.CommandTypeMove, robot)
	assert.False(t, decision.Allow)
	assert.Equal(t, "robot is offline", decision.Reason)

	assert.True(t, evaluate(t, engine, domain.CommandTypeEStop, robot).Allow)
}

func TestPolicyCollectsAllDenyReasons(t *testing.T) {
	engine := newTestEngine(t)
	robot := &domain.Robot{RobotID: "bot_1", State: domain.RobotStateError, BatteryPct: 5}

	decision := evaluate(t, engine, domain.CommandTypeMove, robot)
	assert.False(t, decision.Allow)
	assert.Equal(t, "battery too low for motion; robot is in error state", decision.Reason)
}

func TestPolicyAllowsWhenRobotUnknown(t *testing.T) {
	engine := newTestEngine(t)

	decision := evaluate(t, engine, domain.CommandTypeMove, nil)
	assert.True(t, decision.Allow)
}

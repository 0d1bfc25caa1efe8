package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/robofleet/robofleet/internal/domain"
	"github.com/robofleet/robofleet/internal/hub"
	"github.com/robofleet/robofleet/internal/protocol"
)

// connectRobot registers an uplink connection for the robot and waits for
// the hub to pick it up.
func connectRobot(t *testing.T, svc *Service, robotID string) *hub.Connection {
	t.Helper()
	conn := svc.hub.NewConnection(nil, hub.TopicRobot)
	svc.hub.Register(conn)
	deadline := time.Now().Add(2 * time.Second)
	for svc.hub.SubscriberCount(hub.TopicRobot) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("uplink never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	svc.hub.BindRobot(conn, robotID)
	return conn
}

func TestIssueCommandDeniedByPolicy(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	robot := registerTestRobot(t, svc, "carter-01")

	// Freshly registered robots are offline; motion is denied.
	cmd, err := svc.IssueCommand(ctx, robot.RobotID, domain.CommandRequest{
		Type:   domain.CommandTypeMove,
		Params: json.RawMessage(`{"x": 1, "y": 2}`),
	})
	if err != nil {
		t.Fatalf("IssueCommand failed: %v", err)
	}
	if cmd.Status != domain.CommandStatusDenied {
		t.Fatalf("expected DENIED, got %s", cmd.Status)
	}
	if cmd.Reason == "" {
		t.Fatal("denied command must carry a reason")
	}
	if cmd.CompletedAt == nil {
		t.Fatal("denied command must be terminal")
	}

	got, err := svc.GetCommand(ctx, cmd.CommandID)
	if err != nil {
		t.Fatalf("GetCommand failed: %v", err)
	}
	if got.Status != domain.CommandStatusDenied || got.Reason == "" {
		t.Fatalf("denial not persisted: %+v", got)
	}
}

func TestIssueCommandFailsWithoutUplink(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	robot := registerTestRobot(t, svc, "carter-01")

	// e_stop passes policy even for an offline robot, but there is no
	// uplink to carry it.
	cmd, err := svc.IssueCommand(ctx, robot.RobotID, domain.CommandRequest{Type: domain.CommandTypeEStop})
	if err != nil {
		t.Fatalf("IssueCommand failed: %v", err)
	}
	if cmd.Status != domain.CommandStatusFailed {
		t.Fatalf("expected FAILED, got %s", cmd.Status)
	}
	if cmd.Error != "robot not connected" {
		t.Fatalf("unexpected error: %q", cmd.Error)
	}
}

func TestIssueCommandDispatchesToUplink(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	robot := registerTestRobot(t, svc, "carter-01")

	if err := svc.IngestTelemetry(ctx, domain.Telemetry{RobotID: robot.RobotID, State: domain.RobotStateIdle, BatteryPct: 80}); err != nil {
		t.Fatalf("IngestTelemetry failed: %v", err)
	}
	conn := connectRobot(t, svc, robot.RobotID)

	cmd, err := svc.IssueCommand(ctx, robot.RobotID, domain.CommandRequest{
		Type:   domain.CommandTypeMove,
		Params: json.RawMessage(`{"x": 3}`),
	})
	if err != nil {
		t.Fatalf("IssueCommand failed: %v", err)
	}
	if cmd.Status != domain.CommandStatusSent {
		t.Fatalf("expected SENT, got %s (%s)", cmd.Status, cmd.Reason)
	}
	if cmd.DispatchedAt == nil {
		t.Fatal("dispatched_at not set")
	}

	select {
	case data := <-conn.Send:
		var msg protocol.CommandMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad uplink frame: %v", err)
		}
		if msg.Type != protocol.TypeCommand {
			t.Fatalf("expected command frame, got %q", msg.Type)
		}
		if msg.Command.CommandID != cmd.CommandID || msg.Command.Type != domain.CommandTypeMove {
			t.Fatalf("unexpected command payload: %+v", msg.Command)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the uplink")
	}

	got, err := svc.GetCommand(ctx, cmd.CommandID)
	if err != nil {
		t.Fatalf("GetCommand failed: %v", err)
	}
	if got.Status != domain.CommandStatusSent {
		t.Fatalf("expected SENT persisted, got %s", got.Status)
	}
}

func TestHandleCommandResultAcks(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	robot := registerTestRobot(t, svc, "carter-01")
	if err := svc.IngestTelemetry(ctx, domain.Telemetry{RobotID: robot.RobotID, State: domain.RobotStateIdle, BatteryPct: 80}); err != nil {
		t.Fatalf("IngestTelemetry failed: %v", err)
	}
	connectRobot(t, svc, robot.RobotID)

	cmd, err := svc.IssueCommand(ctx, robot.RobotID, domain.CommandRequest{Type: domain.CommandTypeStop})
	if err != nil {
		t.Fatalf("IssueCommand failed: %v", err)
	}

	if err := svc.HandleCommandResult(ctx, "rob_other", cmd.CommandID, true, ""); err == nil {
		t.Fatal("result from the wrong robot must be rejected")
	}

	if err := svc.HandleCommandResult(ctx, robot.RobotID, cmd.CommandID, true, ""); err != nil {
		t.Fatalf("HandleCommandResult failed: %v", err)
	}
	got, err := svc.GetCommand(ctx, cmd.CommandID)
	if err != nil {
		t.Fatalf("GetCommand failed: %v", err)
	}
	if got.Status != domain.CommandStatusAcked {
		t.Fatalf("expected ACKED, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
}

func TestHandleCommandResultFailure(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	robot := registerTestRobot(t, svc, "carter-01")
	if err := svc.IngestTelemetry(ctx, domain.Telemetry{RobotID: robot.RobotID, State: domain.RobotStateIdle, BatteryPct: 80}); err != nil {
		t.Fatalf("IngestTelemetry failed: %v", err)
	}
	connectRobot(t, svc, robot.RobotID)

	cmd, err := svc.IssueCommand(ctx, robot.RobotID, domain.CommandRequest{Type: domain.CommandTypeDock})
	if err != nil {
		t.Fatalf("IssueCommand failed: %v", err)
	}
	if err := svc.HandleCommandResult(ctx, robot.RobotID, cmd.CommandID, false, "docking target lost"); err != nil {
		t.Fatalf("HandleCommandResult failed: %v", err)
	}

	got, _ := svc.GetCommand(ctx, cmd.CommandID)
	if got.Status != domain.CommandStatusFailed || got.Error != "docking target lost" {
		t.Fatalf("failure not recorded: %+v", got)
	}
}

func TestCommandTimeoutSweepMarksTimeout(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	robot := registerTestRobot(t, svc, "carter-01")

	cmd := &domain.Command{
		CommandID: "cmd_sweep1",
		RobotID:   robot.RobotID,
		Type:      domain.CommandTypeMove,
		Status:    domain.CommandStatusSent,
		TimeoutMs: 5,
		CreatedAt: time.Now().Add(-time.Second),
	}
	if err := svc.store.CreateCommand(ctx, cmd); err != nil {
		t.Fatalf("CreateCommand failed: %v", err)
	}

	svc.sweepCommandTimeouts(ctx)

	got, err := svc.GetCommand(ctx, "cmd_sweep1")
	if err != nil {
		t.Fatalf("GetCommand failed: %v", err)
	}
	if got.Status != domain.CommandStatusTimeout {
		t.Fatalf("expected TIMEOUT, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at set")
	}
	if got.Error == "" {
		t.Fatal("expected timeout error recorded")
	}

	// A result arriving after the sweep is dropped.
	if err := svc.HandleCommandResult(ctx, robot.RobotID, "cmd_sweep1", true, ""); err != nil {
		t.Fatalf("late result should be a no-op, got %v", err)
	}
	got, _ = svc.GetCommand(ctx, "cmd_sweep1")
	if got.Status != domain.CommandStatusTimeout {
		t.Fatalf("late result overwrote TIMEOUT: %s", got.Status)
	}
}

func TestCommandTimeoutSweepSkipsFreshCommands(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	robot := registerTestRobot(t, svc, "carter-01")

	cmd := &domain.Command{
		CommandID: "cmd_fresh1",
		RobotID:   robot.RobotID,
		Type:      domain.CommandTypeMove,
		Status:    domain.CommandStatusSent,
		TimeoutMs: int(time.Minute.Milliseconds()),
		CreatedAt: time.Now(),
	}
	if err := svc.store.CreateCommand(ctx, cmd); err != nil {
		t.Fatalf("CreateCommand failed: %v", err)
	}

	svc.sweepCommandTimeouts(ctx)

	got, _ := svc.GetCommand(ctx, "cmd_fresh1")
	if got.Status != domain.CommandStatusSent {
		t.Fatalf("fresh command must stay SENT, got %s", got.Status)
	}
}

func TestListCommandsNewestFirst(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	robot := registerTestRobot(t, svc, "carter-01")

	for i := 0; i < 3; i++ {
		if _, err := svc.IssueCommand(ctx, robot.RobotID, domain.CommandRequest{Type: domain.CommandTypeStop}); err != nil {
			t.Fatalf("IssueCommand failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	cmds, err := svc.ListCommands(ctx, robot.RobotID, 2)
	if err != nil {
		t.Fatalf("ListCommands failed: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(cmds))
	}
	if !cmds[0].CreatedAt.After(cmds[1].CreatedAt) {
		t.Fatalf("expected newest first: %v then %v", cmds[0].CreatedAt, cmds[1].CreatedAt)
	}
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robofleet/robofleet/internal/domain"
	"github.com/robofleet/robofleet/internal/metrics"
	"github.com/robofleet/robofleet/internal/policy"
	"github.com/robofleet/robofleet/internal/protocol"
)

// IssueCommand authorizes a command against the policy engine and, when
// allowed, dispatches it over the robot's uplink. The returned record
// carries the resulting status: DENIED when policy rejects it, SENT when
// pushed to the robot, FAILED when the robot has no uplink.
func (s *Service) IssueCommand(ctx context.Context, robotID string, req domain.CommandRequest) (*domain.Command, error) {
	robot, err := s.GetRobot(ctx, robotID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	cmd := &domain.Command{
		CommandID: newID("cmd"),
		RobotID:   robotID,
		Type:      req.Type,
		Params:    req.Params,
		Status:    domain.CommandStatusPending,
		TimeoutMs: int(s.cfg.CommandTimeout.Milliseconds()),
		CreatedAt: now,
	}

	decision, err := s.policy.Evaluate(ctx, policy.CommandInput(*cmd, robot))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}
	if !decision.Allow {
		cmd.Status = domain.CommandStatusDenied
		cmd.Reason = decision.Reason
		cmd.CompletedAt = &now
		if err := s.store.CreateCommand(ctx, cmd); err != nil {
			return nil, fmt.Errorf("failed to create command: %w", err)
		}
		s.log.Info("command denied", "command_id", cmd.CommandID, "robot_id", robotID, "type", cmd.Type, "reason", decision.Reason)
		s.finishCommand(ctx, cmd)
		return cmd, nil
	}

	if err := s.store.CreateCommand(ctx, cmd); err != nil {
		return nil, fmt.Errorf("failed to create command: %w", err)
	}

	msg := protocol.CommandMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeCommand, Ts: now.UnixMilli()},
		Command:     *cmd,
	}
	if err := s.hub.SendJSONToRobot(robotID, msg); err != nil {
		cmd.Status = domain.CommandStatusFailed
		cmd.Error = "robot not connected"
		if _, err := s.store.CompleteCommand(ctx, cmd.CommandID, cmd.Status, cmd.Error); err != nil {
			s.log.Error("command completion failed", "command_id", cmd.CommandID, "err", err)
		}
		cmd.CompletedAt = &now
		s.finishCommand(ctx, cmd)
		return cmd, nil
	}

	if _, err := s.store.MarkCommandDispatched(ctx, cmd.CommandID, now); err != nil {
		s.log.Error("command dispatch mark failed", "command_id", cmd.CommandID, "err", err)
	}
	cmd.Status = domain.CommandStatusSent
	cmd.DispatchedAt = &now
	s.log.Info("command dispatched", "command_id", cmd.CommandID, "robot_id", robotID, "type", cmd.Type)
	s.finishCommand(ctx, cmd)
	return cmd, nil
}

// finishCommand fans a command status transition out to the fleet feed,
// metrics, and the journal.
func (s *Service) finishCommand(ctx context.Context, cmd *domain.Command) {
	metrics.Commands.WithLabelValues(string(cmd.Status)).Inc()
	s.broadcastFleet(protocol.CommandEvent{Type: string(domain.EventTypeCommandUpdate), Command: *cmd})
	s.journal.Record(ctx, domain.EventTypeCommandUpdate, cmd.CommandID, cmd)
}

// GetCommand returns a command by ID.
func (s *Service) GetCommand(ctx context.Context, commandID string) (*domain.Command, error) {
	cmd, err := s.store.GetCommand(ctx, commandID)
	if err != nil {
		return nil, fmt.Errorf("failed to get command: %w", err)
	}
	if cmd == nil {
		return nil, fmt.Errorf("command %s: %w", commandID, ErrNotFound)
	}
	return cmd, nil
}

// ListCommands returns a robot's command history, newest first.
func (s *Service) ListCommands(ctx context.Context, robotID string, limit int) ([]domain.Command, error) {
	if _, err := s.GetRobot(ctx, robotID); err != nil {
		return nil, err
	}
	return s.store.ListCommands(ctx, robotID, limit)
}

// HandleCommandResult records a robot's acknowledgement of a dispatched
// command. Results arriving after the timeout sweep already closed the
// command are dropped.
func (s *Service) HandleCommandResult(ctx context.Context, robotID, commandID string, ok bool, errStr string) error {
	cmd, err := s.store.GetCommand(ctx, commandID)
	if err != nil {
		return fmt.Errorf("failed to get command: %w", err)
	}
	if cmd == nil {
		return fmt.Errorf("command %s: %w", commandID, ErrNotFound)
	}
	if cmd.RobotID != robotID {
		return fmt.Errorf("command %s does not belong to robot %s", commandID, robotID)
	}

	status := domain.CommandStatusAcked
	if !ok {
		status = domain.CommandStatusFailed
		if errStr == "" {
			errStr = "command failed"
		}
	}
	updated, err := s.store.CompleteCommand(ctx, commandID, status, errStr)
	if err != nil {
		return fmt.Errorf("failed to complete command: %w", err)
	}
	if !updated {
		s.log.Debug("late command result dropped", "command_id", commandID, "robot_id", robotID)
		return nil
	}

	now := time.Now()
	cmd.Status = status
	cmd.Error = errStr
	cmd.CompletedAt = &now
	s.finishCommand(ctx, cmd)
	return nil
}

// RunCommandTimeoutMonitor periodically flips overdue in-flight commands
// to TIMEOUT.
func (s *Service) RunCommandTimeoutMonitor(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepCommandTimeouts(ctx)
		}
	}
}

func (s *Service) sweepCommandTimeouts(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	expired, err := s.store.ListExpiredCommands(sweepCtx, 100)
	if err != nil {
		s.log.Error("expired command scan failed", "err", err)
		return
	}
	for _, cmd := range expired {
		updated, err := s.store.CompleteCommand(sweepCtx, cmd.CommandID, domain.CommandStatusTimeout, "deadline exceeded")
		if err != nil {
			s.log.Error("command timeout mark failed", "command_id", cmd.CommandID, "err", err)
			continue
		}
		if !updated {
			continue
		}
		now := time.Now()
		cmd.Status = domain.CommandStatusTimeout
		cmd.Error = "deadline exceeded"
		cmd.CompletedAt = &now
		s.log.Warn("command timed out", "command_id", cmd.CommandID, "robot_id", cmd.RobotID, "type", cmd.Type)
		s.finishCommand(sweepCtx, &cmd)
	}
}

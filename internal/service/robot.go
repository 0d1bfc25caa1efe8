package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robofleet/robofleet/internal/domain"
	"github.com/robofleet/robofleet/internal/metrics"
	"github.com/robofleet/robofleet/internal/protocol"
	"github.com/robofleet/robofleet/internal/urdf"
)

// RegisterRobot creates a robot record. The robot starts offline until its
// first telemetry arrives.
func (s *Service) RegisterRobot(ctx context.Context, req domain.RegisterRobotRequest) (*domain.Robot, error) {
	robotID := req.RobotID
	if robotID == "" {
		robotID = newID("rob")
	}

	existing, err := s.store.GetRobot(ctx, robotID)
	if err != nil {
		return nil, fmt.Errorf("failed to check robot: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("robot %s already registered", robotID)
	}

	now := time.Now()
	robot := &domain.Robot{
		RobotID:    robotID,
		Name:       req.Name,
		Embodiment: req.Embodiment,
		URDFPath:   req.URDFPath,
		MetricsURL: req.MetricsURL,
		State:      domain.RobotStateOffline,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateRobot(ctx, robot); err != nil {
		return nil, fmt.Errorf("failed to create robot: %w", err)
	}

	s.log.Info("robot registered", "robot_id", robot.RobotID, "embodiment", robot.Embodiment)
	s.broadcastFleet(protocol.RobotStatusEvent{Type: string(domain.EventTypeRobotStatus), Robot: *robot})
	s.journal.Record(ctx, domain.EventTypeRobotStatus, robot.RobotID, robot)
	return robot, nil
}

// GetRobot returns a robot by ID.
func (s *Service) GetRobot(ctx context.Context, robotID string) (*domain.Robot, error) {
	robot, err := s.store.GetRobot(ctx, robotID)
	if err != nil {
		return nil, fmt.Errorf("failed to get robot: %w", err)
	}
	if robot == nil {
		return nil, fmt.Errorf("robot %s: %w", robotID, ErrNotFound)
	}
	return robot, nil
}

// ListRobots returns all registered robots.
func (s *Service) ListRobots(ctx context.Context) ([]domain.Robot, error) {
	return s.store.ListRobots(ctx)
}

// UpdateRobot applies a partial update to a robot's registration fields.
func (s *Service) UpdateRobot(ctx context.Context, robotID string, req domain.UpdateRobotRequest) (*domain.Robot, error) {
	robot, err := s.GetRobot(ctx, robotID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		robot.Name = *req.Name
	}
	if req.Embodiment != nil {
		robot.Embodiment = *req.Embodiment
	}
	if req.URDFPath != nil {
		robot.URDFPath = *req.URDFPath
	}
	if req.MetricsURL != nil {
		robot.MetricsURL = *req.MetricsURL
	}
	if _, err := s.store.UpdateRobot(ctx, robot); err != nil {
		return nil, fmt.Errorf("failed to update robot: %w", err)
	}
	s.broadcastFleet(protocol.RobotStatusEvent{Type: string(domain.EventTypeRobotStatus), Robot: *robot})
	return robot, nil
}

// DeleteRobot removes a robot and drops its live telemetry.
func (s *Service) DeleteRobot(ctx context.Context, robotID string) error {
	ok, err := s.store.DeleteRobot(ctx, robotID)
	if err != nil {
		return fmt.Errorf("failed to delete robot: %w", err)
	}
	if !ok {
		return fmt.Errorf("robot %s: %w", robotID, ErrNotFound)
	}
	s.tstore.Forget(robotID)
	s.probeMu.Lock()
	delete(s.probeExtras, robotID)
	s.probeMu.Unlock()
	s.log.Info("robot deleted", "robot_id", robotID)
	return nil
}

// IngestTelemetry records one telemetry sample: it updates the live store
// and the robot row, runs alert rules, and fans the sample out to fleet
// feed subscribers and the event journal.
func (s *Service) IngestTelemetry(ctx context.Context, sample domain.Telemetry) error {
	if sample.RobotID == "" {
		return errors.New("telemetry missing robot_id")
	}
	if sample.Ts == 0 {
		sample.Ts = time.Now().UnixMilli()
	}
	s.mergeProbeExtras(&sample)

	s.tstore.Put(sample)
	metrics.TelemetrySamples.Inc()

	ok, err := s.store.UpdateRobotStatus(ctx, sample.RobotID, sample.State, sample.BatteryPct, time.Now())
	if err != nil {
		s.log.Error("robot status update failed", "robot_id", sample.RobotID, "err", err)
	} else if !ok {
		s.log.Warn("telemetry from unregistered robot", "robot_id", sample.RobotID)
	}

	s.broadcastFleet(protocol.TelemetryEvent{Type: string(domain.EventTypeTelemetry), Telemetry: sample})
	s.journal.Record(ctx, domain.EventTypeTelemetry, sample.RobotID, sample)

	for _, alert := range s.alerts.Evaluate(sample) {
		if alert.ResolvedAt == nil {
			metrics.AlertsFired.WithLabelValues(alert.Rule).Inc()
			s.log.Warn("alert fired", "rule", alert.Rule, "robot_id", alert.RobotID, "value", alert.Value)
		}
		s.broadcastFleet(protocol.AlertEvent{Type: string(domain.EventTypeAlert), Alert: alert})
		s.journal.Record(ctx, domain.EventTypeAlert, alert.RobotID, alert)
	}
	return nil
}

// mergeProbeExtras folds the robot's latest scraped diagnostics into the
// sample's extras. Values reported by the robot itself win.
func (s *Service) mergeProbeExtras(sample *domain.Telemetry) {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	extras := s.probeExtras[sample.RobotID]
	if len(extras) == 0 {
		return
	}
	if sample.Extras == nil {
		sample.Extras = make(map[string]float64, len(extras))
	}
	for k, v := range extras {
		if _, exists := sample.Extras[k]; !exists {
			sample.Extras[k] = v
		}
	}
}

// LatestTelemetry returns the robot's most recent sample.
func (s *Service) LatestTelemetry(ctx context.Context, robotID string) (*domain.Telemetry, error) {
	if _, err := s.GetRobot(ctx, robotID); err != nil {
		return nil, err
	}
	sample, ok := s.tstore.Latest(robotID)
	if !ok {
		return nil, fmt.Errorf("no telemetry for robot %s: %w", robotID, ErrNotFound)
	}
	return &sample, nil
}

// RecentTelemetry returns up to n recent samples for a robot, oldest first.
func (s *Service) RecentTelemetry(ctx context.Context, robotID string, n int) ([]domain.Telemetry, error) {
	if _, err := s.GetRobot(ctx, robotID); err != nil {
		return nil, err
	}
	return s.tstore.Recent(robotID, n), nil
}

// RobotURDF loads a robot's URDF model and derives the viewer's joint
// states from the latest telemetry sample. Positions are clamped into
// each joint's limits.
func (s *Service) RobotURDF(ctx context.Context, robotID string) (*urdf.Model, map[string]float64, error) {
	robot, err := s.GetRobot(ctx, robotID)
	if err != nil {
		return nil, nil, err
	}
	if robot.URDFPath == "" {
		return nil, nil, fmt.Errorf("robot %s has no urdf: %w", robotID, ErrNotFound)
	}

	model, err := urdf.LoadFrom(s.cfg.URDFDir, robot.URDFPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load urdf for robot %s: %w", robotID, err)
	}

	states := map[string]float64{}
	if sample, ok := s.tstore.Latest(robotID); ok {
		states = model.JointStates(sample.JointPositions)
	}
	return model, states, nil
}

// FleetSnapshot assembles the state pushed to a fleet feed on connect.
func (s *Service) FleetSnapshot(ctx context.Context) (*protocol.FleetSnapshotEvent, error) {
	robots, err := s.store.ListRobots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list robots: %w", err)
	}
	if robots == nil {
		robots = []domain.Robot{}
	}
	snapshot := &protocol.FleetSnapshotEvent{
		Type:      string(domain.EventTypeFleetSnapshot),
		Robots:    robots,
		Telemetry: s.tstore.List(),
		Alerts:    s.alerts.Active(),
	}
	if snapshot.Telemetry == nil {
		snapshot.Telemetry = []domain.Telemetry{}
	}
	if snapshot.Alerts == nil {
		snapshot.Alerts = []domain.Alert{}
	}
	return snapshot, nil
}

// RunOfflineSweep periodically evicts stale telemetry and flips silent
// robots to offline.
func (s *Service) RunOfflineSweep(ctx context.Context) {
	interval := s.cfg.OfflineAfter / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOffline(ctx)
		}
	}
}

func (s *Service) sweepOffline(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	now := time.Now()
	s.tstore.Evict(now)

	stale, err := s.store.ListStaleRobots(sweepCtx, now.Add(-s.cfg.OfflineAfter))
	if err != nil {
		s.log.Error("stale robot scan failed", "err", err)
		return
	}
	for _, robot := range stale {
		ok, err := s.store.MarkRobotOffline(sweepCtx, robot.RobotID)
		if err != nil {
			s.log.Error("offline flip failed", "robot_id", robot.RobotID, "err", err)
			continue
		}
		if !ok {
			continue
		}
		robot.State = domain.RobotStateOffline
		s.log.Info("robot offline", "robot_id", robot.RobotID)
		s.broadcastFleet(protocol.RobotStatusEvent{Type: string(domain.EventTypeRobotStatus), Robot: robot})
		s.journal.Record(sweepCtx, domain.EventTypeRobotStatus, robot.RobotID, robot)
	}
}

// RunProbeLoop periodically scrapes the diagnostics endpoint of every
// robot that advertises one.
func (s *Service) RunProbeLoop(ctx context.Context) {
	if s.prober == nil || s.cfg.ProbeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeFleet(ctx)
		}
	}
}

func (s *Service) probeFleet(ctx context.Context) {
	robots, err := s.store.ListRobots(ctx)
	if err != nil {
		s.log.Error("probe listing failed", "err", err)
		return
	}
	for _, robot := range robots {
		if robot.MetricsURL == "" {
			continue
		}
		result := s.prober.Probe(ctx, robot)
		if result.Err != nil {
			s.log.Debug("probe failed", "robot_id", robot.RobotID, "err", result.Err)
			continue
		}
		s.probeMu.Lock()
		s.probeExtras[robot.RobotID] = result.Extras
		s.probeMu.Unlock()
	}
}

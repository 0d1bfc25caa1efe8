// Package service implements the fleet orchestration layer: telemetry
// ingest, command authorization and dispatch, A2A agent and task
// lifecycle, synthetic data jobs, and the background sweeps that keep
// fleet state honest.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robofleet/robofleet/internal/a2a"
	"github.com/robofleet/robofleet/internal/alerts"
	"github.com/robofleet/robofleet/internal/config"
	"github.com/robofleet/robofleet/internal/domain"
	"github.com/robofleet/robofleet/internal/hub"
	"github.com/robofleet/robofleet/internal/isaac"
	"github.com/robofleet/robofleet/internal/journal"
	"github.com/robofleet/robofleet/internal/metrics"
	"github.com/robofleet/robofleet/internal/mlflow"
	"github.com/robofleet/robofleet/internal/policy"
	"github.com/robofleet/robofleet/internal/probe"
	"github.com/robofleet/robofleet/internal/store"
	"github.com/robofleet/robofleet/internal/telemetry"
	"github.com/robofleet/robofleet/internal/vla"
)

// ErrNotFound marks lookups of entities that do not exist. Handlers map
// it to 404.
var ErrNotFound = errors.New("not found")

// Deps collects everything a Service is wired with.
type Deps struct {
	Store     store.Store
	Telemetry *telemetry.Store
	Hub       *hub.Hub
	Policy    *policy.Engine
	Alerts    *alerts.Engine
	A2A       *a2a.Client
	Isaac     *isaac.Client
	MLflow    *mlflow.Client
	VLA       *vla.Engine
	Journal   *journal.Journal
	Prober    *probe.Prober
	Config    *config.Config
	Log       *slog.Logger
}

type Service struct {
	store   store.Store
	tstore  *telemetry.Store
	hub     *hub.Hub
	policy  *policy.Engine
	alerts  *alerts.Engine
	a2a     *a2a.Client
	isaac   *isaac.Client
	mlflow  *mlflow.Client
	vla     *vla.Engine
	journal *journal.Journal
	prober  *probe.Prober
	cfg     *config.Config
	log     *slog.Logger

	// latest probe extras per robot, merged into ingested telemetry
	probeMu     sync.Mutex
	probeExtras map[string]map[string]float64
}

func New(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	if d.Alerts == nil {
		d.Alerts = alerts.NewEngine(nil)
	}
	if d.Journal == nil {
		d.Journal = journal.New(nil, "", log)
	}
	return &Service{
		store:       d.Store,
		tstore:      d.Telemetry,
		hub:         d.Hub,
		policy:      d.Policy,
		alerts:      d.Alerts,
		a2a:         d.A2A,
		isaac:       d.Isaac,
		mlflow:      d.MLflow,
		vla:         d.VLA,
		journal:     d.Journal,
		prober:      d.Prober,
		cfg:         d.Config,
		log:         log,
		probeExtras: make(map[string]map[string]float64),
	}
}

// VLA exposes the inference engine to the transport layer.
func (s *Service) VLA() *vla.Engine { return s.vla }

// MLflow exposes the registry client to the transport layer.
func (s *Service) MLflow() *mlflow.Client { return s.mlflow }

// AlertEngine exposes alert state to the transport layer.
func (s *Service) AlertEngine() *alerts.Engine { return s.alerts }

// Hub exposes the connection hub to the WS transport.
func (s *Service) Hub() *hub.Hub { return s.hub }

// newID mints a prefixed short ID, e.g. "cmd_1a2b3c4d".
func newID(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}

// recordTaskEvent persists a task event for replay.
func (s *Service) recordTaskEvent(ctx context.Context, taskID string, eventType domain.EventType, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &domain.TaskEvent{
		EventID: newID("evt"),
		TaskID:  taskID,
		Ts:      time.Now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}
	if err := s.store.CreateTaskEvent(ctx, event); err != nil {
		return err
	}
	metrics.TaskEvents.WithLabelValues(string(eventType)).Inc()
	return nil
}

// broadcastFleet pushes an event to fleet feed subscribers.
func (s *Service) broadcastFleet(v interface{}) {
	if s.hub == nil {
		return
	}
	if err := s.hub.BroadcastJSON(hub.TopicFleet, v); err != nil {
		s.log.Error("fleet broadcast failed", "err", err)
	}
}

// broadcastA2A pushes an event to a2a feed subscribers.
func (s *Service) broadcastA2A(v interface{}) {
	if s.hub == nil {
		return
	}
	if err := s.hub.BroadcastJSON(hub.TopicA2A, v); err != nil {
		s.log.Error("a2a broadcast failed", "err", err)
	}
}

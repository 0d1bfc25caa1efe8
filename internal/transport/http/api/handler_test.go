package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/robofleet/robofleet/internal/config"
	"github.com/robofleet/robofleet/internal/domain"
	"github.com/robofleet/robofleet/internal/hub"
	"github.com/robofleet/robofleet/internal/mlflow"
	"github.com/robofleet/robofleet/internal/policy"
	"github.com/robofleet/robofleet/internal/service"
	"github.com/robofleet/robofleet/internal/store"
	"github.com/robofleet/robofleet/internal/telemetry"
	"github.com/robofleet/robofleet/internal/vla"
)

type apiFixture struct {
	e   *echo.Echo
	svc *service.Service
	cfg *config.Config
}

func newAPIFixture(t *testing.T, apiKey string) *apiFixture {
	return newAPIFixtureWith(t, apiKey, nil)
}

func newAPIFixtureWith(t *testing.T, apiKey string, mutate func(*service.Deps)) *apiFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := hub.New()
	go h.Run(ctx)

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to compile policy: %v", err)
	}

	cfg := &config.Config{
		APIKey:         apiKey,
		OfflineAfter:   30 * time.Second,
		CommandTimeout: time.Minute,
		TelemetryRing:  8,
		VLA: config.VLAConfig{
			ModelType:    "pi0",
			Device:       "cpu",
			MaxBatchSize: 4,
		},
	}
	log := slog.New(slog.DiscardHandler)

	engine, err := vla.NewEngine(cfg.VLA, log)
	if err != nil {
		t.Fatalf("failed to create vla engine: %v", err)
	}

	deps := service.Deps{
		Store:     db,
		Telemetry: telemetry.New(time.Minute, 8),
		Hub:       h,
		Policy:    policyEngine,
		VLA:       engine,
		Config:    cfg,
		Log:       log,
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc := service.New(deps)

	e := echo.New()
	NewHandler(svc, cfg).RegisterRoutes(e)
	return &apiFixture{e: e, svc: svc, cfg: cfg}
}

func (f *apiFixture) do(method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestRegisterRobotValidation(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(http.MethodPost, "/api/robots", `{"name":"scout-1"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "embodiment") {
		t.Fatalf("expected embodiment error, got %s", rec.Body.String())
	}

	rec = f.do(http.MethodPost, "/api/robots", `{"embodiment":"carter"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRobotCRUDOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(http.MethodPost, "/api/robots", `{"name":"scout-1","embodiment":"carter"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var robot domain.Robot
	decodeJSON(t, rec, &robot)
	if robot.RobotID == "" || robot.State != domain.RobotStateOffline {
		t.Fatalf("unexpected robot: %+v", robot)
	}

	rec = f.do(http.MethodGet, "/api/robots", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Robots []domain.Robot `json:"robots"`
	}
	decodeJSON(t, rec, &list)
	if len(list.Robots) != 1 {
		t.Fatalf("expected 1 robot, got %d", len(list.Robots))
	}

	rec = f.do(http.MethodPatch, "/api/robots/"+robot.RobotID, `{"name":"scout-renamed"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated domain.Robot
	decodeJSON(t, rec, &updated)
	if updated.Name != "scout-renamed" || updated.Embodiment != "carter" {
		t.Fatalf("unexpected update: %+v", updated)
	}

	rec = f.do(http.MethodDelete, "/api/robots/"+robot.RobotID, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/api/robots/"+robot.RobotID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestTelemetryOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(http.MethodPost, "/api/robots", `{"name":"scout-1","embodiment":"carter"}`, nil)
	var robot domain.Robot
	decodeJSON(t, rec, &robot)

	rec = f.do(http.MethodPost, "/api/robots/"+robot.RobotID+"/telemetry",
		`{"state":"idle","battery_pct":55}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/api/robots/"+robot.RobotID+"/telemetry", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got struct {
		Telemetry []domain.Telemetry `json:"telemetry"`
	}
	decodeJSON(t, rec, &got)
	if len(got.Telemetry) != 1 || got.Telemetry[0].BatteryPct != 55 {
		t.Fatalf("unexpected telemetry: %+v", got.Telemetry)
	}
	if got.Telemetry[0].RobotID != robot.RobotID {
		t.Fatalf("robot_id not filled from path: %+v", got.Telemetry[0])
	}

	rec = f.do(http.MethodPost, "/api/robots/"+robot.RobotID+"/telemetry",
		`{"robot_id":"rob_other","battery_pct":10}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on mismatched robot_id, got %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/api/robots/rob_missing/telemetry", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown robot, got %d", rec.Code)
	}
}

func TestIssueCommandOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(http.MethodPost, "/api/robots", `{"name":"scout-1","embodiment":"carter"}`, nil)
	var robot domain.Robot
	decodeJSON(t, rec, &robot)

	rec = f.do(http.MethodPost, "/api/robots/"+robot.RobotID+"/commands", `{"type":"warp"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", rec.Code)
	}

	// Robot is offline, so policy denies motion.
	rec = f.do(http.MethodPost, "/api/robots/"+robot.RobotID+"/commands", `{"type":"move"}`, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	var cmd domain.Command
	decodeJSON(t, rec, &cmd)
	if cmd.Status != domain.CommandStatusDenied || cmd.Reason == "" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	rec = f.do(http.MethodGet, "/api/robots/"+robot.RobotID+"/commands", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Commands []domain.Command `json:"commands"`
	}
	decodeJSON(t, rec, &list)
	if len(list.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(list.Commands))
	}
}

func TestStartGenerationValidation(t *testing.T) {
	f := newAPIFixture(t, "")

	cases := []string{
		`{"embodiment":"franka","trajectoryCount":10}`,
		`{"task":"pick_place","trajectoryCount":10}`,
		`{"task":"pick_place","embodiment":"franka"}`,
		`{"task":"pick_place","embodiment":"franka","trajectoryCount":-1}`,
	}
	for _, body := range cases {
		rec := f.do(http.MethodPost, "/api/synthetic/generate", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestSyntheticJobNotFound(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(http.MethodGet, "/api/synthetic/jobs/job_missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAPIKeyGuard(t *testing.T) {
	f := newAPIFixture(t, "sekrit")

	rec := f.do(http.MethodGet, "/api/robots", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/api/robots", "", map[string]string{"X-API-Key": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/api/robots", "", map[string]string{"X-API-Key": "sekrit"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", rec.Code)
	}

	// Health stays open.
	rec = f.do(http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected open healthz, got %d", rec.Code)
	}
}

func TestIngestEventOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "")

	body := `{"type":"task_status_update","task_id":"task_h1","status":{"state":"working"}}`
	rec := f.do(http.MethodPost, "/api/a2a/events", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/api/a2a/tasks/task_h1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var task domain.Task
	decodeJSON(t, rec, &task)
	if task.Status.State != domain.TaskStateWorking {
		t.Fatalf("unexpected task: %+v", task)
	}

	rec = f.do(http.MethodPost, "/api/a2a/events", `{"type":"rainbow"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown event type, got %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/a2a/events", `{"type":"task_status_update"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without task_id, got %d", rec.Code)
	}
}

func TestRegisterAgentValidation(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(http.MethodPost, "/api/a2a/agents", `{"url":"http://agent.local"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing name, got %d", rec.Code)
	}
	rec = f.do(http.MethodPost, "/api/a2a/agents", `{"name":"planner"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing url, got %d", rec.Code)
	}
}

func TestModelRegistryUnavailable(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(http.MethodGet, "/api/models", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without registry, got %d", rec.Code)
	}
}

func TestModelRegistryNotFoundOverHTTP(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error_code":"RESOURCE_DOES_NOT_EXIST","message":"model ghost not found"}`))
	}))
	t.Cleanup(upstream.Close)

	f := newAPIFixtureWith(t, "", func(d *service.Deps) {
		d.MLflow = mlflow.NewClient(upstream.URL, time.Second)
	})

	rec := f.do(http.MethodGet, "/api/models/ghost", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown model, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestVLAPredictOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "")

	body := `{"joint_positions":[0,0.2,0,0,0,0,0],"language_instruction":"pick up the cube","embodiment_tag":"franka_panda"}`
	rec := f.do(http.MethodPost, "/api/vla/predict", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var chunk vla.ActionChunk
	decodeJSON(t, rec, &chunk)
	if len(chunk.Actions) == 0 {
		t.Fatal("expected actions in chunk")
	}
	if chunk.Confidence < 0.5 || chunk.Confidence > 1.0 {
		t.Fatalf("confidence out of range: %v", chunk.Confidence)
	}
}

func TestVLABatchValidation(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(http.MethodPost, "/api/vla/predict/batch", `{"observations":[]}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d", rec.Code)
	}

	obs := `{"joint_positions":[0]}`
	over := `{"observations":[` + obs + `,` + obs + `,` + obs + `,` + obs + `,` + obs + `]}`
	rec = f.do(http.MethodPost, "/api/vla/predict/batch", over, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized batch, got %d", rec.Code)
	}
}

func TestVLAModelLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(http.MethodGet, "/api/vla/models", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/vla/models/openvla/unload", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 unloading inactive model, got %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/vla/models/openvla/load", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var status vla.EngineStatus
	decodeJSON(t, rec, &status)
	if status.ModelType != "openvla" || !status.Loaded {
		t.Fatalf("unexpected status: %+v", status)
	}

	rec = f.do(http.MethodPost, "/api/vla/models/rt2/load", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown model type, got %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/vla/models/groot/load", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for groot, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRobotURDFNotFoundOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(http.MethodPost, "/api/robots", `{"name":"scout-1","embodiment":"carter"}`, nil)
	var robot domain.Robot
	decodeJSON(t, rec, &robot)

	rec = f.do(http.MethodGet, "/api/robots/"+robot.RobotID+"/urdf", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for robot without urdf, got %d", rec.Code)
	}
}

package alerts

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robofleet/robofleet/internal/domain"
)

func testRules() *RuleSet {
	return &RuleSet{Rules: []Rule{
		{Name: "low_battery", Condition: "battery_pct < 20", Severity: "warning", Cooldown: time.Minute},
		{Name: "robot_error", Condition: "state == error", Severity: "critical"},
	}}
}

func sample(robotID string, battery float64, state domain.RobotState) domain.Telemetry {
	return domain.Telemetry{
		RobotID:    robotID,
		State:      state,
		BatteryPct: battery,
		Ts:         time.Now().UnixMilli(),
	}
}

// newFixedEngine returns an engine whose clock the test controls.
func newFixedEngine(rs *RuleSet) (*Engine, *time.Time) {
	e := NewEngine(rs)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }
	return e, &clock
}

func TestEngineFiresOnLowBattery(t *testing.T) {
	e, _ := newFixedEngine(testRules())

	events := e.Evaluate(sample("bot_1", 12, domain.RobotStateActive))
	require.Len(t, events, 1)
	assert.Equal(t, "low_battery", events[0].Rule)
	assert.Equal(t, "bot_1", events[0].RobotID)
	assert.Equal(t, "warning", events[0].Severity)
	assert.Equal(t, 12.0, events[0].Value)
	assert.Nil(t, events[0].ResolvedAt)

	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "low_battery", active[0].Rule)
}

func TestEngineDoesNotRefireWhileActive(t *testing.T) {
	e, _ := newFixedEngine(testRules())

	require.Len(t, e.Evaluate(sample("bot_1", 12, domain.RobotStateActive)), 1)
	assert.Empty(t, e.Evaluate(sample("bot_1", 11, domain.RobotStateActive)))
	assert.Empty(t, e.Evaluate(sample("bot_1", 10, domain.RobotStateActive)))
}

func TestEngineResolvesWhenConditionClears(t *testing.T) {
	e, clock := newFixedEngine(testRules())

	require.Len(t, e.Evaluate(sample("bot_1", 12, domain.RobotStateActive)), 1)

	*clock = clock.Add(10 * time.Second)
	events := e.Evaluate(sample("bot_1", 85, domain.RobotStateCharging))
	require.Len(t, events, 1)
	assert.Equal(t, "low_battery", events[0].Rule)
	require.NotNil(t, events[0].ResolvedAt)

	// The resolved alert stays visible in the recent window.
	active := e.Active()
	require.Len(t, active, 1)
	assert.NotNil(t, active[0].ResolvedAt)
}

func TestEngineCooldownDampsFlapping(t *testing.T) {
	e, clock := newFixedEngine(testRules())

	require.Len(t, e.Evaluate(sample("bot_1", 12, domain.RobotStateActive)), 1)
	*clock = clock.Add(10 * time.Second)
	require.Len(t, e.Evaluate(sample("bot_1", 85, domain.RobotStateActive)), 1) // resolves

	// Condition returns within the cooldown window: suppressed.
	*clock = clock.Add(10 * time.Second)
	assert.Empty(t, e.Evaluate(sample("bot_1", 12, domain.RobotStateActive)))

	// After the cooldown elapses it fires again.
	*clock = clock.Add(2 * time.Minute)
	events := e.Evaluate(sample("bot_1", 12, domain.RobotStateActive))
	require.Len(t, events, 1)
	assert.Nil(t, events[0].ResolvedAt)
}

func TestEngineSeparatesRobots(t *testing.T) {
	e, _ := newFixedEngine(testRules())

	require.Len(t, e.Evaluate(sample("bot_1", 12, domain.RobotStateActive)), 1)
	require.Len(t, e.Evaluate(sample("bot_2", 9, domain.RobotStateActive)), 1)
	assert.Len(t, e.Active(), 2)
}

func TestEngineStateRule(t *testing.T) {
	e, _ := newFixedEngine(testRules())

	events := e.Evaluate(sample("bot_1", 90, domain.RobotStateError))
	require.Len(t, events, 1)
	assert.Equal(t, "robot_error", events[0].Rule)
	assert.Equal(t, "critical", events[0].Severity)
}

func TestEngineSetRules(t *testing.T) {
	e, _ := newFixedEngine(testRules())

	e.SetRules(&RuleSet{Rules: []Rule{
		{Name: "hot_motor", Condition: "extras.motor_temp_c > 70", Severity: "critical"},
	}})

	tel := sample("bot_1", 12, domain.RobotStateActive) // old rule no longer fires
	assert.Empty(t, e.Evaluate(tel))

	tel.Extras = map[string]float64{"motor_temp_c": 82}
	events := e.Evaluate(tel)
	require.Len(t, events, 1)
	assert.Equal(t, "hot_motor", events[0].Rule)
	assert.Equal(t, 82.0, events[0].Value)
}

func TestEngineNoRulesIsNoop(t *testing.T) {
	e := NewEngine(nil)
	assert.Empty(t, e.Evaluate(sample("bot_1", 1, domain.RobotStateError)))
	assert.Empty(t, e.Active())
}

func TestEngineWebhookDelivery(t *testing.T) {
	received := make(chan domain.Alert, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Alert domain.Alert `json:"alert"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload.Alert
	}))
	defer srv.Close()

	rs := testRules()
	rs.Webhooks = []Webhook{{Type: "http", URL: srv.URL}}
	e, _ := newFixedEngine(rs)

	require.Len(t, e.Evaluate(sample("bot_1", 12, domain.RobotStateActive)), 1)

	select {
	case a := <-received:
		assert.Equal(t, "low_battery", a.Rule)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

package alerts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRulesYAML = `rules:
  - name: low_battery
    condition: "battery_pct < 20"
    severity: warning
    cooldown: 10m
  - name: robot_error
    condition: "state == error"
    severity: critical
webhooks:
  - type: slack
    url: https://hooks.slack.com/services/T0/B0/XXX
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRules(t *testing.T) {
	rs, err := LoadRules(writeRules(t, sampleRulesYAML))
	require.NoError(t, err)

	require.Len(t, rs.Rules, 2)
	assert.Equal(t, "low_battery", rs.Rules[0].Name)
	assert.Equal(t, "battery_pct < 20", rs.Rules[0].Condition)
	assert.Equal(t, 10*time.Minute, rs.Rules[0].Cooldown)
	assert.Equal(t, "critical", rs.Rules[1].Severity)

	require.Len(t, rs.Webhooks, 1)
	assert.Equal(t, "slack", rs.Webhooks[0].Type)
}

func TestLoadRulesMissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRuleSetValidate(t *testing.T) {
	rs := &RuleSet{
		Rules: []Rule{
			{Name: "", Condition: "battery_pct < 20"},
			{Name: "bad_cond", Condition: "battery_pct <"},
		},
		Webhooks: []Webhook{{Type: "slack"}},
	}

	err := rs.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule 0 has no name")
	assert.Contains(t, err.Error(), "bad_cond")
	assert.Contains(t, err.Error(), "url")
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := writeRules(t, sampleRulesYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *RuleSet, 1)
	go func() {
		_ = Watch(ctx, path, func(next *RuleSet) {
			select {
			case changed <- next:
			default:
			}
		})
	}()

	next := []byte(`rules:
  - name: hot_motor
    condition: "extras.motor_temp_c > 70"
`)

	// Rewrite on a ticker until the watcher picks it up, in case the
	// first write lands before the watch is registered.
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case rs := <-changed:
			require.Len(t, rs.Rules, 1)
			assert.Equal(t, "hot_motor", rs.Rules[0].Name)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, next, 0o644))
		case <-deadline:
			t.Fatal("watcher did not observe the rewrite")
		}
	}
}

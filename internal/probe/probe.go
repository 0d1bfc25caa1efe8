// Package probe scrapes onboard diagnostics from robots that expose a
// Prometheus text endpoint. Selected metric families are folded into the
// robot's telemetry extras so rules and the fleet feed see them alongside
// the uplink samples.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/robofleet/robofleet/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Metric families read from robot endpoints, mapped to telemetry extras
// keys. Families absent from an exposition are skipped, not zeroed.
var gaugeFamilies = map[string]string{
	"robot_battery_voltage_volts":    "battery_voltage",
	"robot_cpu_temp_celsius":         "cpu_temp_c",
	"robot_wifi_signal_strength_dbm": "wifi_dbm",
	"robot_controller_faults_total":  "controller_faults",
}

// robot_motor_temp_celsius carries one sample per motor; the peak is the
// value that matters for alerting.
const motorTempFamily = "robot_motor_temp_celsius"

// Result is the outcome of probing one robot. Err is non-nil when the
// probe itself failed (unreachable, bad status, unparsable exposition);
// a failed probe never carries extras.
type Result struct {
	RobotID  string
	ProbedAt time.Time
	Extras   map[string]float64
	Err      error
}

// Prober fetches and parses robot diagnostics endpoints. The zero value
// is not usable; construct with New.
type Prober struct {
	client *http.Client
}

func New(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Prober{client: &http.Client{Timeout: timeout}}
}

// Probe scrapes one robot's diagnostics endpoint. Failures are recorded
// on the result, never returned, so a dead endpoint cannot break the
// probe cycle.
func (p *Prober) Probe(ctx context.Context, r domain.Robot) *Result {
	res := &Result{
		RobotID:  r.RobotID,
		ProbedAt: time.Now().UTC(),
		Extras:   make(map[string]float64),
	}

	mfs, err := p.fetch(ctx, r.MetricsURL)
	if err != nil {
		res.Err = fmt.Errorf("probe %s: %w", r.RobotID, err)
		return res
	}

	for family, key := range gaugeFamilies {
		if mf, ok := mfs[family]; ok {
			res.Extras[key] = sumFamily(mf)
		}
	}
	if mf, ok := mfs[motorTempFamily]; ok {
		res.Extras["motor_temp_c"] = peakFamily(mf)
	}
	return res
}

// fetch performs an HTTP GET and returns parsed metric families.
func (p *Prober) fetch(ctx context.Context, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition into metric families.
// A partial result with a non-fatal parse warning is still returned.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a family.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}

// peakFamily returns the largest gauge or untyped value in a family.
func peakFamily(mf *dto.MetricFamily) float64 {
	var peak float64
	first := true
	for _, m := range mf.GetMetric() {
		var v float64
		switch {
		case m.Gauge != nil:
			v = m.Gauge.GetValue()
		case m.Untyped != nil:
			v = m.Untyped.GetValue()
		default:
			continue
		}
		if first || v > peak {
			peak = v
			first = false
		}
	}
	return peak
}

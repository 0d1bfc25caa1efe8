package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/robofleet/robofleet/internal/domain"
)

const (
	defaultCooldown = 5 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Engine evaluates alert rules against incoming telemetry and delivers
// webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use. Rules can be swapped at runtime via
// SetRules; fired state survives the swap so existing alerts still
// resolve.
type Engine struct {
	mu       sync.Mutex
	rules    []Rule
	webhooks []Webhook
	active   map[string]*domain.Alert // key: "ruleName:robotID"
	lastFire map[string]time.Time
	history  []*domain.Alert // recently resolved alerts
	client   *http.Client
	now      func() time.Time
}

// NewEngine creates an Engine. A nil or empty rule set is valid and makes
// Evaluate a no-op.
func NewEngine(rs *RuleSet) *Engine {
	e := &Engine{
		active:   make(map[string]*domain.Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	if rs != nil {
		e.rules = rs.Rules
		e.webhooks = rs.Webhooks
	}
	return e
}

// SetRules swaps the active rule set.
func (e *Engine) SetRules(rs *RuleSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rs.Rules
	e.webhooks = rs.Webhooks
}

// Evaluate tests all rules against one telemetry sample. It returns the
// alerts that fired or resolved on this sample; webhook delivery happens
// asynchronously.
func (e *Engine) Evaluate(t domain.Telemetry) []domain.Alert {
	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()
	if len(rules) == 0 {
		return nil
	}

	var out []domain.Alert
	now := e.now()
	for _, rule := range rules {
		key := rule.Name + ":" + t.RobotID
		fires, value := evalCondition(rule.Condition, t)

		e.mu.Lock()
		if fires {
			cooldown := rule.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if _, already := e.active[key]; already || now.Sub(e.lastFire[key]) <= cooldown {
				e.mu.Unlock()
				continue
			}

			sev := rule.Severity
			if sev == "" {
				sev = "warning"
			}
			a := &domain.Alert{
				AlertID:  fmt.Sprintf("%s:%s:%d", rule.Name, t.RobotID, now.UnixNano()),
				Rule:     rule.Name,
				RobotID:  t.RobotID,
				Severity: sev,
				Value:    value,
				Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f)",
					sev, rule.Name, t.RobotID, rule.Condition, value),
				FiredAt: now,
			}
			e.active[key] = a
			e.lastFire[key] = now
			fired := *a
			e.mu.Unlock()

			slog.Warn("alert fired",
				"rule", rule.Name,
				"robot", t.RobotID,
				"value", value,
				"severity", sev,
			)
			out = append(out, fired)
			go e.deliver(&fired)
			continue
		}

		if a, ok := e.active[key]; ok {
			resolved := now
			a.ResolvedAt = &resolved
			delete(e.active, key)

			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			done := *a
			e.mu.Unlock()

			slog.Info("alert resolved", "rule", rule.Name, "robot", t.RobotID)
			out = append(out, done)
			go e.deliver(&done)
			continue
		}
		e.mu.Unlock()
	}
	return out
}

// Active returns all currently firing alerts plus alerts resolved within
// the past hour, newest first.
func (e *Engine) Active() []domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]domain.Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FiredAt.After(out[j].FiredAt)
	})
	return out
}

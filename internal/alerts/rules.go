// Package alerts implements the telemetry rule engine: YAML-defined rules
// evaluated against incoming samples, with cooldowns, webhook delivery,
// and hot reload of the rules file.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Rule is one alert rule evaluated against telemetry samples.
type Rule struct {
	Name string `yaml:"name"`

	// Condition is a "field op value" expression, e.g. "battery_pct < 20".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info. Defaults to warning.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after the rule fires.
	// Defaults to 5 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// UnmarshalYAML decodes a rule, accepting Go duration strings ("5m") for
// the cooldown.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name      string `yaml:"name"`
		Condition string `yaml:"condition"`
		Severity  string `yaml:"severity"`
		Cooldown  string `yaml:"cooldown"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	r.Name = raw.Name
	r.Condition = raw.Condition
	r.Severity = raw.Severity
	r.Cooldown = 0
	if raw.Cooldown != "" {
		d, err := time.ParseDuration(raw.Cooldown)
		if err != nil {
			return fmt.Errorf("rule %q: bad cooldown: %w", raw.Name, err)
		}
		r.Cooldown = d
	}
	return nil
}

// Webhook is one delivery target for fired and resolved alerts.
type Webhook struct {
	Type string `yaml:"type"` // slack | http
	URL  string `yaml:"url"`
}

// RuleSet is the content of the alert rules file.
type RuleSet struct {
	Rules    []Rule    `yaml:"rules"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// LoadRules reads and validates the alert rules file.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks the rule set and reports every problem found.
func (rs *RuleSet) Validate() error {
	var problems []string
	for i, r := range rs.Rules {
		if r.Name == "" {
			problems = append(problems, fmt.Sprintf("rule %d has no name", i))
		}
		if len(strings.Fields(r.Condition)) != 3 {
			problems = append(problems, fmt.Sprintf("rule %q condition must be \"field op value\"", r.Name))
		}
	}
	for i, w := range rs.Webhooks {
		if w.URL == "" {
			problems = append(problems, fmt.Sprintf("webhook %d has no url", i))
		}
	}
	if len(problems) > 0 {
		return errors.New("alert rules: " + strings.Join(problems, "; "))
	}
	return nil
}

// Watch monitors the rules file and calls onChange with each newly loaded
// set. It runs until ctx is cancelled. If a reload fails the error is
// logged and the previous rules remain active.
func Watch(ctx context.Context, path string, onChange func(*RuleSet)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("alerts: watching rules file", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, which arrives as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			rs, err := LoadRules(path)
			if err != nil {
				slog.Error("alerts: reload failed, keeping previous rules",
					"path", path, "err", err)
				continue
			}

			slog.Info("alerts: rules reloaded", "path", path, "rules", len(rs.Rules))
			onChange(rs)

			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("alerts: watcher error", "err", err)
		}
	}
}

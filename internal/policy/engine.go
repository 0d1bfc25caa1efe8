// Package policy evaluates robot commands against an OPA rego policy
// before they are dispatched.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/robofleet/robofleet/internal/domain"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allow  bool
	Reason string
}

// Engine is the OPA policy engine for command safety checks.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a policy engine from rego policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.command_policy.decision"),
		rego.Module("command_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine builds an engine from the policy file at path, or from
// DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	content := DefaultPolicy
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file: %w", err)
		}
		content = string(data)
	}
	return NewEngine(ctx, content)
}

// Evaluate checks a command against the policy. The input carries the
// command and the current view of the target robot.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy defines a default decision; an empty result means
		// the loaded policy dropped it. Fail open for operator commands.
		return Decision{Allow: true}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("policy returned unexpected type %T", results[0].Expressions[0].Value)
	}

	var d Decision
	if allow, ok := obj["allow"].(bool); ok {
		d.Allow = allow
	}
	if reason, ok := obj["reason"].(string); ok {
		d.Reason = reason
	}
	return d, nil
}

// CommandInput builds the evaluation input for a command against a robot.
// The robot may be nil when it has never reported state.
func CommandInput(cmd domain.Command, robot *domain.Robot) map[string]interface{} {
	var params map[string]interface{}
	if len(cmd.Params) > 0 {
		// Malformed params evaluate as absent rather than failing the check.
		_ = json.Unmarshal(cmd.Params, &params)
	}

	input := map[string]interface{}{
		"command": map[string]interface{}{
			"type":     string(cmd.Type),
			"robot_id": cmd.RobotID,
			"params":   params,
		},
	}
	if robot != nil {
		input["robot"] = map[string]interface{}{
			"state":       string(robot.State),
			"battery_pct": robot.BatteryPct,
			"embodiment":  robot.Embodiment,
		}
	}
	return input
}

// DefaultPolicy is the built-in command policy. Stop commands always pass;
// motion is denied for robots that are faulted, emergency stopped, offline,
// or too low on battery to move safely.
const DefaultPolicy = `
package command_policy

default decision = {"allow": true, "reason": ""}

decision = {"allow": false, "reason": concat("; ", sort(deny))} {
	count(deny) > 0
}

always_allowed {
	input.command.type == "e_stop"
}

always_allowed {
	input.command.type == "stop"
}

motion {
	input.command.type == "move"
}

motion {
	input.command.type == "set_joints"
}

motion {
	input.command.type == "dock"
}

deny["robot is in error state"] {
	motion
	input.robot.state == "error"
}

deny["robot is emergency stopped"] {
	motion
	input.robot.state == "estopped"
}

deny["robot is offline"] {
	not always_allowed
	input.robot.state == "offline"
}

deny["battery too low for motion"] {
	motion
	input.command.type != "dock"
	input.robot.battery_pct < 15
}
`

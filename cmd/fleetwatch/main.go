// Package main provides fleetwatch, a terminal tail for the fleet service's
// WebSocket feeds. It prints one colorized line per event and keeps a reduced
// task view so task updates show cumulative state.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/robofleet/robofleet/internal/a2a"
	"github.com/robofleet/robofleet/internal/domain"
	"github.com/robofleet/robofleet/internal/protocol"
	"github.com/robofleet/robofleet/internal/wsclient"
)

type watcher struct {
	// tasks is only touched from the a2a feed's read goroutine.
	tasks *a2a.TaskSet
	raw   bool
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080", "fleet service base address (ws:// or wss://)")
	feeds := flag.String("feeds", "fleet,a2a", "comma-separated feeds to watch: fleet, a2a")
	raw := flag.Bool("raw", false, "print raw JSON frames instead of one-line summaries")
	flag.Parse()

	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w := &watcher{tasks: a2a.NewTaskSet(), raw: *raw}

	var wg sync.WaitGroup
	var once sync.Once
	var fatal error

	for _, feed := range strings.Split(*feeds, ",") {
		feed = strings.TrimSpace(feed)
		if feed != "fleet" && feed != "a2a" {
			log.Fatalf("Unknown feed: %s", feed)
		}

		url := strings.TrimSuffix(*addr, "/") + "/ws/" + feed
		client := wsclient.New(wsclient.Config{
			URL: url,
			OnConnect: func() {
				log.Printf("%s %s", color.GreenString("connected"), url)
			},
			OnMessage: w.handle,
			OnDrop: func(err error) {
				log.Printf("%s %s: %v", color.YellowString("disconnected"), url, err)
			},
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.Run(ctx); err != nil {
				once.Do(func() {
					fatal = err
					stop()
				})
			}
		}()
	}

	wg.Wait()
	if fatal != nil {
		log.Fatalf("Feed failed: %v", fatal)
	}
	fmt.Println("Bye!")
}

func (w *watcher) handle(data []byte) {
	if w.raw {
		log.Printf("%s", data)
		return
	}

	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		log.Printf("Unmarshal error: %v", err)
		return
	}

	switch base.Type {
	case string(domain.EventTypeFleetSnapshot):
		var ev protocol.FleetSnapshotEvent
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		log.Printf("%s %d robots, %d alerts", tag(base.Type), len(ev.Robots), len(ev.Alerts))
		for _, r := range ev.Robots {
			log.Printf("  %s %s %s battery=%.0f%%", r.RobotID, r.Name, robotState(r.State), r.BatteryPct)
		}

	case string(domain.EventTypeRobotStatus):
		var ev protocol.RobotStatusEvent
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		log.Printf("%s %s (%s) %s battery=%.0f%%",
			tag(base.Type), ev.RobotID, ev.Name, robotState(ev.State), ev.BatteryPct)

	case string(domain.EventTypeTelemetry):
		var ev protocol.TelemetryEvent
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		line := fmt.Sprintf("%s %s %s battery=%.1f%% pose=(%.2f, %.2f)",
			tag(base.Type), ev.RobotID, robotState(ev.State), ev.BatteryPct, ev.Pose.X, ev.Pose.Y)
		if ev.Error != "" {
			line += " " + color.RedString("error=%s", ev.Error)
		}
		log.Print(line)

	case string(domain.EventTypeCommandUpdate):
		var ev protocol.CommandEvent
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		cmd := ev.Command
		line := fmt.Sprintf("%s %s %s %s %s",
			tag(base.Type), cmd.CommandID, cmd.RobotID, cmd.Type, commandStatus(cmd.Status))
		if cmd.Reason != "" {
			line += " reason=" + cmd.Reason
		}
		if cmd.Error != "" {
			line += " error=" + cmd.Error
		}
		log.Print(line)

	case string(domain.EventTypeAlert):
		var ev protocol.AlertEvent
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		if ev.ResolvedAt != nil {
			log.Printf("%s %s %s %s: %s",
				tag(base.Type), color.GreenString("resolved"), ev.Rule, ev.RobotID, ev.Message)
			return
		}
		log.Printf("%s %s %s %s: %s (value=%.1f)",
			tag(base.Type), severity(ev.Severity), ev.Rule, ev.RobotID, ev.Message, ev.Value)

	case string(domain.EventTypeSyntheticJobUpdate):
		var ev protocol.SyntheticJobEvent
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		line := fmt.Sprintf("%s %s %s %.0f%% %s/%s",
			tag(base.Type), ev.JobID, ev.Status, ev.Progress*100, ev.Task, ev.Embodiment)
		if ev.Error != "" {
			line += " " + color.RedString("error=%s", ev.Error)
		}
		log.Print(line)

	case string(domain.EventTypeTaskSnapshot):
		var ev protocol.TaskSnapshotEvent
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		w.tasks.Seed(ev.Tasks)
		log.Printf("%s tracking %d tasks", tag(base.Type), w.tasks.Len())

	case string(domain.EventTypeTaskStatusUpdate):
		var ev protocol.TaskStatusEvent
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		task := w.tasks.ApplyStatus(ev.TaskStatusUpdateEvent)
		line := fmt.Sprintf("%s %s %s", tag(base.Type), task.TaskID, taskState(task.Status.State))
		if task.AgentID != "" {
			line += " agent=" + task.AgentID
		}
		if ev.Final {
			line += " final"
		}
		log.Print(line)

	case string(domain.EventTypeTaskArtifactUpdate):
		var ev protocol.TaskArtifactEvent
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		task := w.tasks.ApplyArtifact(ev.TaskArtifactUpdateEvent)
		name := ev.Artifact.Name
		if name == "" {
			name = ev.Artifact.ArtifactID
		}
		log.Printf("%s %s artifact %s (%d artifacts total)",
			tag(base.Type), ev.TaskID, name, len(task.Artifacts))

	case string(domain.EventTypeMessage):
		var ev protocol.MessageEvent
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		log.Printf("%s %s: %s", tag(base.Type), ev.Role, truncate(ev.Message.Text(), 80))

	case string(domain.EventTypeAgentUpdate):
		var ev protocol.AgentEvent
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		log.Printf("%s %s %s %s", tag(base.Type), ev.AgentID, ev.Card.Name, agentStatus(ev.Status))

	case protocol.TypeError:
		var ev protocol.ErrorMessage
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		log.Printf("%s %s: %s", color.RedString("[error]"), ev.Code, ev.Message)

	default:
		log.Printf("%s %s", tag(base.Type), data)
	}
}

func tag(eventType string) string {
	return color.CyanString("[%s]", eventType)
}

func robotState(s domain.RobotState) string {
	switch s {
	case domain.RobotStateOffline, domain.RobotStateError, domain.RobotStateEstopped:
		return color.RedString(string(s))
	case domain.RobotStateCharging:
		return color.YellowString(string(s))
	default:
		return color.GreenString(string(s))
	}
}

func commandStatus(s domain.CommandStatus) string {
	switch s {
	case domain.CommandStatusDenied, domain.CommandStatusFailed, domain.CommandStatusTimeout:
		return color.RedString(string(s))
	case domain.CommandStatusAcked:
		return color.GreenString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

func taskState(s domain.TaskState) string {
	switch s {
	case domain.TaskStateCompleted:
		return color.GreenString(string(s))
	case domain.TaskStateFailed, domain.TaskStateCanceled:
		return color.RedString(string(s))
	case domain.TaskStateInputRequired:
		return color.YellowString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

func agentStatus(s domain.AgentStatus) string {
	if s == domain.AgentStatusOnline {
		return color.GreenString(string(s))
	}
	return color.RedString(string(s))
}

func severity(s string) string {
	switch s {
	case "critical":
		return color.RedString(s)
	case "warning":
		return color.YellowString(s)
	default:
		return s
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

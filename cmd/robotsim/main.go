// Package main provides robotsim, a fake robot for exercising the fleet
// service. It registers itself over the REST API, opens the WebSocket
// uplink, streams telemetry, and executes the commands it receives.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robofleet/robofleet/internal/domain"
	"github.com/robofleet/robofleet/internal/protocol"
)

const (
	dockX = 0.0
	dockY = 0.0

	moveSpeed       = 0.5  // m per second
	idleDrainPerSec = 0.01 // battery percent
	moveDrainPerSec = 0.08
	chargePerSec    = 0.8
	lowBattery      = 15.0
	fullBattery     = 95.0
)

// sim holds the simulated robot state. The telemetry ticker and the command
// reader run on different goroutines, so all access goes through mu.
type sim struct {
	mu      sync.Mutex
	robotID string
	state   domain.RobotState
	battery float64
	pose    domain.Pose
	target  *domain.Pose
	docking bool
	joints  []float64
	phase   float64
	errMsg  string
}

func newSim(robotID string, battery float64) *sim {
	return &sim{
		robotID: robotID,
		state:   domain.RobotStateIdle,
		battery: battery,
		joints:  make([]float64, 6),
	}
}

// tick advances the simulation by dt seconds and returns the telemetry
// sample for this instant.
func (s *sim) tick(dt float64) domain.Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase += dt

	switch s.state {
	case domain.RobotStateActive:
		s.battery -= moveDrainPerSec * dt
		if s.target == nil {
			s.state = domain.RobotStateIdle
			break
		}
		s.pose = stepToward(s.pose, *s.target, moveSpeed*dt)
		if s.pose.X == s.target.X && s.pose.Y == s.target.Y {
			if s.docking {
				s.state = domain.RobotStateCharging
			} else {
				s.state = domain.RobotStateIdle
			}
			s.target = nil
			s.docking = false
		}
	case domain.RobotStateCharging:
		s.battery += chargePerSec * dt
		if s.battery >= fullBattery {
			s.battery = fullBattery
			s.state = domain.RobotStateIdle
		}
	case domain.RobotStateEstopped, domain.RobotStateError:
		// Hold position.
	default:
		s.battery -= idleDrainPerSec * dt
	}
	if s.battery < 0 {
		s.battery = 0
	}

	// Head for the dock when the battery runs low.
	if s.battery < lowBattery && !s.docking &&
		s.state != domain.RobotStateCharging &&
		s.state != domain.RobotStateEstopped &&
		s.state != domain.RobotStateError {
		s.target = &domain.Pose{X: dockX, Y: dockY}
		s.docking = true
		s.state = domain.RobotStateActive
	}

	// Swing the arm while driving; commanded joint positions hold otherwise.
	if s.state == domain.RobotStateActive {
		for i := range s.joints {
			s.joints[i] = 0.5 * math.Sin(s.phase+float64(i))
		}
	}

	return domain.Telemetry{
		RobotID:        s.robotID,
		State:          s.state,
		BatteryPct:     s.battery,
		Pose:           s.pose,
		JointPositions: append([]float64(nil), s.joints...),
		Extras: map[string]float64{
			"temp_c":  35 + 5*math.Sin(s.phase/7),
			"cpu_pct": 25 + 10*math.Sin(s.phase/3),
		},
		Error: s.errMsg,
		Ts:    time.Now().UnixMilli(),
	}
}

// apply executes a command against the simulated state. It returns false
// with a reason when the command cannot be honored.
func (s *sim) apply(cmd domain.Command) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.RobotStateEstopped &&
		cmd.Type != domain.CommandTypeResetError && cmd.Type != domain.CommandTypeEStop {
		return false, "robot is estopped"
	}

	switch cmd.Type {
	case domain.CommandTypeMove:
		var p struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return false, "bad move params: " + err.Error()
		}
		s.target = &domain.Pose{X: p.X, Y: p.Y}
		s.docking = false
		s.state = domain.RobotStateActive
	case domain.CommandTypeStop:
		s.target = nil
		s.docking = false
		s.state = domain.RobotStateIdle
	case domain.CommandTypeEStop:
		s.target = nil
		s.docking = false
		s.state = domain.RobotStateEstopped
	case domain.CommandTypeSetJoints:
		var p struct {
			Positions []float64 `json:"positions"`
		}
		if err := json.Unmarshal(cmd.Params, &p); err != nil || len(p.Positions) == 0 {
			return false, "bad set_joints params"
		}
		s.joints = append([]float64(nil), p.Positions...)
	case domain.CommandTypeDock:
		s.target = &domain.Pose{X: dockX, Y: dockY}
		s.docking = true
		s.state = domain.RobotStateActive
	case domain.CommandTypeResetError:
		s.errMsg = ""
		s.state = domain.RobotStateIdle
	default:
		return false, "unsupported command type: " + string(cmd.Type)
	}
	return true, ""
}

func stepToward(p, target domain.Pose, step float64) domain.Pose {
	dx := target.X - p.X
	dy := target.Y - p.Y
	dist := math.Hypot(dx, dy)
	if dist <= step {
		return domain.Pose{X: target.X, Y: target.Y, Theta: p.Theta}
	}
	return domain.Pose{
		X:     p.X + dx/dist*step,
		Y:     p.Y + dy/dist*step,
		Theta: math.Atan2(dy, dx),
	}
}

// uplink wraps the WebSocket connection. Telemetry and command results are
// written from different goroutines, so writes are serialized.
type uplink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (u *uplink) send(v any) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conn.WriteJSON(v)
}

// sendHello sends the hello message and waits for hello_ack.
func (u *uplink) sendHello(robotID, apiKey string) error {
	msg := protocol.HelloMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeHello, Ts: time.Now().UnixMilli()},
		RobotID:     robotID,
		APIKey:      apiKey,
	}
	if err := u.send(msg); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	_, data, err := u.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello_ack: %w", err)
	}
	var base protocol.RawMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("unmarshal hello_ack: %w", err)
	}
	switch base.Type {
	case protocol.TypeHelloAck:
		return nil
	case protocol.TypeError:
		var errMsg protocol.ErrorMessage
		json.Unmarshal(data, &errMsg)
		return fmt.Errorf("hello rejected: %s - %s", errMsg.Code, errMsg.Message)
	default:
		return fmt.Errorf("expected hello_ack, got: %s", base.Type)
	}
}

// readCommands reads uplink frames, executes commands, and reports results.
func (u *uplink) readCommands(s *sim, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := u.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("Read error: %v", err)
			}
			return
		}

		var base protocol.RawMessage
		if err := json.Unmarshal(data, &base); err != nil {
			log.Printf("Unmarshal error: %v", err)
			continue
		}

		switch base.Type {
		case protocol.TypeCommand:
			var msg protocol.CommandMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("Bad command frame: %v", err)
				continue
			}
			ok, reason := s.apply(msg.Command)
			result := protocol.CommandResultMessage{
				BaseMessage: protocol.BaseMessage{Type: protocol.TypeCommandResult, Ts: time.Now().UnixMilli()},
				CommandID:   msg.Command.CommandID,
				OK:          ok,
				Error:       reason,
			}
			if err := u.send(result); err != nil {
				log.Printf("Result write failed: %v", err)
				return
			}
			log.Printf("Command %s %s ok=%v", msg.Command.Type, msg.Command.CommandID, ok)
		case protocol.TypeError:
			var msg protocol.ErrorMessage
			json.Unmarshal(data, &msg)
			log.Printf("Server error: %s - %s", msg.Code, msg.Message)
		}
	}
}

// registerRobot creates the robot over the REST API and returns its ID.
func registerRobot(base, apiKey, name, embodiment string) (string, error) {
	body, err := json.Marshal(domain.RegisterRobotRequest{Name: name, Embodiment: embodiment})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, strings.TrimSuffix(base, "/")+"/api/robots", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("register returned %d: %s", resp.StatusCode, data)
	}

	var robot domain.Robot
	if err := json.NewDecoder(resp.Body).Decode(&robot); err != nil {
		return "", err
	}
	return robot.RobotID, nil
}

func main() {
	base := flag.String("addr", "http://localhost:8080", "fleet service base URL")
	robotID := flag.String("robot", "", "existing robot ID (skips registration)")
	name := flag.String("name", "sim-01", "robot name to register when -robot is not set")
	embodiment := flag.String("embodiment", "carter", "embodiment type to register")
	apiKey := flag.String("api-key", "", "API key for registration and the uplink")
	rate := flag.Duration("rate", time.Second, "telemetry interval")
	battery := flag.Float64("battery", 100, "starting battery percentage")
	flag.Parse()

	log.SetFlags(log.Ltime)

	id := *robotID
	if id == "" {
		var err error
		id, err = registerRobot(*base, *apiKey, *name, *embodiment)
		if err != nil {
			log.Fatalf("Failed to register robot: %v", err)
		}
		log.Printf("Registered robot %s (%s)", id, *name)
	}

	wsURL := "ws" + strings.TrimPrefix(strings.TrimSuffix(*base, "/"), "http") + "/ws/robot"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	u := &uplink{conn: conn}
	if err := u.sendHello(id, *apiKey); err != nil {
		log.Fatalf("Hello failed: %v", err)
	}
	log.Printf("Uplink established for %s", id)

	s := newSim(id, *battery)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go u.readCommands(s, done)

	ticker := time.NewTicker(*rate)
	defer ticker.Stop()

	for {
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		case <-done:
			log.Println("Connection closed")
			return
		case <-ticker.C:
			sample := s.tick(rate.Seconds())
			msg := protocol.TelemetryMessage{
				BaseMessage: protocol.BaseMessage{Type: protocol.TypeTelemetry, Ts: sample.Ts},
				Telemetry:   sample,
			}
			if err := u.send(msg); err != nil {
				log.Fatalf("Telemetry write failed: %v", err)
			}
		}
	}
}

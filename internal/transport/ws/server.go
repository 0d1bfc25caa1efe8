// Package ws provides the WebSocket endpoints: dashboard feeds for fleet
// and A2A events, and the authenticated robot uplink.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/robofleet/robofleet/internal/config"
	"github.com/robofleet/robofleet/internal/domain"
	"github.com/robofleet/robofleet/internal/hub"
	"github.com/robofleet/robofleet/internal/protocol"
	"github.com/robofleet/robofleet/internal/service"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	svc      *service.Service
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a WebSocket server over the given hub and service.
func NewServer(cfg *config.Config, h *hub.Hub, svc *service.Service, log *slog.Logger) *Server {
	return &Server{
		cfg: cfg,
		hub: h,
		svc: svc,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The dashboard may be served from another origin.
				return true
			},
		},
	}
}

// HandleFleet upgrades a fleet feed subscription and pushes the current
// fleet snapshot before live events start flowing.
func (s *Server) HandleFleet(c echo.Context) error {
	conn, err := s.upgrade(c, hub.TopicFleet)
	if err != nil {
		return err
	}

	snapshot, err := s.svc.FleetSnapshot(c.Request().Context())
	if err != nil {
		s.log.Error("fleet snapshot failed", "err", err)
		return nil
	}
	if err := s.hub.SendJSONToConnection(conn, snapshot); err != nil {
		s.log.Warn("snapshot send failed", "conn_id", conn.ID, "err", err)
	}
	return nil
}

// HandleA2A upgrades an A2A feed subscription and pushes a snapshot of
// known tasks before live events start flowing.
func (s *Server) HandleA2A(c echo.Context) error {
	conn, err := s.upgrade(c, hub.TopicA2A)
	if err != nil {
		return err
	}

	tasks, err := s.svc.ListTasks(c.Request().Context(), 100)
	if err != nil {
		s.log.Error("task snapshot failed", "err", err)
		return nil
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	snapshot := protocol.TaskSnapshotEvent{
		Type:  string(domain.EventTypeTaskSnapshot),
		Tasks: tasks,
	}
	if err := s.hub.SendJSONToConnection(conn, snapshot); err != nil {
		s.log.Warn("snapshot send failed", "conn_id", conn.ID, "err", err)
	}
	return nil
}

// HandleRobot upgrades a robot uplink. The connection must complete the
// hello handshake before telemetry and command results are accepted.
func (s *Server) HandleRobot(c echo.Context) error {
	_, err := s.upgrade(c, hub.TopicRobot)
	return err
}

// upgrade performs the WebSocket upgrade, registers the connection on the
// hub, and starts the pump goroutines.
func (s *Server) upgrade(c echo.Context, topic string) (*hub.Connection, error) {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "topic", topic, "err", err)
		return nil, err
	}

	conn := s.hub.NewConnection(ws, topic)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return conn, nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug("websocket read error", "conn_id", conn.ID, "err", err)
			}
			break
		}
		s.handleMessage(conn, message)
	}
}

// writePump writes outbound messages and keepalive pings.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Debug("websocket write failed", "conn_id", conn.ID, "err", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches an inbound frame. Only robot uplinks send
// frames the server acts on.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var raw protocol.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch raw.Type {
	case protocol.TypeHello:
		s.handleHello(conn, data)
	case protocol.TypeTelemetry:
		s.handleTelemetry(conn, data)
	case protocol.TypeCommandResult:
		s.handleCommandResult(conn, data)
	default:
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "unknown message type: "+raw.Type)
	}
}

// handleHello authenticates a robot uplink and binds it to the robot.
func (s *Server) handleHello(conn *hub.Connection, data []byte) {
	var msg protocol.HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid hello message")
		return
	}
	if msg.RobotID == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "robot_id is required")
		return
	}
	if s.cfg.APIKey != "" && msg.APIKey != s.cfg.APIKey {
		s.sendError(conn, protocol.ErrorCodeUnauthorized, "invalid api_key")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.svc.GetRobot(ctx, msg.RobotID); err != nil {
		s.sendError(conn, protocol.ErrorCodeUnknownRobot, "robot not registered: "+msg.RobotID)
		return
	}

	s.hub.BindRobot(conn, msg.RobotID)

	ack := protocol.HelloAckMessage{
		BaseMessage: protocol.BaseMessage{Type: protocol.TypeHelloAck, Ts: time.Now().UnixMilli()},
		RobotID:     msg.RobotID,
	}
	if err := s.hub.SendJSONToConnection(conn, ack); err != nil {
		s.log.Warn("hello_ack send failed", "robot_id", msg.RobotID, "err", err)
		return
	}
	s.log.Info("robot uplink established", "robot_id", msg.RobotID, "conn_id", conn.ID)
}

// handleTelemetry ingests a telemetry frame from a bound uplink.
func (s *Server) handleTelemetry(conn *hub.Connection, data []byte) {
	var msg protocol.TelemetryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid telemetry message")
		return
	}
	if conn.RobotID == "" {
		s.sendError(conn, protocol.ErrorCodeHelloRequired, "must send hello first")
		return
	}

	sample := msg.Telemetry
	if sample.RobotID == "" {
		sample.RobotID = conn.RobotID
	}
	if sample.RobotID != conn.RobotID {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "telemetry for another robot")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.svc.IngestTelemetry(ctx, sample); err != nil {
		s.log.Warn("telemetry ingest failed", "robot_id", conn.RobotID, "err", err)
	}
}

// handleCommandResult records a command acknowledgement from a bound
// uplink.
func (s *Server) handleCommandResult(conn *hub.Connection, data []byte) {
	var msg protocol.CommandResultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid command_result message")
		return
	}
	if conn.RobotID == "" {
		s.sendError(conn, protocol.ErrorCodeHelloRequired, "must send hello first")
		return
	}
	if msg.CommandID == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "command_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.svc.HandleCommandResult(ctx, conn.RobotID, msg.CommandID, msg.OK, msg.Error); err != nil {
		s.log.Warn("command result rejected", "robot_id", conn.RobotID, "command_id", msg.CommandID, "err", err)
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, err.Error())
	}
}

// sendError sends an error frame on the connection.
func (s *Server) sendError(conn *hub.Connection, code, message string) {
	if err := s.hub.SendJSONToConnection(conn, protocol.NewError(code, message)); err != nil {
		s.log.Debug("error send failed", "conn_id", conn.ID, "err", err)
	}
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rmcgann/agentlink-core/internal/dispatch"
	"github.com/rmcgann/agentlink-core/internal/registry"
	"github.com/rmcgann/agentlink-core/internal/transport"
)

// Agent WebSocket frame types.
const (
	wsTypeAuth         = "auth"
	wsTypeAuthSuccess  = "auth_success"
	wsTypeAuthFailed   = "auth_failed"
	wsTypeTask         = "task"
	wsTypeHeartbeat    = "heartbeat"
	wsTypeHeartbeatAck = "heartbeat_ack"
	wsTypeResult       = "result"
	wsTypeResultAck    = "result_ack"
	wsTypePing         = "ping"
	wsTypePong         = "pong"
)

// Agent WebSocket defaults, used when the configuration leaves a
// setting at zero.
const (
	defaultMaxMessageSize = 64 * 1024
	defaultPongTimeout    = 90 * time.Second
	defaultSendBuffer     = 32
	wsWriteTimeout        = 10 * time.Second
)

// wsFrame is the JSON envelope for every agent WebSocket message,
// in both directions.
type wsFrame struct {
	Type       string         `json:"type"`
	DeviceID   string         `json:"device_id,omitempty"`
	AuthToken  string         `json:"auth_token,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	Command    string         `json:"command,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Status     string         `json:"status,omitempty"`
	Output     string         `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	ServerTime string         `json:"server_time,omitempty"`
}

// upgrader configures the WebSocket upgrader for agent connections.
// Agents are native processes, not browsers, so origin checks do not apply.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// wsSession is a live agent connection. It satisfies transport.Session
// so the hub can push tasks straight down the wire.
type wsSession struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSSession(conn *websocket.Conn, buffer int) *wsSession {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &wsSession{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Send pushes a task frame to the agent. It fails when the session is
// closed or the outbound buffer is full, so the hub falls back to the
// offline queue instead of blocking.
func (ws *wsSession) Send(task transport.Task) error {
	frame := wsFrame{
		Type:    wsTypeTask,
		TaskID:  task.ID,
		Command: task.Command,
		Params:  task.Params,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshalling task frame: %w", err)
	}

	select {
	case <-ws.done:
		return transport.ErrSessionClosed
	default:
	}

	select {
	case ws.send <- data:
		return nil
	case <-ws.done:
		return transport.ErrSessionClosed
	default:
		return fmt.Errorf("session send buffer full")
	}
}

// Close tears down the connection. Idempotent.
func (ws *wsSession) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.done)
		ws.conn.Close()
	})
	return nil
}

// enqueue queues a control frame (acks, pong) for the write pump.
// Control frames are droppable; the agent retries on its own cadence.
func (ws *wsSession) enqueue(frame wsFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case ws.send <- data:
	case <-ws.done:
	default:
	}
}

// writePump serialises all writes to the connection.
func (ws *wsSession) writePump() {
	for {
		select {
		case data := <-ws.send:
			ws.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)) //nolint:errcheck
			if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				ws.Close()
				return
			}
		case <-ws.done:
			return
		}
	}
}

// handleAgentWS upgrades an agent connection and services it until
// disconnect.
//
// The agent must send an auth frame within the configured window or
// the connection closes. On success the session replaces any existing
// session for the device and queued tasks are flushed immediately.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	maxSize := int64(s.wsCfg.MaxMessageSize)
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	conn.SetReadLimit(maxSize)

	device, ok := s.authenticateWS(conn, r.RemoteAddr)
	if !ok {
		conn.Close()
		return
	}

	session := newWSSession(conn, s.wsCfg.SendBuffer)
	go session.writePump()

	session.enqueue(wsFrame{Type: wsTypeAuthSuccess, DeviceID: device.ID})

	// Registering flushes the offline queue through session.Send.
	s.hub.Register(device.ID, session)
	s.touchDevice(r.Context(), device)

	s.logger.Info("agent connected", "device_id", device.ID, "remote_addr", r.RemoteAddr)

	s.readLoop(r, session, device)

	s.hub.Unregister(device.ID, session)
	session.Close()
	s.logger.Info("agent disconnected", "device_id", device.ID)
}

// authenticateWS reads and validates the auth frame. It writes the
// outcome frame directly since the write pump is not running yet.
func (s *Server) authenticateWS(conn *websocket.Conn, remoteAddr string) (*registry.Device, bool) {
	authTimeout := s.wsCfg.GetAuthTimeout()
	if authTimeout <= 0 {
		authTimeout = 30 * time.Second
	}
	conn.SetReadDeadline(time.Now().Add(authTimeout)) //nolint:errcheck

	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		s.logger.Debug("agent auth frame not received", "error", err, "remote_addr", remoteAddr)
		return nil, false
	}
	if frame.Type != wsTypeAuth {
		s.writeWSFrame(conn, wsFrame{Type: wsTypeAuthFailed, Error: "auth frame expected"})
		return nil, false
	}

	device, err := s.registry.Authenticate(context.Background(), frame.DeviceID, frame.AuthToken)
	if err != nil {
		s.logger.Warn("agent auth failed", "device_id", frame.DeviceID, "remote_addr", remoteAddr)
		s.writeWSFrame(conn, wsFrame{Type: wsTypeAuthFailed, Error: "invalid device credentials"})
		return nil, false
	}

	return device, true
}

// readLoop processes inbound frames until the connection drops.
func (s *Server) readLoop(r *http.Request, session *wsSession, device *registry.Device) {
	pongTimeout := time.Duration(s.wsCfg.PongTimeout) * time.Second
	if pongTimeout <= 0 {
		pongTimeout = defaultPongTimeout
	}

	for {
		session.conn.SetReadDeadline(time.Now().Add(pongTimeout)) //nolint:errcheck

		var frame wsFrame
		if err := session.conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case wsTypeHeartbeat:
			s.touchDevice(r.Context(), device)
			if s.telemetry != nil {
				s.telemetry.WriteHeartbeat(device.ID)
			}
			session.enqueue(wsFrame{
				Type:       wsTypeHeartbeatAck,
				ServerTime: time.Now().UTC().Format(time.RFC3339),
			})

		case wsTypeResult:
			s.handleWSResult(r, session, device, frame)

		case wsTypePing:
			session.enqueue(wsFrame{Type: wsTypePong})

		default:
			s.logger.Debug("unknown agent frame", "type", frame.Type, "device_id", device.ID)
		}
	}
}

// handleWSResult routes a result frame through the dispatcher and acks it.
func (s *Server) handleWSResult(r *http.Request, session *wsSession, device *registry.Device, frame wsFrame) {
	err := s.dispatcher.ReportResult(r.Context(), device.ID, dispatch.TaskResult{
		TaskID: frame.TaskID,
		Status: frame.Status,
		Output: frame.Output,
		Error:  frame.Error,
	})
	if err != nil {
		s.logger.Warn("agent result rejected",
			"device_id", device.ID, "task_id", frame.TaskID, "error", err)
		session.enqueue(wsFrame{Type: wsTypeResultAck, TaskID: frame.TaskID, Error: err.Error()})
		return
	}

	s.touchDevice(r.Context(), device)
	session.enqueue(wsFrame{Type: wsTypeResultAck, TaskID: frame.TaskID})
}

// writeWSFrame writes a frame synchronously, for use before the write
// pump starts.
func (s *Server) writeWSFrame(conn *websocket.Conn, frame wsFrame) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)) //nolint:errcheck
	if err := conn.WriteJSON(frame); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/mcptap/internal/bus"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 45 * time.Second
	wsPingInterval = 15 * time.Second
	wsMaxFrameSize = 1 << 20
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// wsFrame is a client-to-server subscription command.
type wsFrame struct {
	Type    string `json:"type"` // subscribe | unsubscribe
	RunID   string `json:"runId,omitempty"`
	AgentID string `json:"agentId,omitempty"`
	Global  bool   `json:"global,omitempty"`
}

func frameTopic(frame wsFrame) string {
	switch {
	case frame.RunID != "":
		return bus.TopicRun(frame.RunID)
	case frame.AgentID != "":
		return bus.TopicAgent(frame.AgentID)
	case frame.Global:
		return bus.TopicGlobal
	default:
		return ""
	}
}

// handleWS upgrades the connection and bridges it to the fan-out bus.
// The client steers its topic set with subscribe/unsubscribe frames;
// bus messages flow back as JSON. A client that cannot keep up is
// dropped by the bus, which closes the connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sessionID := uuid.NewString()
	sub := s.hub.Subscribe()
	if s.metrics != nil {
		s.metrics.Subscribers.Inc()
	}
	logger := s.logger.With("ws_session", sessionID)
	logger.Debug("websocket connected", "remote", r.RemoteAddr)

	done := make(chan struct{})

	// Write pump: bus messages and keepalive pings.
	go func() {
		defer conn.Close()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-sub.C():
				if !ok {
					// Dropped for backpressure or unsubscribed.
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscriber dropped"),
						time.Now().Add(wsWriteWait))
					return
				}
				payload, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Read pump: subscription commands.
	conn.SetReadLimit(wsMaxFrameSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Debug("ignoring malformed frame", "error", err)
			continue
		}
		topic := frameTopic(frame)
		if topic == "" {
			continue
		}
		switch frame.Type {
		case "subscribe":
			s.hub.Add(sub, topic)
			logger.Debug("subscribed", "topic", topic)
		case "unsubscribe":
			s.hub.Remove(sub, topic)
			logger.Debug("unsubscribed", "topic", topic)
		}
	}

	close(done)
	s.hub.Unsubscribe(sub)
	if s.metrics != nil {
		s.metrics.Subscribers.Dec()
	}
	conn.Close()
	logger.Debug("websocket disconnected")
}

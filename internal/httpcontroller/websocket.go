// websocket.go: camera feed and dashboard viewer socket handlers
package httpcontroller

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/classtrack/classtrack-go/internal/datastore"
)

const (
	// A camera frame dropped here never reaches the pipeline, which is the
	// intended backpressure: the socket read loop must not block on a slow
	// inference call.
	frameQueueSize = 4

	// Readiness warnings repeat at most once per this many received frames.
	warningFrameInterval = 120

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Camera devices and dashboards connect from arbitrary origins.
		return true
	},
}

// envelope is the outer shape of every websocket message in both directions.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type cameraMessage struct {
	Type      string `json:"type"`
	Image     string `json:"image,omitempty"` // base64-encoded JPEG
	Timestamp string `json:"timestamp,omitempty"`
}

type queuedFrame struct {
	data []byte
	at   time.Time
}

func (s *Server) handleDashboardSocket(c echo.Context) error {
	sessionID := c.Param("sessionID")

	session, err := s.DS.GetSession(sessionID)
	if err != nil {
		return s.serverError(c, err)
	}
	if session == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	viewer := &client{conn: conn}
	s.Hub.connectDashboard(sessionID, viewer)
	s.logger.Debug("dashboard connected",
		"session_id", sessionID,
		"viewers", s.Hub.DashboardCount(sessionID))

	defer func() {
		s.Hub.disconnectDashboard(sessionID, viewer)
		if err := conn.Close(); err != nil {
			s.logger.Debug("dashboard close", "error", err)
		}
	}()

	if err := viewer.writeJSON(envelope{
		Type: "info",
		Payload: map[string]any{
			"session_id":  sessionID,
			"status":      session.Status,
			"engine_mode": s.Engine.Mode(),
			"model":       s.Engine.ModelName(),
		},
	}); err != nil {
		return nil
	}

	// Keep-alive read loop; dashboards only listen, so any read error means
	// the viewer is gone.
	conn.SetReadLimit(1024)
	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return nil
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			if err := viewer.writeMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) handleCameraSocket(c echo.Context) error {
	sessionID := c.Param("sessionID")

	session, err := s.DS.GetSession(sessionID)
	if err != nil {
		return s.serverError(c, err)
	}
	if session == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if session.Status != datastore.SessionActive {
		return echo.NewHTTPError(http.StatusConflict, "session is not active")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	camera := &client{conn: conn}
	s.Hub.connectCamera(sessionID, camera)
	s.logger.Info("camera connected", "session_id", sessionID)

	// Frames queue to a dedicated worker so inference never blocks the read
	// loop. The queue preserves arrival order; overflow drops the frame.
	frames := make(chan queuedFrame, frameQueueSize)
	workerDone := make(chan struct{})
	go s.cameraWorker(sessionID, frames, workerDone)

	defer func() {
		close(frames)
		<-workerDone
		s.Hub.disconnectCamera(sessionID, camera)
		if err := conn.Close(); err != nil {
			s.logger.Debug("camera close", "error", err)
		}
		s.logger.Info("camera disconnected", "session_id", sessionID)
	}()

	stride := s.Settings.Recognition.FrameStride
	if stride < 1 {
		stride = 1
	}

	frameCount := 0
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil
		}

		var msg cameraMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Debug("malformed camera message", "session_id", sessionID, "error", err)
			continue
		}

		switch msg.Type {
		case "ping":
			if err := camera.writeJSON(envelope{Type: "pong"}); err != nil {
				return nil
			}
		case "frame":
			frameCount++

			// Live video passes through to viewers on every frame; only the
			// recognition pipeline is strided.
			s.Hub.BroadcastDashboard(sessionID, envelope{
				Type: "frame",
				Payload: map[string]any{
					"image":     msg.Image,
					"timestamp": msg.Timestamp,
				},
			})

			if frameCount%stride != 0 {
				continue
			}

			data, err := base64.StdEncoding.DecodeString(msg.Image)
			if err != nil {
				s.logger.Debug("undecodable frame", "session_id", sessionID, "error", err)
				continue
			}

			at := time.Now().UTC()
			if msg.Timestamp != "" {
				if parsed, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
					at = parsed
				}
			}

			select {
			case frames <- queuedFrame{data: data, at: at}:
			default:
				// Worker is behind; drop rather than stall the socket.
			}
		}
	}
}

// cameraWorker drains one camera's frame queue in order, running the
// recognition pipeline and broadcasting the results to dashboards.
func (s *Server) cameraWorker(sessionID string, frames <-chan queuedFrame, done chan<- struct{}) {
	defer close(done)

	received := 0
	for frame := range frames {
		received++
		result, err := s.Engine.ProcessFrame(context.Background(), sessionID, frame.data, frame.at)
		if err != nil {
			s.logger.Error("frame processing failed", "session_id", sessionID, "error", err)
			if received%warningFrameInterval == 1 {
				s.Hub.BroadcastDashboard(sessionID, envelope{
					Type:    "warning",
					Payload: map[string]any{"message": "recognition engine unavailable"},
				})
			}
			continue
		}
		if result == nil {
			// Session is no longer active.
			continue
		}

		if result.NoKnownFaces && received%warningFrameInterval == 1 {
			s.Hub.BroadcastDashboard(sessionID, envelope{
				Type:    "warning",
				Payload: map[string]any{"message": "no registered faces for this course"},
			})
		}

		if len(result.Overlays) > 0 {
			s.Hub.BroadcastDashboard(sessionID, envelope{
				Type: "overlay",
				Payload: map[string]any{
					"frame_width":  result.FrameWidth,
					"frame_height": result.FrameHeight,
					"faces":        result.Overlays,
				},
			})
		}
		for i := range result.Notifications {
			s.Hub.BroadcastDashboard(sessionID, envelope{
				Type:    "presence",
				Payload: result.Notifications[i],
			})
		}
	}
}

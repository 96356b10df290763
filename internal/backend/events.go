package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// JobEvent is one message from the backend's job socket. Simulation runs
// report state transitions here so the editor can refresh affected baselines.
type JobEvent struct {
	JobID    string `json:"job_id"`
	Project  string `json:"project"`
	Scenario string `json:"scenario"`
	State    string `json:"state"`
	Message  string `json:"message,omitempty"`
}

const (
	socketPath   = "/socket/jobs"
	pingInterval = 30 * time.Second
	readWait     = 90 * time.Second
)

// EventStream is a live connection to the backend job socket.
type EventStream struct {
	conn   *websocket.Conn
	events chan JobEvent
	errs   chan error
	done   chan struct{}
}

// OpenEvents dials the job socket and starts a background reader. Received
// events are delivered on Events until the stream fails or Close is called.
func (c *Client) OpenEvents(ctx context.Context) (*EventStream, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + socketPath
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial job socket: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial job socket: %w", err)
	}
	s := &EventStream{
		conn:   conn,
		events: make(chan JobEvent, 16),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

// Events delivers job events until the stream ends.
func (s *EventStream) Events() <-chan JobEvent { return s.events }

// Errs reports the terminal stream error, if any.
func (s *EventStream) Errs() <-chan error { return s.errs }

func (s *EventStream) readLoop() {
	defer close(s.events)
	_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readWait))
	})
	for {
		var ev JobEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				select {
				case s.errs <- err:
				default:
				}
			}
			return
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *EventStream) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// Close tears the connection down. Safe to call once.
func (s *EventStream) Close() error {
	close(s.done)
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}

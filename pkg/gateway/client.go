package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kisan-ai/kisan-relay/internal/metrics"
	"github.com/kisan-ai/kisan-relay/pkg/protocol"
)

// Client wraps one client WebSocket connection. Frames may be written from
// the read loop, the relay loop, and the keepalive ticker concurrently, so
// every write goes through one mutex.
type Client struct {
	SessionID  string
	RemoteAddr string

	conn    *websocket.Conn
	writeMu sync.Mutex

	metrics *metrics.Metrics
	logger  zerolog.Logger

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, sessionID, remoteAddr string, m *metrics.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		conn:       conn,
		metrics:    m,
		logger:     logger,
	}
}

// Send writes one frame to the client.
func (c *Client) Send(frame protocol.Outbound) error {
	c.writeMu.Lock()
	err := c.conn.WriteJSON(frame)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Warn().Err(err).Str("frame_type", frame.Type).Msg("Failed to send frame to client")
		return err
	}

	if c.metrics != nil {
		c.metrics.FramesSentTotal.WithLabelValues(frame.Type).Inc()
	}
	return nil
}

// SendError writes an error frame. Send failures are already logged; the
// caller only cares that the error was surfaced best-effort.
func (c *Client) SendError(message, errorType string) {
	if c.metrics != nil {
		c.metrics.HandledErrorsTotal.WithLabelValues(errorType).Inc()
	}
	_ = c.Send(protocol.ErrorFrame(message, errorType))
}

// Ping sends a control ping. Control writes are safe alongside WriteJSON.
func (c *Client) Ping(deadline time.Time) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// Close tears the connection down exactly once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

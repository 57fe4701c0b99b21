package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kisan-ai/kisan-relay/internal/metrics"
	"github.com/kisan-ai/kisan-relay/internal/tracing"
	"github.com/kisan-ai/kisan-relay/pkg/protocol"
	"github.com/kisan-ai/kisan-relay/pkg/session"
	"github.com/kisan-ai/kisan-relay/pkg/upstream"
	"github.com/kisan-ai/kisan-relay/pkg/vision"
)

// UpstreamConnector establishes one upstream stream per client connection.
type UpstreamConnector interface {
	Connect(ctx context.Context) (upstream.Stream, error)
}

// ImageAnalyzer diagnoses crop images out of the live audio path.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, imageB64, customPrompt string) *vision.Analysis
}

// Config holds server configuration.
type Config struct {
	Host string
	Port int

	// PingInterval is how often keepalive pings go out; PongTimeout is the
	// grace beyond that before an unresponsive client is dropped.
	PingInterval time.Duration
	PongTimeout  time.Duration

	// MaxConcurrent is a soft cap on simultaneous sessions. Connections
	// over the cap are still accepted but logged and counted.
	MaxConcurrent int
}

// Server is the relay's connection gateway.
type Server struct {
	cfg       Config
	registry  *session.Registry
	connector UpstreamConnector
	analyzer  ImageAnalyzer
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	upgrader websocket.Upgrader
	server   *http.Server

	mu             sync.RWMutex
	clients        map[*Client]struct{}
	isShuttingDown bool
}

// NewServer creates a gateway server. analyzer and metrics may be nil.
func NewServer(cfg Config, registry *session.Registry, connector UpstreamConnector, analyzer ImageAnalyzer, m *metrics.Metrics, logger zerolog.Logger) (*Server, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if connector == nil {
		return nil, fmt.Errorf("upstream connector is required")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10 * time.Second
	}

	return &Server{
		cfg:       cfg,
		registry:  registry,
		connector: connector,
		analyzer:  analyzer,
		metrics:   m,
		logger:    logger,
		clients:   make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Clients connect from mobile apps, not browsers
			},
		},
	}, nil
}

// Start begins serving. It does not block.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sessions", s.handleSessions)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: mux,
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting relay server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Relay server error")
		}
	}()

	return nil
}

// Stop refuses new connections, closes every client, and shuts the HTTP
// server down. Session teardown happens in the per-connection handlers as
// their read loops fail.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.isShuttingDown = true
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.logger.Info().Int("clients", len(clients)).Msg("Shutting down relay server")

	for _, c := range clients {
		c.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Relay server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) track(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleSessions exposes session introspection for operators.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"count":    s.registry.Count(),
		"sessions": s.registry.AllInfo(),
	}); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode sessions response")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if s.cfg.MaxConcurrent > 0 && s.registry.Count() >= s.cfg.MaxConcurrent {
		// Soft cap: admit the connection but make the overload visible.
		s.logger.Warn().
			Int("active", s.registry.Count()).
			Int("max", s.cfg.MaxConcurrent).
			Msg("Session count over configured capacity")
		if s.metrics != nil {
			s.metrics.SessionsOverCapacity.Inc()
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	sessionID := session.NewID()
	client := newClient(conn, sessionID, r.RemoteAddr, s.metrics, s.logger.With().Str("session_id", sessionID).Logger())
	s.track(client)

	go s.serveClient(client)
}

// serveClient owns one connection end to end. The single deferred teardown
// removes the session (closing its upstream) and the socket no matter how
// the handler exits.
func (s *Server) serveClient(client *Client) {
	ctx := tracing.NewConnectionContext(context.Background(), client.SessionID)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	logger.Info().Str("remote_addr", client.RemoteAddr).Msg("New client connected")

	sess := s.registry.Create(client.SessionID, map[string]string{
		"remote_addr": client.RemoteAddr,
	})

	defer func() {
		s.registry.Remove(client.SessionID)
		client.Close()
		s.untrack(client)
		logger.Info().Msg("Client disconnected")
	}()

	stream, err := s.connector.Connect(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to establish upstream session")
		client.SendError("Failed to connect to assistant", protocol.ErrTypeUpstream)
		return
	}
	sess.SetUpstream(stream)

	if err := client.Send(protocol.Ready(client.SessionID)); err != nil {
		return
	}

	stopKeepalive := s.startKeepalive(client)
	defer stopKeepalive()

	s.readLoop(ctx, client, sess, logger)
}

func (s *Server) readLoop(ctx context.Context, client *Client, sess *session.Session, logger zerolog.Logger) {
	readWait := s.cfg.PingInterval + s.cfg.PongTimeout
	_ = client.conn.SetReadDeadline(time.Now().Add(readWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		sess.Touch()
		s.dispatch(ctx, client, sess, raw, logger)
	}
}

func (s *Server) startKeepalive(client *Client) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := client.Ping(time.Now().Add(s.cfg.PongTimeout)); err != nil {
					return
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

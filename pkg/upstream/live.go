package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kisan-ai/kisan-relay/internal/metrics"
)

// DefaultSystemPrompt is the assistant instruction used when the config does
// not override it.
const DefaultSystemPrompt = `You are Kisan Mitra, an AI assistant specialized in crop disease detection and agricultural guidance for farmers.

Key capabilities:
- Analyze crop images for diseases, pests, nutrient deficiencies, and other issues
- Provide specific disease identification with confidence levels
- Recommend treatment using locally available and affordable solutions
- Suggest prevention strategies for future crop protection
- Offer advice on farming techniques, crop care, and agricultural best practices
- Share information about government schemes and subsidies for farmers

Guidelines:
- Be helpful, accurate, and provide actionable advice
- Use simple language that farmers can understand
- Prioritize cost-effective and locally available solutions
- Always ask for clarification if the image or question is unclear
- Provide step-by-step instructions for treatments
- Include timing recommendations for interventions`

// Config holds upstream connection settings.
type Config struct {
	APIKey   string
	Endpoint string

	// Models is the prioritized candidate list; each is tried in order
	// until one connects.
	Models []string

	SystemPrompt string
	Temperature  float64

	// Dialer overrides the WebSocket dialer, used by tests.
	Dialer *websocket.Dialer
}

// Connector establishes Live API streams.
type Connector struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewConnector creates a connector. metrics may be nil.
func NewConnector(cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Connector {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Connector{cfg: cfg, logger: logger, metrics: m}
}

// Connect walks the candidate model list and returns a connected stream for
// the first model that completes setup. Per-candidate failures are logged and
// not surfaced; exhaustion of the list yields an aggregated error that
// references the last failure.
func (c *Connector) Connect(ctx context.Context) (Stream, error) {
	if len(c.cfg.Models) == 0 {
		return nil, fmt.Errorf("no Live API models configured")
	}

	var lastErr error
	for _, model := range c.cfg.Models {
		c.logger.Info().Str("model", model).Msg("Trying Live API model")

		stream, err := c.connectModel(ctx, model)
		if err != nil {
			lastErr = err
			c.recordAttempt(model, "failure")
			c.logger.Warn().Err(err).Str("model", model).Msg("Live API model failed")
			continue
		}

		c.recordAttempt(model, "success")
		c.logger.Info().Str("model", model).Msg("Connected Live API session")
		return stream, nil
	}

	return nil, fmt.Errorf("all Live API models failed: last error: %w", lastErr)
}

func (c *Connector) recordAttempt(model, status string) {
	if c.metrics != nil {
		c.metrics.UpstreamConnectAttempts.WithLabelValues(model, status).Inc()
	}
}

func (c *Connector) connectModel(ctx context.Context, model string) (Stream, error) {
	url := c.cfg.Endpoint + "?key=" + c.cfg.APIKey

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	setup := clientMessage{
		Setup: &setupPayload{
			Model: "models/" + model,
			GenerationConfig: &generationConfig{
				ResponseModalities: []string{"AUDIO"},
				Temperature:        c.cfg.Temperature,
			},
			SystemInstruction: &content{
				Parts: []part{{Text: c.cfg.SystemPrompt}},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}

	if err := conn.WriteJSON(setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setup write failed: %w", err)
	}

	// The service acknowledges setup before any content flows.
	var ack serverMessage
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setup ack read failed: %w", err)
	}
	if ack.SetupComplete == nil {
		conn.Close()
		return nil, fmt.Errorf("unexpected message before setupComplete")
	}

	s := &liveStream{
		conn:   conn,
		model:  model,
		logger: c.logger.With().Str("model", model).Logger(),
	}
	s.state.Store(int32(StateConnected))
	return s, nil
}

// liveStream is the gorilla-backed Stream implementation. Writes are
// serialized; reads happen from the single relay loop.
type liveStream struct {
	conn   *websocket.Conn
	model  string
	logger zerolog.Logger

	state   atomic.Int32
	writeMu sync.Mutex

	// pending buffers events when one server message translates to many.
	pending []Event

	closeOnce sync.Once
}

// Model returns the negotiated model name.
func (s *liveStream) Model() string {
	return s.model
}

func (s *liveStream) State() State {
	return State(s.state.Load())
}

func (s *liveStream) writeJSON(ctx context.Context, msg clientMessage) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("upstream write failed: %w", err)
	}
	return nil
}

func (s *liveStream) SendAudioChunk(ctx context.Context, pcm []byte) error {
	return s.writeJSON(ctx, clientMessage{
		RealtimeInput: &realtimeInput{
			MediaChunks: []blob{{
				MimeType: pcmMimeType,
				Data:     base64.StdEncoding.EncodeToString(pcm),
			}},
		},
	})
}

func (s *liveStream) SendText(ctx context.Context, text string) error {
	return s.writeJSON(ctx, clientMessage{
		ClientContent: &clientContent{
			Turns: []content{{
				Role:  "user",
				Parts: []part{{Text: text}},
			}},
			TurnComplete: true,
		},
	})
}

func (s *liveStream) SendImageWithText(ctx context.Context, imageB64, prompt string) error {
	return s.writeJSON(ctx, clientMessage{
		ClientContent: &clientContent{
			Turns: []content{{
				Role: "user",
				Parts: []part{
					{InlineData: &blob{MimeType: "image/jpeg", Data: imageB64}},
					{Text: prompt},
				},
			}},
			TurnComplete: true,
		},
	})
}

// Interrupt signals barge-in via an activityStart marker. The Live protocol
// has no dedicated cancel frame; a new activity makes the service drop the
// response in flight. Never fails the caller.
func (s *liveStream) Interrupt(ctx context.Context) error {
	if s.State() != StateConnected {
		return nil
	}

	err := s.writeJSON(ctx, clientMessage{
		RealtimeInput: &realtimeInput{ActivityStart: &struct{}{}},
	})
	if err != nil {
		s.logger.Debug().Err(err).Msg("Interrupt signal failed")
	}
	return nil
}

func (s *liveStream) Recv(ctx context.Context) (Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}

		switch s.State() {
		case StateClosed:
			return Event{}, ErrClosed
		case StateConnected:
		default:
			return Event{}, ErrNotConnected
		}

		if deadline, ok := ctx.Deadline(); ok {
			_ = s.conn.SetReadDeadline(deadline)
		}

		var msg serverMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			// Close from another goroutine lands here as a read error.
			if s.State() == StateClosed {
				return Event{}, ErrClosed
			}
			s.state.Store(int32(StateClosed))
			return Event{}, fmt.Errorf("upstream read failed: %w", err)
		}

		s.pending = append(s.pending, translate(msg)...)
	}
}

// translate maps one server message to zero or more events, preserving the
// order parts were produced in.
func translate(msg serverMessage) []Event {
	var events []Event

	if len(msg.ToolCall) > 0 {
		events = append(events, Event{Kind: EventFunctionCall, FunctionData: msg.ToolCall})
	}

	sc := msg.ServerContent
	if sc == nil {
		return events
	}

	if sc.InputTranscription != nil {
		events = append(events, Event{
			Kind:    EventTranscription,
			Text:    sc.InputTranscription.Text,
			IsFinal: sc.InputTranscription.Finished,
		})
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					continue
				}
				events = append(events, Event{Kind: EventAudio, Audio: pcm})
			}
			if p.Text != "" {
				events = append(events, Event{Kind: EventText, Text: p.Text})
			}
		}
	}

	if sc.OutputTranscription != nil {
		events = append(events, Event{
			Kind:    EventTranscription,
			Text:    sc.OutputTranscription.Text,
			IsFinal: sc.OutputTranscription.Finished,
		})
	}

	if sc.TurnComplete {
		events = append(events, Event{Kind: EventTurnComplete})
	}

	return events
}

func (s *liveStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		if closeErr := s.conn.Close(); closeErr != nil {
			s.logger.Debug().Err(closeErr).Msg("Upstream close error")
			err = closeErr
		}
	})
	// Close-time errors are swallowed after logging; repeat calls no-op.
	_ = err
	return nil
}

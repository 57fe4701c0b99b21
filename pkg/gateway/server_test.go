package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kisan-ai/kisan-relay/pkg/session"
	"github.com/kisan-ai/kisan-relay/pkg/upstream"
	"github.com/kisan-ai/kisan-relay/pkg/vision"
)

// scriptedStream is a controllable upstream.Stream. Tests push events into
// the channel and inspect what the gateway sent.
type scriptedStream struct {
	events chan upstream.Event

	mu         sync.Mutex
	audio      [][]byte
	texts      []string
	images     []string
	prompts    []string
	interrupts int

	closeOnce sync.Once
}

func newScriptedStream() *scriptedStream {
	return &scriptedStream{events: make(chan upstream.Event, 16)}
}

func (f *scriptedStream) SendAudioChunk(ctx context.Context, pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, pcm)
	return nil
}

func (f *scriptedStream) SendText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *scriptedStream) SendImageWithText(ctx context.Context, imageB64, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, imageB64)
	f.prompts = append(f.prompts, prompt)
	return nil
}

func (f *scriptedStream) Interrupt(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	return nil
}

func (f *scriptedStream) Recv(ctx context.Context) (upstream.Event, error) {
	select {
	case <-ctx.Done():
		return upstream.Event{}, ctx.Err()
	case ev, ok := <-f.events:
		if !ok {
			return upstream.Event{}, upstream.ErrClosed
		}
		return ev, nil
	}
}

func (f *scriptedStream) State() upstream.State { return upstream.StateConnected }

func (f *scriptedStream) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *scriptedStream) sentAudio() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.audio...)
}

func (f *scriptedStream) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *scriptedStream) interruptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupts
}

type stubConnector struct {
	stream upstream.Stream
	err    error
}

func (c *stubConnector) Connect(ctx context.Context) (upstream.Stream, error) {
	return c.stream, c.err
}

type stubAnalyzer struct {
	mu      sync.Mutex
	prompts []string
}

func (a *stubAnalyzer) Analyze(ctx context.Context, imageB64, customPrompt string) *vision.Analysis {
	a.mu.Lock()
	a.prompts = append(a.prompts, customPrompt)
	a.mu.Unlock()
	return &vision.Analysis{
		Success: true,
		Summary: vision.Summary{Disease: "Blight", Confidence: "high"},
	}
}

type testFixture struct {
	server   *Server
	registry *session.Registry
	stream   *scriptedStream
	analyzer *stubAnalyzer
	wsURL    string
}

func newFixture(t *testing.T, connector UpstreamConnector) *testFixture {
	t.Helper()

	registry := session.NewRegistry(time.Minute, 0, zerolog.Nop(), nil)
	analyzer := &stubAnalyzer{}

	srv, err := NewServer(Config{Host: "127.0.0.1", Port: 8081}, registry, connector, analyzer, nil, zerolog.Nop())
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))
	t.Cleanup(ts.Close)

	return &testFixture{
		server:   srv,
		registry: registry,
		analyzer: analyzer,
		wsURL:    "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

func newStreamFixture(t *testing.T) *testFixture {
	t.Helper()
	stream := newScriptedStream()
	f := newFixture(t, &stubConnector{stream: stream})
	f.stream = stream
	return f
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func TestConnectionLifecycle(t *testing.T) {
	f := newStreamFixture(t)
	conn := dial(t, f.wsURL)

	ready := readFrame(t, conn)
	assert.Equal(t, "ready", ready["type"])

	data := ready["data"].(map[string]interface{})
	sessionID := data["session_id"].(string)
	assert.True(t, strings.HasPrefix(sessionID, "client_"))
	assert.NotEmpty(t, data["timestamp"])

	require.Eventually(t, func() bool { return f.registry.Count() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return f.registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestUpstreamConnectFailure(t *testing.T) {
	f := newFixture(t, &stubConnector{err: fmt.Errorf("all models exhausted")})
	conn := dial(t, f.wsURL)

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	data := frame["data"].(map[string]interface{})
	assert.Equal(t, "upstream_error", data["error_type"])

	// The failed session must not linger.
	require.Eventually(t, func() bool { return f.registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestAudioChunkForwardingAndRelay(t *testing.T) {
	f := newStreamFixture(t)
	conn := dial(t, f.wsURL)
	readFrame(t, conn) // ready

	pcm := []byte("pcm-data")
	sendFrame(t, conn, map[string]interface{}{
		"type": "audio_chunk",
		"data": base64.StdEncoding.EncodeToString(pcm),
	})

	require.Eventually(t, func() bool { return len(f.stream.sentAudio()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, pcm, f.stream.sentAudio()[0])

	// The relay loop is armed now; pushed events reach the client in order.
	f.stream.events <- upstream.Event{Kind: upstream.EventAudio, Audio: []byte("reply-pcm")}
	f.stream.events <- upstream.Event{Kind: upstream.EventText, Text: "use neem oil"}
	f.stream.events <- upstream.Event{Kind: upstream.EventTranscription, Text: "use neem oil", IsFinal: true}
	f.stream.events <- upstream.Event{Kind: upstream.EventTurnComplete}

	frame := readFrame(t, conn)
	assert.Equal(t, "audio", frame["type"])
	decoded, err := base64.StdEncoding.DecodeString(frame["data"].(string))
	require.NoError(t, err)
	assert.Equal(t, []byte("reply-pcm"), decoded)

	frame = readFrame(t, conn)
	assert.Equal(t, "text", frame["type"])
	assert.Equal(t, "use neem oil", frame["data"])

	frame = readFrame(t, conn)
	assert.Equal(t, "transcription", frame["type"])
	tdata := frame["data"].(map[string]interface{})
	assert.Equal(t, true, tdata["is_final"])

	frame = readFrame(t, conn)
	assert.Equal(t, "turn_complete", frame["type"])

	// Relayed assistant text lands in the conversation context.
	sess, ok := f.registry.Get(firstSessionID(f.registry))
	require.True(t, ok)
	require.Eventually(t, func() bool { return sess.ContextLen() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "assistant", sess.Context()[0].Role)
}

func TestTextForwarding(t *testing.T) {
	f := newStreamFixture(t)
	conn := dial(t, f.wsURL)
	readFrame(t, conn)

	sendFrame(t, conn, map[string]interface{}{"type": "text", "data": "when to sow wheat?"})

	require.Eventually(t, func() bool { return len(f.stream.sentTexts()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "when to sow wheat?", f.stream.sentTexts()[0])

	sess, ok := f.registry.Get(firstSessionID(f.registry))
	require.True(t, ok)
	require.Eventually(t, func() bool { return sess.ContextLen() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "user", sess.Context()[0].Role)
	assert.True(t, sess.Relaying())
}

func TestImageAnalysisFlow(t *testing.T) {
	f := newStreamFixture(t)
	conn := dial(t, f.wsURL)
	readFrame(t, conn)

	sendFrame(t, conn, map[string]interface{}{
		"type": "image",
		"data": map[string]interface{}{"image": "aW1nLWJ5dGVz"},
	})

	frame := readFrame(t, conn)
	assert.Equal(t, "image_analysis", frame["type"])
	data := frame["data"].(map[string]interface{})
	assert.Equal(t, true, data["success"])

	// The image also feeds the live conversation with the default prompt.
	require.Eventually(t, func() bool {
		f.stream.mu.Lock()
		defer f.stream.mu.Unlock()
		return len(f.stream.images) == 1
	}, time.Second, 10*time.Millisecond)

	f.stream.mu.Lock()
	assert.Equal(t, "aW1nLWJ5dGVz", f.stream.images[0])
	assert.Equal(t, defaultImagePrompt, f.stream.prompts[0])
	f.stream.mu.Unlock()
}

func TestInterruptAlwaysAcks(t *testing.T) {
	f := newStreamFixture(t)
	conn := dial(t, f.wsURL)
	readFrame(t, conn)

	sendFrame(t, conn, map[string]interface{}{"type": "interrupt"})

	frame := readFrame(t, conn)
	assert.Equal(t, "interrupted", frame["type"])
	assert.Equal(t, 1, f.stream.interruptCount())
}

func TestMalformedFrameYieldsJSONError(t *testing.T) {
	f := newStreamFixture(t)
	conn := dial(t, f.wsURL)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	data := frame["data"].(map[string]interface{})
	assert.Equal(t, "json_error", data["error_type"])
}

func TestBadAudioPayloadYieldsAudioError(t *testing.T) {
	f := newStreamFixture(t)
	conn := dial(t, f.wsURL)
	readFrame(t, conn)

	sendFrame(t, conn, map[string]interface{}{"type": "audio_chunk", "data": "not-base64!!"})

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	data := frame["data"].(map[string]interface{})
	assert.Equal(t, "audio_error", data["error_type"])
}

func TestUnknownFrameTypeIgnored(t *testing.T) {
	f := newStreamFixture(t)
	conn := dial(t, f.wsURL)
	readFrame(t, conn)

	sendFrame(t, conn, map[string]interface{}{"type": "telemetry", "data": "x"})

	// The connection stays up and keeps working.
	sendFrame(t, conn, map[string]interface{}{"type": "interrupt"})
	frame := readFrame(t, conn)
	assert.Equal(t, "interrupted", frame["type"])
}

func TestRejectsUpgradesWhileShuttingDown(t *testing.T) {
	f := newStreamFixture(t)

	f.server.mu.Lock()
	f.server.isShuttingDown = true
	f.server.mu.Unlock()

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	f := newStreamFixture(t)

	rec := httptest.NewRecorder()
	f.server.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSessionsEndpoint(t *testing.T) {
	f := newStreamFixture(t)
	conn := dial(t, f.wsURL)
	readFrame(t, conn)

	rec := httptest.NewRecorder()
	f.server.handleSessions(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["count"])

	rec = httptest.NewRecorder()
	f.server.handleSessions(rec, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewServerValidation(t *testing.T) {
	registry := session.NewRegistry(time.Minute, 0, zerolog.Nop(), nil)
	connector := &stubConnector{stream: newScriptedStream()}

	_, err := NewServer(Config{Port: 0}, registry, connector, nil, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8081}, nil, connector, nil, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8081}, registry, nil, nil, nil, zerolog.Nop())
	assert.Error(t, err)

	s, err := NewServer(Config{Port: 8081}, registry, connector, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, s.cfg.PingInterval)
	assert.Equal(t, 10*time.Second, s.cfg.PongTimeout)
}

func firstSessionID(r *session.Registry) string {
	for id := range r.AllInfo() {
		return id
	}
	return ""
}

// Package upstream owns the bidirectional streaming connection to the Gemini
// Live API. One Stream is created per client session; sends and receives are
// independent operations because audio can stream in while a previous turn's
// audio is still streaming out.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors for stream state.
var (
	// ErrNotConnected is returned by send operations before Connect
	// succeeds or after the stream is closed.
	ErrNotConnected = errors.New("upstream stream not connected")

	// ErrClosed is returned by Recv after Close.
	ErrClosed = errors.New("upstream stream closed")
)

// State is the connection state of a stream handle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind discriminates upstream events.
type EventKind int

const (
	EventAudio EventKind = iota
	EventText
	EventTurnComplete
	EventTranscription
	EventFunctionCall
)

func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventText:
		return "text"
	case EventTurnComplete:
		return "turn_complete"
	case EventTranscription:
		return "transcription"
	case EventFunctionCall:
		return "function_call"
	default:
		return "unknown"
	}
}

// Event is one typed message produced by the upstream service.
type Event struct {
	Kind EventKind

	// Audio holds raw PCM bytes for EventAudio.
	Audio []byte

	// Text holds the text for EventText and EventTranscription.
	Text string

	// IsFinal marks a final transcript for EventTranscription.
	IsFinal bool

	// FunctionData holds the raw tool invocation for EventFunctionCall.
	FunctionData json.RawMessage
}

// Stream is one bidirectional conversation handle. All send operations
// require the connected state; Interrupt alone degrades to a no-op when the
// stream is unavailable.
type Stream interface {
	// SendAudioChunk streams one chunk of raw 16kHz PCM as realtime input.
	SendAudioChunk(ctx context.Context, pcm []byte) error

	// SendText submits a complete text turn.
	SendText(ctx context.Context, text string) error

	// SendImageWithText submits an image plus prompt as one multimodal turn.
	SendImageWithText(ctx context.Context, imageB64, prompt string) error

	// Interrupt signals barge-in, best effort. It never fails the caller.
	Interrupt(ctx context.Context) error

	// Recv blocks for the next upstream event. It returns an error on
	// transport failure or after Close; the stream is not restartable.
	Recv(ctx context.Context) (Event, error)

	// Close shuts the stream down. Idempotent.
	Close() error

	// State reports the current connection state.
	State() State
}

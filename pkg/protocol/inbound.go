// Package protocol defines the JSON frames exchanged with clients over the
// relay WebSocket. Inbound frames are parsed once at the boundary into a
// tagged union; downstream code switches on the concrete variant.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType reports an inbound frame with an unrecognized type field.
// The router logs and ignores these without surfacing an error frame.
var ErrUnknownType = errors.New("unknown frame type")

// ParseError reports a frame that could not be decoded. It maps to an
// error frame with error_type "json_error".
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid frame: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Inbound is a client frame after boundary parsing.
type Inbound interface {
	isInbound()
}

// AudioChunk carries one base64-encoded chunk of 16kHz PCM.
type AudioChunk struct {
	Data      string
	Timestamp float64
}

// Image carries a base64 JPEG and an optional analysis prompt.
type Image struct {
	Data   string
	Prompt string
}

// Text carries a user text turn.
type Text struct {
	Text string
}

// Interrupt requests cancellation of the in-flight upstream response.
type Interrupt struct{}

func (AudioChunk) isInbound() {}
func (Image) isInbound()      {}
func (Text) isInbound()       {}
func (Interrupt) isInbound()  {}

// envelope is the wire shape shared by all inbound frames. The data field is
// polymorphic: a base64 string for audio_chunk, a plain string for text, an
// object for image, absent for interrupt.
type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

type imagePayload struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
}

// ParseInbound decodes a raw client frame into its variant. Malformed JSON or
// a payload of the wrong shape yields a *ParseError; an unrecognized type
// yields ErrUnknownType.
func ParseInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ParseError{Err: err}
	}

	switch env.Type {
	case "audio_chunk":
		var data string
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, &ParseError{Err: err}
		}
		return AudioChunk{Data: data, Timestamp: env.Timestamp}, nil

	case "image":
		var payload imagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, &ParseError{Err: err}
		}
		return Image{Data: payload.Image, Prompt: payload.Prompt}, nil

	case "text":
		var data string
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, &ParseError{Err: err}
		}
		return Text{Text: data}, nil

	case "interrupt":
		return Interrupt{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

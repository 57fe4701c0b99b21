package protocol

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Error types carried in error frames, one per failure surface.
const (
	ErrTypeJSON       = "json_error"
	ErrTypeAudio      = "audio_error"
	ErrTypeImage      = "image_error"
	ErrTypeText       = "text_error"
	ErrTypeProcessing = "processing_error"
	ErrTypeUpstream   = "upstream_error"
	ErrTypeServer     = "server_error"
)

// Outbound is a marshal-ready frame sent to the client.
type Outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Ready acknowledges successful session setup.
func Ready(sessionID string) Outbound {
	return Outbound{
		Type: "ready",
		Data: map[string]interface{}{
			"session_id": sessionID,
			"timestamp":  time.Now().Format(time.RFC3339),
		},
	}
}

// Audio wraps raw PCM bytes from the upstream service.
func Audio(pcm []byte) Outbound {
	return Outbound{
		Type: "audio",
		Data: base64.StdEncoding.EncodeToString(pcm),
	}
}

// TextOut wraps a text event from the upstream service.
func TextOut(text string) Outbound {
	return Outbound{
		Type: "text",
		Data: text,
	}
}

// TurnComplete signals the end of an upstream turn.
func TurnComplete() Outbound {
	return Outbound{Type: "turn_complete"}
}

// Transcription carries a partial or final transcript.
func Transcription(text string, isFinal bool) Outbound {
	return Outbound{
		Type: "transcription",
		Data: map[string]interface{}{
			"text":     text,
			"is_final": isFinal,
		},
	}
}

// FunctionCall forwards an upstream tool invocation verbatim.
func FunctionCall(data json.RawMessage) Outbound {
	return Outbound{
		Type: "function_call",
		Data: data,
	}
}

// ImageAnalysis carries a structured crop analysis result.
func ImageAnalysis(result interface{}) Outbound {
	return Outbound{
		Type: "image_analysis",
		Data: result,
	}
}

// Interrupted acknowledges an interrupt frame.
func Interrupted(message string) Outbound {
	return Outbound{
		Type: "interrupted",
		Data: map[string]interface{}{
			"message": message,
		},
	}
}

// ErrorFrame surfaces a handled failure to the client.
func ErrorFrame(message, errorType string) Outbound {
	return Outbound{
		Type: "error",
		Data: map[string]interface{}{
			"message":    message,
			"error_type": errorType,
		},
	}
}

package gateway

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/kisan-ai/kisan-relay/pkg/protocol"
	"github.com/kisan-ai/kisan-relay/pkg/session"
	"github.com/kisan-ai/kisan-relay/pkg/upstream"
)

// armRelay starts the relay loop unless one is already running for this
// session. The compare-and-swap in BeginRelay guarantees at most one loop
// drains the upstream at a time.
func (s *Server) armRelay(ctx context.Context, client *Client, sess *session.Session, logger zerolog.Logger) {
	if !sess.BeginRelay() {
		return
	}
	go s.relay(ctx, client, sess, logger)
}

// relay drains upstream events and forwards them to the client until either
// side goes away. It releases the relay flag on exit so a later send can
// re-arm it.
func (s *Server) relay(ctx context.Context, client *Client, sess *session.Session, logger zerolog.Logger) {
	defer sess.EndRelay()

	stream := sess.Upstream()
	if stream == nil {
		return
	}

	if s.metrics != nil {
		s.metrics.RelayLoopsActive.Inc()
		defer s.metrics.RelayLoopsActive.Dec()
	}
	logger.Debug().Msg("Relay loop started")

	for {
		ev, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, upstream.ErrClosed) {
				logger.Debug().Msg("Relay loop ended: upstream closed")
			} else {
				logger.Error().Err(err).Msg("Error listening to upstream responses")
			}
			return
		}

		var frame protocol.Outbound
		switch ev.Kind {
		case upstream.EventAudio:
			frame = protocol.Audio(ev.Audio)
		case upstream.EventText:
			frame = protocol.TextOut(ev.Text)
			sess.AddContext(session.Entry{Role: "assistant", Content: ev.Text})
		case upstream.EventTurnComplete:
			frame = protocol.TurnComplete()
		case upstream.EventTranscription:
			frame = protocol.Transcription(ev.Text, ev.IsFinal)
		case upstream.EventFunctionCall:
			frame = protocol.FunctionCall(ev.FunctionData)
		default:
			continue
		}

		if s.metrics != nil {
			s.metrics.RelayedEventsTotal.WithLabelValues(ev.Kind.String()).Inc()
		}

		if err := client.Send(frame); err != nil {
			logger.Debug().Err(err).Msg("Relay loop ended: client write failed")
			return
		}
	}
}

package gateway

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/rs/zerolog"

	"github.com/kisan-ai/kisan-relay/pkg/protocol"
	"github.com/kisan-ai/kisan-relay/pkg/session"
)

// defaultImagePrompt is forwarded upstream with an image when the client
// does not supply one.
const defaultImagePrompt = "Analyze this crop image for diseases or issues"

// dispatch parses one client frame and routes it to its handler. Handler
// failures become error frames on the client socket; the connection itself
// stays up.
func (s *Server) dispatch(ctx context.Context, client *Client, sess *session.Session, raw []byte, logger zerolog.Logger) {
	frame, err := protocol.ParseInbound(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			logger.Warn().Err(err).Msg("Unknown message type")
			return
		}
		logger.Error().Err(err).Msg("Invalid frame received")
		client.SendError("Invalid JSON format", protocol.ErrTypeJSON)
		return
	}

	switch f := frame.(type) {
	case protocol.AudioChunk:
		s.recordFrame("audio_chunk")
		s.handleAudioChunk(ctx, client, sess, f, logger)
	case protocol.Image:
		s.recordFrame("image")
		s.handleImage(ctx, client, sess, f, logger)
	case protocol.Text:
		s.recordFrame("text")
		s.handleText(ctx, client, sess, f, logger)
	case protocol.Interrupt:
		s.recordFrame("interrupt")
		s.handleInterrupt(ctx, client, sess, logger)
	}
}

func (s *Server) recordFrame(frameType string) {
	if s.metrics != nil {
		s.metrics.FramesReceivedTotal.WithLabelValues(frameType).Inc()
	}
}

func (s *Server) handleAudioChunk(ctx context.Context, client *Client, sess *session.Session, frame protocol.AudioChunk, logger zerolog.Logger) {
	pcm, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		logger.Error().Err(err).Msg("Error handling audio chunk")
		client.SendError("Error processing audio", protocol.ErrTypeAudio)
		return
	}

	stream := sess.Upstream()
	if stream == nil {
		logger.Warn().Msg("Audio chunk received before upstream is ready")
		return
	}

	if err := stream.SendAudioChunk(ctx, pcm); err != nil {
		logger.Error().Err(err).Msg("Error handling audio chunk")
		client.SendError("Error processing audio", protocol.ErrTypeAudio)
		return
	}

	s.armRelay(ctx, client, sess, logger)
}

// handleImage runs the structured diagnosis and independently feeds the
// image into the live conversation. The analyzer never fails outright, so
// the client always gets an image_analysis frame; only a missing analyzer
// or an upstream send problem surfaces as image_error.
func (s *Server) handleImage(ctx context.Context, client *Client, sess *session.Session, frame protocol.Image, logger zerolog.Logger) {
	if s.analyzer == nil {
		logger.Error().Msg("Image received but no analyzer is configured")
		client.SendError("Error analyzing image", protocol.ErrTypeImage)
		return
	}

	analysis := s.analyzer.Analyze(ctx, frame.Data, frame.Prompt)
	if err := client.Send(protocol.ImageAnalysis(analysis)); err != nil {
		return
	}

	prompt := frame.Prompt
	if prompt == "" {
		prompt = defaultImagePrompt
	}
	sess.AddContext(session.Entry{Role: "user", Content: "[image] " + prompt})

	stream := sess.Upstream()
	if stream == nil {
		return
	}
	if err := stream.SendImageWithText(ctx, frame.Data, prompt); err != nil {
		logger.Error().Err(err).Msg("Error handling image analysis")
		client.SendError("Error analyzing image", protocol.ErrTypeImage)
		return
	}

	s.armRelay(ctx, client, sess, logger)
}

func (s *Server) handleText(ctx context.Context, client *Client, sess *session.Session, frame protocol.Text, logger zerolog.Logger) {
	stream := sess.Upstream()
	if stream == nil {
		logger.Warn().Msg("Text received before upstream is ready")
		return
	}

	if err := stream.SendText(ctx, frame.Text); err != nil {
		logger.Error().Err(err).Msg("Error handling text message")
		client.SendError("Error processing text", protocol.ErrTypeText)
		return
	}

	sess.AddContext(session.Entry{Role: "user", Content: frame.Text})
	s.armRelay(ctx, client, sess, logger)
}

// handleInterrupt signals barge-in upstream and always acknowledges, even
// when no upstream is attached. Interrupting is best-effort by contract.
func (s *Server) handleInterrupt(ctx context.Context, client *Client, sess *session.Session, logger zerolog.Logger) {
	if stream := sess.Upstream(); stream != nil {
		if err := stream.Interrupt(ctx); err != nil {
			logger.Error().Err(err).Msg("Error handling interrupt")
		}
	}

	_ = client.Send(protocol.Interrupted("Conversation interrupted"))
}

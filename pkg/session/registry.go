package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kisan-ai/kisan-relay/internal/metrics"
)

// Registry maps connection IDs to sessions. All mutations are serialized
// behind one lock; the sweeper iterates an ID snapshot so it never holds the
// lock across removals.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	timeout      time.Duration
	contextLimit int
	logger       zerolog.Logger
	metrics      *metrics.Metrics
}

// NewRegistry creates a session registry. metrics may be nil in tests.
func NewRegistry(timeout time.Duration, contextLimit int, logger zerolog.Logger, m *metrics.Metrics) *Registry {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Registry{
		sessions:     make(map[string]*Session),
		timeout:      timeout,
		contextLimit: contextLimit,
		logger:       logger,
		metrics:      m,
	}
}

// Create returns the session for id, allocating it when absent. An existing
// session is touched and returned unchanged (re-connect semantics).
func (r *Registry) Create(id string, clientInfo map[string]string) *Session {
	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		existing.Touch()
		r.logger.Info().Str("session_id", id).Msg("Updated existing session")
		return existing
	}

	s := newSession(id, clientInfo, r.contextLimit)
	r.sessions[id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionsTotal.Inc()
		r.metrics.SessionsActive.Set(float64(count))
	}
	r.logger.Info().Str("session_id", id).Int("active", count).Msg("Created new session")
	return s
}

// Get looks up a session, touching its activity timestamp when found.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if ok {
		s.Touch()
	}
	return s, ok
}

// Remove deletes the session and closes its upstream handle. It returns
// false when the session does not exist. Removal is idempotent; a close
// failure is logged, not propagated.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return false
	}

	if err := s.closeUpstream(); err != nil {
		r.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to close upstream handle")
	}

	if r.metrics != nil {
		r.metrics.SessionsActive.Set(float64(count))
	}
	r.logger.Info().Str("session_id", id).Msg("Removed session")
	return true
}

// Sweep evicts every session idle longer than the configured timeout. It
// iterates a snapshot of current IDs so concurrent creates and removes are
// never blocked for the whole pass.
func (r *Registry) Sweep() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	swept := 0
	for _, id := range ids {
		r.mu.RLock()
		s, ok := r.sessions[id]
		r.mu.RUnlock()
		if !ok || !s.Expired(r.timeout) {
			continue
		}

		r.logger.Info().Str("session_id", id).Msg("Cleaning up expired session")
		if r.Remove(id) {
			swept++
		}
	}

	if swept > 0 {
		if r.metrics != nil {
			r.metrics.SessionsSweptTotal.Add(float64(swept))
		}
		r.logger.Info().Int("swept", swept).Msg("Idle sweep complete")
	}
}

// RemoveAll removes every session. Used at shutdown.
func (r *Registry) RemoveAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Remove(id)
	}
	r.logger.Info().Msg("All sessions removed")
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Info returns introspection data for one session.
func (r *Registry) Info(id string) (map[string]interface{}, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	return map[string]interface{}{
		"session_id":    s.ID,
		"created_at":    s.CreatedAt.Format(time.RFC3339),
		"last_activity": s.LastActivity().Format(time.RFC3339),
		"duration":      s.Duration().String(),
		"context_len":   s.ContextLen(),
		"relaying":      s.Relaying(),
		"client_info":   s.ClientInfo,
	}, true
}

// AllInfo returns introspection data for every session.
func (r *Registry) AllInfo() map[string]interface{} {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make(map[string]interface{}, len(ids))
	for _, id := range ids {
		if info, ok := r.Info(id); ok {
			out[id] = info
		}
	}
	return out
}

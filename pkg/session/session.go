package session

import (
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/kisan-ai/kisan-relay/pkg/upstream"
)

// DefaultContextLimit bounds the conversation ring when no limit is configured.
const DefaultContextLimit = 50

// Relay states for the per-session forwarding loop.
const (
	relayIdle int32 = iota
	relayActive
)

// Entry is one conversation record kept for context.
type Entry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the server-side state for one client connection.
type Session struct {
	ID        string
	CreatedAt time.Time

	// ClientInfo holds origin metadata supplied at creation, never mutated.
	ClientInfo map[string]string

	relaying atomic.Int32

	mu             sync.Mutex
	lastActivity   time.Time
	stream         upstream.Stream
	upstreamClosed bool
	context        []Entry
	contextLimit   int
}

// NewID generates a session identifier.
func NewID() string {
	id, err := gonanoid.New()
	if err != nil {
		// nanoid only fails if the system entropy source does; fall back
		// to a time-derived ID rather than refusing the connection.
		return "client_" + time.Now().UTC().Format("20060102T150405.000000000")
	}
	return "client_" + id
}

func newSession(id string, info map[string]string, contextLimit int) *Session {
	if contextLimit <= 0 {
		contextLimit = DefaultContextLimit
	}
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		ClientInfo:   info,
		lastActivity: now,
		contextLimit: contextLimit,
	}
}

// Touch moves the activity timestamp forward. It never moves backwards.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now := time.Now(); now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

// LastActivity returns the most recent activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Expired reports whether the session has been idle longer than timeout.
func (s *Session) Expired(timeout time.Duration) bool {
	return time.Since(s.LastActivity()) > timeout
}

// SetUpstream attaches the upstream streaming handle. It is set once during
// connection setup, before any concurrent access to the session.
func (s *Session) SetUpstream(stream upstream.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = stream
}

// Upstream returns the attached streaming handle, or nil before setup.
func (s *Session) Upstream() upstream.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// closeUpstream closes the handle exactly once. Later calls return nil.
func (s *Session) closeUpstream() error {
	s.mu.Lock()
	stream := s.stream
	closed := s.upstreamClosed
	s.upstreamClosed = true
	s.mu.Unlock()

	if stream == nil || closed {
		return nil
	}
	return stream.Close()
}

// BeginRelay attempts the Idle -> Relaying transition. It returns true when
// the caller should spawn the relay loop; false means a loop is already
// active and will carry subsequent output.
func (s *Session) BeginRelay() bool {
	return s.relaying.CompareAndSwap(relayIdle, relayActive)
}

// EndRelay returns the session to Idle so a future send can re-arm relaying.
func (s *Session) EndRelay() {
	s.relaying.Store(relayIdle)
}

// Relaying reports whether a relay loop is currently active.
func (s *Session) Relaying() bool {
	return s.relaying.Load() == relayActive
}

// AddContext appends a conversation record, evicting the oldest entries when
// the ring exceeds its limit.
func (s *Session) AddContext(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.context = append(s.context, entry)
	if len(s.context) > s.contextLimit {
		s.context = s.context[len(s.context)-s.contextLimit:]
	}
}

// Context returns a copy of the conversation records in insertion order.
func (s *Session) Context() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.context))
	copy(out, s.context)
	return out
}

// ContextLen returns the number of records currently retained.
func (s *Session) ContextLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.context)
}

// Duration returns how long the session has existed.
func (s *Session) Duration() time.Duration {
	return time.Since(s.CreatedAt)
}

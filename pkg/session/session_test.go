package session

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	a := NewID()
	b := NewID()

	assert.True(t, strings.HasPrefix(a, "client_"))
	assert.True(t, strings.HasPrefix(b, "client_"))
	assert.NotEqual(t, a, b)
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	s := newSession("client_test", nil, 0)
	first := s.LastActivity()

	time.Sleep(5 * time.Millisecond)
	s.Touch()
	second := s.LastActivity()
	assert.True(t, second.After(first))

	s.Touch()
	assert.False(t, s.LastActivity().Before(second))
}

func TestExpired(t *testing.T) {
	s := newSession("client_test", nil, 0)

	assert.False(t, s.Expired(time.Minute))
	assert.True(t, s.Expired(0))
}

func TestBeginRelaySingleFlight(t *testing.T) {
	s := newSession("client_test", nil, 0)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.BeginRelay() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, s.Relaying())

	s.EndRelay()
	assert.False(t, s.Relaying())
	assert.True(t, s.BeginRelay())
}

func TestContextRingEvictsOldest(t *testing.T) {
	s := newSession("client_test", nil, 50)

	for i := 0; i < 60; i++ {
		s.AddContext(Entry{Role: "user", Content: fmt.Sprintf("msg-%d", i)})
	}

	ctx := s.Context()
	require.Len(t, ctx, 50)
	assert.Equal(t, "msg-10", ctx[0].Content)
	assert.Equal(t, "msg-59", ctx[49].Content)
	assert.Equal(t, 50, s.ContextLen())
}

func TestContextReturnsCopy(t *testing.T) {
	s := newSession("client_test", nil, 0)
	s.AddContext(Entry{Role: "user", Content: "original"})

	ctx := s.Context()
	ctx[0].Content = "mutated"

	assert.Equal(t, "original", s.Context()[0].Content)
}

func TestAddContextStampsTimestamp(t *testing.T) {
	s := newSession("client_test", nil, 0)
	s.AddContext(Entry{Role: "assistant", Content: "reply"})

	assert.False(t, s.Context()[0].Timestamp.IsZero())
}

func TestCloseUpstreamExactlyOnce(t *testing.T) {
	s := newSession("client_test", nil, 0)
	stream := &fakeStream{}
	s.SetUpstream(stream)

	require.NoError(t, s.closeUpstream())
	require.NoError(t, s.closeUpstream())
	assert.Equal(t, int32(1), stream.closes.Load())
}

func TestCloseUpstreamWithoutStream(t *testing.T) {
	s := newSession("client_test", nil, 0)
	assert.NoError(t, s.closeUpstream())
}

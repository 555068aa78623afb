package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/session"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEStreamFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	s := newSSEStream(rec, clockwork.NewFakeClock(), 0)
	require.NoError(t, s.start())

	require.NoError(t, s.Send(eventEndpoint, "", []byte("/messages?sessionId=abc")))
	require.NoError(t, s.Send(eventMessage, "stream_1", []byte("{\"a\":1}\n{\"b\":2}")))
	require.NoError(t, s.ping())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", rec.Header().Get("Cache-Control"))
	assert.Equal(t,
		"event: endpoint\ndata: /messages?sessionId=abc\n\n"+
			"event: message\nid: stream_1\ndata: {\"a\":1}\ndata: {\"b\":2}\n\n"+
			": keepalive\n\n",
		rec.Body.String(),
	)

	evt, err := newSSEReader(strings.NewReader(rec.Body.String())).NextEvent()
	require.NoError(t, err)
	assert.Equal(t, "endpoint", evt.Event)
	assert.Equal(t, "/messages?sessionId=abc", evt.Data)
}

func TestSSEStreamClose(t *testing.T) {
	s := newSSEStream(httptest.NewRecorder(), clockwork.NewFakeClock(), 0)
	require.NoError(t, s.start())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send(eventMessage, "", []byte("{}")), errStreamClosed)

	reason := s.serve(context.Background(), 0, nil)
	assert.Equal(t, session.ReasonTerminated, reason)

	select {
	case <-s.Closed():
		t.Fatal("stream finished before the handler was done")
	default:
	}
	s.finish()
	<-s.Closed()
}

func TestSSEStreamServe(t *testing.T) {
	t.Run("client gone", func(t *testing.T) {
		s := newSSEStream(httptest.NewRecorder(), clockwork.NewFakeClock(), 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Equal(t, session.ReasonConnClosed, s.serve(ctx, 0, nil))
	})

	t.Run("done", func(t *testing.T) {
		s := newSSEStream(httptest.NewRecorder(), clockwork.NewFakeClock(), 0)
		done := make(chan struct{})
		close(done)
		assert.Equal(t, session.ReasonTerminated, s.serve(context.Background(), 0, done))
	})

	t.Run("idle", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		s := newSSEStream(httptest.NewRecorder(), clock, 30*time.Second)

		result := make(chan session.Reason, 1)
		go func() {
			result <- s.serve(context.Background(), 0, nil)
		}()

		clock.BlockUntil(1)
		clock.Advance(30 * time.Second)

		select {
		case reason := <-result:
			assert.Equal(t, session.ReasonConnIdle, reason)
		case <-time.After(5 * time.Second):
			t.Fatal("idle stream was not closed")
		}
	})

	t.Run("busy stream is never idle", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		s := newSSEStream(httptest.NewRecorder(), clock, 30*time.Second)
		done := s.Busy()

		result := make(chan session.Reason, 1)
		go func() {
			result <- s.serve(context.Background(), 0, nil)
		}()

		clock.BlockUntil(1)
		clock.Advance(45 * time.Second)

		// The idle timer re-arms itself while the stream is busy.
		clock.BlockUntil(1)
		select {
		case <-result:
			t.Fatal("busy stream was closed")
		default:
		}

		done()
		clock.Advance(30 * time.Second)

		select {
		case reason := <-result:
			assert.Equal(t, session.ReasonConnIdle, reason)
		case <-time.After(5 * time.Second):
			t.Fatal("idle stream was not closed")
		}
	})

	t.Run("keepalive", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		rec := httptest.NewRecorder()
		s := newSSEStream(rec, clock, 0)

		ctx, cancel := context.WithCancel(context.Background())
		result := make(chan session.Reason, 1)
		go func() {
			result <- s.serve(ctx, 15*time.Second, nil)
		}()

		clock.BlockUntil(1)
		clock.Advance(15 * time.Second)

		require.Eventually(t, func() bool {
			s.lock.Lock()
			defer s.lock.Unlock()
			return strings.Contains(rec.Body.String(), ": keepalive")
		}, 5*time.Second, 10*time.Millisecond)

		cancel()
		assert.Equal(t, session.ReasonConnClosed, <-result)
	})
}

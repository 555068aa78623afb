package gateway

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/headers"
	"github.com/dataforseo/mcp-gateway/pkg/session"
	"github.com/jonboulle/clockwork"
)

const (
	eventEndpoint = "endpoint"
	eventMessage  = "message"
)

var errStreamClosed = errors.New("stream closed")

// sseStream writes server-sent events to a single HTTP response.  Writes are serialized
// and each one is bounded by a write deadline of idleTimeout.
type sseStream struct {
	w     http.ResponseWriter
	rc    *http.ResponseController
	clock clockwork.Clock

	idleTimeout time.Duration

	lock      sync.Mutex
	lastWrite atomic.Int64
	// busy counts work in progress that will write to the stream, eg. a tool call.  A
	// busy stream is never idle.
	busy atomic.Int32

	closeOnce  sync.Once
	closed     chan struct{}
	brokenOnce sync.Once
	broken     chan struct{}
	finishOnce sync.Once
	finished   chan struct{}
}

func newSSEStream(w http.ResponseWriter, clock clockwork.Clock, idleTimeout time.Duration) *sseStream {
	s := &sseStream{
		w:           w,
		rc:          http.NewResponseController(w),
		clock:       clock,
		idleTimeout: idleTimeout,
		closed:      make(chan struct{}),
		broken:      make(chan struct{}),
		finished:    make(chan struct{}),
	}
	s.lastWrite.Store(clock.Now().UnixNano())
	return s
}

// start sends the event stream headers and flushes them to the client.
func (s *sseStream) start() error {
	h := s.w.Header()
	h.Set("Content-Type", headers.ContentTypeEventStream)
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	s.lock.Lock()
	defer s.lock.Unlock()

	s.w.WriteHeader(http.StatusOK)
	if err := s.rc.Flush(); err != nil {
		s.markBroken()
		return err
	}
	s.lastWrite.Store(s.clock.Now().UnixNano())
	return nil
}

// Send writes one event.  id may be empty.
func (s *sseStream) Send(event, id string, data []byte) error {
	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: " + event + "\n")
	}
	if id != "" {
		buf.WriteString("id: " + id + "\n")
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return s.write(buf.Bytes())
}

// ping writes an SSE comment, which clients ignore.
func (s *sseStream) ping() error {
	return s.write([]byte(": keepalive\n\n"))
}

func (s *sseStream) write(frame []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	select {
	case <-s.closed:
		return errStreamClosed
	case <-s.broken:
		return errStreamClosed
	default:
	}

	if s.idleTimeout > 0 {
		// Not every writer supports deadlines, eg. in tests.
		_ = s.rc.SetWriteDeadline(time.Now().Add(s.idleTimeout))
	}

	if _, err := s.w.Write(frame); err != nil {
		s.markBroken()
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.markBroken()
		return err
	}

	s.lastWrite.Store(s.clock.Now().UnixNano())
	return nil
}

func (s *sseStream) markBroken() {
	s.brokenOnce.Do(func() { close(s.broken) })
}

// Busy marks the stream as having pending work until the returned func is called.
func (s *sseStream) Busy() func() {
	s.busy.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { s.busy.Add(-1) })
	}
}

// Close ends the stream.  Further writes fail and serve returns.
func (s *sseStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Closed fires once the handler serving the stream is done with it.
func (s *sseStream) Closed() <-chan struct{} {
	return s.finished
}

func (s *sseStream) finish() {
	s.lock.Lock()
	// Clear any deadline so the response can be terminated cleanly.
	_ = s.rc.SetWriteDeadline(time.Time{})
	s.lock.Unlock()

	s.finishOnce.Do(func() { close(s.finished) })
}

// serve blocks until the stream ends and reports why: the client went away, a write
// failed, the stream was closed, done fired, or nothing was written for idleTimeout.
// Pings are sent every keepAlive; zero disables them.
func (s *sseStream) serve(ctx context.Context, keepAlive time.Duration, done <-chan struct{}) session.Reason {
	var pings <-chan time.Time
	if keepAlive > 0 {
		t := s.clock.NewTicker(keepAlive)
		defer t.Stop()
		pings = t.Chan()
	}

	var (
		idle      <-chan time.Time
		idleTimer clockwork.Timer
	)
	if s.idleTimeout > 0 {
		idleTimer = s.clock.NewTimer(s.idleTimeout)
		defer idleTimer.Stop()
		idle = idleTimer.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			return session.ReasonConnClosed
		case <-s.broken:
			return session.ReasonConnError
		case <-s.closed:
			return session.ReasonTerminated
		case <-done:
			return session.ReasonTerminated
		case <-pings:
			if err := s.ping(); err != nil && !errors.Is(err, errStreamClosed) {
				return session.ReasonConnError
			}
		case <-idle:
			since := s.clock.Since(time.Unix(0, s.lastWrite.Load()))
			if s.busy.Load() == 0 && since >= s.idleTimeout {
				return session.ReasonConnIdle
			}
			next := s.idleTimeout - since
			if next <= 0 {
				next = s.idleTimeout
			}
			idleTimer.Reset(next)
		}
	}
}

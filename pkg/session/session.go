// Package session holds the process-wide session registry shared by both gateway
// transports, and the reaper that evicts idle sessions from it.
//
// A session owns exactly one connection.  Removing a session from the registry closes its
// connection, and a connection that closes on its own removes its session, so the registry
// and the set of open connections never diverge.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/auth"
)

// Conn is the underlying connection owned by a session.
type Conn interface {
	Close() error
}

// ClosedNotifier is implemented by connections that can end on their own, eg. when the
// peer goes away.  The registry removes the session as soon as Closed fires.
type ClosedNotifier interface {
	Closed() <-chan struct{}
}

// ConnFunc adapts a func to Conn.
type ConnFunc func() error

func (f ConnFunc) Close() error {
	return f()
}

type Session struct {
	ID          string
	Kind        Kind
	Credentials auth.Credentials
	CreatedAt   time.Time

	conn         Conn
	lastActivity atomic.Int64

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func newSession(id string, kind Kind, creds auth.Credentials, conn Conn, now time.Time) *Session {
	s := &Session{
		ID:          id,
		Kind:        kind,
		Credentials: creds,
		CreatedAt:   now,
		conn:        conn,
		done:        make(chan struct{}),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// LastActivity returns the time of the last inbound message.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// touch moves lastActivity forward.  Older timestamps are ignored.
func (s *Session) touch(now time.Time) {
	next := now.UnixNano()
	for {
		cur := s.lastActivity.Load()
		if next <= cur {
			return
		}
		if s.lastActivity.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Conn returns the transport state the session was established with.
func (s *Session) Conn() Conn {
	return s.conn
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// close releases the connection.  Only the first call does any work.
func (s *Session) close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.closeErr = s.conn.Close()
		}
	})
	return s.closeErr
}

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/auth"
	"github.com/dataforseo/mcp-gateway/pkg/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc/pool"
	"lukechampine.com/frand"
)

const closeAllConcurrency = 16

var (
	ErrMissingSession    = fmt.Errorf("no session id provided")
	ErrUnknownSession    = fmt.Errorf("unknown session id")
	ErrTransportMismatch = fmt.Errorf("session exists but uses a different transport protocol")
	ErrNoConn            = fmt.Errorf("a session requires a connection")
)

// Establish carries what is needed to create a new session.
type Establish struct {
	Credentials auth.Credentials
	Conn        Conn
}

type RegistryOpt func(r *Registry)

func WithClock(c clockwork.Clock) RegistryOpt {
	return func(r *Registry) {
		r.clock = c
	}
}

func WithLogger(l logger.Logger) RegistryOpt {
	return func(r *Registry) {
		r.log = l
	}
}

func WithLifecycles(l ...Lifecycle) RegistryOpt {
	return func(r *Registry) {
		r.lifecycles = append(r.lifecycles, l...)
	}
}

// Registry maps session ids to live sessions.  A single mutex guards the map; it is
// never held while closing connections or calling lifecycles.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	clock      clockwork.Clock
	log        logger.Logger
	lifecycles []Lifecycle
}

func NewRegistry(opts ...RegistryOpt) *Registry {
	r := &Registry{
		sessions: map[string]*Session{},
		clock:    clockwork.NewRealClock(),
		log:      logger.VoidLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Clock() clockwork.Clock {
	return r.clock
}

// CreateOrGet resolves the session for a request.
//
// With a non-empty id the session must exist and be of the given kind.  With an empty id a
// new session is created when est is set, otherwise ErrMissingSession is returned.
func (r *Registry) CreateOrGet(kind Kind, id string, est *Establish) (*Session, error) {
	if id != "" {
		s, ok := r.Get(id)
		if !ok {
			return nil, ErrUnknownSession
		}
		if s.Kind != kind {
			return nil, ErrTransportMismatch
		}
		return s, nil
	}

	if est == nil {
		return nil, ErrMissingSession
	}
	if est.Conn == nil {
		return nil, ErrNoConn
	}

	s := newSession(ulid.MustNew(ulid.Now(), frand.Reader).String(), kind, est.Credentials, est.Conn, r.clock.Now())

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.log.Debug("session created", "session_id", s.ID, "kind", s.Kind.String())

	for _, l := range r.lifecycles {
		l.OnSessionCreated(s)
	}

	if n, ok := est.Conn.(ClosedNotifier); ok {
		go func() {
			select {
			case <-n.Closed():
				r.Remove(s.ID, ReasonConnClosed)
			case <-s.Done():
			}
		}()
	}

	return s, nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Touch refreshes the session's last activity.  Unknown ids are ignored.
func (r *Registry) Touch(id string) {
	if s, ok := r.Get(id); ok {
		s.touch(r.clock.Now())
	}
}

// Remove deletes the session and closes its connection.  It returns false when the
// session was already gone.
func (r *Registry) Remove(id string, reason Reason) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.release(s, reason)
	return true
}

// Sweep removes every session idle for longer than threshold, returning them.
func (r *Registry) Sweep(threshold time.Duration, now time.Time) []*Session {
	var stale []*Session

	r.mu.Lock()
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity()) > threshold {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		r.release(s, ReasonReaped)
	}
	return stale
}

// CloseAll removes and closes every session.  Close failures are collected, never fatal.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = map[string]*Session{}
	r.mu.Unlock()

	var (
		result *multierror.Error
		lock   sync.Mutex
	)

	p := pool.New().WithMaxGoroutines(closeAllConcurrency)
	for _, s := range all {
		p.Go(func() {
			if err := r.release(s, ReasonShutdown); err != nil {
				lock.Lock()
				result = multierror.Append(result, fmt.Errorf("session %s: %w", s.ID, err))
				lock.Unlock()
			}
		})
	}
	p.Wait()

	return result.ErrorOrNil()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Counts returns the number of live sessions per kind.
func (r *Registry) Counts() map[Kind]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[Kind]int, len(KindValues()))
	for _, k := range KindValues() {
		counts[k] = 0
	}
	for _, s := range r.sessions {
		counts[s.Kind]++
	}
	return counts
}

func (r *Registry) release(s *Session, reason Reason) error {
	err := s.close()
	if err != nil {
		r.log.Warn("error closing session connection", "session_id", s.ID, "kind", s.Kind.String(), "error", err)
	} else {
		r.log.Debug("session closed", "session_id", s.ID, "kind", s.Kind.String(), "reason", string(reason))
	}

	for _, l := range r.lifecycles {
		l.OnSessionClosed(s, reason)
	}
	return err
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/auth"
	"github.com/dataforseo/mcp-gateway/pkg/eventstore"
	"github.com/dataforseo/mcp-gateway/pkg/headers"
	"github.com/dataforseo/mcp-gateway/pkg/jsonrpc"
	"github.com/dataforseo/mcp-gateway/pkg/logger"
	"github.com/dataforseo/mcp-gateway/pkg/session"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

const streamCleanupTimeout = 5 * time.Second

// unifiedConn is the transport state of a unified session.  Unlike legacy sessions it
// is not tied to a single HTTP response: it lives until the client deletes it, the
// reaper evicts it, or the gateway shuts down.
type unifiedConn struct {
	store eventstore.Store
	log   logger.Logger

	// dispatch serializes message handling so responses follow arrival order.
	dispatch sync.Mutex

	lock         sync.Mutex
	closed       bool
	standalone   *sseStream
	standaloneID string
	streams      map[string]struct{}
}

func newUnifiedConn(store eventstore.Store, l logger.Logger) *unifiedConn {
	c := &unifiedConn{
		store:        store,
		log:          l,
		standaloneID: uuid.NewString(),
		streams:      map[string]struct{}{},
	}
	c.streams[c.standaloneID] = struct{}{}
	return c
}

// newStreamID registers a stream whose events are stored for replay.  A closed conn
// registers nothing, so its replay data cannot outlive the session.
func (c *unifiedConn) newStreamID() (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return "", session.ErrUnknownSession
	}
	id := uuid.NewString()
	c.streams[id] = struct{}{}
	return id, nil
}

func (c *unifiedConn) owns(streamID string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	_, ok := c.streams[streamID]
	return ok
}

// attach makes s the session's standalone stream.  Only one may be open at a time.
func (c *unifiedConn) attach(s *sseStream) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return session.ErrUnknownSession
	}
	if c.standalone != nil {
		return errStreamConflict
	}
	c.standalone = s
	return nil
}

func (c *unifiedConn) detach(s *sseStream) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.standalone == s {
		c.standalone = nil
	}
}

// send stores msg on the stream before writing it, so that a client which misses it
// can replay it with Last-Event-ID.
func (c *unifiedConn) send(ctx context.Context, s *sseStream, streamID string, msg *jsonrpc.Message) error {
	byt, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	eventID, err := c.record(ctx, streamID, byt)
	if err != nil {
		c.log.Warn("could not store event for replay", "stream_id", streamID, "error", err)
		eventID = ""
	}
	return s.Send(eventMessage, eventID, byt)
}

// record appends msg to the stream's replay log.  Streams of a closed conn have already
// been deleted from the store and are not written again.
func (c *unifiedConn) record(ctx context.Context, streamID string, msg []byte) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.streams[streamID]; !ok {
		return "", nil
	}
	return c.store.Append(ctx, streamID, msg)
}

// handle dispatches msgs once every earlier batch of the session has been answered.
func (c *unifiedConn) handle(ctx context.Context, d Dispatcher, creds auth.Credentials, msgs []*jsonrpc.Message) []*jsonrpc.Message {
	c.dispatch.Lock()
	defer c.dispatch.Unlock()
	return d.HandleBatch(ctx, creds, msgs)
}

func (c *unifiedConn) Close() error {
	c.lock.Lock()
	c.closed = true
	standalone := c.standalone
	c.standalone = nil
	streams := c.streams
	c.streams = map[string]struct{}{}
	c.lock.Unlock()

	if standalone != nil {
		_ = standalone.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamCleanupTimeout)
	defer cancel()

	var result *multierror.Error
	for id := range streams {
		if err := c.store.DeleteStream(ctx, id); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (gw *Gateway) handleUnified(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		gw.unifiedPost(w, r)
	case http.MethodGet:
		gw.unifiedGet(w, r)
	case http.MethodDelete:
		gw.unifiedDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeError(w, errMethodNotAllowed)
	}
}

// unifiedSession looks up the session named by the request header.
func (gw *Gateway) unifiedSession(r *http.Request) (*session.Session, *unifiedConn, error) {
	sess, err := gw.opts.Registry.CreateOrGet(session.KindUnified, r.Header.Get(headers.HeaderKeySessionID), nil)
	if err != nil {
		return nil, nil, err
	}
	conn, ok := sess.Conn().(*unifiedConn)
	if !ok {
		return nil, nil, session.ErrTransportMismatch
	}
	return sess, conn, nil
}

func (gw *Gateway) unifiedPost(w http.ResponseWriter, r *http.Request) {
	if !accepts(r, headers.ContentTypeJSON) && !accepts(r, headers.ContentTypeEventStream) {
		writeError(w, errNotAcceptable)
		return
	}

	msgs, batch, err := readMessages(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	var (
		sess *session.Session
		conn *unifiedConn
	)

	switch {
	case r.Header.Get(headers.HeaderKeySessionID) != "":
		if sess, conn, err = gw.unifiedSession(r); err != nil {
			writeError(w, err)
			return
		}
		if jsonrpc.ContainsInitialize(msgs) {
			writeError(w, errAlreadyInitialized)
			return
		}
	case jsonrpc.ContainsInitialize(msgs):
		if len(msgs) > 1 {
			writeError(w, errBatchedInitialize)
			return
		}
		creds, _ := auth.FromContext(r.Context())
		conn = newUnifiedConn(gw.opts.EventStore, gw.log)
		sess, err = gw.opts.Registry.CreateOrGet(session.KindUnified, "", &session.Establish{
			Credentials: creds,
			Conn:        conn,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		gw.log.Info("unified session created", "session_id", sess.ID)
	default:
		writeError(w, session.ErrMissingSession)
		return
	}

	gw.opts.Registry.Touch(sess.ID)
	w.Header().Set(headers.HeaderKeySessionID, sess.ID)

	if !jsonrpc.HasRequests(msgs) {
		conn.handle(r.Context(), gw.opts.Dispatcher, sess.Credentials, msgs)

		w.WriteHeader(http.StatusAccepted)
		return
	}

	if acceptsOnly(r, headers.ContentTypeEventStream) {
		gw.unifiedPostStream(w, r, sess, conn, msgs)
		return
	}

	resps := conn.handle(r.Context(), gw.opts.Dispatcher, sess.Credentials, msgs)
	gw.opts.Registry.Touch(sess.ID)

	var body any = resps
	if !batch && len(resps) == 1 {
		body = resps[0]
	}

	byt, err := json.Marshal(body)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", headers.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(byt)
}

// unifiedPostStream answers a POST with an event stream carrying the responses.  The
// stream ends once every response has been written.
func (gw *Gateway) unifiedPostStream(w http.ResponseWriter, r *http.Request, sess *session.Session, conn *unifiedConn, msgs []*jsonrpc.Message) {
	streamID, err := conn.newStreamID()
	if err != nil {
		writeError(w, err)
		return
	}

	stream := newSSEStream(w, gw.opts.Clock, gw.opts.Config.StreamIdleTimeout)
	if err := stream.start(); err != nil {
		gw.log.Error("could not open response stream", "session_id", sess.ID, "error", err)
		return
	}
	defer stream.finish()

	done := make(chan struct{})

	go func() {
		defer close(done)
		busy := stream.Busy()
		defer busy()

		resps := gw.safeHandle(sess.ID, func() []*jsonrpc.Message {
			return conn.handle(r.Context(), gw.opts.Dispatcher, sess.Credentials, msgs)
		})

		for _, resp := range resps {
			if err := conn.send(r.Context(), stream, streamID, resp); err != nil {
				gw.log.Debug("response stream closed before all responses were sent",
					"session_id", sess.ID,
					"error", err,
				)
				return
			}
		}
		gw.opts.Registry.Touch(sess.ID)
	}()

	reason := stream.serve(r.Context(), gw.opts.Config.KeepAliveInterval, done)
	// Stop further writes, then wait for the dispatcher before the handler returns.
	_ = stream.Close()
	<-done

	if reason != session.ReasonTerminated {
		gw.log.Debug("response stream ended early", "session_id", sess.ID, "reason", string(reason))
	}
}

// unifiedGet opens the session's standalone stream, replaying missed events first when
// the client sends Last-Event-ID.  Losing this stream does not end the session.
func (gw *Gateway) unifiedGet(w http.ResponseWriter, r *http.Request) {
	if !accepts(r, headers.ContentTypeEventStream) {
		writeError(w, errNotAcceptable)
		return
	}

	sess, conn, err := gw.unifiedSession(r)
	if err != nil {
		writeError(w, err)
		return
	}

	lastEventID := r.Header.Get(headers.HeaderKeyLastEventID)
	if lastEventID != "" {
		streamID, _, err := eventstore.ParseEventID(lastEventID)
		if err != nil {
			writeError(w, err)
			return
		}
		if !conn.owns(streamID) {
			writeError(w, eventstore.ErrInvalidEventID)
			return
		}
	}

	gw.opts.Registry.Touch(sess.ID)

	stream := newSSEStream(w, gw.opts.Clock, gw.opts.Config.StreamIdleTimeout)
	if err := conn.attach(stream); err != nil {
		writeError(w, err)
		return
	}
	defer conn.detach(stream)

	if err := stream.start(); err != nil {
		gw.log.Error("could not open standalone stream", "session_id", sess.ID, "error", err)
		return
	}
	defer stream.finish()

	if lastEventID != "" {
		_, err := gw.opts.EventStore.ReplayAfter(r.Context(), lastEventID, func(eventID string, msg json.RawMessage) error {
			return stream.Send(eventMessage, eventID, msg)
		})
		if err != nil && !errors.Is(err, eventstore.ErrStreamNotFound) {
			gw.log.Warn("could not replay events", "session_id", sess.ID, "last_event_id", lastEventID, "error", err)
			return
		}
	}

	reason := stream.serve(r.Context(), gw.opts.Config.KeepAliveInterval, nil)
	gw.log.Debug("standalone stream closed", "session_id", sess.ID, "reason", string(reason))
}

func (gw *Gateway) unifiedDelete(w http.ResponseWriter, r *http.Request) {
	sess, _, err := gw.unifiedSession(r)
	if err != nil {
		writeError(w, err)
		return
	}

	gw.opts.Registry.Remove(sess.ID, session.ReasonTerminated)
	gw.log.Info("unified session terminated", "session_id", sess.ID)
	w.WriteHeader(http.StatusOK)
}

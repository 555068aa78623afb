package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/dataforseo/mcp-gateway/pkg/auth"
	"github.com/dataforseo/mcp-gateway/pkg/jsonrpc"
	"github.com/dataforseo/mcp-gateway/pkg/session"
)

const legacyInboxSize = 256

// legacyConn is the transport state of a legacy session: the server-push stream and
// the inbox of posted messages, drained in order by a single worker.
type legacyConn struct {
	stream *sseStream
	inbox  chan []*jsonrpc.Message
}

func (c *legacyConn) Close() error {
	return c.stream.Close()
}

func (c *legacyConn) Closed() <-chan struct{} {
	return c.stream.Closed()
}

// open reports whether the stream can still carry responses.
func (c *legacyConn) open() bool {
	select {
	case <-c.stream.closed:
		return false
	default:
		return true
	}
}

func (c *legacyConn) enqueue(msgs []*jsonrpc.Message) error {
	select {
	case c.inbox <- msgs:
		return nil
	default:
		return errInboxFull
	}
}

// handleLegacyStream opens a legacy session.  The first event tells the client where to
// post its messages; every response follows as a message event.
func (gw *Gateway) handleLegacyStream(messagePath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, _ := auth.FromContext(r.Context())

		stream := newSSEStream(w, gw.opts.Clock, gw.opts.Config.StreamIdleTimeout)
		if err := stream.start(); err != nil {
			gw.log.Error("could not open legacy stream", "error", err)
			return
		}
		defer stream.finish()

		conn := &legacyConn{
			stream: stream,
			inbox:  make(chan []*jsonrpc.Message, legacyInboxSize),
		}

		sess, err := gw.opts.Registry.CreateOrGet(session.KindLegacy, "", &session.Establish{
			Credentials: creds,
			Conn:        conn,
		})
		if err != nil {
			gw.log.Error("could not create legacy session", "error", err)
			return
		}

		l := gw.log.With("session_id", sess.ID, "transport", sess.Kind.String())
		l.Info("legacy stream opened")

		endpoint := messagePath + "?" + url.Values{"sessionId": {sess.ID}}.Encode()
		if err := stream.Send(eventEndpoint, "", []byte(endpoint)); err != nil {
			gw.opts.Registry.Remove(sess.ID, session.ReasonConnError)
			return
		}

		go gw.legacyWorker(sess, conn)

		reason := stream.serve(r.Context(), gw.opts.Config.KeepAliveInterval, nil)
		if gw.opts.Registry.Remove(sess.ID, reason) {
			l.Info("legacy stream closed", "reason", string(reason))
		}
	}
}

// legacyWorker dispatches posted messages one batch at a time and pushes the responses
// onto the stream.  It exits when the session closes.
func (gw *Gateway) legacyWorker(sess *session.Session, conn *legacyConn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-sess.Done()
		cancel()
	}()

	for {
		select {
		case <-sess.Done():
			return
		case msgs := <-conn.inbox:
			done := conn.stream.Busy()
			resps := gw.safeHandle(sess.ID, func() []*jsonrpc.Message {
				return gw.opts.Dispatcher.HandleBatch(ctx, sess.Credentials, msgs)
			})
			for _, resp := range resps {
				byt, err := json.Marshal(resp)
				if err != nil {
					gw.log.Error("could not encode response", "session_id", sess.ID, "error", err)
					continue
				}
				if err := conn.stream.Send(eventMessage, "", byt); err != nil {
					gw.log.Debug("dropping response for closed stream", "session_id", sess.ID, "error", err)
					break
				}
			}
			done()
			gw.opts.Registry.Touch(sess.ID)
		}
	}
}

// handleLegacyMessage accepts a message for a legacy session.  The response travels on
// the session's stream.
func (gw *Gateway) handleLegacyMessage(w http.ResponseWriter, r *http.Request) {
	sess, err := gw.opts.Registry.CreateOrGet(session.KindLegacy, r.URL.Query().Get("sessionId"), nil)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, ok := sess.Conn().(*legacyConn)
	if !ok {
		writeError(w, session.ErrTransportMismatch)
		return
	}

	msgs, _, err := readMessages(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	// The session may have closed since it was looked up.  Its worker is gone, so nothing
	// would ever answer these messages.
	if sess.Closed() || !conn.open() {
		writeError(w, session.ErrUnknownSession)
		return
	}

	gw.opts.Registry.Touch(sess.ID)

	if err := conn.enqueue(msgs); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}

// Package gateway serves the tool API over the unified (streamable HTTP) and legacy
// (HTTP+SSE) transports, owning every session from authentication to teardown.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/dataforseo/mcp-gateway/pkg/auth"
	"github.com/dataforseo/mcp-gateway/pkg/config"
	"github.com/dataforseo/mcp-gateway/pkg/eventstore"
	"github.com/dataforseo/mcp-gateway/pkg/headers"
	"github.com/dataforseo/mcp-gateway/pkg/jsonrpc"
	"github.com/dataforseo/mcp-gateway/pkg/logger"
	"github.com/dataforseo/mcp-gateway/pkg/metrics"
	"github.com/dataforseo/mcp-gateway/pkg/session"
	"github.com/dataforseo/mcp-gateway/pkg/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
)

const (
	RouteUnified       = "/mcp"
	RouteLegacyStream  = "/sse"
	RouteLegacyMessage = "/messages"

	// Aliases with transport-neutral names.
	RouteUnifiedAlias       = "/unified"
	RouteLegacyStreamAlias  = "/legacy-stream"
	RouteLegacyMessageAlias = "/legacy-message"

	MaxBodySize = 4 * 1024 * 1024
)

// Dispatcher answers JSON-RPC messages for a session.
type Dispatcher interface {
	HandleBatch(ctx context.Context, creds auth.Credentials, msgs []*jsonrpc.Message) []*jsonrpc.Message
}

// Opts represents the options for the gateway API.
type Opts struct {
	Registry   *session.Registry
	Dispatcher Dispatcher
	// Auth resolves the credentials of every request to a transport route.
	Auth       auth.Handler
	EventStore eventstore.Store
	Config     config.Gateway
	// Metrics is optional.  When set, /metrics is served and auth failures are counted.
	Metrics        *metrics.MetricsAPI
	Clock          clockwork.Clock
	Logger         logger.Logger
	InstanceID     string
	AllowedOrigins []string
}

type Gateway struct {
	chi.Router
	opts Opts
	log  logger.Logger
}

// NewGateway generates a new HTTP handler for a gateway
func NewGateway(o Opts) *Gateway {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = logger.VoidLogger()
	}
	if o.EventStore == nil {
		o.EventStore = eventstore.NewMemoryStore(o.Config.ReplayBufferSize)
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"*"}
	}

	gw := &Gateway{
		Router: chi.NewMux(),
		opts:   o,
		log:    o.Logger,
	}
	gw.setup()

	return gw
}

func (gw *Gateway) setup() {
	gw.Use(
		recoverer(gw.log),
		requestLogger(gw.log),
		headers.StaticHeadersMiddleware(version.Print(), gw.opts.InstanceID),
		cors.Handler(cors.Options{
			AllowedOrigins: gw.opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{
				"Accept",
				"Authorization",
				"Content-Type",
				headers.HeaderKeySessionID,
				headers.HeaderKeyLastEventID,
				headers.HeaderKeyProtocolVersion,
			},
			ExposedHeaders: []string{headers.HeaderKeySessionID},
			MaxAge:         300,
		}),
	)

	gw.Get("/health", gw.HealthCheck)
	if gw.opts.Metrics != nil {
		gw.Mount("/metrics", gw.opts.Metrics.Router)
	}

	gw.Group(func(r chi.Router) {
		r.Use(auth.Middleware(gw.opts.Auth, gw.authFailed))

		r.HandleFunc(RouteUnified, gw.handleUnified)
		r.HandleFunc(RouteUnifiedAlias, gw.handleUnified)

		r.Get(RouteLegacyStream, gw.handleLegacyStream(RouteLegacyMessage))
		r.Get(RouteLegacyStreamAlias, gw.handleLegacyStream(RouteLegacyMessageAlias))
		r.Post(RouteLegacyMessage, gw.handleLegacyMessage)
		r.Post(RouteLegacyMessageAlias, gw.handleLegacyMessage)
	})
}

func (gw *Gateway) authFailed(w http.ResponseWriter, r *http.Request, err error) {
	if gw.opts.Metrics != nil {
		gw.opts.Metrics.AuthFailed()
	}
	gw.log.Debug("rejected request", "path", r.URL.Path, "error", err)
	writeError(w, err)
}

func (gw *Gateway) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", headers.ContentTypeJSON)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"service":  version.Name,
		"version":  version.Print(),
		"sessions": gw.opts.Registry.Len(),
	})
}

// safeHandle dispatches off the request goroutine, where the recoverer middleware can't
// catch panics.  A panic yields no responses.
func (gw *Gateway) safeHandle(sessionID string, fn func() []*jsonrpc.Message) (resps []*jsonrpc.Message) {
	defer func() {
		if r := recover(); r != nil {
			gw.log.Error("panic dispatching messages",
				"session_id", sessionID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			resps = nil
		}
	}()
	return fn()
}

// readMessages reads and parses a JSON-RPC body.
func readMessages(w http.ResponseWriter, r *http.Request) ([]*jsonrpc.Message, bool, error) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), headers.ContentTypeJSON) {
		return nil, false, errUnsupportedMedia
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, false, errBodyTooLarge
		}
		return nil, false, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}

	msgs, batch, err := jsonrpc.Parse(body)
	if err != nil {
		if errors.Is(err, jsonrpc.ErrEmptyBody) || errors.Is(err, jsonrpc.ErrInvalidVersion) {
			return nil, batch, err
		}
		return nil, batch, fmt.Errorf("%w: %w", errParse, err)
	}
	return msgs, batch, nil
}

// accepts reports whether the Accept header allows the media type.  A missing header
// accepts everything.
func accepts(r *http.Request, mediaType string) bool {
	accept := r.Header.Values("Accept")
	if len(accept) == 0 {
		return true
	}
	for _, v := range accept {
		for _, part := range strings.Split(v, ",") {
			mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
			mt = strings.ToLower(strings.TrimSpace(mt))
			if mt == mediaType || mt == "*/*" {
				return true
			}
			if typ, _, _ := strings.Cut(mediaType, "/"); mt == typ+"/*" {
				return true
			}
		}
	}
	return false
}

// acceptsOnly reports whether the client explicitly asked for mediaType and nothing else.
func acceptsOnly(r *http.Request, mediaType string) bool {
	if len(r.Header.Values("Accept")) == 0 {
		return false
	}
	for _, v := range r.Header.Values("Accept") {
		for _, part := range strings.Split(v, ",") {
			mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
			mt = strings.ToLower(strings.TrimSpace(mt))
			if mt != "" && mt != mediaType {
				return false
			}
		}
	}
	return true
}

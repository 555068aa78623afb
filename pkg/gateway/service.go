package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/auth"
	"github.com/dataforseo/mcp-gateway/pkg/config"
	"github.com/dataforseo/mcp-gateway/pkg/eventstore"
	"github.com/dataforseo/mcp-gateway/pkg/logger"
	"github.com/dataforseo/mcp-gateway/pkg/metrics"
	"github.com/dataforseo/mcp-gateway/pkg/service"
	"github.com/dataforseo/mcp-gateway/pkg/session"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/frand"
)

const (
	DefaultAddr = ":3000"

	readHeaderTimeout = 10 * time.Second
	idleConnTimeout   = 2 * time.Minute
)

type gatewayOpt func(*gatewaySvc)

type gatewaySvc struct {
	// gatewayId is a unique identifier, generated each time the service is started.
	gatewayId ulid.ULID

	addr       string
	listener   net.Listener
	cfg        config.Gateway
	auther     auth.Handler
	dispatcher Dispatcher
	store      eventstore.Store
	clock      clockwork.Clock
	origins    []string
	lifecycles []session.Lifecycle
	noMetrics  bool

	logger   logger.Logger
	registry *session.Registry
	reaper   *session.Reaper
	metrics  *metrics.MetricsAPI
	gateway  *Gateway
	server   *http.Server

	stopOnce sync.Once
	stopErr  error
}

func WithAddr(addr string) gatewayOpt {
	return func(svc *gatewaySvc) {
		svc.addr = addr
	}
}

// WithListener serves on an existing listener instead of listening on the address.
func WithListener(l net.Listener) gatewayOpt {
	return func(svc *gatewaySvc) {
		svc.listener = l
	}
}

func WithConfig(cfg config.Gateway) gatewayOpt {
	return func(svc *gatewaySvc) {
		svc.cfg = cfg
	}
}

func WithAuthHandler(h auth.Handler) gatewayOpt {
	return func(svc *gatewaySvc) {
		svc.auther = h
	}
}

func WithDispatcher(d Dispatcher) gatewayOpt {
	return func(svc *gatewaySvc) {
		svc.dispatcher = d
	}
}

func WithEventStore(s eventstore.Store) gatewayOpt {
	return func(svc *gatewaySvc) {
		svc.store = s
	}
}

func WithClock(c clockwork.Clock) gatewayOpt {
	return func(svc *gatewaySvc) {
		svc.clock = c
	}
}

func WithAllowedOrigins(origins []string) gatewayOpt {
	return func(svc *gatewaySvc) {
		svc.origins = origins
	}
}

func WithLifecycles(l ...session.Lifecycle) gatewayOpt {
	return func(svc *gatewaySvc) {
		svc.lifecycles = append(svc.lifecycles, l...)
	}
}

// WithMetrics shares a metrics API with other components, eg. the tool dispatcher.
func WithMetrics(m *metrics.MetricsAPI) gatewayOpt {
	return func(svc *gatewaySvc) {
		svc.metrics = m
	}
}

func WithoutMetrics() gatewayOpt {
	return func(svc *gatewaySvc) {
		svc.noMetrics = true
	}
}

func NewGatewayService(opts ...gatewayOpt) *gatewaySvc {
	svc := &gatewaySvc{
		gatewayId: ulid.MustNew(ulid.Now(), frand.Reader),
		addr:      DefaultAddr,
		cfg:       config.DefaultGateway,
		clock:     clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

func (c *gatewaySvc) Name() string {
	return "mcp-gateway"
}

func (c *gatewaySvc) StopTimeout() time.Duration {
	return c.cfg.ShutdownTimeout
}

func (c *gatewaySvc) Pre(ctx context.Context) error {
	c.logger = logger.StdlibLogger(ctx).With("gateway_id", c.gatewayId.String())

	if c.auther == nil {
		return errors.New("gateway requires an auth handler")
	}
	if c.dispatcher == nil {
		return errors.New("gateway requires a dispatcher")
	}
	if c.store == nil {
		c.store = eventstore.NewMemoryStore(c.cfg.ReplayBufferSize)
	}

	if c.metrics == nil && !c.noMetrics {
		m, err := metrics.NewMetricsAPI(metrics.Opts{})
		if err != nil {
			return fmt.Errorf("could not create metrics api: %w", err)
		}
		c.metrics = m
	}
	if c.noMetrics {
		c.metrics = nil
	}

	lifecycles := c.lifecycles
	if c.metrics != nil {
		lifecycles = append(lifecycles, c.metrics)
	}
	c.registry = session.NewRegistry(
		session.WithClock(c.clock),
		session.WithLogger(c.logger),
		session.WithLifecycles(lifecycles...),
	)

	c.reaper = session.NewReaper(c.registry, c.cfg.ReaperInterval, c.cfg.SessionIdleTimeout, c.logger)

	c.gateway = NewGateway(Opts{
		Registry:       c.registry,
		Dispatcher:     c.dispatcher,
		Auth:           c.auther,
		EventStore:     c.store,
		Config:         c.cfg,
		Metrics:        c.metrics,
		Clock:          c.clock,
		Logger:         c.logger,
		InstanceID:     c.gatewayId.String(),
		AllowedOrigins: c.origins,
	})

	c.server = &http.Server{
		Addr:              c.addr,
		Handler:           c.gateway,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleConnTimeout,
		BaseContext: func(net.Listener) context.Context {
			return logger.WithStdlib(context.Background(), c.logger)
		},
	}
	// Shutdown closes the listeners first, then runs this hook.  Closing every session
	// ends the open event streams, which lets Shutdown finish waiting for handlers.
	c.server.RegisterOnShutdown(func() {
		c.closeSessions()
	})

	return nil
}

func (c *gatewaySvc) Run(ctx context.Context) error {
	eg := errgroup.Group{}

	eg.Go(func() error {
		var err error
		if c.listener != nil {
			c.logger.Info("starting gateway api", "addr", c.listener.Addr().String())
			err = c.server.Serve(c.listener)
		} else {
			c.logger.Info("starting gateway api", "addr", c.addr)
			err = c.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	// Periodically evict idle sessions.  The service waits for the reaper to exit
	// before stopping.
	wg := service.GetWaitgroup(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.reaper.Run(ctx)
	}()

	go func() {
		<-ctx.Done()
		c.logger.Info("shutting down gateway")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			c.logger.Error("could not shut down gateway api", "error", err)
		}
	}()

	return eg.Wait()
}

func (c *gatewaySvc) Stop(ctx context.Context) error {
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Warn("gateway api did not shut down cleanly", "error", err)
		}
	}
	return c.closeSessions()
}

// closeSessions closes every session once.  Failures are logged and returned, but
// never stop the remaining sessions from closing.
func (c *gatewaySvc) closeSessions() error {
	c.stopOnce.Do(func() {
		if c.registry == nil {
			return
		}
		n := c.registry.Len()
		c.stopErr = c.registry.CloseAll()
		if c.stopErr != nil {
			c.logger.Warn("errors closing sessions", "sessions", n, "error", c.stopErr)
		} else {
			c.logger.Info("closed sessions", "sessions", n)
		}
	})
	return c.stopErr
}

// Handler returns the gateway's HTTP handler.  It is only available after Pre.
func (c *gatewaySvc) Handler() http.Handler {
	return c.gateway
}

// Registry returns the session registry.  It is only available after Pre.
func (c *gatewaySvc) Registry() *session.Registry {
	return c.registry
}

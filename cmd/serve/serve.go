package serve

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dataforseo/mcp-gateway/cmd/internal/envflags"
	"github.com/dataforseo/mcp-gateway/cmd/internal/localconfig"
	"github.com/dataforseo/mcp-gateway/pkg/auth"
	"github.com/dataforseo/mcp-gateway/pkg/config"
	"github.com/dataforseo/mcp-gateway/pkg/dataforseo"
	"github.com/dataforseo/mcp-gateway/pkg/dispatch"
	"github.com/dataforseo/mcp-gateway/pkg/eventstore"
	"github.com/dataforseo/mcp-gateway/pkg/gateway"
	"github.com/dataforseo/mcp-gateway/pkg/logger"
	"github.com/dataforseo/mcp-gateway/pkg/metrics"
	"github.com/dataforseo/mcp-gateway/pkg/service"
	"github.com/dataforseo/mcp-gateway/pkg/tools"
	"github.com/redis/rueidis"
	"github.com/urfave/cli/v3"
)

// settings are the process-wide options, resolved once at start.
type settings struct {
	Addr           string
	Credentials    auth.Credentials
	EnabledModules []string
	FullResponse   bool
	HTTPTimeout    time.Duration
	RedisURI       string
	AllowedOrigins []string
}

// resolveSettings merges flags, the process environment and the config file.  Flags win
// over the environment, which wins over the config file, except for PORT which overrides
// the flag.
func resolveSettings(cmd *cli.Command, conf *localconfig.Config) (settings, error) {
	s := settings{}

	port := envflags.GetEnvOrFlagWithDefault(cmd, "port", "PORT", DefaultPort)
	// Fallback to config file value if no env var and using default
	if !cmd.IsSet("port") && os.Getenv("PORT") == "" && conf.Port != "" {
		port = conf.Port
	}
	if _, err := strconv.Atoi(port); err != nil {
		return s, fmt.Errorf("invalid port %q: %w", port, err)
	}

	host := cmd.String("host")
	if host == "" {
		host = conf.Host
	}
	s.Addr = net.JoinHostPort(host, port)

	s.Credentials.Username = envflags.GetEnvOrFlag(cmd, "username", "DATAFORSEO_USERNAME")
	if s.Credentials.Username == "" {
		s.Credentials.Username = conf.Username
	}
	s.Credentials.Password = envflags.GetEnvOrFlag(cmd, "password", "DATAFORSEO_PASSWORD")
	if s.Credentials.Password == "" {
		s.Credentials.Password = conf.Password
	}

	if modules := envflags.GetEnvOrFlag(cmd, "enabled-modules", "ENABLED_MODULES"); modules != "" {
		s.EnabledModules = tools.ParseEnabledModules(modules)
	} else {
		s.EnabledModules = tools.ParseEnabledModules(strings.Join(conf.EnabledModules, ","))
	}

	if full, ok := envflags.GetFlagOrEnvBool(cmd, "full-response", "DATAFORSEO_FULL_RESPONSE"); ok {
		s.FullResponse = full
	} else if conf.FullResponse != nil {
		s.FullResponse = *conf.FullResponse
	}

	timeoutMs := conf.HTTPTimeout
	if v := os.Getenv("DATAFORSEO_HTTP_TIMEOUT"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("invalid http timeout %q: %w", v, err)
		}
		timeoutMs = ms
	}
	if cmd.IsSet("http-timeout") {
		timeoutMs = cmd.Int("http-timeout")
	}
	s.HTTPTimeout = dataforseo.DefaultTimeout
	if timeoutMs > 0 {
		s.HTTPTimeout = time.Duration(timeoutMs) * time.Millisecond
	}

	s.RedisURI = cmd.String("redis-uri")
	if s.RedisURI == "" {
		s.RedisURI = conf.RedisURI
	}

	s.AllowedOrigins = cmd.StringSlice("allowed-origin")
	if len(s.AllowedOrigins) == 0 {
		s.AllowedOrigins = conf.AllowedOrigins
	}

	return s, nil
}

func action(ctx context.Context, cmd *cli.Command) error {
	l := logger.StdlibLogger(ctx)

	if err := localconfig.InitServeConfig(ctx, cmd); err != nil {
		return err
	}

	s, err := resolveSettings(cmd, localconfig.GetConfig())
	if err != nil {
		return err
	}

	gwConf := config.GatewayConfig(ctx)
	if s.RedisURI != "" {
		gwConf.ReplayStore = config.ReplayStoreRedis
		gwConf.RedisURI = s.RedisURI
	}

	if !s.Credentials.Valid() {
		l.Warn("no default credentials configured, every request must send basic auth")
	}

	set := tools.NewSet(s.EnabledModules, tools.Modules()...)
	if set.Len() == 0 {
		return fmt.Errorf("no tools enabled, check the enabled modules: %s", strings.Join(s.EnabledModules, ","))
	}
	l.Info("tools enabled", "tools", set.Len(), "modules", s.EnabledModules, "full_response", s.FullResponse)

	pool := dataforseo.NewPool(dataforseo.Config{
		FullResponse: s.FullResponse,
		Timeout:      s.HTTPTimeout,
		Logger:       l,
	})
	defer pool.Stop()

	m, err := metrics.NewMetricsAPI(metrics.Opts{})
	if err != nil {
		return err
	}

	dispatcher := dispatch.NewServer(
		set,
		func(c auth.Credentials) tools.Caller { return pool.Client(c) },
		dispatch.WithTimeout(s.HTTPTimeout),
		dispatch.WithLogger(l),
		dispatch.WithObserver(m),
	)

	store, closeStore, err := newEventStore(gwConf)
	if err != nil {
		return err
	}
	defer closeStore()

	return service.Start(ctx, gateway.NewGatewayService(
		gateway.WithAddr(s.Addr),
		gateway.WithConfig(gwConf),
		gateway.WithAuthHandler(auth.NewResolver(s.Credentials).Resolve),
		gateway.WithDispatcher(dispatcher),
		gateway.WithEventStore(store),
		gateway.WithMetrics(m),
		gateway.WithAllowedOrigins(s.AllowedOrigins),
	))
}

// newEventStore returns the replay store and a func releasing its resources.
func newEventStore(conf config.Gateway) (eventstore.Store, func(), error) {
	if conf.ReplayStore != config.ReplayStoreRedis {
		return eventstore.NewMemoryStore(conf.ReplayBufferSize), func() {}, nil
	}

	opt, err := rueidis.ParseURL(conf.RedisURI)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis uri: %w", err)
	}
	opt.DisableCache = true

	rc, err := rueidis.NewClient(opt)
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	return eventstore.NewRedisStore(rc, eventstore.DefaultRedisPrefix, conf.ReplayTTL), rc.Close, nil
}

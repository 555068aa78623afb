package config

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/logger"
	"github.com/spf13/viper"
)

func init() {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
}

const (
	ReplayStoreMemory = "memory"
	ReplayStoreRedis  = "redis"
)

// Keys map to environment variables by upper-casing and replacing dots, eg.
// mcpgw.stream.idle_timeout is read from MCPGW_STREAM_IDLE_TIMEOUT.
const (
	StreamIdleTimeoutKey  = "mcpgw.stream.idle_timeout"
	KeepAliveIntervalKey  = "mcpgw.stream.keepalive_interval"
	SessionIdleTimeoutKey = "mcpgw.session.idle_timeout"
	ReaperIntervalKey     = "mcpgw.session.reaper_interval"
	ShutdownTimeoutKey    = "mcpgw.shutdown_timeout"
	ReplayStoreKey        = "mcpgw.replay.store"
	ReplayBufferSizeKey   = "mcpgw.replay.buffer_size"
	ReplayTTLKey          = "mcpgw.replay.ttl"
	RedisURIKey           = "mcpgw.redis.uri"
)

// Gateway holds the session gateway's timers and replay store settings.
type Gateway struct {
	// StreamIdleTimeout closes a server-push stream that has not been written to for
	// this long.
	StreamIdleTimeout time.Duration
	// KeepAliveInterval is how often idle streams get a comment ping.  Zero disables
	// keepalives.
	KeepAliveInterval time.Duration
	// SessionIdleTimeout is the inactivity after which the reaper closes a session.
	SessionIdleTimeout time.Duration
	ReaperInterval     time.Duration
	ShutdownTimeout    time.Duration

	// ReplayStore is either "memory" or "redis".
	ReplayStore      string
	ReplayBufferSize int
	ReplayTTL        time.Duration
	RedisURI         string
}

var DefaultGateway = Gateway{
	StreamIdleTimeout:  30 * time.Second,
	KeepAliveInterval:  15 * time.Second,
	SessionIdleTimeout: 5 * time.Minute,
	ReaperInterval:     time.Minute,
	ShutdownTimeout:    30 * time.Second,
	ReplayStore:        ReplayStoreMemory,
	ReplayBufferSize:   1024,
	ReplayTTL:          time.Hour,
}

var (
	gatewayConfig Gateway
	configOnce    sync.Once
)

func getWithDefault[T any](key string, defaultValue T, getter func(string) T) T {
	if viper.IsSet(key) {
		return getter(key)
	}
	return defaultValue
}

// LoadGateway reads the gateway settings without caching them.
func LoadGateway(ctx context.Context) Gateway {
	d := DefaultGateway
	cfg := Gateway{
		StreamIdleTimeout:  getWithDefault(StreamIdleTimeoutKey, d.StreamIdleTimeout, viper.GetDuration),
		KeepAliveInterval:  getWithDefault(KeepAliveIntervalKey, d.KeepAliveInterval, viper.GetDuration),
		SessionIdleTimeout: getWithDefault(SessionIdleTimeoutKey, d.SessionIdleTimeout, viper.GetDuration),
		ReaperInterval:     getWithDefault(ReaperIntervalKey, d.ReaperInterval, viper.GetDuration),
		ShutdownTimeout:    getWithDefault(ShutdownTimeoutKey, d.ShutdownTimeout, viper.GetDuration),
		ReplayStore:        strings.ToLower(getWithDefault(ReplayStoreKey, d.ReplayStore, viper.GetString)),
		ReplayBufferSize:   getWithDefault(ReplayBufferSizeKey, d.ReplayBufferSize, viper.GetInt),
		ReplayTTL:          getWithDefault(ReplayTTLKey, d.ReplayTTL, viper.GetDuration),
		RedisURI:           getWithDefault(RedisURIKey, d.RedisURI, viper.GetString),
	}

	l := logger.StdlibLogger(ctx)

	if cfg.StreamIdleTimeout <= 0 {
		l.Warn("invalid stream idle timeout, using default", "value", cfg.StreamIdleTimeout)
		cfg.StreamIdleTimeout = d.StreamIdleTimeout
	}
	if cfg.KeepAliveInterval < 0 {
		cfg.KeepAliveInterval = 0
	}
	if cfg.KeepAliveInterval >= cfg.StreamIdleTimeout {
		l.Warn("keepalive interval is not shorter than the stream idle timeout, idle streams will be closed",
			"keepalive", cfg.KeepAliveInterval,
			"stream_idle_timeout", cfg.StreamIdleTimeout,
		)
	}
	if cfg.SessionIdleTimeout <= 0 {
		l.Warn("invalid session idle timeout, using default", "value", cfg.SessionIdleTimeout)
		cfg.SessionIdleTimeout = d.SessionIdleTimeout
	}
	if cfg.ReaperInterval <= 0 {
		l.Warn("invalid reaper interval, using default", "value", cfg.ReaperInterval)
		cfg.ReaperInterval = d.ReaperInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	if cfg.ReplayStore != ReplayStoreMemory && cfg.ReplayStore != ReplayStoreRedis {
		l.Error("unknown replay store, using memory", "store", cfg.ReplayStore)
		cfg.ReplayStore = ReplayStoreMemory
	}
	if cfg.ReplayStore == ReplayStoreRedis && cfg.RedisURI == "" {
		l.Error("redis replay store requires a redis uri, using memory")
		cfg.ReplayStore = ReplayStoreMemory
	}
	if cfg.ReplayBufferSize <= 0 {
		cfg.ReplayBufferSize = d.ReplayBufferSize
	}
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = d.ReplayTTL
	}

	return cfg
}

// GatewayConfig returns the gateway settings, reading them on first use.
func GatewayConfig(ctx context.Context) Gateway {
	configOnce.Do(func() {
		gatewayConfig = LoadGateway(ctx)
	})
	return gatewayConfig
}

// SetGatewayConfig is used for testing
func SetGatewayConfig(ctx context.Context, config Gateway) {
	// Make sure to initialize config to avoid overriding it with sync.Once
	GatewayConfig(ctx)

	gatewayConfig = config
}

package metrics

import (
	"net/http"
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "mcpgw"

// SessionCounter reports the number of live sessions per transport.
type SessionCounter interface {
	Counts() map[session.Kind]int
}

// Opts holds the configuration options for the metrics API
type Opts struct {
	AuthMiddleware func(http.Handler) http.Handler
	// Sessions is optional.  When set, the sessions gauge is read from it on every
	// scrape instead of being tracked from lifecycle events.
	Sessions SessionCounter
}

// MetricsAPI provides Prometheus-compatible metrics endpoints.  It also listens to
// session lifecycle events and records auth failures and tool calls.
type MetricsAPI struct {
	opts     Opts
	Router   chi.Router
	registry *prometheus.Registry

	sessionsGauge   *prometheus.GaugeVec
	sessionsCreated *prometheus.CounterVec
	sessionsClosed  *prometheus.CounterVec
	authFailures    prometheus.Counter
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
}

// NewMetricsAPI creates a new metrics API instance with Prometheus integration
func NewMetricsAPI(opts Opts) (*MetricsAPI, error) {
	registry := prometheus.NewRegistry()

	api := &MetricsAPI{
		opts:     opts,
		Router:   chi.NewRouter(),
		registry: registry,
		sessionsGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of live sessions by transport",
		}, []string{"transport"}),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created by transport",
		}, []string{"transport"}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of sessions closed by transport and reason",
		}, []string{"transport", "reason"}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of requests rejected for missing or invalid credentials",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls by tool and outcome",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of tool calls including upstream retries",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		}, []string{"tool"}),
	}

	registry.MustRegister(
		api.sessionsGauge,
		api.sessionsCreated,
		api.sessionsClosed,
		api.authFailures,
		api.toolCalls,
		api.toolDuration,
	)

	api.setupRoutes()
	return api, nil
}

// setupRoutes configures the HTTP routes for the metrics API
func (api *MetricsAPI) setupRoutes() {
	handler := http.HandlerFunc(api.handleMetrics)

	if api.opts.AuthMiddleware != nil {
		handler = api.opts.AuthMiddleware(handler).ServeHTTP
	}

	api.Router.Get("/", handler)
}

func (api *MetricsAPI) OnSessionCreated(s *session.Session) {
	api.sessionsCreated.WithLabelValues(s.Kind.String()).Inc()
	if api.opts.Sessions == nil {
		api.sessionsGauge.WithLabelValues(s.Kind.String()).Inc()
	}
}

func (api *MetricsAPI) OnSessionClosed(s *session.Session, reason session.Reason) {
	api.sessionsClosed.WithLabelValues(s.Kind.String(), string(reason)).Inc()
	if api.opts.Sessions == nil {
		api.sessionsGauge.WithLabelValues(s.Kind.String()).Dec()
	}
}

func (api *MetricsAPI) AuthFailed() {
	api.authFailures.Inc()
}

func (api *MetricsAPI) ObserveToolCall(tool, status string, dur time.Duration) {
	api.toolCalls.WithLabelValues(tool, status).Inc()
	api.toolDuration.WithLabelValues(tool).Observe(dur.Seconds())
}

// handleMetrics serves Prometheus-formatted metrics
func (api *MetricsAPI) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if api.opts.Sessions != nil {
		counts := api.opts.Sessions.Counts()
		for _, kind := range session.KindValues() {
			api.sessionsGauge.WithLabelValues(kind.String()).Set(float64(counts[kind]))
		}
	}

	metricFamilies, err := api.registry.Gather()
	if err != nil {
		http.Error(w, "Failed to gather metrics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", string(expfmt.FmtText))

	encoder := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			http.Error(w, "Failed to encode metrics", http.StatusInternalServerError)
			return
		}
	}
}

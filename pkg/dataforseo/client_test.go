package dataforseo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/auth"
	"github.com/dataforseo/mcp-gateway/pkg/backoff"
	"github.com/dataforseo/mcp-gateway/pkg/logger"
	"github.com/stretchr/testify/require"
)

var testCreds = auth.Credentials{Username: "login", Password: "secret"}

func testConfig(url string) Config {
	return Config{
		BaseURL: url,
		Timeout: 5 * time.Second,
		Backoff: backoff.GetLinearBackoffFunc(time.Millisecond),
	}
}

func TestRequest(t *testing.T) {
	var (
		path string
		hdr  http.Header
		body []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		hdr = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"status_code":20000}`))
	}))
	defer srv.Close()

	c := New(testCreds, testConfig(srv.URL))

	resp, err := c.Request(context.Background(), http.MethodPost, "/v3/serp/google/organic/live/advanced", []map[string]any{{"keyword": "go"}}, false)
	require.NoError(t, err)
	require.JSONEq(t, `{"status_code":20000}`, string(resp))

	require.Equal(t, "/v3/serp/google/organic/live/advanced.ai", path)
	require.Equal(t, testCreds.BasicAuth(), hdr.Get("Authorization"))
	require.Equal(t, "application/json", hdr.Get("Content-Type"))
	require.Contains(t, hdr.Get("User-Agent"), "dataforseo-mcp-gateway/")
	require.JSONEq(t, `[{"keyword":"go"}]`, string(body))
}

func TestRequestLogsTimings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status_code":20000}`))
	}))
	defer srv.Close()

	buf := &bytes.Buffer{}
	cfg := testConfig(srv.URL)
	cfg.Logger = logger.StdlibLogger(context.Background(),
		logger.WithHandler(logger.JSONHandler),
		logger.WithLoggerWriter(buf),
		logger.WithLoggerLevel(slog.LevelDebug),
	)

	_, err := New(testCreds, cfg).Request(context.Background(), http.MethodGet, "/v3/x", nil, true)
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "upstream request", line["msg"])
	require.Equal(t, srv.URL+"/v3/x", line["url"])
	require.EqualValues(t, http.StatusOK, line["status"])
	require.Contains(t, line, "server_processing")
	require.Contains(t, line, "total")
	require.NotContains(t, buf.String(), testCreds.Password)
}

func TestURLSuffix(t *testing.T) {
	c := New(testCreds, Config{BaseURL: "https://example.com/"})
	require.Equal(t, "https://example.com/v3/x.ai", c.URL("/v3/x", false))
	require.Equal(t, "https://example.com/v3/x", c.URL("v3/x", true))

	full := New(testCreds, Config{BaseURL: "https://example.com", FullResponse: true})
	require.Equal(t, "https://example.com/v3/x", full.URL("/v3/x", false))
	require.True(t, full.FullResponse())

	require.Equal(t, DefaultBaseURL+"/v3/x.ai", New(testCreds, Config{}).URL("/v3/x", false))
}

func TestRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	resp, err := New(testCreds, testConfig(srv.URL)).Request(context.Background(), http.MethodGet, "/v3/ping", nil, true)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(resp))
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRetriesExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(testCreds, testConfig(srv.URL)).Request(context.Background(), http.MethodGet, "/v3/ping", nil, true)
	require.Error(t, err)

	var serr StatusError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, http.StatusTooManyRequests, serr.StatusCode)
	require.EqualValues(t, DefaultMaxAttempts, atomic.LoadInt32(&calls))
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status_message":"nope"}`))
	}))
	defer srv.Close()

	_, err := New(testCreds, testConfig(srv.URL)).Request(context.Background(), http.MethodGet, "/v3/ping", nil, true)
	require.EqualError(t, err, "HTTP error! status: 401")
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := New(testCreds, cfg).Request(context.Background(), http.MethodGet, "/v3/slow", nil, true)
	require.Less(t, time.Since(start), 2*time.Second)

	var terr TimeoutError
	require.ErrorAs(t, err, &terr)
	require.Contains(t, err.Error(), "Request timeout after 50ms")
}

func TestCancelledByCaller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-time.After(20 * time.Millisecond)
		cancel()
	}()

	_, err := New(testCreds, testConfig(srv.URL)).Request(ctx, http.MethodGet, "/v3/slow", nil, true)
	require.ErrorIs(t, err, context.Canceled)
}

func TestInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := New(testCreds, testConfig(srv.URL)).Request(context.Background(), http.MethodGet, "/v3/x", nil, true)
	require.Error(t, err)
}

func TestRequestBodyMarshalError(t *testing.T) {
	_, err := New(testCreds, Config{}).Request(context.Background(), http.MethodPost, "/v3/x", map[string]any{"f": func() {}}, true)
	require.Error(t, err)
	var jerr *json.UnsupportedTypeError
	require.ErrorAs(t, err, &jerr)
}

package gateway

import (
	"errors"
	"net/http"
	"runtime/debug"
	"sync/atomic"

	"github.com/dataforseo/mcp-gateway/pkg/logger"
	"github.com/felixge/httpsnoop"
)

var errPanic = errors.New("panic handling request")

// recoverer turns panics into a 500 envelope when nothing has been written yet.  Once a
// response has started, eg. an event stream, the panic is only logged.
func recoverer(l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var started atomic.Bool

			ww := httpsnoop.Wrap(w, httpsnoop.Hooks{
				WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
					return func(code int) {
						started.Store(true)
						next(code)
					}
				},
				Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
					return func(b []byte) (int, error) {
						started.Store(true)
						return next(b)
					}
				},
			})

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				l.Error("panic handling request",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				if !started.Load() {
					writeError(w, errPanic)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func requestLogger(l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			l.Debug("handled request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", m.Code,
				"bytes", m.Written,
				"duration", m.Duration,
			)
		})
	}
}

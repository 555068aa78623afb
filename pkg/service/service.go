// Package service runs a long-lived process component: it initializes it, runs it until
// the context ends, the component fails or the process is signalled, then stops it within
// a deadline.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
)

const DefaultTimeout = 30 * time.Second

var ErrPreTimeout = fmt.Errorf("service did not pre-up within the given timeout")

type wgctx struct{}

// GetWaitgroup returns the waitgroup of the running service.  Stop does not return until
// every goroutine added to it is done.
func GetWaitgroup(ctx context.Context) *sync.WaitGroup {
	wg, _ := ctx.Value(wgctx{}).(*sync.WaitGroup)
	if wg == nil {
		wg = &sync.WaitGroup{}
	}
	return wg
}

// Service is a long-running component of the gateway process.
type Service interface {
	Name() string
	// Pre prepares the service, returning an error if it cannot run.
	Pre(ctx context.Context) error
	// Run blocks until ctx is cancelled or the service fails.
	Run(ctx context.Context) error
	// Stop gracefully shuts the service down before ctx's deadline.
	Stop(ctx context.Context) error
}

// StartTimeouter bounds how long Pre may take.
type StartTimeouter interface {
	StartTimeout() time.Duration
}

// StopTimeouter bounds how long Stop may take.
type StopTimeouter interface {
	StopTimeout() time.Duration
}

type StartOpt func(r *runner)

// WithSignals replaces the signals that stop the service.  Defaults to SIGINT and SIGTERM.
func WithSignals(sigs ...os.Signal) StartOpt {
	return func(r *runner) {
		r.signals = sigs
	}
}

func WithClock(c clockwork.Clock) StartOpt {
	return func(r *runner) {
		r.clock = c
	}
}

type runner struct {
	svc     Service
	signals []os.Signal
	clock   clockwork.Clock
	log     logger.Logger
	wg      *sync.WaitGroup
}

// Start calls Pre, then Run, and finally Stop once Run returns, ctx is cancelled or one of
// the stop signals arrives.  A cancelled context is not an error.
func Start(ctx context.Context, s Service, opts ...StartOpt) error {
	r := &runner{
		svc:     s,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
		clock:   clockwork.NewRealClock(),
		wg:      &sync.WaitGroup{},
	}
	for _, apply := range opts {
		apply(r)
	}

	r.log = logger.StdlibLogger(ctx).With("service", s.Name())
	ctx = logger.WithStdlib(ctx, r.log)

	if err := r.pre(ctx); err != nil {
		return err
	}

	err := r.run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if stopErr := r.stop(); stopErr != nil {
		err = multierror.Append(err, stopErr)
	}
	return err
}

func (r *runner) pre(ctx context.Context) error {
	timeout := DefaultTimeout
	if t, ok := r.svc.(StartTimeouter); ok {
		timeout = t.StartTimeout()
	}

	done := make(chan error, 1)
	go func() {
		done <- r.svc.Pre(ctx)
	}()

	select {
	case <-r.clock.After(timeout):
		return ErrPreTimeout
	case err := <-done:
		return err
	}
}

// run blocks until the service should stop, returning the error Run ended with.
func (r *runner) run(ctx context.Context) (err error) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, r.signals...)
	defer signal.Stop(sigs)

	runCtx, cancel := context.WithCancel(context.WithValue(ctx, wgctx{}, r.wg))
	defer cancel()

	runErr := make(chan error, 1)
	r.log.Info("service starting")
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("service panicked", "recover", rec)
				runErr <- fmt.Errorf("service %s panicked: %v", r.svc.Name(), rec)
			}
		}()
		runErr <- r.svc.Run(runCtx)
	}()

	select {
	case sig := <-sigs:
		r.log.Info("received signal", "signal", sig.String())
		return nil
	case err = <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("service errored", "error", err)
			return err
		}
		r.log.Warn("service run stopped")
		return nil
	case <-ctx.Done():
		r.log.Info("service context done")
		return ctx.Err()
	}
}

// stop calls Stop with a fresh context bounded by the stop timeout, so in-flight work can
// drain after the parent context is gone.
func (r *runner) stop() error {
	timeout := DefaultTimeout
	if t, ok := r.svc.(StopTimeouter); ok {
		timeout = t.StopTimeout()
	}

	ctx, cancel := context.WithTimeout(logger.WithStdlib(context.Background(), r.log), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		r.log.Info("service cleaning up")
		if err := r.svc.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			done <- err
			return
		}
		r.wg.Wait()
		done <- nil
	}()

	select {
	case <-r.clock.After(timeout):
		r.log.Error("service did not clean up within timeout", "timeout", timeout)
		return nil
	case err := <-done:
		return err
	}
}

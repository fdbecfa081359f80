// Package app wires the hush HTTP service into a running application.
//
// The App struct owns the full lifecycle: New builds the handlers and binds
// the listener, Run serves until the context is cancelled, and Shutdown
// drains streaming sessions and tears everything down in order.
//
// For testing, inject collaborators via functional options (WithRegistry,
// WithMetrics, WithListener). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/hush/internal/config"
	"github.com/MrWong99/hush/internal/health"
	"github.com/MrWong99/hush/internal/observe"
	"github.com/MrWong99/hush/internal/server"
	"github.com/MrWong99/hush/internal/stream"
)

// readHeaderTimeout bounds slow clients sending request headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes of the hush server.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	logger   *slog.Logger
	scrape   http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	health   *health.Handler
	stream   *stream.Handler
	server   *server.Server
	listener net.Listener
	httpSrv  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry injects a classifier registry instead of the built-in one.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics injects metrics instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger injects a logger instead of [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetricsHandler serves h on /metrics instead of the default Prometheus
// registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// WithListener injects a bound listener instead of listening on
// cfg.Server.ListenAddr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together and binding the
// listener, so [App.Addr] is valid before Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewDefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	// Fail fast on a classifier the registry cannot build.
	if _, err := a.registry.CreateClassifier(cfg.Detector); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.stream = stream.NewHandler(cfg, a.registry,
		stream.WithLogger(a.logger),
		stream.WithMetrics(a.metrics),
	)
	a.health = health.New(health.Checker{Name: "sessions", Check: a.stream.CheckCapacity})
	srvOpts := []server.Option{
		server.WithLogger(a.logger),
		server.WithMetrics(a.metrics),
		server.WithStream(a.stream),
		server.WithHealth(a.health),
	}
	if a.scrape != nil {
		srvOpts = append(srvOpts, server.WithMetricsHandler(a.scrape))
	}
	a.server = server.New(cfg, a.registry, srvOpts...)

	if a.listener == nil {
		ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("app: listen %q: %w", cfg.Server.ListenAddr, err)
		}
		a.listener = ln
	}
	a.httpSrv = &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(a.logger.Handler(), slog.LevelWarn),
	}
	return a, nil
}

// Addr returns the address the server listens on.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// Apply hands a reloaded config to the subsystems. Settings that require a
// restart are ignored; callers learn about them from [config.Diff].
func (a *App) Apply(cfg *config.Config) {
	a.stream.Apply(cfg)
	a.server.Apply(cfg)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the server fails. It returns nil
// after cancellation; call Shutdown afterwards to drain.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(a.listener)
		}
		errCh <- err
	}()
	a.logger.Info("http server listening",
		"addr", a.Addr().String(),
		"tls", a.cfg.Server.TLS != nil,
	)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the service as draining, closes streaming sessions, stops
// the HTTP server and runs the closers. It respects the context deadline:
// if ctx expires before all closers finish, remaining closers are skipped
// and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "active_streams", a.stream.Active())
		a.health.SetDraining(true)

		if err := a.stream.Shutdown(ctx); err != nil {
			a.logger.Warn("stream sessions did not drain", "err", err)
			shutdownErr = err
		}
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			a.logger.Warn("http server shutdown error", "err", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// OnShutdown registers fn to run after the HTTP server stopped. Closers run
// in registration order.
func (a *App) OnShutdown(fn func() error) {
	a.closers = append(a.closers, fn)
}

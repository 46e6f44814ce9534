package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeLoop/internal/domain/models"
	"TradeLoop/pkg/config"
	xhttp "TradeLoop/pkg/http"
	applogger "TradeLoop/pkg/logger"
)

// Loop is the decision loop the app drives.
type Loop interface {
	Start() bool
	Stop() bool
	Wait(ctx context.Context) error
	Analyze(ctx context.Context, symbol string) (models.AggregatedDecision, error)
}

// Component is a background service started before the HTTP server and
// stopped after it, in reverse order.
type Component struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

// Runner adapts a blocking run function into a Component. Stop cancels the
// run context and waits for the function to return.
func Runner(name string, run func(ctx context.Context)) Component {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	return Component{
		Name: name,
		Start: func(ctx context.Context) error {
			ctx, cancel = context.WithCancel(ctx)
			done = make(chan struct{})
			go func() {
				defer close(done)
				run(ctx)
			}()
			return nil
		},
		Stop: func(ctx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// Ticker runs fn every interval until stopped.
func Ticker(name string, interval time.Duration, fn func()) Component {
	return Runner(name, func(ctx context.Context) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	})
}

type closer struct {
	name string
	fn   func() error
}

type Option func(*App)

// WithComponent appends a background component.
func WithComponent(c Component) Option {
	return func(a *App) { a.components = append(a.components, c) }
}

// WithCloser registers a resource released at shutdown, in registration order.
func WithCloser(name string, fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, closer{name: name, fn: fn}) }
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	httpServer *xhttp.Server
	loop       Loop
	components []Component
	closers    []closer
	started    int
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, httpServer *xhttp.Server, loop Loop, opts ...Option) *App {
	a := &App{
		cfg:        cfg,
		log:        l.With("app"),
		httpServer: httpServer,
		loop:       loop,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Loop exposes the decision loop for one-shot commands.
func (a *App) Loop() Loop { return a.loop }

// Run starts every component and the HTTP server, then blocks until ctx is
// done and shuts down.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting", applogger.String("env", a.cfg.Environment), applogger.Int("port", a.cfg.Server.Port))
	for _, c := range a.components {
		if err := c.Start(ctx); err != nil {
			a.log.Error("component start failed", applogger.String("component", c.Name), applogger.Error(err))
			_ = a.Shutdown(context.WithoutCancel(ctx))
			return fmt.Errorf("start %s: %w", c.Name, err)
		}
		a.started++
		a.log.Info("component started", applogger.String("component", c.Name))
	}

	if err := a.httpServer.Start(); err != nil {
		_ = a.Shutdown(context.WithoutCancel(ctx))
		return err
	}

	if a.cfg.Scheduler.AutoStart && a.loop.Start() {
		a.log.Info("decision loop started", applogger.Duration("interval", a.cfg.Scheduler.Interval))
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown stops the loop, the HTTP server and the started components, then
// releases resources. It is bounded by the server shutdown timeout.
func (a *App) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	a.loop.Stop()
	if err := a.loop.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("decision loop: %w", err))
	}

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	for i := a.started - 1; i >= 0; i-- {
		c := a.components[i]
		if err := c.Stop(ctx); err != nil {
			a.log.Warn("component stop error", applogger.String("component", c.Name), applogger.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name, err))
		}
	}
	a.started = 0

	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}

// Close releases resources without touching running components. One-shot
// commands that never called Run use it directly.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.fn(); err != nil {
			a.log.Warn("close error", applogger.String("resource", c.name), applogger.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

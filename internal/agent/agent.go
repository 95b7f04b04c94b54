// Package agent hooks the host once it has started and keeps the settings the
// hooks read up to date.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pboyd/hotpatch"
	"github.com/pboyd/hotpatch/internal/config"
	"github.com/pboyd/hotpatch/internal/logger"
	"github.com/pboyd/hotpatch/internal/metrics"
	"github.com/pboyd/hotpatch/internal/module"
	"github.com/pboyd/hotpatch/internal/pacer"
)

// ErrModule means the module holding the hook targets could not be found.
var ErrModule = errors.New("cannot resolve module")

// Agent installs the configured hooks and patches and owns everything they
// use at run time: the live settings, the frame pacer and the metrics.
type Agent struct {
	cfg *config.AppConfig
	dir string

	logger   *log.Logger
	shared   *config.Shared
	source   config.Source
	reloader *config.Reloader

	timer pacer.TimerDevice
	clock pacer.Clock
	pacer atomic.Pointer[pacer.Pacer]

	installer *hotpatch.Installer
	threads   hotpatch.ThreadSource
	exit      func(int)
	resolve   func(name string) (module.Module, error)
	bindings  map[string]Factory
	native    nativeABI

	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger of the agent and the components it creates.
func WithLogger(l *log.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

// WithBaseDir sets the directory a relative settings path is resolved in.
func WithBaseDir(dir string) Option {
	return func(a *Agent) {
		a.dir = dir
	}
}

// WithSource reads settings from src instead of the configured file.
func WithSource(src config.Source) Option {
	return func(a *Agent) {
		a.source = src
	}
}

// WithTimer replaces the system timer.
func WithTimer(t pacer.TimerDevice) Option {
	return func(a *Agent) {
		a.timer = t
	}
}

// WithClock replaces the system clock.
func WithClock(c pacer.Clock) Option {
	return func(a *Agent) {
		a.clock = c
	}
}

// WithThreads replaces the threads suspended while hooking.
func WithThreads(t hotpatch.ThreadSource) Option {
	return func(a *Agent) {
		a.threads = t
	}
}

// WithExit replaces os.Exit for the case where suspended threads can't be
// resumed.
func WithExit(exit func(int)) Option {
	return func(a *Agent) {
		a.exit = exit
	}
}

// WithResolver replaces module.Resolve.
func WithResolver(resolve func(string) (module.Module, error)) Option {
	return func(a *Agent) {
		a.resolve = resolve
	}
}

// WithInstaller replaces the hook installer.
func WithInstaller(in *hotpatch.Installer) Option {
	return func(a *Agent) {
		a.installer = in
	}
}

// WithBinding adds a binding only this agent can use. It takes precedence over
// RegisterBinding.
func WithBinding(name string, f Factory) Option {
	return func(a *Agent) {
		a.bindings[name] = f
	}
}

// WithRegistry registers metrics with reg instead of the default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *Agent) {
		a.registry = reg
	}
}

// New returns an Agent for cfg. Nothing is touched until Start.
func New(cfg *config.AppConfig, opts ...Option) *Agent {
	a := &Agent{
		cfg:      cfg,
		timer:    pacer.SystemTimer(),
		clock:    pacer.SystemClock(),
		threads:  hotpatch.SystemThreads(),
		exit:     os.Exit,
		resolve:  module.Resolve,
		bindings: map[string]Factory{},
	}
	for _, opt := range opts {
		opt(a)
	}

	custom := a.logger
	componentLogger := func(name string) *log.Logger {
		if custom != nil {
			return custom
		}
		return logger.NewLoggerWithContext(name)
	}
	if a.logger == nil {
		a.logger = logger.NewLoggerWithContext("agent")
	}

	if a.installer == nil {
		a.installer = hotpatch.NewInstaller()
		a.installer.Logger = componentLogger("hotpatch")
	}
	a.installer.Verify = cfg.Agent.Verify
	a.native.place = a.installer.Place

	if cfg.Metrics.Enabled {
		var reg prometheus.Registerer = prometheus.DefaultRegisterer
		if a.registry != nil {
			reg = a.registry
		}
		a.metrics = metrics.New(reg)
	}

	a.shared = config.NewShared(config.DefaultValues(), componentLogger("settings"))
	if a.source == nil {
		a.source = config.FileSource{Path: a.settingsPath()}
	}
	a.reloader = &config.Reloader{
		Shared:   a.shared,
		Source:   a.source,
		Interval: cfg.Agent.ReloadInterval.Duration,
		Logger:   componentLogger("settings"),
		Metrics:  a.metrics,
	}

	return a
}

func (a *Agent) settingsPath() string {
	path := a.cfg.Agent.Settings
	if !filepath.IsAbs(path) && a.dir != "" {
		path = filepath.Join(a.dir, path)
	}
	return path
}

// Settings returns the live settings.
func (a *Agent) Settings() *config.Shared {
	return a.shared
}

// Hooks returns the installed hooks.
func (a *Agent) Hooks() []*hotpatch.Hook {
	return a.installer.Hooks()
}

// Tick paces the caller to the configured frame rate. It returns immediately
// until Start has set up the pacer.
func (a *Agent) Tick() {
	if p := a.pacer.Load(); p != nil {
		p.Tick()
	}
}

// Start waits out the startup delay, then prepares the timer, loads the
// settings and installs every hook and patch. Background tasks keep running
// until ctx is done.
//
// An error means the agent could not hook the host. Individual hooks that fail
// to install are logged and skipped.
func (a *Agent) Start(ctx context.Context) error {
	cfg := a.cfg

	a.logger.Info().
		Str("module", cfg.Agent.Module).
		Dur("delay", cfg.Agent.StartupDelay.Duration).
		Msg("agent started, waiting for the host")

	if err := sleep(ctx, cfg.Agent.StartupDelay.Duration); err != nil {
		return err
	}

	res := pacer.Negotiate(a.timer, cfg.Pacer.TimerAttempts, a.logger)
	p := pacer.New(a.shared, a.clock, a.timer, res.Achieved, a.metrics)
	if cfg.Pacer.Bucket.Duration > 0 {
		p.Bucket = cfg.Pacer.Bucket.Duration
	}
	a.pacer.Store(p)

	a.prepareSettings()
	a.reloader.Reload()

	mod, err := a.resolve(cfg.Agent.Module)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrModule, cfg.Agent.Module, err)
	}

	reference := uintptr(cfg.Agent.ReferenceBase)
	if reference == 0 {
		reference, err = module.PreferredBase(mod.Path)
		if err != nil {
			return fmt.Errorf("%w %q: %w", ErrModule, cfg.Agent.Module, err)
		}
	}

	a.logger.Info().
		Str("module", mod.Name).
		Str("path", mod.Path).
		Str("base", fmt.Sprintf("%#x", mod.Base)).
		Str("reference_base", fmt.Sprintf("%#x", reference)).
		Msg("module resolved")

	steps, err := a.plan(mod, reference)
	if err != nil {
		return err
	}

	if err := a.apply(steps); err != nil {
		return err
	}

	go a.reloader.Run(ctx)

	if cfg.Metrics.Enabled {
		a.serveMetrics(ctx)
	}

	a.logger.Info().Int("hooks", len(a.installer.Hooks())).Msg("agent ready")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// prepareSettings writes the current values to the settings file when it
// doesn't exist yet, so there is something to edit.
func (a *Agent) prepareSettings() {
	fsrc, ok := a.source.(config.FileSource)
	if !ok {
		return
	}
	if _, err := os.Stat(fsrc.Path); !errors.Is(err, os.ErrNotExist) {
		return
	}
	if err := config.WriteSettings(fsrc.Path, a.shared.Snapshot()); err != nil {
		a.logger.Warn().Err(err).Str("path", fsrc.Path).Msg("cannot write default settings")
		return
	}
	a.logger.Info().Str("path", fsrc.Path).Msg("wrote default settings")
}

func (a *Agent) serveMetrics(ctx context.Context) {
	var handler http.Handler = promhttp.Handler()
	if a.registry != nil {
		handler = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, handler)

	srv := &http.Server{
		Addr:    a.cfg.Metrics.ListenAddress,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("error shutting down metrics server")
		}
	}()

	go func() {
		a.logger.Info().
			Str("address", a.cfg.Metrics.ListenAddress).
			Str("path", a.cfg.Metrics.Path).
			Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

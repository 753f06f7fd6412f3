package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vinayprograms/coordkit/bus"
	"github.com/vinayprograms/coordkit/config"
	"github.com/vinayprograms/coordkit/logging"
	"github.com/vinayprograms/coordkit/shutdown"
	"github.com/vinayprograms/coordkit/tasks"
	"github.com/vinayprograms/coordkit/telemetry"
)

// Runtime owns one bus, one task manager and their shutdown ordering.
type Runtime struct {
	Config   config.Config
	Logger   *logging.Logger
	Bus      *bus.MessageBus
	Tasks    *tasks.Manager
	Shutdown *shutdown.Coordinator

	tracer   *telemetry.Tracer
	provider *telemetry.Provider

	mu      sync.Mutex
	cancel  context.CancelFunc
	runDone chan struct{}
	runErr  error
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger replaces the logger built from the logging config.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runtime) { r.Logger = l }
}

// WithTracer replaces the tracer built from the telemetry config.
func WithTracer(t *telemetry.Tracer) Option {
	return func(r *Runtime) { r.tracer = t }
}

// New builds a stopped runtime from cfg. When telemetry is enabled and no
// tracer is supplied, an OTLP provider is started and flushed on Stop.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{Config: cfg}
	for _, opt := range opts {
		opt(r)
	}

	if r.Logger == nil {
		level, _ := logging.ParseLevel(cfg.Logging.Level)
		r.Logger = logging.New()
		r.Logger.SetLevel(level)
	}

	if r.tracer == nil {
		if cfg.Telemetry.Enabled {
			provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
				ServiceName: cfg.Telemetry.ServiceName,
				Endpoint:    cfg.Telemetry.Endpoint,
				Protocol:    cfg.Telemetry.Protocol,
				Insecure:    cfg.Telemetry.Insecure,
				Debug:       cfg.Telemetry.Debug,
			})
			if err != nil {
				return nil, fmt.Errorf("initializing telemetry: %w", err)
			}
			r.provider = provider
			r.tracer = provider.Tracer()
		} else {
			r.tracer = telemetry.Noop()
		}
	}

	r.Bus = bus.New(
		bus.Config{HistorySize: cfg.Bus.HistorySize},
		bus.WithLogger(r.Logger.WithComponent("bus")),
		bus.WithTracer(r.tracer),
	)
	r.Tasks = tasks.NewManager(
		tasks.WithLogger(r.Logger.WithComponent("tasks")),
		tasks.WithTracer(r.tracer),
		tasks.WithWorkerID(cfg.Tasks.WorkerID),
	)

	r.Shutdown = shutdown.NewCoordinator(shutdown.Config{
		DefaultTimeout:  cfg.Shutdown.Timeout,
		ContinueOnError: true,
		Logger:          r.Logger.WithComponent("shutdown"),
	})
	r.Shutdown.RegisterWithPhase("intake", shutdown.ShutdownFunc(r.stopIntake), shutdown.PhaseIntake)
	r.Shutdown.RegisterWithPhase("tasks", r.Tasks, shutdown.PhaseWorkers)
	r.Shutdown.RegisterWithPhase("bus", r.Bus, shutdown.PhaseDelivery)
	if r.provider != nil {
		r.Shutdown.RegisterWithPhase("telemetry", r.provider, shutdown.PhaseTelemetry)
	}

	return r, nil
}

// Start begins message delivery and task polling. Calling Start again while
// running is a no-op.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}

	r.Bus.Start()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.runDone = done

	go func() {
		defer close(done)
		err := r.Tasks.Run(runCtx, r.Config.Tasks.PollInterval, r.Config.Tasks.MaxConcurrent)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.mu.Lock()
			r.runErr = err
			r.mu.Unlock()
			r.Logger.Error("task_loop_stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	r.Logger.Info("runtime_started", map[string]interface{}{
		"worker_id":      r.Config.Tasks.WorkerID,
		"max_concurrent": r.Config.Tasks.MaxConcurrent,
	})
}

// Stop runs the phase-ordered shutdown: task intake, in-flight tasks, the
// bus, then telemetry. Later calls return the first call's result.
func (r *Runtime) Stop(ctx context.Context) error {
	return r.Shutdown.Shutdown(ctx)
}

// stopIntake cancels the polling loop and waits for it to return.
func (r *Runtime) stopIntake(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.runDone
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

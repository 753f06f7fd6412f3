package shutdown

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/coordkit/logging"
)

func TestShutdownSingleHandler(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	called := false
	coord.RegisterFunc("bus", func(ctx context.Context) error {
		called = true
		return nil
	})

	require.NoError(t, coord.ShutdownWithTimeout(5*time.Second))
	assert.True(t, called)

	select {
	case <-coord.Done():
	default:
		t.Fatal("expected Done channel to be closed")
	}

	result := coord.Result()
	require.NotNil(t, result)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "bus", result.Results[0].Name)
	assert.False(t, result.Failed())
}

func TestPhasesRunInOrder(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	coord.RegisterWithPhase("telemetry", record("telemetry"), PhaseTelemetry)
	coord.RegisterWithPhase("bus", record("bus"), PhaseDelivery)
	coord.RegisterWithPhase("intake", record("intake"), PhaseIntake)
	coord.RegisterWithPhase("workers", record("workers"), PhaseWorkers)

	require.NoError(t, coord.ShutdownWithTimeout(5*time.Second))
	assert.Equal(t, []string{"intake", "workers", "bus", "telemetry"}, order)
}

func TestSamePhaseRunsConcurrently(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var barrier sync.WaitGroup
	barrier.Add(2)
	wait := ShutdownFunc(func(ctx context.Context) error {
		barrier.Done()
		done := make(chan struct{})
		go func() {
			barrier.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	coord.RegisterWithPhase("a", wait, PhaseWorkers)
	coord.RegisterWithPhase("b", wait, PhaseWorkers)

	require.NoError(t, coord.ShutdownWithTimeout(2*time.Second))
}

func TestContinueOnError(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var later atomic.Bool
	coord.RegisterWithPhase("broken", ShutdownFunc(func(ctx context.Context) error {
		return errors.New("flush failed")
	}), PhaseIntake)
	coord.RegisterWithPhase("after", ShutdownFunc(func(ctx context.Context) error {
		later.Store(true)
		return nil
	}), PhaseDelivery)

	err := coord.ShutdownWithTimeout(time.Second)
	assert.ErrorIs(t, err, ErrHandlerFailed)
	assert.True(t, later.Load())
	assert.Equal(t, []string{"broken"}, coord.Result().FailedHandlers())
}

func TestStopOnError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContinueOnError = false
	coord := NewCoordinator(cfg)

	var later atomic.Bool
	coord.RegisterWithPhase("broken", ShutdownFunc(func(ctx context.Context) error {
		return errors.New("flush failed")
	}), PhaseIntake)
	coord.RegisterWithPhase("after", ShutdownFunc(func(ctx context.Context) error {
		later.Store(true)
		return nil
	}), PhaseDelivery)

	assert.ErrorIs(t, coord.ShutdownWithTimeout(time.Second), ErrHandlerFailed)
	assert.False(t, later.Load())
}

func TestTimeoutSkipsLaterPhases(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var later atomic.Bool
	coord.RegisterWithPhase("slow", ShutdownFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), PhaseWorkers)
	coord.RegisterWithPhase("after", ShutdownFunc(func(ctx context.Context) error {
		later.Store(true)
		return nil
	}), PhaseDelivery)

	err := coord.ShutdownWithTimeout(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, later.Load())
}

func TestShutdownIsIdempotent(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var calls atomic.Int32
	coord.RegisterFunc("bus", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, coord.ShutdownWithTimeout(time.Second))
	require.NoError(t, coord.ShutdownWithTimeout(time.Second))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegisterAfterShutdownIgnored(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	require.NoError(t, coord.ShutdownWithTimeout(time.Second))

	coord.RegisterFunc("late", func(ctx context.Context) error { return nil })
	assert.Empty(t, coord.Result().Results)
}

func TestResultNilBeforeShutdown(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	assert.Nil(t, coord.Result())
}

func TestProgressAndLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New().WithComponent("shutdown")
	logger.SetOutput(&buf)

	var mu sync.Mutex
	var seen []string
	cfg := DefaultConfig()
	cfg.Logger = logger
	cfg.OnProgress = func(hr HandlerResult) {
		mu.Lock()
		seen = append(seen, hr.Name)
		mu.Unlock()
	}

	coord := NewCoordinator(cfg)
	coord.RegisterFunc("bus", func(ctx context.Context) error { return nil })
	require.NoError(t, coord.ShutdownWithTimeout(time.Second))

	assert.Equal(t, []string{"bus"}, seen)
	assert.Contains(t, buf.String(), "shutdown_handler_done")
	assert.Contains(t, buf.String(), "handler=bus")
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.DefaultTimeout = -time.Second
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

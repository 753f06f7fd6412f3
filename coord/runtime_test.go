package coord

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/coordkit/bus"
	"github.com/vinayprograms/coordkit/config"
	agenterrors "github.com/vinayprograms/coordkit/errors"
	"github.com/vinayprograms/coordkit/logging"
	"github.com/vinayprograms/coordkit/tasks"
)

const waitFor = 2 * time.Second

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Tasks.PollInterval = time.Millisecond
	cfg.Shutdown.Timeout = waitFor
	return cfg
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(context.Background(), testConfig(), WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })
	return rt
}

// outcomes collects task outcome notifications by task ID.
type outcomes struct {
	mu   sync.Mutex
	byID map[string]*bus.Message
}

func watchOutcomes(t *testing.T, rt *Runtime) *outcomes {
	t.Helper()
	o := &outcomes{byID: make(map[string]*bus.Message)}
	record := bus.NewSubscriber(func(ctx context.Context, msg *bus.Message) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.byID[msg.CorrelationID] = msg
		return nil
	})
	require.NoError(t, rt.Bus.Subscribe(TopicTaskCompleted, record))
	require.NoError(t, rt.Bus.Subscribe(TopicTaskFailed, record))
	return o
}

func (o *outcomes) get(taskID string) *bus.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.byID[taskID]
}

func (o *outcomes) wait(t *testing.T, taskID string) *bus.Message {
	t.Helper()
	require.Eventually(t, func() bool { return o.get(taskID) != nil }, waitFor, time.Millisecond)
	return o.get(taskID)
}

func echo() tasks.Handler {
	return tasks.NewHandler(func(ctx context.Context, task *tasks.Task) (interface{}, error) {
		return map[string]interface{}{"got": task.Params}, nil
	})
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Tasks.MaxConcurrent = 0
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestCompletionPublished(t *testing.T) {
	rt := newTestRuntime(t)
	seen := watchOutcomes(t, rt)
	require.NoError(t, rt.Tasks.RegisterHandler("echo", rt.NotifyOnCompletion(echo())))
	rt.Start(context.Background())

	task, err := rt.Tasks.CreateTask("echo", map[string]interface{}{"x": 1}, "tester")
	require.NoError(t, err)

	msg := seen.wait(t, task.ID)
	assert.Equal(t, TopicTaskCompleted, msg.Type)
	assert.Equal(t, config.Default().Tasks.WorkerID, msg.SenderID)

	outcome, ok := msg.Payload.(Outcome)
	require.True(t, ok)
	assert.Equal(t, tasks.StatusCompleted, outcome.Status)
	assert.Equal(t, "tester", outcome.CreatorID)
	assert.Equal(t, map[string]interface{}{"got": map[string]interface{}{"x": 1}}, outcome.Result)

	require.Eventually(t, func() bool {
		got, err := rt.Tasks.GetTask(task.ID)
		return err == nil && got.Status == tasks.StatusCompleted
	}, waitFor, time.Millisecond)
}

func TestFailurePublished(t *testing.T) {
	rt := newTestRuntime(t)
	seen := watchOutcomes(t, rt)
	require.NoError(t, rt.Tasks.RegisterHandler("bad", rt.NotifyOnCompletion(tasks.NewHandler(
		func(ctx context.Context, task *tasks.Task) (interface{}, error) {
			return nil, errors.New("exit status 2")
		}))))
	require.NoError(t, rt.Tasks.RegisterHandler("boom", rt.NotifyOnCompletion(tasks.NewHandler(
		func(ctx context.Context, task *tasks.Task) (interface{}, error) {
			panic("unexpected")
		}))))
	rt.Start(context.Background())

	bad, _ := rt.Tasks.CreateTask("bad", nil, "tester")
	boom, _ := rt.Tasks.CreateTask("boom", nil, "tester")

	badOutcome := seen.wait(t, bad.ID).Payload.(Outcome)
	assert.Equal(t, tasks.StatusFailed, badOutcome.Status)
	assert.Equal(t, "exit status 2", badOutcome.Error)
	assert.Equal(t, agenterrors.ErrCodeTaskFailed, badOutcome.ErrorCode)

	boomMsg := seen.wait(t, boom.ID)
	assert.Equal(t, TopicTaskFailed, boomMsg.Type)
	assert.Equal(t, agenterrors.ErrCodePanic, boomMsg.Payload.(Outcome).ErrorCode)

	require.Eventually(t, func() bool {
		got, _ := rt.Tasks.GetTask(boom.ID)
		return got.Status == tasks.StatusFailed && got.ErrorCode == agenterrors.ErrCodePanic
	}, waitFor, time.Millisecond)
}

func TestEnqueueOnMessage(t *testing.T) {
	rt := newTestRuntime(t)
	seen := watchOutcomes(t, rt)
	require.NoError(t, rt.Tasks.RegisterHandler("lint", rt.NotifyOnCompletion(echo())))

	sub, err := rt.EnqueueOnMessage("lint.requested", "lint", "reviewer", tasks.WithPriority(8))
	require.NoError(t, err)
	rt.Start(context.Background())

	req := bus.NewMessage("editor", "lint.requested", map[string]interface{}{"path": "./..."})
	require.NoError(t, rt.Bus.Publish(req))

	var created *tasks.Task
	require.Eventually(t, func() bool {
		byReviewer := rt.Tasks.TasksByCreator("reviewer")
		if len(byReviewer) == 1 {
			created = byReviewer[0]
			return true
		}
		return false
	}, waitFor, time.Millisecond)

	assert.Equal(t, 8, created.Priority)
	assert.Equal(t, "./...", created.Params["path"])
	assert.Equal(t, req.ID, created.Params["source_message_id"])

	seen.wait(t, created.ID)
	assert.True(t, rt.Bus.Unsubscribe("lint.requested", sub))
}

func TestEnqueueWrapsScalarPayload(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EnqueueOnMessage("build.requested", "build", "ci")
	require.NoError(t, err)
	rt.Start(context.Background())

	require.NoError(t, rt.Bus.Publish(bus.NewMessage("git", "build.requested", "abc123")))

	require.Eventually(t, func() bool { return len(rt.Tasks.TasksByCreator("ci")) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, "abc123", rt.Tasks.TasksByCreator("ci")[0].Params["payload"])
}

func TestEnqueueOnMessageInvalidTopic(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EnqueueOnMessage("", "build", "ci")
	assert.ErrorIs(t, err, bus.ErrInvalidTopic)
}

func TestStopOrdersPhases(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Start(context.Background())
	rt.Start(context.Background())

	require.NoError(t, rt.Stop(context.Background()))
	assert.False(t, rt.Bus.Running())

	result := rt.Shutdown.Result()
	require.NotNil(t, result)
	var names []string
	for _, hr := range result.Results {
		names = append(names, hr.Name)
	}
	assert.Equal(t, []string{"intake", "tasks", "bus"}, names)

	require.NoError(t, rt.Stop(context.Background()))
}

func TestStopWaitsForRunningTask(t *testing.T) {
	rt := newTestRuntime(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, rt.Tasks.RegisterHandler("slow", rt.NotifyOnCompletion(tasks.NewHandler(
		func(ctx context.Context, task *tasks.Task) (interface{}, error) {
			close(entered)
			<-release
			return "done", nil
		}))))
	rt.Start(context.Background())

	task, _ := rt.Tasks.CreateTask("slow", nil, "tester")
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- rt.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)

	got, _ := rt.Tasks.GetTask(task.ID)
	assert.Equal(t, tasks.StatusCompleted, got.Status)
	// The bus stops after workers, so the outcome was still accepted.
	published := rt.Bus.History(TopicTaskCompleted, 0)
	require.Len(t, published, 1)
	assert.Equal(t, task.ID, published[0].CorrelationID)
}

func TestLoggingFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Logging.Level = "debug"
	rt, err := New(context.Background(), cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	rt.Logger.SetOutput(&buf)
	rt.Start(context.Background())
	require.NoError(t, rt.Stop(context.Background()))

	assert.Contains(t, buf.String(), "runtime_started")
	assert.Contains(t, buf.String(), "[bus] bus_started")
	assert.Contains(t, buf.String(), "[shutdown] shutdown_handler_done")
}

func TestNewWithTelemetryEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Protocol = "http"
	cfg.Telemetry.Endpoint = "localhost:4318"
	cfg.Telemetry.Insecure = true

	rt, err := New(context.Background(), cfg, WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NotNil(t, rt.provider)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = rt.Stop(ctx)

	result := rt.Shutdown.Result()
	require.NotNil(t, result)
	var names []string
	for _, hr := range result.Results {
		names = append(names, hr.Name)
	}
	assert.Equal(t, []string{"intake", "tasks", "bus", "telemetry"}, names)
}

package tasks

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	agenterrors "github.com/vinayprograms/coordkit/errors"
	"github.com/vinayprograms/coordkit/logging"
	"github.com/vinayprograms/coordkit/telemetry"
)

const (
	// DefaultWorkerID is recorded in Task.AssignedTo when none is configured.
	DefaultWorkerID = "task-manager"

	// DefaultPollInterval is used by Run when interval is not positive.
	DefaultPollInterval = 100 * time.Millisecond
)

// QueueInfo is a point-in-time snapshot of the manager.
type QueueInfo struct {
	TotalTasks      int
	QueuedTasks     int
	ProcessingTasks int
	TaskTypes       []string // Types with at least one handler, sorted
	StatusCounts    map[Status]int
}

// Manager owns the task registry, the pending queue and the in-flight set.
type Manager struct {
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	now      func() time.Time
	workerID string

	mu       sync.Mutex
	tasks    map[string]*Task
	order    []*Task // Creation order
	pending  []*Task // Priority order, stable for ties
	inFlight map[string]*Task
	handlers map[string][]Handler
	active   int           // Claimed executions not yet finished
	idle     chan struct{} // Closed when active drops to zero
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger. Default: stdout logger with component "tasks".
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithTracer sets the tracer used for task spans.
func WithTracer(t *telemetry.Tracer) ManagerOption {
	return func(m *Manager) { m.tracer = t }
}

// WithClock overrides the time source for task timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithWorkerID sets the value recorded in Task.AssignedTo.
func WithWorkerID(id string) ManagerOption {
	return func(m *Manager) { m.workerID = id }
}

// NewManager creates an empty task manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		now:      time.Now,
		workerID: DefaultWorkerID,
		tasks:    make(map[string]*Task),
		inFlight: make(map[string]*Task),
		handlers: make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.New().WithComponent("tasks")
	}
	if m.tracer == nil {
		m.tracer = telemetry.Noop()
	}
	return m
}

// WorkerID returns the value recorded in Task.AssignedTo.
func (m *Manager) WorkerID() string {
	return m.workerID
}

// CreateTask queues a new task and returns a snapshot of it.
func (m *Manager) CreateTask(taskType string, params map[string]interface{}, creatorID string, opts ...TaskOption) (*Task, error) {
	if taskType == "" {
		return nil, ErrInvalidTask
	}

	t := NewTask(taskType, params, creatorID, opts...)
	t.CreatedAt = m.now()

	m.mu.Lock()
	if _, exists := m.tasks[t.ID]; exists {
		m.mu.Unlock()
		return nil, ErrTaskExists
	}
	m.tasks[t.ID] = t
	m.order = append(m.order, t)
	m.pending = append(m.pending, t)
	slices.SortStableFunc(m.pending, func(a, b *Task) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	m.appendLogLocked(t, "created by "+creatorID)
	snapshot := t.Clone()
	m.mu.Unlock()

	m.logger.Debug("task_created", map[string]interface{}{
		"task_id":  t.ID,
		"type":     t.Type,
		"creator":  creatorID,
		"priority": t.Priority,
	})
	return snapshot, nil
}

// RegisterHandler adds a handler for a task type. Only the first registered
// handler for a type is invoked.
func (m *Manager) RegisterHandler(taskType string, h Handler) error {
	if taskType == "" {
		return ErrInvalidTask
	}
	if err := checkHandler(h); err != nil {
		return err
	}

	m.mu.Lock()
	m.handlers[taskType] = append(m.handlers[taskType], h)
	m.mu.Unlock()
	return nil
}

// UnregisterHandler removes a handler. It returns false if h was not
// registered for the type.
func (m *Manager) UnregisterHandler(taskType string, h Handler) bool {
	if checkHandler(h) != nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	hs := m.handlers[taskType]
	for i, existing := range hs {
		if existing != h {
			continue
		}
		hs = append(hs[:i:i], hs[i+1:]...)
		if len(hs) == 0 {
			delete(m.handlers, taskType)
		} else {
			m.handlers[taskType] = hs
		}
		return true
	}

	m.logger.Warn("unregister_unknown_handler", map[string]interface{}{"type": taskType})
	return false
}

// GetTask returns a snapshot of the task.
func (m *Manager) GetTask(id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

// TasksByStatus returns snapshots of tasks in the given status, in creation order.
func (m *Manager) TasksByStatus(status Status) []*Task {
	return m.filter(func(t *Task) bool { return t.Status == status })
}

// TasksByCreator returns snapshots of tasks created by creatorID, in creation order.
func (m *Manager) TasksByCreator(creatorID string) []*Task {
	return m.filter(func(t *Task) bool { return t.CreatorID == creatorID })
}

func (m *Manager) filter(keep func(*Task) bool) []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Task
	for _, t := range m.order {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// PendingTasks returns snapshots of queued tasks in dispatch order.
func (m *Manager) PendingTasks() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Task, len(m.pending))
	for i, t := range m.pending {
		out[i] = t.Clone()
	}
	return out
}

// AppendLog adds a line to the task's log. It returns false for unknown tasks.
func (m *Manager) AppendLog(id, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return false
	}
	m.appendLogLocked(t, message)
	return true
}

func (m *Manager) appendLogLocked(t *Task, message string) {
	t.Log = append(t.Log, LogEntry{Time: m.now(), Message: message})
}

// CancelTask cancels a task that has not started. It returns false if the
// task is unknown, running or already finished.
func (m *Manager) CancelTask(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.Status != StatusCreated {
		m.logger.Warn("cancel_rejected", map[string]interface{}{"task_id": id})
		return false
	}

	m.pending = slices.DeleteFunc(m.pending, func(p *Task) bool { return p == t })
	now := m.now()
	t.Status = StatusCancelled
	t.CompletedAt = &now
	m.appendLogLocked(t, "cancelled")
	m.logger.TaskTransition(t.ID, t.Type, string(StatusCreated), string(StatusCancelled))
	return true
}

// QueueInfo returns counts by queue position and status.
func (m *Manager) QueueInfo() QueueInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]string, 0, len(m.handlers))
	for typ := range m.handlers {
		types = append(types, typ)
	}
	sort.Strings(types)

	counts := make(map[Status]int, len(AllStatuses))
	for _, s := range AllStatuses {
		counts[s] = 0
	}
	for _, t := range m.tasks {
		counts[t.Status]++
	}

	return QueueInfo{
		TotalTasks:      len(m.tasks),
		QueuedTasks:     len(m.pending),
		ProcessingTasks: len(m.inFlight),
		TaskTypes:       types,
		StatusCounts:    counts,
	}
}

// --- Execution ---

// ProcessNextTask runs the highest-priority task that has a handler and
// returns a snapshot of it once finished. It returns nil when no queued task
// has a handler. Handler failures are recorded on the task, not returned.
func (m *Manager) ProcessNextTask(ctx context.Context) *Task {
	t, _ := m.TryProcessNextTask(ctx)
	return t
}

// TryProcessNextTask is ProcessNextTask reporting why nothing ran:
// ErrQueueEmpty or ErrNoRunnableTask.
func (m *Manager) TryProcessNextTask(ctx context.Context) (*Task, error) {
	t, h, err := m.claim(0)
	if err != nil {
		return nil, err
	}
	return m.execute(ctx, t, h), nil
}

// Run claims and executes tasks until ctx is cancelled, keeping at most
// maxConcurrent tasks in flight. It sleeps interval between batches and
// returns ctx.Err(). Tasks already running are left to finish; use Drain to
// wait for them.
func (m *Manager) Run(ctx context.Context, interval time.Duration, maxConcurrent int) error {
	if maxConcurrent <= 0 {
		return ErrInvalidConcurrency
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	handlerCtx := context.WithoutCancel(ctx)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	var declined agenterrors.ErrorCode
	for {
		for ctx.Err() == nil {
			t, h, err := m.claim(maxConcurrent)
			if err != nil {
				if code := agenterrors.Code(err); code != declined {
					declined = code
					m.logger.Debug("claim_declined", map[string]interface{}{"code": string(code)})
				}
				break
			}
			declined = ""
			go m.execute(handlerCtx, t, h)
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Drain waits until no claimed task is executing. It is safe to call while
// Run is still claiming; it returns at the first moment nothing is in flight.
func (m *Manager) Drain(ctx context.Context) error {
	for {
		m.mu.Lock()
		idle := m.idle
		m.mu.Unlock()
		if idle == nil {
			return nil
		}

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OnShutdown implements shutdown.ShutdownHandler by draining executions.
// Stop Run first so no new tasks are claimed while shutting down.
func (m *Manager) OnShutdown(ctx context.Context) error {
	return m.Drain(ctx)
}

// claim moves the first runnable pending task to the in-flight set. A limit
// greater than zero caps the in-flight set size.
func (m *Manager) claim(limit int) (*Task, Handler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return nil, nil, ErrQueueEmpty
	}
	if limit > 0 && len(m.inFlight) >= limit {
		return nil, nil, ErrAtCapacity
	}

	for i, t := range m.pending {
		hs := m.handlers[t.Type]
		if len(hs) == 0 {
			continue
		}
		m.pending = slices.Delete(m.pending, i, i+1)
		m.inFlight[t.ID] = t
		if m.active == 0 {
			m.idle = make(chan struct{})
		}
		m.active++

		now := m.now()
		t.Status = StatusRunning
		t.StartedAt = &now
		t.AssignedTo = m.workerID
		m.appendLogLocked(t, "started by "+m.workerID)
		m.logger.TaskTransition(t.ID, t.Type, string(StatusCreated), string(StatusRunning))
		return t, hs[0], nil
	}
	return nil, nil, ErrNoRunnableTask
}

func (m *Manager) execute(ctx context.Context, t *Task, h Handler) *Task {
	defer m.release()

	// ID, Type, CreatorID, Priority and Params never change after creation.
	ctx, span := m.tracer.StartTaskSpan(ctx, telemetry.TaskSpanOptions{
		TaskID:    t.ID,
		Type:      t.Type,
		CreatorID: t.CreatorID,
		Priority:  t.Priority,
		Params:    t.Params,
	})

	m.mu.Lock()
	input := t.Clone()
	m.mu.Unlock()

	result, err := m.invoke(ctx, h, input)

	m.mu.Lock()
	now := m.now()
	t.CompletedAt = &now
	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
		t.ErrorCode = agenterrors.Code(err)
		if t.ErrorCode == "" {
			t.ErrorCode = agenterrors.ErrCodeTaskFailed
		}
		m.appendLogLocked(t, "failed: "+t.Error)
	} else {
		t.Status = StatusCompleted
		t.Result = result
		m.appendLogLocked(t, "completed")
	}
	delete(m.inFlight, t.ID)
	snapshot := t.Clone()
	m.mu.Unlock()

	m.logger.TaskTransition(t.ID, t.Type, string(StatusRunning), string(snapshot.Status))
	m.logger.TaskFinished(t.ID, t.Type, snapshot.Duration(), err)
	m.tracer.EndTaskSpan(span, string(snapshot.Status), err)
	return snapshot
}

// release ends an execution started by claim.
func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active--
	if m.active == 0 {
		close(m.idle)
		m.idle = nil
	}
}

// invoke runs the handler, converting a panic into an error.
func (m *Manager) invoke(ctx context.Context, h Handler, t *Task) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = agenterrors.Panic(r, agenterrors.WithTaskID(t.ID))
		}
	}()
	return h.Handle(ctx, t)
}

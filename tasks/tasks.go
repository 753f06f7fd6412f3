package tasks

import (
	"context"
	"maps"
	"reflect"
	"time"

	"github.com/google/uuid"

	agenterrors "github.com/vinayprograms/coordkit/errors"
)

// Common errors. Each carries an agenterrors code so callers can branch on
// agenterrors.Code as well as errors.Is.
var (
	// ErrTaskNotFound indicates the requested task does not exist.
	ErrTaskNotFound = agenterrors.NotFound("task not found")

	// ErrTaskExists indicates a task with the same ID was already created.
	ErrTaskExists = agenterrors.Conflict("task already exists")

	// ErrInvalidTask indicates the task is invalid (missing required fields).
	ErrInvalidTask = agenterrors.InvalidInput("invalid task")

	// ErrNilHandler indicates a nil handler was registered.
	ErrNilHandler = agenterrors.InvalidInput("nil handler")

	// ErrNotComparable indicates a handler that cannot be unregistered by value.
	ErrNotComparable = agenterrors.InvalidInput("handler is not comparable")

	// ErrInvalidConcurrency indicates a non-positive concurrency bound.
	ErrInvalidConcurrency = agenterrors.InvalidInput("max concurrent must be positive")

	// ErrQueueEmpty indicates no task is waiting to run.
	ErrQueueEmpty = agenterrors.NotFound("no queued tasks")

	// ErrNoRunnableTask indicates tasks are queued but none has a handler.
	ErrNoRunnableTask = agenterrors.FromCode(agenterrors.ErrCodeHandlerMissing)

	// ErrAtCapacity indicates every execution slot is busy.
	ErrAtCapacity = agenterrors.FromCode(agenterrors.ErrCodeCapacity)
)

// Priority bounds and default.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// Status represents the current state of a task.
type Status string

const (
	// StatusCreated indicates the task is queued and waiting for a handler.
	StatusCreated Status = "created"

	// StatusRunning indicates a handler is executing the task.
	StatusRunning Status = "running"

	// StatusCompleted indicates the handler returned a result.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the handler returned an error or panicked.
	StatusFailed Status = "failed"

	// StatusCancelled indicates the task was cancelled before it ran.
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusCreated, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// LogEntry is one line of a task's log.
type LogEntry struct {
	Time    time.Time
	Message string
}

// Task represents a unit of work routed to a handler by Type.
type Task struct {
	ID         string
	Type       string
	Params     map[string]interface{}
	CreatorID  string
	Priority   int
	Status     Status
	AssignedTo string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// Result is the handler's return value on success.
	Result interface{}

	// Error and ErrorCode describe a failure.
	Error     string
	ErrorCode agenterrors.ErrorCode

	Log []LogEntry
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithPriority sets the priority, clamped to [MinPriority, MaxPriority].
func WithPriority(priority int) TaskOption {
	return func(t *Task) { t.Priority = priority }
}

// WithTaskID overrides the generated task ID.
func WithTaskID(id string) TaskOption {
	return func(t *Task) { t.ID = id }
}

// NewTask creates a task in the created state. The params map is copied.
func NewTask(taskType string, params map[string]interface{}, creatorID string, opts ...TaskOption) *Task {
	t := &Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		Params:    maps.Clone(params),
		CreatorID: creatorID,
		Priority:  DefaultPriority,
		Status:    StatusCreated,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.Priority = ClampPriority(t.Priority)
	if t.Params == nil {
		t.Params = make(map[string]interface{})
	}
	return t
}

// ClampPriority limits p to [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	return max(MinPriority, min(MaxPriority, p))
}

// Clone creates a copy of the task. Params are copied one level deep;
// Result is shared.
func (t *Task) Clone() *Task {
	clone := *t

	clone.Params = maps.Clone(t.Params)
	if t.StartedAt != nil {
		started := *t.StartedAt
		clone.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}
	if t.Log != nil {
		clone.Log = make([]LogEntry, len(t.Log))
		copy(clone.Log, t.Log)
	}
	return &clone
}

// Duration returns how long the task ran, or zero if it has not finished.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// Handler executes tasks of one type.
//
// Implementations must be comparable so they can be unregistered by value.
type Handler interface {
	Handle(ctx context.Context, task *Task) (interface{}, error)
}

// FuncHandler adapts a function to Handler.
type FuncHandler struct {
	fn func(ctx context.Context, task *Task) (interface{}, error)
}

// NewHandler wraps fn as a Handler.
func NewHandler(fn func(ctx context.Context, task *Task) (interface{}, error)) *FuncHandler {
	return &FuncHandler{fn: fn}
}

// Handle implements Handler.
func (h *FuncHandler) Handle(ctx context.Context, task *Task) (interface{}, error) {
	return h.fn(ctx, task)
}

func checkHandler(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	if !reflect.TypeOf(h).Comparable() {
		return ErrNotComparable
	}
	return nil
}

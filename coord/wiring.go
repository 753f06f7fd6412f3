package coord

import (
	"context"

	"github.com/vinayprograms/coordkit/bus"
	agenterrors "github.com/vinayprograms/coordkit/errors"
	"github.com/vinayprograms/coordkit/tasks"
)

// Topics used for task outcome notifications.
const (
	TopicTaskCompleted = "task.completed"
	TopicTaskFailed    = "task.failed"
)

// Outcome is the payload of a task outcome notification.
type Outcome struct {
	TaskID    string
	Type      string
	CreatorID string
	Status    tasks.Status
	Result    interface{}
	Error     string
	ErrorCode agenterrors.ErrorCode
}

// completionNotifier publishes the outcome of each task it handles.
type completionNotifier struct {
	next tasks.Handler
	rt   *Runtime
}

// NotifyOnCompletion wraps h so every outcome is published on the bus with
// the task ID as correlation ID. A panic in h is reported as a failure.
func (r *Runtime) NotifyOnCompletion(h tasks.Handler) tasks.Handler {
	return &completionNotifier{next: h, rt: r}
}

func (n *completionNotifier) Handle(ctx context.Context, t *tasks.Task) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = agenterrors.Panic(rec, agenterrors.WithTaskID(t.ID))
		}
		n.publish(t, result, err)
	}()
	return n.next.Handle(ctx, t)
}

func (n *completionNotifier) publish(t *tasks.Task, result interface{}, err error) {
	outcome := Outcome{
		TaskID:    t.ID,
		Type:      t.Type,
		CreatorID: t.CreatorID,
		Status:    tasks.StatusCompleted,
		Result:    result,
	}
	topic := TopicTaskCompleted
	if err != nil {
		topic = TopicTaskFailed
		outcome.Status = tasks.StatusFailed
		outcome.Result = nil
		outcome.Error = err.Error()
		outcome.ErrorCode = agenterrors.Code(err)
		if outcome.ErrorCode == "" {
			outcome.ErrorCode = agenterrors.ErrCodeTaskFailed
		}
	}

	msg := bus.NewMessage(n.rt.Tasks.WorkerID(), topic, outcome, bus.WithCorrelationID(t.ID))
	if pubErr := n.rt.Bus.Publish(msg); pubErr != nil {
		n.rt.Logger.Warn("outcome_publish_failed", map[string]interface{}{
			"task_id": t.ID,
			"error":   pubErr.Error(),
		})
	}
}

// taskEnqueuer creates a task from each message it receives.
type taskEnqueuer struct {
	rt        *Runtime
	taskType  string
	creatorID string
	opts      []tasks.TaskOption
}

// EnqueueOnMessage subscribes to topic and creates a taskType task for each
// broadcast on it. A map payload becomes the task params; any other payload
// is passed as params["payload"]. The returned subscriber can be passed to
// Bus.Unsubscribe.
func (r *Runtime) EnqueueOnMessage(topic, taskType, creatorID string, opts ...tasks.TaskOption) (bus.Subscriber, error) {
	sub := &taskEnqueuer{rt: r, taskType: taskType, creatorID: creatorID, opts: opts}
	if err := r.Bus.Subscribe(topic, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (e *taskEnqueuer) Receive(ctx context.Context, msg *bus.Message) error {
	var params map[string]interface{}
	switch p := msg.Payload.(type) {
	case map[string]interface{}:
		params = make(map[string]interface{}, len(p)+1)
		for k, v := range p {
			params[k] = v
		}
	case nil:
		params = make(map[string]interface{}, 1)
	default:
		params = map[string]interface{}{"payload": p}
	}
	params["source_message_id"] = msg.ID

	t, err := e.rt.Tasks.CreateTask(e.taskType, params, e.creatorID, e.opts...)
	if err != nil {
		return agenterrors.Wrap(err, "enqueue from message", agenterrors.WithMessageID(msg.ID), agenterrors.WithTopic(msg.Type))
	}
	e.rt.Logger.Debug("task_enqueued_from_message", map[string]interface{}{
		"task_id":    t.ID,
		"message_id": msg.ID,
	})
	return nil
}

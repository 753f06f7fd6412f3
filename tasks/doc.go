// Package tasks provides a priority-ordered task queue with bounded
// concurrent execution and lifecycle tracking.
//
// # Basic Usage
//
//	mgr := tasks.NewManager()
//	mgr.RegisterHandler("lint", tasks.NewHandler(func(ctx context.Context, t *tasks.Task) (interface{}, error) {
//	    return runLinter(ctx, t.Params["path"].(string))
//	}))
//
//	task, _ := mgr.CreateTask("lint", map[string]interface{}{"path": "./..."}, "reviewer", tasks.WithPriority(8))
//	go mgr.Run(ctx, 100*time.Millisecond, 4)
//
//	// Poll for the outcome
//	got, _ := mgr.GetTask(task.ID)
//
// # Ordering
//
// Pending tasks are ordered by priority (10 highest, 1 lowest); tasks of
// equal priority run in creation order. Tasks whose type has no registered
// handler are skipped, not dropped, and keep their place in the queue. A
// high-priority task with no handler therefore never blocks lower-priority
// work, but it also never runs until a handler is registered.
//
// # Handlers
//
// Several handlers may be registered for one type; only the first registered
// is invoked. Later registrations take over once earlier ones are removed.
//
// # Task Lifecycle
//
//	created → running → completed
//	                  ↘ failed
//	created → cancelled
//
// Only created tasks can be cancelled. Running tasks are never preempted:
// handlers receive a context that is not cancelled when Run stops.
//
// # Thread Safety
//
// Manager is safe for concurrent use. Tasks returned by the manager are
// snapshots; call GetTask again to observe progress.
package tasks

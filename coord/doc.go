// Package coord wires a message bus and a task manager into one runtime with
// shared logging, tracing and phase-ordered shutdown.
//
// The bus and the task manager never reference each other. Applications
// connect them through two adapters:
//
//   - NotifyOnCompletion wraps a task handler so each outcome is published as
//     a task.completed or task.failed message correlated by task ID.
//   - EnqueueOnMessage subscribes to a topic and turns each message into a
//     follow-up task.
//
// # Usage
//
//	rt, err := coord.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	rt.Tasks.RegisterHandler("lint", rt.NotifyOnCompletion(lintHandler))
//	rt.EnqueueOnMessage("lint.requested", "lint", "reviewer")
//	rt.Start(ctx)
//	defer rt.Stop(context.Background())
package coord

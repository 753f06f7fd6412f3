// Package shutdown coordinates graceful, phase-ordered shutdown of the
// coordination runtime.
//
// # Phases
//
// Lower phase numbers shut down first; handlers in the same phase run
// concurrently. The runtime uses:
//
//   - PhaseIntake (10): stop the task polling loop so no new work is claimed
//   - PhaseWorkers (20): wait for in-flight task handlers to finish
//   - PhaseDelivery (30): stop the message bus delivery loop
//   - PhaseTelemetry (40): flush and close span exporters
//
// Task handlers often publish completion messages, so the bus must outlive
// the workers.
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.RegisterWithPhase("tasks", manager, shutdown.PhaseWorkers)
//	coord.RegisterWithPhase("bus", messageBus, shutdown.PhaseDelivery)
//	coord.HandleSignals()
//	<-coord.Done()
package shutdown

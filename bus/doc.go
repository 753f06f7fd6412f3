// Package bus provides an in-process message bus for agent-to-agent
// communication.
//
// # Overview
//
// A MessageBus accepts messages from any goroutine and delivers them from a
// single background loop, strictly in publish order. Publishing never blocks
// on delivery: Publish returns once the message is queued.
//
// # Delivery Modes
//
// Broadcast - no recipient, fanned out to every subscriber of the message type:
//
//	b.Subscribe("lint.finished", bus.NewSubscriber(func(ctx context.Context, m *bus.Message) error {
//	    return report(m.Payload)
//	}))
//	b.Publish(bus.NewMessage("linter", "lint.finished", findings))
//
// Direct - addressed to one agent, bypassing topic subscribers entirely:
//
//	b.SubscribeDirect("reviewer", inbox)
//	b.Publish(bus.NewMessage("linter", "lint.finished", findings, bus.WithRecipient("reviewer")))
//
// A direct message whose recipient has no direct subscriber is dropped.
//
// # Expiry
//
// A message with a TTL is expired once more than TTL has elapsed since it was
// created. Expired messages are dropped at publish time and again at dequeue
// time; they are never delivered and never recorded in history.
//
// # Priority
//
// Message.Priority is carried for consumers but does not reorder delivery.
//
// # Failure Isolation
//
// Subscriber errors and panics are recovered and logged per callback. A panic
// in the delivery loop itself restarts the loop while the bus is running.
package bus

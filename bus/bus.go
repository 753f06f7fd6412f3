package bus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	agenterrors "github.com/vinayprograms/coordkit/errors"
	"github.com/vinayprograms/coordkit/logging"
	"github.com/vinayprograms/coordkit/telemetry"
)

// Common errors.
var (
	ErrInvalidMessage = agenterrors.InvalidInput("invalid message: sender and type are required")
	ErrInvalidTopic   = agenterrors.InvalidInput("invalid topic")
	ErrInvalidAgent   = agenterrors.InvalidInput("invalid agent id")
	ErrNilSubscriber  = agenterrors.InvalidInput("nil subscriber")
	ErrNotComparable  = agenterrors.InvalidInput("subscriber is not comparable")
)

// DropFunc observes messages discarded without delivery. reason carries
// EXPIRED for TTL drops and NOT_FOUND for a missing direct subscriber.
type DropFunc func(msg *Message, reason error)

// Subscriber receives delivered messages.
//
// Implementations must be comparable (pointer receivers, or structs without
// func/map/slice fields) so they can be unsubscribed by value.
type Subscriber interface {
	Receive(ctx context.Context, msg *Message) error
}

// FuncSubscriber adapts a function to Subscriber. Use NewSubscriber so the
// returned pointer can be passed to Unsubscribe later.
type FuncSubscriber struct {
	fn func(ctx context.Context, msg *Message) error
}

// NewSubscriber wraps fn as a Subscriber.
func NewSubscriber(fn func(ctx context.Context, msg *Message) error) *FuncSubscriber {
	return &FuncSubscriber{fn: fn}
}

// Receive implements Subscriber.
func (s *FuncSubscriber) Receive(ctx context.Context, msg *Message) error {
	return s.fn(ctx, msg)
}

func checkSubscriber(sub Subscriber) error {
	if sub == nil {
		return ErrNilSubscriber
	}
	if !reflect.TypeOf(sub).Comparable() {
		return ErrNotComparable
	}
	return nil
}

// Config holds bus configuration.
type Config struct {
	// HistorySize is the number of recent messages retained.
	// Default: 1000
	HistorySize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HistorySize: 1000,
	}
}

// Option configures a MessageBus.
type Option func(*MessageBus)

// WithLogger sets the logger. Default: stdout logger with component "bus".
func WithLogger(l *logging.Logger) Option {
	return func(b *MessageBus) { b.logger = l }
}

// WithTracer sets the tracer used for delivery spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(b *MessageBus) { b.tracer = t }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(b *MessageBus) { b.now = now }
}

// WithDropHandler registers fn to observe dropped messages. fn runs on the
// publishing goroutine or the delivery loop and must not block.
func WithDropHandler(fn DropFunc) Option {
	return func(b *MessageBus) { b.onDrop = fn }
}

// Stats is a point-in-time snapshot of bus state.
type Stats struct {
	QueueSize             int
	HistorySize           int
	SubscriberCount       int // Sum over all topics
	DirectSubscriberCount int
	MessageTypes          map[string]int // Counted over the history
}

// MessageBus delivers messages to topic and direct subscribers.
type MessageBus struct {
	config Config
	logger *logging.Logger
	tracer *telemetry.Tracer
	now    func() time.Time
	onDrop DropFunc

	mu          sync.Mutex
	subscribers map[string][]Subscriber
	direct      map[string]Subscriber
	history     *history
	queue       []*Message
	notify      chan struct{}

	lifecycle sync.Mutex
	running   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a stopped message bus. Call Start to begin delivery.
func New(cfg Config, opts ...Option) *MessageBus {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}

	b := &MessageBus{
		config:      cfg,
		now:         time.Now,
		subscribers: make(map[string][]Subscriber),
		direct:      make(map[string]Subscriber),
		history:     newHistory(cfg.HistorySize),
		notify:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.New().WithComponent("bus")
	}
	if b.tracer == nil {
		b.tracer = telemetry.Noop()
	}
	return b
}

// Publish queues a message for delivery. The bus keeps its own copy of the
// envelope. An already-expired message is dropped and nil is returned.
func (b *MessageBus) Publish(msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ExpiredAt(b.now()) {
		b.drop(msg, agenterrors.New(agenterrors.ErrCodeExpired, "expired before publish",
			agenterrors.WithMessageID(msg.ID), agenterrors.WithTopic(msg.Type)))
		return nil
	}

	m := msg.Clone()
	b.mu.Lock()
	b.history.add(m)
	b.queue = append(b.queue, m)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Subscribe registers sub for broadcasts of the given topic.
// Subscribing the same value twice is a no-op.
func (b *MessageBus) Subscribe(topic string, sub Subscriber) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if err := checkSubscriber(sub); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.subscribers[topic] {
		if existing == sub {
			return nil
		}
	}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	return nil
}

// Unsubscribe removes sub from the topic. It returns false if sub was not
// subscribed. Removing the last subscriber removes the topic.
func (b *MessageBus) Unsubscribe(topic string, sub Subscriber) bool {
	if checkSubscriber(sub) != nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, existing := range subs {
		if existing != sub {
			continue
		}
		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(b.subscribers, topic)
		} else {
			b.subscribers[topic] = subs
		}
		return true
	}

	b.logger.Warn("unsubscribe_unknown", map[string]interface{}{"topic": topic})
	return false
}

// SubscribeDirect sets the direct subscriber for an agent, replacing any
// previous one.
func (b *MessageBus) SubscribeDirect(agentID string, sub Subscriber) error {
	if agentID == "" {
		return ErrInvalidAgent
	}
	if sub == nil {
		return ErrNilSubscriber
	}

	b.mu.Lock()
	b.direct[agentID] = sub
	b.mu.Unlock()
	return nil
}

// UnsubscribeDirect removes the agent's direct subscriber. It returns false
// if none was registered.
func (b *MessageBus) UnsubscribeDirect(agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.direct[agentID]; !ok {
		b.logger.Warn("unsubscribe_direct_unknown", map[string]interface{}{"agent_id": agentID})
		return false
	}
	delete(b.direct, agentID)
	return true
}

// Start launches the delivery loop. Calling Start on a running bus is a no-op.
// If a previous loop is still finishing a delivery after a timed-out
// Shutdown, the new loop waits for it to exit before consuming.
func (b *MessageBus) Start() {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.running.Load() {
		return
	}
	b.running.Store(true)
	prev := b.doneCh
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	go b.run(prev, b.stopCh, b.doneCh)

	b.logger.Info("bus_started", nil)
}

// Shutdown stops the delivery loop and waits for the in-progress message to
// finish. Undelivered messages stay queued until the next Start.
// Calling Shutdown on a stopped bus returns nil.
func (b *MessageBus) Shutdown(ctx context.Context) error {
	b.lifecycle.Lock()
	if !b.running.Swap(false) {
		b.lifecycle.Unlock()
		return nil
	}
	close(b.stopCh)
	done := b.doneCh
	b.lifecycle.Unlock()

	select {
	case <-done:
		b.logger.Info("bus_stopped", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnShutdown implements shutdown.ShutdownHandler.
func (b *MessageBus) OnShutdown(ctx context.Context) error {
	return b.Shutdown(ctx)
}

// Running reports whether the delivery loop is active.
func (b *MessageBus) Running() bool {
	return b.running.Load()
}

// Stats returns a snapshot of queue, history and subscription counts.
func (b *MessageBus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	subCount := 0
	for _, subs := range b.subscribers {
		subCount += len(subs)
	}
	return Stats{
		QueueSize:             len(b.queue),
		HistorySize:           b.history.len(),
		SubscriberCount:       subCount,
		DirectSubscriberCount: len(b.direct),
		MessageTypes:          b.history.countByType(),
	}
}

// History returns up to limit recent messages, oldest first. An empty
// messageType matches every type; limit <= 0 returns everything retained.
func (b *MessageBus) History(messageType string, limit int) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.recent(messageType, limit)
}

// --- Delivery loop ---

func (b *MessageBus) run(prev <-chan struct{}, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if prev != nil {
		select {
		case <-prev:
		case <-stop:
			return
		}
	}

	for {
		if b.consume(stop) {
			return
		}
		if !b.running.Load() {
			return
		}
		b.logger.Warn("delivery_loop_restarted", nil)
	}
}

// consume delivers queued messages until stop is closed, returning true.
// It returns false if a panic escaped message handling.
func (b *MessageBus) consume(stop <-chan struct{}) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("delivery_loop_panic", map[string]interface{}{"panic": fmt.Sprint(r)})
			stopped = false
		}
	}()

	for {
		select {
		case <-stop:
			return true
		default:
		}

		msg := b.dequeue()
		if msg == nil {
			select {
			case <-stop:
				return true
			case <-b.notify:
			}
			continue
		}
		b.deliver(msg)
	}
}

func (b *MessageBus) drop(msg *Message, reason error) {
	b.logger.MessageDropped(msg.ID, msg.Type, reason)
	if b.onDrop != nil {
		b.onDrop(msg.Clone(), reason)
	}
}

func (b *MessageBus) dequeue() *Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return nil
	}
	msg := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return msg
}

func (b *MessageBus) deliver(msg *Message) {
	if msg.ExpiredAt(b.now()) {
		b.drop(msg, agenterrors.FromCode(agenterrors.ErrCodeExpired,
			agenterrors.WithMessageID(msg.ID), agenterrors.WithTopic(msg.Type)))
		return
	}

	ctx, span := b.tracer.StartDeliverySpan(context.Background(), telemetry.DeliverySpanOptions{
		MessageID:     msg.ID,
		Type:          msg.Type,
		SenderID:      msg.SenderID,
		RecipientID:   msg.RecipientID,
		CorrelationID: msg.CorrelationID,
		Payload:       msg.Payload,
	})

	if !msg.IsBroadcast() {
		b.mu.Lock()
		sub, ok := b.direct[msg.RecipientID]
		b.mu.Unlock()

		if !ok {
			b.drop(msg, agenterrors.NotFound("no direct subscriber for "+msg.RecipientID,
				agenterrors.WithMessageID(msg.ID), agenterrors.WithTopic(msg.Type)))
			b.tracer.EndDeliverySpan(span, "direct", 0, 0)
			return
		}
		failed := 0
		if b.invoke(ctx, sub, msg, "direct:"+msg.RecipientID) != nil {
			failed = 1
		}
		b.tracer.EndDeliverySpan(span, "direct", 1, failed)
		return
	}

	b.mu.Lock()
	subs := append([]Subscriber(nil), b.subscribers[msg.Type]...)
	b.mu.Unlock()

	var failed atomic.Int32
	var g errgroup.Group
	for _, sub := range subs {
		g.Go(func() error {
			if b.invoke(ctx, sub, msg, "topic:"+msg.Type) != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	b.tracer.EndDeliverySpan(span, "broadcast", len(subs), int(failed.Load()))
}

// invoke runs one callback with its own copy of the envelope, converting a
// panic into an error.
func (b *MessageBus) invoke(ctx context.Context, sub Subscriber, msg *Message, target string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = agenterrors.Panic(r, agenterrors.WithMessageID(msg.ID), agenterrors.WithTopic(msg.Type))
		}
		if err != nil {
			b.logger.CallbackFailed(msg.ID, target, err)
		}
	}()
	return sub.Receive(ctx, msg.Clone())
}

package bus

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMessagePriority is the priority assigned when none is given.
const DefaultMessagePriority = 1

// Message is an addressed or broadcast envelope.
type Message struct {
	ID            string
	CorrelationID string // Links related messages, e.g. a task ID
	SenderID      string
	RecipientID   string // Empty for broadcast
	Type          string // Topic used for broadcast fan-out
	Payload       interface{}
	CreatedAt     time.Time
	Priority      int
	TTL           time.Duration // Zero means the message never expires
}

// MessageOption configures a Message.
type MessageOption func(*Message)

// WithRecipient addresses the message to a single agent.
func WithRecipient(agentID string) MessageOption {
	return func(m *Message) { m.RecipientID = agentID }
}

// WithMessageID overrides the generated message ID.
func WithMessageID(id string) MessageOption {
	return func(m *Message) { m.ID = id }
}

// WithCorrelationID links the message to another message or task.
func WithCorrelationID(id string) MessageOption {
	return func(m *Message) { m.CorrelationID = id }
}

// WithPriority sets the message priority.
func WithPriority(priority int) MessageOption {
	return func(m *Message) { m.Priority = priority }
}

// WithTTL sets how long the message stays deliverable.
func WithTTL(ttl time.Duration) MessageOption {
	return func(m *Message) { m.TTL = ttl }
}

// WithCreatedAt overrides the creation time.
func WithCreatedAt(t time.Time) MessageOption {
	return func(m *Message) { m.CreatedAt = t }
}

// NewMessage creates a message stamped with the current time.
func NewMessage(senderID, messageType string, payload interface{}, opts ...MessageOption) *Message {
	m := &Message{
		ID:        uuid.New().String(),
		SenderID:  senderID,
		Type:      messageType,
		Payload:   payload,
		CreatedAt: time.Now(),
		Priority:  DefaultMessagePriority,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsBroadcast reports whether the message has no recipient.
func (m *Message) IsBroadcast() bool {
	return m.RecipientID == ""
}

// ExpiredAt reports whether more than TTL has elapsed at now.
// Elapsed time exactly equal to TTL is not expired.
func (m *Message) ExpiredAt(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return now.Sub(m.CreatedAt) > m.TTL
}

// Expired reports whether the message is expired now.
func (m *Message) Expired() bool {
	return m.ExpiredAt(time.Now())
}

// Validate checks the fields required for delivery.
func (m *Message) Validate() error {
	if m == nil || m.SenderID == "" || m.Type == "" {
		return ErrInvalidMessage
	}
	return nil
}

// Clone returns a copy of the envelope. The payload is shared.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

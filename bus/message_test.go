package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageDefaults(t *testing.T) {
	m := NewMessage("linter", "lint.finished", map[string]int{"issues": 3})

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "linter", m.SenderID)
	assert.Equal(t, "lint.finished", m.Type)
	assert.Equal(t, DefaultMessagePriority, m.Priority)
	assert.True(t, m.IsBroadcast())
	assert.Zero(t, m.TTL)
	assert.False(t, m.CreatedAt.IsZero())
}

func TestNewMessageOptions(t *testing.T) {
	m := NewMessage("linter", "lint.finished", nil,
		WithRecipient("reviewer"),
		WithMessageID("m-1"),
		WithCorrelationID("task-7"),
		WithPriority(8),
		WithTTL(time.Minute),
	)

	assert.Equal(t, "reviewer", m.RecipientID)
	assert.Equal(t, "m-1", m.ID)
	assert.Equal(t, "task-7", m.CorrelationID)
	assert.Equal(t, 8, m.Priority)
	assert.Equal(t, time.Minute, m.TTL)
	assert.False(t, m.IsBroadcast())
}

func TestMessageWithoutTTLNeverExpires(t *testing.T) {
	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMessage("a", "t", nil, WithCreatedAt(created))

	assert.False(t, m.ExpiredAt(created))
	assert.False(t, m.ExpiredAt(created.Add(100*365*24*time.Hour)))
	assert.False(t, m.Expired())
}

func TestMessageTTLBoundary(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMessage("a", "t", nil, WithCreatedAt(created), WithTTL(10*time.Second))

	assert.False(t, m.ExpiredAt(created.Add(9*time.Second)))
	assert.False(t, m.ExpiredAt(created.Add(10*time.Second)), "elapsed == ttl is not expired")
	assert.True(t, m.ExpiredAt(created.Add(10*time.Second+time.Nanosecond)))
}

func TestMessageValidate(t *testing.T) {
	var nilMsg *Message
	assert.ErrorIs(t, nilMsg.Validate(), ErrInvalidMessage)
	assert.ErrorIs(t, NewMessage("", "t", nil).Validate(), ErrInvalidMessage)
	assert.ErrorIs(t, NewMessage("a", "", nil).Validate(), ErrInvalidMessage)
	require.NoError(t, NewMessage("a", "t", nil).Validate())
}

func TestMessageClone(t *testing.T) {
	m := NewMessage("a", "t", "payload")
	c := m.Clone()
	c.RecipientID = "other"

	assert.Empty(t, m.RecipientID)
	assert.Equal(t, m.Payload, c.Payload)
}

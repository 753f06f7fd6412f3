package bus

import "slices"

// history keeps the most recent messages, evicting the oldest first.
// Callers hold MessageBus.mu.
type history struct {
	limit    int
	messages []*Message
}

func newHistory(limit int) *history {
	return &history{limit: limit, messages: make([]*Message, 0, limit)}
}

func (h *history) add(m *Message) {
	if h.limit <= 0 {
		return
	}
	if len(h.messages) >= h.limit {
		// Shift instead of reslicing so the backing array does not grow.
		copy(h.messages, h.messages[1:])
		h.messages = h.messages[:len(h.messages)-1]
	}
	h.messages = append(h.messages, m)
}

func (h *history) len() int {
	return len(h.messages)
}

// recent returns up to limit messages of the given type, oldest first.
// An empty type matches all messages; limit <= 0 means no limit.
func (h *history) recent(messageType string, limit int) []*Message {
	var out []*Message
	for i := len(h.messages) - 1; i >= 0; i-- {
		m := h.messages[i]
		if messageType != "" && m.Type != messageType {
			continue
		}
		out = append(out, m.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	slices.Reverse(out)
	return out
}

func (h *history) countByType() map[string]int {
	counts := make(map[string]int)
	for _, m := range h.messages {
		counts[m.Type]++
	}
	return counts
}

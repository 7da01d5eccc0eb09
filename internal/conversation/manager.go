package conversation

import (
	"sync"
	"time"

	"github.com/ospreyhq/osprey/internal/provider"
)

// Manager owns one session's message history. History is append-only: a
// message is never mutated or removed once added, so streamed turns stay
// replayable.
type Manager struct {
	mu        sync.Mutex
	startedAt time.Time
	messages  []provider.Message
}

// NewManager starts an empty conversation.
func NewManager() *Manager {
	return &Manager{startedAt: time.Now()}
}

// Append adds one message to the history.
func (m *Manager) Append(msg provider.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

// AppendAll adds messages in order.
func (m *Manager) AppendAll(msgs ...provider.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msgs...)
}

// Messages returns a copy of the history.
func (m *Manager) Messages() []provider.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]provider.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of messages.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// StartedAt returns when the conversation began.
func (m *Manager) StartedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startedAt
}

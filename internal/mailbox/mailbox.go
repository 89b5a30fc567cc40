// Package mailbox stores private messages addressed to offline nicknames
// until the nickname reconnects. Mailboxes are process-lifetime state: a
// session disconnecting does not discard its pending messages.
package mailbox

import (
	"sync"

	"github.com/mkaancelik/chatwire/internal/protocol"
)

// Mailbox holds per-nickname FIFO queues of undelivered envelopes.
// Safe for concurrent use.
type Mailbox struct {
	mu      sync.Mutex
	pending map[string][]protocol.Envelope
}

func New() *Mailbox {
	return &Mailbox{pending: make(map[string][]protocol.Envelope)}
}

// Enqueue appends env to the queue for nickname.
func (m *Mailbox) Enqueue(nickname string, env protocol.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[nickname] = append(m.pending[nickname], env)
}

// Drain removes and returns all pending envelopes for nickname in original
// enqueue order, or nil if there are none. Removal and return are a single
// atomic step, so a message accepted into the mailbox is delivered exactly
// once.
func (m *Mailbox) Drain(nickname string) []protocol.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	queued := m.pending[nickname]
	delete(m.pending, nickname)
	return queued
}

// Len returns the number of envelopes pending for nickname.
func (m *Mailbox) Len(nickname string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[nickname])
}

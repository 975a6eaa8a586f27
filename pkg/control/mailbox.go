package control

import (
	"encoding/json"
	"sync"
	"time"
)

// pending is one telemetry payload waiting for a worker.
type pending struct {
	raw        json.RawMessage
	receivedAt time.Time
}

// mailbox is a single-slot buffer with overwrite on put. A put while the
// previous payload is still waiting replaces it and counts a drop, so the
// worker always picks up the latest telemetry.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	item   *pending
	closed bool
	drops  uint64
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put stores p and reports whether an unconsumed payload was dropped.
func (m *mailbox) put(p *pending) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	dropped := m.item != nil
	if dropped {
		m.drops++
	}
	m.item = p
	m.cond.Signal()
	return dropped
}

// take blocks until a payload is available or the mailbox is closed. It
// returns nil after close.
func (m *mailbox) take() *pending {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.item == nil && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return nil
	}

	p := m.item
	m.item = nil
	return p
}

// clear discards a waiting payload without counting it as a drop.
func (m *mailbox) clear() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	had := m.item != nil
	m.item = nil
	return had
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.item = nil
	m.cond.Broadcast()
}

func (m *mailbox) dropCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

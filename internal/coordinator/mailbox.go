package coordinator

import (
	"context"
	"errors"
	"sync"
)

// ErrMailboxFull is returned to scanners when routine submissions back up.
var ErrMailboxFull = errors.New("coordinator: mailbox full")

// Priority orders the mailbox. High is drained completely before any normal
// message is looked at.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// mailbox is an unbounded two-level queue. Only external normal-priority
// submissions are capped, so internal producers (stage workers, the
// executor) never block on it.
type mailbox struct {
	mu     sync.Mutex
	high   []message
	normal []message
	limit  int
	signal chan struct{}
}

func newMailbox(limit int) *mailbox {
	return &mailbox{limit: limit, signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(msg message, p Priority, external bool) error {
	m.mu.Lock()
	if p == PriorityHigh {
		m.high = append(m.high, msg)
	} else {
		if external && m.limit > 0 && len(m.normal) >= m.limit {
			m.mu.Unlock()
			return ErrMailboxFull
		}
		m.normal = append(m.normal, msg)
	}
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

func (m *mailbox) pop() (message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.high) > 0 {
		msg := m.high[0]
		m.high[0] = message{}
		m.high = m.high[1:]
		return msg, true
	}
	if len(m.normal) > 0 {
		msg := m.normal[0]
		m.normal[0] = message{}
		m.normal = m.normal[1:]
		return msg, true
	}
	return message{}, false
}

// next blocks until a message is available or ctx is done.
func (m *mailbox) next(ctx context.Context) (message, bool) {
	for {
		if msg, ok := m.pop(); ok {
			return msg, true
		}
		select {
		case <-m.signal:
		case <-ctx.Done():
			return message{}, false
		}
	}
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.high) + len(m.normal)
}

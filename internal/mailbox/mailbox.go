// Package mailbox implements the BotMailbox: a per-bot FIFO queue of
// outbound message envelopes, drained by the bot's long-poll getUpdates
// call. It is distinct from the bus package, which is fan-out
// observability; a mailbox is single-consumer, ordered delivery.
package mailbox

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultLimit = 100
	MaxLimit     = 100
)

// Update pairs an assigned updateId with the raw message envelope.
type Update struct {
	UpdateID int64
	Message  any
}

// Mailbox holds one FIFO queue per bot token.
type Mailbox struct {
	mu     sync.Mutex
	queues map[string]*botQueue
}

type botQueue struct {
	mu      sync.Mutex
	pending []any
	waiter  chan struct{}
}

// New returns an empty Mailbox.
func New() *Mailbox {
	return &Mailbox{queues: make(map[string]*botQueue)}
}

func (m *Mailbox) queueFor(token string) *botQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[token]
	if !ok {
		q = &botQueue{waiter: make(chan struct{}, 1)}
		m.queues[token] = q
	}
	return q
}

// Enqueue appends envelope to token's queue and wakes a waiting poller.
func (m *Mailbox) Enqueue(token string, envelope any) {
	q := m.queueFor(token)
	q.mu.Lock()
	q.pending = append(q.pending, envelope)
	q.mu.Unlock()

	select {
	case q.waiter <- struct{}{}:
	default:
	}
}

// GetUpdates waits up to timeout for the first message, then drains
// non-blockingly up to limit-1 more. lastUpdateID is the bot's current
// counter; the caller is responsible for persisting the returned
// nextUpdateID. Returns an empty, nil-error result if nothing arrives
// before ctx is done or timeout elapses.
func (m *Mailbox) GetUpdates(ctx context.Context, token string, timeout time.Duration, limit int, lastUpdateID int64) ([]Update, int64, error) {
	if timeout < 0 {
		timeout = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	q := m.queueFor(token)

	first, ok := q.popOne()
	if !ok {
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			select {
			case <-q.waiter:
				first, ok = q.popOne()
			case <-timer.C:
			case <-ctx.Done():
				return nil, lastUpdateID, ctx.Err()
			}
		}
	}
	if !ok {
		return nil, lastUpdateID, nil
	}

	messages := []any{first}
	for len(messages) < limit {
		msg, ok := q.popOne()
		if !ok {
			break
		}
		messages = append(messages, msg)
	}

	updates := make([]Update, len(messages))
	for i, msg := range messages {
		updates[i] = Update{UpdateID: lastUpdateID + int64(i), Message: msg}
	}
	return updates, lastUpdateID + int64(len(messages)), nil
}

func (q *botQueue) popOne() (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, true
}

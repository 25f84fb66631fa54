package realtime

import (
	"strings"

	"github.com/pkg/errors"
)

// OverflowPolicy decides what a bounded OutboundQueue does when it is full.
type OverflowPolicy int

const (
	// OverflowDropOldest evicts the head to make room for the new envelope.
	OverflowDropOldest OverflowPolicy = iota
	// OverflowDropNewest discards the envelope being enqueued.
	OverflowDropNewest
	// OverflowReject discards the envelope being enqueued and reports ErrQueueFull to the caller.
	OverflowReject
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowDropOldest:
		return "drop_oldest"
	case OverflowDropNewest:
		return "drop_newest"
	case OverflowReject:
		return "reject"
	default:
		return "unknown"
	}
}

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_oldest":
		return OverflowDropOldest, nil
	case "drop_newest":
		return OverflowDropNewest, nil
	case "reject":
		return OverflowReject, nil
	default:
		return 0, errors.Errorf("unknown overflow policy %q", s)
	}
}

// OutboundQueue buffers envelopes issued while the connection is unavailable. A capacity
// <= 0 means unbounded. It is not safe for concurrent use; ConnectionManager guards it with
// its own mutex.
type OutboundQueue struct {
	items    []Envelope
	capacity int
	policy   OverflowPolicy
}

func NewOutboundQueue(capacity int, policy OverflowPolicy) *OutboundQueue {
	return &OutboundQueue{capacity: capacity, policy: policy}
}

// Enqueue appends env to the tail. When the queue is full the overflow policy applies and the
// discarded envelope, if any, is returned. Only OverflowReject yields an error.
func (q *OutboundQueue) Enqueue(env Envelope) (dropped *Envelope, err error) {
	if q.capacity > 0 && len(q.items) >= q.capacity {
		switch q.policy {
		case OverflowDropNewest:
			return &env, nil
		case OverflowReject:
			return &env, ErrQueueFull
		default:
			head := q.items[0]
			q.items[0] = Envelope{}
			q.items = q.items[1:]
			dropped = &head
		}
	}

	q.items = append(q.items, env)
	return dropped, nil
}

// DrainInto pops envelopes from the head and hands them to send until the queue is empty.
// An envelope is removed only after send accepted it, so on failure the unsent remainder stays
// at the front in original order. It returns how many envelopes were sent.
func (q *OutboundQueue) DrainInto(send func(Envelope) error) (int, error) {
	sent := 0
	for len(q.items) > 0 {
		if err := send(q.items[0]); err != nil {
			return sent, err
		}
		q.items[0] = Envelope{}
		q.items = q.items[1:]
		sent++
	}
	q.items = nil
	return sent, nil
}

// Size returns the number of envelopes waiting.
func (q *OutboundQueue) Size() int {
	return len(q.items)
}

// Snapshot returns a copy of the queued envelopes in order.
func (q *OutboundQueue) Snapshot() []Envelope {
	out := make([]Envelope, len(q.items))
	copy(out, q.items)
	return out
}

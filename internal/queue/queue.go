// Package queue holds formatted log lines between the log hook and the
// transmit worker.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Policy selects what Enqueue does when the queue is full.
type Policy int

const (
	// Drop discards the new line and reports it through the drop callback.
	// Producers never wait.
	Drop Policy = iota

	// Block makes the producer wait until the worker frees a slot.
	Block
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case Drop:
		return "drop"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a configuration name to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return Drop, nil
	case "block":
		return Block, nil
	}
	return Drop, fmt.Errorf("unknown queue policy %q", s)
}

// Record is one formatted line owned by the queue until the worker
// releases it.
type Record struct {
	buf  *[]byte
	pool *sync.Pool
}

// Bytes returns the line. The slice is only valid until Release.
func (r Record) Bytes() []byte {
	if r.buf == nil {
		return nil
	}
	return *r.buf
}

// Release hands the buffer back for reuse. Call it once the send attempt
// is over, whether it succeeded or not.
func (r Record) Release() {
	if r.buf == nil || r.pool == nil {
		return
	}
	*r.buf = (*r.buf)[:0]
	r.pool.Put(r.buf)
}

// Queue is a bounded FIFO of log lines.
type Queue struct {
	ch      chan Record
	maxLine int
	policy  Policy
	onDrop  func()
	pool    sync.Pool
}

// Option configures a Queue.
type Option func(*Queue)

// WithDropCallback registers fn to run each time a line is dropped because
// the queue was full.
func WithDropCallback(fn func()) Option {
	return func(q *Queue) {
		q.onDrop = fn
	}
}

// New creates a queue holding at most depth lines of at most maxLine bytes.
func New(depth, maxLine int, policy Policy, opts ...Option) (*Queue, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("queue depth must be positive, got %d", depth)
	}
	if maxLine <= 0 {
		return nil, fmt.Errorf("max line length must be positive, got %d", maxLine)
	}

	q := &Queue{
		ch:      make(chan Record, depth),
		maxLine: maxLine,
		policy:  policy,
	}
	q.pool.New = func() any {
		b := make([]byte, 0, maxLine)
		return &b
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q, nil
}

// Enqueue copies line into a pooled record, truncating it to the maximum
// line length, and queues it. It reports false when the line was dropped.
// Empty lines are ignored and reported as queued.
func (q *Queue) Enqueue(line []byte) bool {
	if len(line) == 0 {
		return true
	}
	if len(line) > q.maxLine {
		line = line[:q.maxLine]
	}

	buf := q.pool.Get().(*[]byte)
	*buf = append((*buf)[:0], line...)
	rec := Record{buf: buf, pool: &q.pool}

	if q.policy == Block {
		q.ch <- rec
		return true
	}

	select {
	case q.ch <- rec:
		return true
	default:
		rec.Release()
		if q.onDrop != nil {
			q.onDrop()
		}
		return false
	}
}

// Dequeue waits for the next record or for ctx to be done.
func (q *Queue) Dequeue(ctx context.Context) (Record, error) {
	select {
	case rec := <-q.ch:
		return rec, nil
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// Len returns the number of queued records.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue depth.
func (q *Queue) Cap() int { return cap(q.ch) }

// MaxLine returns the truncation bound applied by Enqueue.
func (q *Queue) MaxLine() int { return q.maxLine }

// Policy returns the full-queue policy.
func (q *Queue) Policy() Policy { return q.policy }

package frozen

import (
	"fmt"
	"sync"
)

// commandQueue is C2's bounded outgoing command queue (spec.md §3
// "Command queues"): single-consumer, coalescing DisableSide over any
// pending SetSideTarget for the same side. Grounded on
// internal/daemon/queue.go's WorkQueue (bounded buffer + dedup map),
// generalized from file-path dedup to per-side coalescing.
type commandQueue struct {
	mu       sync.Mutex
	pending  []Command
	capacity int
	nextID   uint32
	signal   chan struct{}
}

func newCommandQueue(capacity int) *commandQueue {
	return &commandQueue{
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// ErrBusy is returned when the queue is at capacity (spec.md §4.2: the
// manager backpressures producers with a "busy" error).
var ErrBusy = fmt.Errorf("frozen: command queue busy")

// Enqueue adds a command, coalescing DisableSide over any queued
// SetSideTarget for the same side, and returns the id assigned to it.
func (q *commandQueue) Enqueue(cmd Command) (uint32, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cmd.Kind == CmdDisableSide {
		filtered := q.pending[:0]
		for _, p := range q.pending {
			if p.Kind == CmdSetSideTarget && p.Side == cmd.Side {
				continue // superseded
			}
			filtered = append(filtered, p)
		}
		q.pending = filtered
	}

	if len(q.pending) >= q.capacity {
		return 0, ErrBusy
	}

	q.nextID++
	cmd.id = q.nextID
	q.pending = append(q.pending, cmd)
	q.notify()
	return cmd.id, nil
}

func (q *commandQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Signal returns a channel that receives a value whenever the queue
// transitions from possibly-empty to non-empty.
func (q *commandQueue) Signal() <-chan struct{} {
	return q.signal
}

// Dequeue removes and returns the oldest pending command.
func (q *commandQueue) Dequeue() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Command{}, false
	}
	cmd := q.pending[0]
	q.pending = q.pending[1:]
	return cmd, true
}

// Len returns the number of pending commands.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

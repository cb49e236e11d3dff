package socket

import (
	"sync"

	"github.com/gammazero/deque"
)

// commandQueue is the unbounded FIFO feeding the control loop. Any goroutine
// may push; only the loop pops.
type commandQueue struct {
	mu     sync.Mutex
	items  *deque.Deque[Command]
	closed bool
	wake   chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		items: deque.New[Command](),
		wake:  make(chan struct{}, 1),
	}
}

func (q *commandQueue) push(cmd Command) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items.PushBack(cmd)
	q.mu.Unlock()
	q.signal()
	return nil
}

// closeWith enqueues cmd as the last accepted command.
func (q *commandQueue) closeWith(cmd Command) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items.PushBack(cmd)
	q.closed = true
	q.mu.Unlock()
	q.signal()
	return nil
}

// close rejects further pushes and returns whatever was still queued.
func (q *commandQueue) close() []Command {
	q.mu.Lock()
	q.closed = true
	dropped := make([]Command, 0, q.items.Len())
	for q.items.Len() > 0 {
		dropped = append(dropped, q.items.PopFront())
	}
	q.mu.Unlock()
	q.signal()
	return dropped
}

// pop blocks for the next command. It reports false once the queue is
// closed and empty.
func (q *commandQueue) pop() (Command, bool) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			cmd := q.items.PopFront()
			q.mu.Unlock()
			return cmd, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Command{}, false
		}
		<-q.wake
	}
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *commandQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

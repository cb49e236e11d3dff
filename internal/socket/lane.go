package socket

import (
	"sync"

	"github.com/gammazero/deque"
	"github.com/rs/zerolog"
)

// lane delivers values to one caller handler on its own goroutine, in push
// order. Pushing never blocks.
type lane[T any] struct {
	name   string
	handle func(T)
	log    zerolog.Logger

	mu     sync.Mutex
	items  *deque.Deque[T]
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newLane[T any](name string, handle func(T), logger zerolog.Logger) *lane[T] {
	l := &lane[T]{
		name:   name,
		handle: handle,
		log:    logger,
		items:  deque.New[T](),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *lane[T]) push(v T) bool {
	if l.handle == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.items.PushBack(v)
	l.mu.Unlock()
	l.signal()
	return true
}

// close lets queued values drain, then stops the lane.
func (l *lane[T]) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
}

func (l *lane[T]) wait() {
	<-l.done
}

func (l *lane[T]) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if l.items.Len() == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			<-l.wake
			continue
		}
		v := l.items.PopFront()
		l.mu.Unlock()
		l.deliver(v)
	}
}

func (l *lane[T]) deliver(v T) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Str("lane", l.name).Interface("panic", r).Msg("socket.lane.handler_panic")
		}
	}()
	l.handle(v)
}

func (l *lane[T]) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

package internal

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

var ErrQueueClosed = errors.New("send queue closed")

// SendQueue is the outbound queue of a connection. It keeps two FIFO lanes:
// control items always leave before data items, while each lane preserves
// insertion order.
type SendQueue[T any] struct {
	mu     sync.Mutex
	ctrl   *queue.Queue
	data   *queue.Queue
	ready  chan struct{}
	closed bool
}

func NewSendQueue[T any]() *SendQueue[T] {
	return &SendQueue[T]{
		ctrl:  queue.New(),
		data:  queue.New(),
		ready: make(chan struct{}, 1),
	}
}

func (q *SendQueue[T]) PushControl(item T) error {
	return q.push(q.ctrl, item)
}

func (q *SendQueue[T]) PushData(item T) error {
	return q.push(q.data, item)
}

func (q *SendQueue[T]) push(lane *queue.Queue, item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	lane.Add(item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}

	return nil
}

// Pop blocks until an item is available or stop is closed.
func (q *SendQueue[T]) Pop(stop <-chan struct{}) (item T, ok bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return item, false
		}
		if q.ctrl.Length() > 0 {
			item = q.ctrl.Remove().(T)
			q.mu.Unlock()
			return item, true
		}
		if q.data.Length() > 0 {
			item = q.data.Remove().(T)
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-stop:
			return item, false
		}
	}
}

func (q *SendQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ctrl.Length() + q.data.Length()
}

// Close rejects further pushes and returns the items that were never popped,
// control items first.
func (q *SendQueue[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	left := make([]T, 0, q.ctrl.Length()+q.data.Length())
	for q.ctrl.Length() > 0 {
		left = append(left, q.ctrl.Remove().(T))
	}
	for q.data.Length() > 0 {
		left = append(left, q.data.Remove().(T))
	}

	return left
}

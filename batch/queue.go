package batch

import (
	"context"
	"sync"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels
const SubscriberChannelBufferSize = 100

// Queue hands items to workers and publishes every committed transition.
// An item is in the ready channel or held by exactly one worker, never both,
// which gives per-item mutual exclusion without locks on the item itself.
type Queue struct {
	store *Store
	ready chan *Item

	mu          sync.RWMutex
	subscribers []chan *Item
}

// NewQueue creates a queue able to hold capacity items at once
func NewQueue(store *Store, capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		store: store,
		ready: make(chan *Item, capacity),
	}
}

// Enqueue makes item eligible for its next stage. Capacity covers every item
// of the run, so this never blocks.
func (q *Queue) Enqueue(item *Item) {
	q.ready <- item
}

// Dequeue blocks until an item is ready or ctx is done
func (q *Queue) Dequeue(ctx context.Context) (*Item, error) {
	select {
	case item := <-q.ready:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of items waiting
func (q *Queue) Len() int {
	return len(q.ready)
}

// Commit durably stores next and notifies subscribers
func (q *Queue) Commit(ctx context.Context, next *Item) error {
	if err := q.store.Commit(ctx, next); err != nil {
		return err
	}
	q.notifySubscribers(next)
	return nil
}

// Subscribe returns a channel that receives a copy of every committed item
func (q *Queue) Subscribe() chan *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Item, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is not closed.
func (q *Queue) Unsubscribe(ch chan *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

func (q *Queue) notifySubscribers(item *Item) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, ch := range q.subscribers {
		select {
		case ch <- item.Clone():
		default:
			// Channel full, skip (non-blocking)
		}
	}
}

/*
 *
 * Copyright 2026 sgx-spark authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package comm

import (
	"context"
	"errors"
	"sync"
)

var errQueueClosed = errors.New("queue closed")

// queue is an unbounded blocking FIFO. Inboxes must be unbounded so the
// shared receive loop never blocks on one slow consumer.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
	done   chan struct{}
	closed bool
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push appends v. Pushing to a closed queue is refused so the caller can
// report the late delivery.
func (q *queue[T]) push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errQueueClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// pop blocks until an item is available, the queue is closed, or ctx is
// cancelled.
func (q *queue[T]) pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				// Re-arm the signal for other waiters.
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, errQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.signal:
		case <-q.done:
		}
	}
}

// close marks the queue closed and wakes all waiters. Items already queued
// remain poppable.
func (q *queue[T]) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()
}

// len returns the number of queued items.
func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

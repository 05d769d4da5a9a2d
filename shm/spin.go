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

package shm

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// WaitStrategy is an adaptive spin-wait. The ring channels never block on an
// OS primitive across the trust boundary; a waiter spins on the shared slot
// state, yielding occasionally, and falls back to short sleeps when the peer
// is slow. The spin limit adapts: hits grow it, misses shrink it.
type WaitStrategy struct {
	limit   atomic.Int32
	minSpin int32
	maxSpin int32
	incStep int32
	decStep int32
	pause   time.Duration
}

// NewWaitStrategy returns a WaitStrategy with defaults tuned for short
// handoff waits.
func NewWaitStrategy() *WaitStrategy {
	w := &WaitStrategy{
		minSpin: 100,
		maxSpin: 20000,
		incStep: 200,
		decStep: 100,
		pause:   50 * time.Microsecond,
	}
	w.limit.Store(2000)
	return w
}

// Wait spins until cond returns true or ctx is cancelled. Contention is a
// wait condition, never an error; the only error returned is ctx.Err().
func (w *WaitStrategy) Wait(ctx context.Context, cond func() bool) error {
	limit := int(w.limit.Load())

	// Spin phase. Yield every 64 iterations to keep scheduler overhead low.
	for i := 0; i < limit; i++ {
		if cond() {
			w.reward(limit)
			return nil
		}
		if i&0x3F == 0 {
			runtime.Gosched()
		}
	}
	w.punish(limit)

	// Sleep phase.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		time.Sleep(w.pause)
		if cond() {
			return nil
		}
	}
}

func (w *WaitStrategy) reward(limit int) {
	if limit < int(w.maxSpin) {
		next := limit + int(w.incStep)
		if next > int(w.maxSpin) {
			next = int(w.maxSpin)
		}
		w.limit.Store(int32(next))
	}
}

func (w *WaitStrategy) punish(limit int) {
	if limit > int(w.minSpin) {
		next := limit - int(w.decStep)
		if next < int(w.minSpin) {
			next = int(w.minSpin)
		}
		w.limit.Store(int32(next))
	}
}

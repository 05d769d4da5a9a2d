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
	"time"
)

// WaitEnclaveReady blocks until the attaching side has mapped the segment.
// The creating side calls this before trusting the enclave to drain ring A.
func (s *Segment) WaitEnclaveReady(ctx context.Context) error {
	return s.waitFlag(ctx, func() bool { return s.Header().EnclaveReady() })
}

// WaitHostReady blocks until the creating side has marked the segment
// layout complete.
func (s *Segment) WaitHostReady(ctx context.Context) error {
	return s.waitFlag(ctx, func() bool { return s.Header().HostReady() })
}

func (s *Segment) waitFlag(ctx context.Context, ready func() bool) error {
	ticker := time.NewTicker(1 * time.Millisecond)
	defer ticker.Stop()

	for {
		if ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

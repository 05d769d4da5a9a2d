/*
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
 */

package shm

import (
	"testing"

	"github.com/google/uuid"
)

// createTestSegment creates a segment with a unique backing file and
// registers cleanup so the file is always removed, even if the test fails.
func createTestSegment(t *testing.T, slotCount, slotSize uint64) *Segment {
	t.Helper()

	path := DefaultPath("test-" + uuid.NewString())
	RemoveSegment(path)

	seg, err := CreateSegment(path, slotCount, slotSize)
	if err != nil {
		t.Fatalf("failed to create test segment %s: %v", path, err)
	}

	t.Cleanup(func() {
		if seg != nil {
			seg.Close()
		}
		RemoveSegment(path)
	})

	return seg
}

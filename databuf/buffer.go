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

// Package databuf provides bounds-checked, reference-counted views over
// contiguous memory regions. All reads and writes against shared memory go
// through a Buffer so that a slot handed back to a producer can never be
// reached through a stale view.
package databuf

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// region is the backing memory shared by one or more Buffer views. The
// release callback runs exactly once, when the reference count drops to zero.
type region struct {
	data    []byte
	refs    atomic.Int32
	release func([]byte)
}

// Buffer is a view over a contiguous memory region with an advisory cursor
// and positioned accessors. Views created with Slice share the backing
// region's reference count; the region is released only when the count
// reaches zero.
//
// Buffers are not safe for concurrent use by multiple goroutines. Accessing
// a Buffer whose reference count has reached zero is a programming error and
// panics.
type Buffer struct {
	reg       *region
	off       int
	capacity  int
	pos       int
	finalised bool
	finalIdx  int
	freed     bool
}

// New creates a Buffer over a freshly allocated region of the given capacity
// with a reference count of one.
func New(capacity int) *Buffer {
	return Wrap(make([]byte, capacity), nil)
}

// Wrap creates a Buffer over an existing byte region with a reference count
// of one. The release callback, if non-nil, runs when the last view is
// released.
func Wrap(data []byte, release func([]byte)) *Buffer {
	reg := &region{data: data, release: release}
	reg.refs.Store(1)
	return &Buffer{reg: reg, capacity: len(data), finalIdx: -1}
}

// check panics if the view is no longer usable or the access is out of
// bounds. Lifecycle misuse fails fast rather than returning stale data.
func (b *Buffer) check(off, n int) {
	if b.freed || b.reg.refs.Load() <= 0 {
		panic(fmt.Sprintf("databuf: access to freed buffer (off=%d len=%d)", off, n))
	}
	if off < 0 || n < 0 || off+n > b.capacity {
		panic(fmt.Sprintf("databuf: access out of bounds: off=%d len=%d cap=%d", off, n, b.capacity))
	}
}

func (b *Buffer) bytes() []byte {
	return b.reg.data[b.off : b.off+b.capacity]
}

// Capacity returns the length of the view in bytes.
func (b *Buffer) Capacity() int { return b.capacity }

// Position returns the advisory cursor.
func (b *Buffer) Position() int { return b.pos }

// SetPosition moves the advisory cursor.
func (b *Buffer) SetPosition(pos int) {
	b.check(pos, 0)
	b.pos = pos
}

// Reset rewinds the cursor to zero.
func (b *Buffer) Reset() { b.pos = 0 }

// Clear rewinds the cursor and clears the finalised mark so the view can be
// reused for a fresh record.
func (b *Buffer) Clear() {
	b.check(0, 0)
	b.pos = 0
	b.finalised = false
	b.finalIdx = -1
}

// Get returns the byte at off.
func (b *Buffer) Get(off int) byte {
	b.check(off, 1)
	return b.bytes()[off]
}

// Put stores one byte at off. The cursor does not move.
func (b *Buffer) Put(off int, v byte) {
	b.check(off, 1)
	b.bytes()[off] = v
}

// GetUint32 reads a little-endian 32-bit integer at off.
func (b *Buffer) GetUint32(off int) uint32 {
	b.check(off, 4)
	return binary.LittleEndian.Uint32(b.bytes()[off:])
}

// PutUint32 stores a little-endian 32-bit integer at off.
func (b *Buffer) PutUint32(off int, v uint32) {
	b.check(off, 4)
	binary.LittleEndian.PutUint32(b.bytes()[off:], v)
}

// GetUint64 reads a little-endian 64-bit integer at off.
func (b *Buffer) GetUint64(off int) uint64 {
	b.check(off, 8)
	return binary.LittleEndian.Uint64(b.bytes()[off:])
}

// PutUint64 stores a little-endian 64-bit integer at off.
func (b *Buffer) PutUint64(off int, v uint64) {
	b.check(off, 8)
	binary.LittleEndian.PutUint64(b.bytes()[off:], v)
}

// GetFloat32 reads a little-endian 32-bit float at off.
func (b *Buffer) GetFloat32(off int) float32 {
	return math.Float32frombits(b.GetUint32(off))
}

// PutFloat32 stores a little-endian 32-bit float at off.
func (b *Buffer) PutFloat32(off int, v float32) {
	b.PutUint32(off, math.Float32bits(v))
}

// GetBytes copies len(p) bytes starting at off into p.
func (b *Buffer) GetBytes(off int, p []byte) {
	b.check(off, len(p))
	copy(p, b.bytes()[off:off+len(p)])
}

// PutBytes copies p into the view starting at the cursor and advances the
// cursor past the written bytes.
func (b *Buffer) PutBytes(p []byte) {
	b.check(b.pos, len(p))
	copy(b.bytes()[b.pos:], p)
	b.pos += len(p)
}

// PutBytesAt copies p into the view at off. The cursor does not move.
func (b *Buffer) PutBytesAt(off int, p []byte) {
	b.check(off, len(p))
	copy(b.bytes()[off:], p)
}

// PutBuffer copies src's content from 0 to src.Position() into the view at
// the cursor, advancing the cursor.
func (b *Buffer) PutBuffer(src *Buffer) {
	b.PutBufferAt(src, b.pos, src.Position(), false)
	b.pos += src.Position()
}

// PutBufferAt copies n bytes of src into the view at off. When
// resetPosition is true the destination cursor is restored afterwards, so a
// length-prefix patch write does not move the cursor past the payload it
// annotates.
func (b *Buffer) PutBufferAt(src *Buffer, off, n int, resetPosition bool) {
	src.check(0, n)
	b.check(off, n)
	saved := b.pos
	copy(b.bytes()[off:off+n], src.bytes()[:n])
	if resetPosition {
		b.pos = saved
	}
}

// Bzero zero-fills the whole view.
func (b *Buffer) Bzero() {
	b.BzeroRange(0, b.capacity)
}

// BzeroRange zero-fills n bytes starting at off, for reuse before a slot is
// handed back to a producer.
func (b *Buffer) BzeroRange(off, n int) {
	b.check(off, n)
	clear(b.bytes()[off : off+n])
}

// Finalise seals the record at index. Further writes to the sealed record
// are forbidden; a consumer checks IsFinalised before trusting an in-flight
// record's length field.
func (b *Buffer) Finalise(index int) {
	b.check(index, 0)
	b.finalised = true
	b.finalIdx = index
}

// IsFinalised reports whether the current record has been sealed.
func (b *Buffer) IsFinalised() bool { return b.finalised }

// Slice returns a new view over n bytes starting at off, sharing the backing
// region. The shared reference count is incremented.
func (b *Buffer) Slice(off, n int) *Buffer {
	b.check(off, n)
	b.reg.refs.Add(1)
	return &Buffer{reg: b.reg, off: b.off + off, capacity: n, finalIdx: -1}
}

// RefCount returns the current shared reference count.
func (b *Buffer) RefCount() int {
	return int(b.reg.refs.Load())
}

// Retain increments the shared reference count and returns the previous
// value.
func (b *Buffer) Retain() int {
	if b.freed || b.reg.refs.Load() <= 0 {
		panic("databuf: retain of freed buffer")
	}
	return int(b.reg.refs.Add(1)) - 1
}

// Release decrements the shared reference count and returns the new value.
// The backing region is released exactly once, when the count reaches zero.
// Decrementing below zero is a programming error and panics.
func (b *Buffer) Release() int {
	n := b.reg.refs.Add(-1)
	switch {
	case n == 0:
		if b.reg.release != nil {
			b.reg.release(b.reg.data)
		}
		b.reg.data = nil
	case n < 0:
		panic("databuf: release below zero")
	}
	return int(n)
}

// Free releases this view's reference. It is idempotent: releasing the same
// view twice does not double-decrement.
func (b *Buffer) Free() {
	if b.freed {
		return
	}
	b.freed = true
	b.Release()
}

// Checksum returns an xxhash64 digest over the view content up to the
// cursor. It detects corruption introduced by the untrusted peer or by
// copy errors, independent of any encryption.
func (b *Buffer) Checksum() uint64 {
	b.check(0, b.pos)
	return xxhash.Sum64(b.bytes()[:b.pos])
}

// ChecksumRange returns an xxhash64 digest over n bytes starting at off.
func (b *Buffer) ChecksumRange(off, n int) uint64 {
	b.check(off, n)
	return xxhash.Sum64(b.bytes()[off : off+n])
}

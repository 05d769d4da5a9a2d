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
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"unsafe"

	"github.com/anddev68/sgx-spark/databuf"
)

// Slot states. Each slot carries an explicit tagged state word instead of
// overloading the length field, so a zero-length payload is legal and
// "empty" is unambiguous.
const (
	slotFree    uint32 = 0 // consumer has drained the slot; producer may claim it
	slotWriting uint32 = 1 // producer is copying the payload
	slotReady   uint32 = 2 // frame committed; consumer may decode
	slotReading uint32 = 3 // consumer is draining the slot
)

// Slot header field offsets within a slot.
const (
	slotStateOff    = 0 // uint32, atomic
	slotLengthOff   = 4 // uint32
	slotChecksumOff = 8 // uint64
)

var (
	// ErrChannelClosed indicates the ring has been closed for writing.
	ErrChannelClosed = errors.New("ring channel closed")

	// ErrFrameTooLarge indicates a payload exceeding the slot capacity.
	// This is a fatal condition, never retried.
	ErrFrameTooLarge = errors.New("frame exceeds slot capacity")

	// ErrChecksumMismatch indicates a frame whose stored digest does not
	// match its payload bytes.
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
)

// RingChannel is a bounded circular region of fixed-size slots with one
// producer and one consumer role fixed for its lifetime. Synchronization is
// a pure polling handshake on the per-slot state word; no syscall crosses
// the trust boundary.
//
// Framing protocol, per slot in cursor order with wraparound:
//  1. the producer waits until the target slot reads slotFree,
//  2. claims it (slotWriting), copies the payload, stores length and digest,
//  3. commits with a slotReady store; nothing written before that store is
//     visible to the consumer,
//  4. the consumer waits for slotReady, drains the frame, resets the length
//     field and releases the slot back with a slotFree store.
type RingChannel struct {
	slotMask   uint64
	slotCount  uint64
	slotSize   uint64
	payloadCap int
	hdrOff     uintptr
	dataOff    uintptr
	mem        []byte
	data       *databuf.Buffer // view over the slot area; all payload I/O goes through it
	wait       *WaitStrategy
}

// RingState is a snapshot of ring cursors for diagnostics.
type RingState struct {
	SlotCount uint64
	SlotSize  uint64
	Widx      uint64
	Ridx      uint64
	Used      uint64
	Closed    bool
}

// initRingHeader writes a fresh ring header at off. Called by the segment
// creator before the channel is handed to either role.
func initRingHeader(mem []byte, off, slotCount, slotSize uint64) {
	hdr := (*RingHeader)(unsafe.Pointer(&mem[off]))
	hdr.SetSlotCount(slotCount)
	hdr.SetSlotSize(slotSize)
	hdr.SetWriteCursor(0)
	hdr.SetReadCursor(0)
	hdr.SetClosed(false)
}

// newRingChannel builds the channel view over an initialized ring header.
func newRingChannel(mem []byte, off uint64) *RingChannel {
	hdr := (*RingHeader)(unsafe.Pointer(&mem[off]))
	slotCount := hdr.SlotCount()
	slotSize := hdr.SlotSize()
	dataOff := off + RingHeaderSize
	dataLen := int(slotCount * slotSize)
	return &RingChannel{
		slotMask:   slotCount - 1,
		slotCount:  slotCount,
		slotSize:   slotSize,
		payloadCap: int(slotSize) - SlotHeaderSize,
		hdrOff:     uintptr(off),
		dataOff:    uintptr(dataOff),
		mem:        mem,
		data:       databuf.Wrap(mem[dataOff:dataOff+uint64(dataLen)], nil),
		wait:       NewWaitStrategy(),
	}
}

func (r *RingChannel) header() *RingHeader {
	return (*RingHeader)(unsafe.Pointer(&r.mem[r.hdrOff]))
}

// slotBase returns the byte offset of a slot within the slot area.
func (r *RingChannel) slotBase(cursor uint64) int {
	return int((cursor & r.slotMask) * r.slotSize)
}

// slotState returns the atomic state word of the slot at base.
func (r *RingChannel) slotState(base int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[r.dataOff+uintptr(base)+slotStateOff]))
}

// SlotCount returns the number of slots.
func (r *RingChannel) SlotCount() uint64 { return r.slotCount }

// PayloadCapacity returns the maximum payload bytes per frame.
func (r *RingChannel) PayloadCapacity() int { return r.payloadCap }

// State returns a snapshot of the ring cursors.
func (r *RingChannel) State() RingState {
	hdr := r.header()
	w := hdr.WriteCursor()
	rd := hdr.ReadCursor()
	return RingState{
		SlotCount: r.slotCount,
		SlotSize:  r.slotSize,
		Widx:      w,
		Ridx:      rd,
		Used:      w - rd,
		Closed:    hdr.Closed(),
	}
}

// IsClosed reports whether the channel has been closed for writing.
func (r *RingChannel) IsClosed() bool {
	return r.header().Closed()
}

// Close marks the channel closed. Waiting producers fail with
// ErrChannelClosed; the consumer drains committed frames and then sees
// io.EOF.
func (r *RingChannel) Close() {
	r.header().SetClosed(true)
}

// Produce writes one frame into the slot under the write cursor. It spins
// while the slot is still occupied (contention is a wait condition, not an
// error), copies the payload, and commits it with the slotReady store.
// The caller is the single producer for this channel.
func (r *RingChannel) Produce(ctx context.Context, payload []byte) error {
	if len(payload) > r.payloadCap {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), r.payloadCap)
	}

	hdr := r.header()
	widx := hdr.WriteCursor()
	base := r.slotBase(widx)
	state := r.slotState(base)

	// Flow control: the previous occupant of this slot must be fully
	// drained before we may claim it.
	err := r.wait.Wait(ctx, func() bool {
		return atomic.LoadUint32(state) == slotFree || hdr.Closed()
	})
	if err != nil {
		return err
	}
	if hdr.Closed() {
		return ErrChannelClosed
	}
	if !atomic.CompareAndSwapUint32(state, slotFree, slotWriting) {
		// Single-producer invariant violated.
		return fmt.Errorf("slot %d claimed by another producer", widx&r.slotMask)
	}

	r.data.PutBytesAt(base+SlotHeaderSize, payload)
	r.data.PutUint64(base+slotChecksumOff, r.data.ChecksumRange(base+SlotHeaderSize, len(payload)))
	r.data.PutUint32(base+slotLengthOff, uint32(len(payload)))

	// Commit. Partial writes before this store are invisible to the consumer.
	atomic.StoreUint32(state, slotReady)
	hdr.SetWriteCursor(widx + 1)
	return nil
}

// Consume reads the frame under the read cursor, blocking until one is
// committed. The frame's digest is verified before the payload is trusted;
// a mismatch frees the slot and surfaces ErrChecksumMismatch so the caller
// can keep the channel alive. The caller is the single consumer for this
// channel.
func (r *RingChannel) Consume(ctx context.Context) ([]byte, error) {
	hdr := r.header()
	ridx := hdr.ReadCursor()
	base := r.slotBase(ridx)
	state := r.slotState(base)

	err := r.wait.Wait(ctx, func() bool {
		return atomic.LoadUint32(state) == slotReady || hdr.Closed()
	})
	if err != nil {
		return nil, err
	}
	if atomic.LoadUint32(state) != slotReady {
		// Closed with no committed frame left in this slot.
		return nil, io.EOF
	}
	if !atomic.CompareAndSwapUint32(state, slotReady, slotReading) {
		return nil, fmt.Errorf("slot %d claimed by another consumer", ridx&r.slotMask)
	}

	length := int(r.data.GetUint32(base + slotLengthOff))
	if length > r.payloadCap {
		r.releaseSlot(base, state, ridx)
		return nil, fmt.Errorf("%w: stored length %d exceeds slot capacity", ErrChecksumMismatch, length)
	}

	want := r.data.GetUint64(base + slotChecksumOff)
	got := r.data.ChecksumRange(base+SlotHeaderSize, length)
	if got != want {
		r.releaseSlot(base, state, ridx)
		return nil, fmt.Errorf("%w: slot %d", ErrChecksumMismatch, ridx&r.slotMask)
	}

	payload := make([]byte, length)
	r.data.GetBytes(base+SlotHeaderSize, payload)

	r.releaseSlot(base, state, ridx)
	return payload, nil
}

// releaseSlot resets the length field and hands the slot back to the
// producer.
func (r *RingChannel) releaseSlot(base int, state *uint32, ridx uint64) {
	r.data.PutUint32(base+slotLengthOff, 0)
	atomic.StoreUint32(state, slotFree)
	r.header().SetReadCursor(ridx + 1)
}

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

// Package shm implements the shared-memory transport between the host
// process and the enclave: a memory-mapped segment holding a pair of
// fixed-capacity ring channels, one per direction, synchronized without
// any OS blocking primitive crossing the trust boundary.
package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants
const (
	// Magic bytes for segment identification
	SegmentMagic = "SGXSHM\x00\x00"

	// Current protocol version
	SegmentVersion = uint32(1)

	// Segment header size (aligned to 128 bytes)
	SegmentHeaderSize = 128

	// Ring header size (aligned to 64 bytes)
	RingHeaderSize = 64

	// Per-slot header: state, length, checksum
	SlotHeaderSize = 16

	// Minimum slot payload size
	MinSlotSize = 64

	// Defaults for the segment geometry
	DefaultSlotCount = 64
	DefaultSlotSize  = 4096
)

// SegmentHeader is the shared memory segment header, laid directly over the
// first 128 bytes of the mapping. Fields observed by the peer process are
// accessed atomically.
type SegmentHeader struct {
	magic       [8]byte  // 0x00: "SGXSHM\0\0"
	version     uint32   // 0x08: protocol version
	flags       uint32   // 0x0C: reserved flags
	totalSize   uint64   // 0x10: total segment size
	ringAOff    uint64   // 0x18: offset to ring A header (host -> enclave)
	ringBOff    uint64   // 0x20: offset to ring B header (enclave -> host)
	slotCount   uint64   // 0x28: slots per ring (power of 2)
	slotSize    uint64   // 0x30: bytes per slot, header included (power of 2)
	hostPID     uint32   // 0x38: host process ID
	enclavePID  uint32   // 0x3C: enclave process ID
	hostReady   uint32   // 0x40: host mapped flag (0->1)
	enclaveRdy  uint32   // 0x44: enclave mapped flag (0->1)
	closed      uint32   // 0x48: closed flag (0 open, 1 closed)
	pad         uint32   // 0x4C: padding
	reserved    [48]byte // 0x50-0x7F: reserved/padding to 128B
}

// Magic returns the magic bytes.
func (h *SegmentHeader) Magic() [8]byte { return h.magic }

// SetMagic sets the magic bytes.
func (h *SegmentHeader) SetMagic(magic [8]byte) { h.magic = magic }

// Version returns the protocol version.
func (h *SegmentHeader) Version() uint32 { return atomic.LoadUint32(&h.version) }

// SetVersion sets the protocol version.
func (h *SegmentHeader) SetVersion(v uint32) { atomic.StoreUint32(&h.version, v) }

// TotalSize returns the total segment size.
func (h *SegmentHeader) TotalSize() uint64 { return atomic.LoadUint64(&h.totalSize) }

// SetTotalSize sets the total segment size.
func (h *SegmentHeader) SetTotalSize(n uint64) { atomic.StoreUint64(&h.totalSize, n) }

// RingAOffset returns the offset to the host->enclave ring header.
func (h *SegmentHeader) RingAOffset() uint64 { return atomic.LoadUint64(&h.ringAOff) }

// SetRingAOffset sets the offset to the host->enclave ring header.
func (h *SegmentHeader) SetRingAOffset(off uint64) { atomic.StoreUint64(&h.ringAOff, off) }

// RingBOffset returns the offset to the enclave->host ring header.
func (h *SegmentHeader) RingBOffset() uint64 { return atomic.LoadUint64(&h.ringBOff) }

// SetRingBOffset sets the offset to the enclave->host ring header.
func (h *SegmentHeader) SetRingBOffset(off uint64) { atomic.StoreUint64(&h.ringBOff, off) }

// SlotCount returns the number of slots per ring.
func (h *SegmentHeader) SlotCount() uint64 { return atomic.LoadUint64(&h.slotCount) }

// SetSlotCount sets the number of slots per ring.
func (h *SegmentHeader) SetSlotCount(n uint64) { atomic.StoreUint64(&h.slotCount, n) }

// SlotSize returns the slot size in bytes, header included.
func (h *SegmentHeader) SlotSize() uint64 { return atomic.LoadUint64(&h.slotSize) }

// SetSlotSize sets the slot size in bytes.
func (h *SegmentHeader) SetSlotSize(n uint64) { atomic.StoreUint64(&h.slotSize, n) }

// HostPID returns the host process ID.
func (h *SegmentHeader) HostPID() uint32 { return atomic.LoadUint32(&h.hostPID) }

// SetHostPID sets the host process ID.
func (h *SegmentHeader) SetHostPID(pid uint32) { atomic.StoreUint32(&h.hostPID, pid) }

// EnclavePID returns the enclave process ID.
func (h *SegmentHeader) EnclavePID() uint32 { return atomic.LoadUint32(&h.enclavePID) }

// SetEnclavePID sets the enclave process ID.
func (h *SegmentHeader) SetEnclavePID(pid uint32) { atomic.StoreUint32(&h.enclavePID, pid) }

// HostReady returns the host ready flag.
func (h *SegmentHeader) HostReady() bool { return atomic.LoadUint32(&h.hostReady) != 0 }

// SetHostReady sets the host ready flag.
func (h *SegmentHeader) SetHostReady(ready bool) { storeFlag(&h.hostReady, ready) }

// EnclaveReady returns the enclave ready flag.
func (h *SegmentHeader) EnclaveReady() bool { return atomic.LoadUint32(&h.enclaveRdy) != 0 }

// SetEnclaveReady sets the enclave ready flag.
func (h *SegmentHeader) SetEnclaveReady(ready bool) { storeFlag(&h.enclaveRdy, ready) }

// Closed returns the segment closed flag.
func (h *SegmentHeader) Closed() bool { return atomic.LoadUint32(&h.closed) != 0 }

// SetClosed sets the segment closed flag.
func (h *SegmentHeader) SetClosed(closed bool) { storeFlag(&h.closed, closed) }

func storeFlag(addr *uint32, v bool) {
	var val uint32
	if v {
		val = 1
	}
	atomic.StoreUint32(addr, val)
}

// RingHeader is one ring channel's header, laid over 64 bytes of the
// mapping in front of the slot area.
type RingHeader struct {
	slotCount uint64   // 0x00: power-of-two slot count
	slotSize  uint64   // 0x08: power-of-two slot size, header included
	widx      uint64   // 0x10: monotonic write cursor (producer)
	ridx      uint64   // 0x18: monotonic read cursor (consumer)
	closed    uint32   // 0x20: closed flag
	pad       uint32   // 0x24: padding
	reserved  [24]byte // 0x28-0x3F: reserved/padding to 64B
	// slot area starts at offset 0x40
}

// SlotCount returns the slot count.
func (r *RingHeader) SlotCount() uint64 { return atomic.LoadUint64(&r.slotCount) }

// SetSlotCount sets the slot count.
func (r *RingHeader) SetSlotCount(n uint64) { atomic.StoreUint64(&r.slotCount, n) }

// SlotSize returns the slot size.
func (r *RingHeader) SlotSize() uint64 { return atomic.LoadUint64(&r.slotSize) }

// SetSlotSize sets the slot size.
func (r *RingHeader) SetSlotSize(n uint64) { atomic.StoreUint64(&r.slotSize, n) }

// WriteCursor returns the monotonic write cursor.
func (r *RingHeader) WriteCursor() uint64 { return atomic.LoadUint64(&r.widx) }

// SetWriteCursor sets the monotonic write cursor.
func (r *RingHeader) SetWriteCursor(idx uint64) { atomic.StoreUint64(&r.widx, idx) }

// ReadCursor returns the monotonic read cursor.
func (r *RingHeader) ReadCursor() uint64 { return atomic.LoadUint64(&r.ridx) }

// SetReadCursor sets the monotonic read cursor.
func (r *RingHeader) SetReadCursor(idx uint64) { atomic.StoreUint64(&r.ridx, idx) }

// Closed returns the ring closed flag.
func (r *RingHeader) Closed() bool { return atomic.LoadUint32(&r.closed) != 0 }

// SetClosed sets the ring closed flag.
func (r *RingHeader) SetClosed(closed bool) { storeFlag(&r.closed, closed) }

// Used returns the number of occupied slots.
func (r *RingHeader) Used() uint64 {
	w := atomic.LoadUint64(&r.widx)
	rd := atomic.LoadUint64(&r.ridx)
	return w - rd // uint64 arithmetic handles wrap-around
}

// IsPowerOfTwo returns true if n is a power of two.
func IsPowerOfTwo(n uint64) bool {
	return n > 0 && (n&(n-1)) == 0
}

// CalculateSegmentLayout computes the offsets and total size of a segment
// holding two rings of the given geometry.
func CalculateSegmentLayout(slotCount, slotSize uint64) (totalSize, ringAOffset, ringBOffset uint64, err error) {
	if !IsPowerOfTwo(slotCount) {
		return 0, 0, 0, fmt.Errorf("slot count %d is not a power of two", slotCount)
	}
	if !IsPowerOfTwo(slotSize) {
		return 0, 0, 0, fmt.Errorf("slot size %d is not a power of two", slotSize)
	}
	if slotSize < MinSlotSize {
		return 0, 0, 0, fmt.Errorf("slot size %d is below minimum %d", slotSize, MinSlotSize)
	}

	ringBytes := RingHeaderSize + slotCount*slotSize
	ringAOffset = alignTo64(SegmentHeaderSize)
	ringBOffset = alignTo64(ringAOffset + ringBytes)
	totalSize = alignTo64(ringBOffset + ringBytes)
	return totalSize, ringAOffset, ringBOffset, nil
}

func alignTo64(size uint64) uint64 {
	return (size + 63) &^ 63
}

// ValidateSegmentHeader checks a mapped header for consistency before the
// attaching side trusts any of its offsets.
func ValidateSegmentHeader(h *SegmentHeader) error {
	if string(h.magic[:]) != SegmentMagic {
		return fmt.Errorf("invalid magic bytes")
	}
	if h.Version() != SegmentVersion {
		return fmt.Errorf("unsupported version %d, expected %d", h.Version(), SegmentVersion)
	}
	if !IsPowerOfTwo(h.SlotCount()) {
		return fmt.Errorf("slot count %d is not a power of two", h.SlotCount())
	}
	if !IsPowerOfTwo(h.SlotSize()) {
		return fmt.Errorf("slot size %d is not a power of two", h.SlotSize())
	}

	expectedTotal, expectedAOff, expectedBOff, err := CalculateSegmentLayout(h.SlotCount(), h.SlotSize())
	if err != nil {
		return fmt.Errorf("layout calculation failed: %w", err)
	}
	if h.TotalSize() != expectedTotal {
		return fmt.Errorf("total size mismatch: got %d, expected %d", h.TotalSize(), expectedTotal)
	}
	if h.RingAOffset() != expectedAOff {
		return fmt.Errorf("ring A offset mismatch: got %d, expected %d", h.RingAOffset(), expectedAOff)
	}
	if h.RingBOffset() != expectedBOff {
		return fmt.Errorf("ring B offset mismatch: got %d, expected %d", h.RingBOffset(), expectedBOff)
	}
	return nil
}

// Segment is a mapped shared memory segment holding the two ring channels.
// Ring A carries host->enclave traffic, ring B enclave->host.
type Segment struct {
	File *os.File
	Mem  []byte
	A    *RingChannel
	B    *RingChannel
	Path string
}

// Header returns the segment header laid over the start of the mapping.
func (s *Segment) Header() *SegmentHeader {
	return (*SegmentHeader)(unsafe.Pointer(&s.Mem[0]))
}

// Close unmaps the memory and closes the file. It does not touch the shared
// closed flags; Shutdown does that for the side tearing the channel down.
func (s *Segment) Close() error {
	var firstErr error

	if s.Mem != nil {
		if err := unmapMemory(s.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Mem = nil
	}
	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil
	}
	return firstErr
}

// Shutdown marks the segment and both rings closed so the peer's waiters
// drain and fail instead of spinning forever, then releases the mapping.
func (s *Segment) Shutdown() error {
	if s.Mem != nil {
		s.Header().SetClosed(true)
		s.A.Close()
		s.B.Close()
	}
	return s.Close()
}

// DefaultPath returns the backing file path for a named segment, preferring
// /dev/shm when available.
func DefaultPath(name string) string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", "sgx_shm_"+name)
	}
	return filepath.Join(os.TempDir(), "sgx_shm_"+name)
}

// RemoveSegment unlinks a segment's backing file.
func RemoveSegment(path string) error {
	return os.Remove(path)
}

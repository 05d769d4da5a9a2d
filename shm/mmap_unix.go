//go:build unix

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
	"fmt"
	"os"
	"syscall"
)

// CreateSegment creates and maps a new shared memory segment at path. The
// creating side takes the host role: it produces into ring A and consumes
// from ring B.
func CreateSegment(path string, slotCount, slotSize uint64) (*Segment, error) {
	totalSize, ringAOffset, ringBOffset, err := CalculateSegmentLayout(slotCount, slotSize)
	if err != nil {
		return nil, fmt.Errorf("layout calculation failed: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file %s: %w", path, err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(totalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize segment file: %w", err)
	}

	mem, err := mmapFile(file, int(totalSize))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	seg := &Segment{File: file, Mem: mem, Path: path}

	hdr := seg.Header()
	var magic [8]byte
	copy(magic[:], SegmentMagic)
	hdr.SetMagic(magic)
	hdr.SetVersion(SegmentVersion)
	hdr.SetTotalSize(totalSize)
	hdr.SetRingAOffset(ringAOffset)
	hdr.SetRingBOffset(ringBOffset)
	hdr.SetSlotCount(slotCount)
	hdr.SetSlotSize(slotSize)
	hdr.SetHostPID(uint32(os.Getpid()))

	initRingHeader(mem, ringAOffset, slotCount, slotSize)
	initRingHeader(mem, ringBOffset, slotCount, slotSize)
	seg.A = newRingChannel(mem, ringAOffset)
	seg.B = newRingChannel(mem, ringBOffset)

	// Ready flag is the last write: the attaching side may trust the layout
	// once it observes it.
	hdr.SetHostReady(true)

	return seg, nil
}

// AttachSegment maps an already-created segment. The attaching side takes
// the enclave role: it consumes from ring A and produces into ring B.
func AttachSegment(path string) (*Segment, error) {
	seg, err := mapSegment(path)
	if err != nil {
		return nil, err
	}

	hdr := seg.Header()
	hdr.SetEnclavePID(uint32(os.Getpid()))
	hdr.SetEnclaveReady(true)

	return seg, nil
}

// OpenSegment maps an already-created segment without taking either role.
// It never writes handshake state, so inspecting a live segment cannot make
// the host believe an enclave has attached.
func OpenSegment(path string) (*Segment, error) {
	return mapSegment(path)
}

func mapSegment(path string) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}
	size := info.Size()
	if size < SegmentHeaderSize {
		file.Close()
		return nil, fmt.Errorf("segment file too small: %d bytes", size)
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	seg := &Segment{File: file, Mem: mem, Path: path}

	hdr := seg.Header()
	if err := ValidateSegmentHeader(hdr); err != nil {
		unmapMemory(mem)
		file.Close()
		return nil, fmt.Errorf("invalid segment header: %w", err)
	}

	seg.A = newRingChannel(mem, hdr.RingAOffset())
	seg.B = newRingChannel(mem, hdr.RingBOffset())

	return seg, nil
}

func mmapFile(file *os.File, size int) ([]byte, error) {
	data, err := syscall.Mmap(int(file.Fd()), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}

func unmapMemory(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := syscall.Munmap(data); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}

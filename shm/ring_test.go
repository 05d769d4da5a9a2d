package shm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

func TestRingChannelBasics(t *testing.T) {
	seg := createTestSegment(t, 16, 1024)
	ring := seg.A
	ctx := context.Background()

	payload := []byte("hello world")
	if err := ring.Produce(ctx, payload); err != nil {
		t.Fatalf("Produce failed: %v", err)
	}

	got, err := ring.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %q, want %q", got, payload)
	}
}

func TestRingChannelZeroLengthPayload(t *testing.T) {
	seg := createTestSegment(t, 16, 1024)
	ring := seg.A
	ctx := context.Background()

	// A zero-length frame is legal: the slot state is distinct from the
	// length field.
	if err := ring.Produce(ctx, nil); err != nil {
		t.Fatalf("Produce of empty payload failed: %v", err)
	}
	got, err := ring.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(got))
	}
}

func TestRingChannelFrameTooLarge(t *testing.T) {
	seg := createTestSegment(t, 16, 1024)
	ring := seg.A

	big := make([]byte, ring.PayloadCapacity()+1)
	err := ring.Produce(context.Background(), big)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestRingChannelFIFOWithWraparound(t *testing.T) {
	seg := createTestSegment(t, 4, 256)
	ring := seg.A
	ctx := context.Background()

	// Push several times the slot count through the ring so the cursor
	// wraps; physical delivery order must match write order.
	const total = 32
	done := make(chan error, 1)
	go func() {
		for i := 0; i < total; i++ {
			if err := ring.Produce(ctx, []byte(fmt.Sprintf("frame-%03d", i))); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for i := 0; i < total; i++ {
		got, err := ring.Consume(ctx)
		if err != nil {
			t.Fatalf("Consume %d failed: %v", i, err)
		}
		want := fmt.Sprintf("frame-%03d", i)
		if string(got) != want {
			t.Fatalf("out of order: got %q, want %q", got, want)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("producer failed: %v", err)
	}
}

func TestRingChannelProducerBlocksUntilSlotFree(t *testing.T) {
	seg := createTestSegment(t, 2, 256)
	ring := seg.A
	ctx := context.Background()

	// Fill every slot.
	for i := 0; i < 2; i++ {
		if err := ring.Produce(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("Produce %d failed: %v", i, err)
		}
	}

	// The next produce must block until the consumer drains a slot.
	unblocked := make(chan error, 1)
	go func() {
		unblocked <- ring.Produce(ctx, []byte{0xFF})
	}()

	select {
	case err := <-unblocked:
		t.Fatalf("Produce returned %v with all slots occupied", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := ring.Consume(ctx); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	select {
	case err := <-unblocked:
		if err != nil {
			t.Fatalf("Produce failed after slot freed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Produce still blocked after slot was freed")
	}
}

func TestRingChannelCancellation(t *testing.T) {
	seg := createTestSegment(t, 2, 256)
	ring := seg.A

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ring.Consume(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded from empty ring, got %v", err)
	}
}

func TestRingChannelCloseDrainsThenEOF(t *testing.T) {
	seg := createTestSegment(t, 4, 256)
	ring := seg.A
	ctx := context.Background()

	if err := ring.Produce(ctx, []byte("last frame")); err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	ring.Close()

	// A committed frame survives close.
	got, err := ring.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume after close failed: %v", err)
	}
	if string(got) != "last frame" {
		t.Fatalf("payload mismatch: %q", got)
	}

	if _, err := ring.Consume(ctx); err != io.EOF {
		t.Fatalf("expected EOF from drained closed ring, got %v", err)
	}
	if err := ring.Produce(ctx, []byte("x")); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}

func TestRingChannelChecksumDetectsCorruption(t *testing.T) {
	seg := createTestSegment(t, 4, 256)
	ring := seg.A
	ctx := context.Background()

	if err := ring.Produce(ctx, []byte("pristine payload")); err != nil {
		t.Fatalf("Produce failed: %v", err)
	}

	// Corrupt one payload byte of the in-flight frame, as an untrusted peer
	// or a copy error would.
	payloadOff := seg.Header().RingAOffset() + RingHeaderSize + SlotHeaderSize
	seg.Mem[payloadOff] ^= 0x01

	_, err := ring.Consume(ctx)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}

	// The slot must have been released; the channel stays usable.
	if err := ring.Produce(ctx, []byte("next")); err != nil {
		t.Fatalf("Produce after corrupted frame failed: %v", err)
	}
	// Skip ahead to the fresh frame.
	got, err := ring.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume after corrupted frame failed: %v", err)
	}
	if string(got) != "next" {
		t.Fatalf("payload mismatch: %q", got)
	}
}

func TestRingChannelPairIsFullDuplex(t *testing.T) {
	seg := createTestSegment(t, 8, 512)
	ctx := context.Background()

	// Host produces into A and consumes from B; the attached side mirrors.
	peer, err := AttachSegment(seg.Path)
	if err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	defer peer.Close()

	if err := seg.A.Produce(ctx, []byte("host->enclave")); err != nil {
		t.Fatalf("host Produce failed: %v", err)
	}
	if err := peer.B.Produce(ctx, []byte("enclave->host")); err != nil {
		t.Fatalf("enclave Produce failed: %v", err)
	}

	got, err := peer.A.Consume(ctx)
	if err != nil || string(got) != "host->enclave" {
		t.Fatalf("enclave Consume: %q, %v", got, err)
	}
	got, err = seg.B.Consume(ctx)
	if err != nil || string(got) != "enclave->host" {
		t.Fatalf("host Consume: %q, %v", got, err)
	}
}

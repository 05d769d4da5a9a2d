package databuf

import (
	"testing"
)

func TestPositionedAccessors(t *testing.T) {
	b := New(64)

	b.Put(0, 0xAB)
	if got := b.Get(0); got != 0xAB {
		t.Fatalf("Get(0) = %#x, want 0xAB", got)
	}

	b.PutUint32(4, 0xDEADBEEF)
	if got := b.GetUint32(4); got != 0xDEADBEEF {
		t.Fatalf("GetUint32(4) = %#x, want 0xDEADBEEF", got)
	}

	b.PutUint64(8, 1<<40)
	if got := b.GetUint64(8); got != 1<<40 {
		t.Fatalf("GetUint64(8) = %d, want %d", got, uint64(1)<<40)
	}

	b.PutFloat32(16, 3.5)
	if got := b.GetFloat32(16); got != 3.5 {
		t.Fatalf("GetFloat32(16) = %v, want 3.5", got)
	}

	// Positioned accessors must not move the cursor.
	if b.Position() != 0 {
		t.Fatalf("cursor moved to %d after positioned access", b.Position())
	}
}

func TestCursorWrites(t *testing.T) {
	b := New(32)
	b.PutBytes([]byte("hello"))
	if b.Position() != 5 {
		t.Fatalf("cursor = %d after PutBytes, want 5", b.Position())
	}

	out := make([]byte, 5)
	b.GetBytes(0, out)
	if string(out) != "hello" {
		t.Fatalf("GetBytes = %q, want %q", out, "hello")
	}

	b.Reset()
	if b.Position() != 0 {
		t.Fatalf("cursor = %d after Reset, want 0", b.Position())
	}
}

func TestPutBufferResetPosition(t *testing.T) {
	src := New(16)
	src.PutBytes([]byte{1, 2, 3, 4})

	dst := New(16)
	dst.SetPosition(8)

	// Patch-write with resetPosition: the destination cursor must survive.
	dst.PutBufferAt(src, 0, 4, true)
	if dst.Position() != 8 {
		t.Fatalf("cursor = %d after patch write, want 8", dst.Position())
	}
	if dst.Get(0) != 1 || dst.Get(3) != 4 {
		t.Fatal("patch write did not copy source bytes")
	}
}

func TestBzero(t *testing.T) {
	b := New(16)
	for i := 0; i < 16; i++ {
		b.Put(i, 0xFF)
	}
	b.BzeroRange(4, 8)
	if b.Get(3) != 0xFF || b.Get(4) != 0 || b.Get(11) != 0 || b.Get(12) != 0xFF {
		t.Fatal("BzeroRange cleared the wrong bytes")
	}
	b.Bzero()
	if b.Get(0) != 0 || b.Get(15) != 0 {
		t.Fatal("Bzero left non-zero bytes")
	}
}

func TestReferenceCounting(t *testing.T) {
	released := 0
	b := Wrap(make([]byte, 8), func([]byte) { released++ })

	const n = 5
	for i := 0; i < n; i++ {
		b.Retain()
	}
	if b.RefCount() != n+1 {
		t.Fatalf("refcount = %d, want %d", b.RefCount(), n+1)
	}

	// N increments followed by N+1 decrements frees exactly once.
	for i := 0; i < n+1; i++ {
		b.Release()
	}
	if released != 1 {
		t.Fatalf("release callback ran %d times, want 1", released)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("access after final release should panic")
		}
	}()
	b.Get(0)
}

func TestFreeIdempotent(t *testing.T) {
	released := 0
	b := Wrap(make([]byte, 8), func([]byte) { released++ })
	b.Free()
	b.Free()
	if released != 1 {
		t.Fatalf("release callback ran %d times, want 1", released)
	}
}

func TestSliceSharesRegion(t *testing.T) {
	released := 0
	b := Wrap(make([]byte, 32), func([]byte) { released++ })

	s := b.Slice(8, 8)
	if b.RefCount() != 2 {
		t.Fatalf("refcount = %d after Slice, want 2", b.RefCount())
	}

	s.Put(0, 0x42)
	if b.Get(8) != 0x42 {
		t.Fatal("write through slice not visible in parent view")
	}

	s.Free()
	if released != 0 {
		t.Fatal("region released while parent view still live")
	}
	b.Free()
	if released != 1 {
		t.Fatalf("release callback ran %d times, want 1", released)
	}
}

func TestOutOfBoundsPanics(t *testing.T) {
	b := New(8)
	defer func() {
		if recover() == nil {
			t.Fatal("out-of-bounds access should panic")
		}
	}()
	b.GetUint64(4)
}

func TestFinalise(t *testing.T) {
	b := New(16)
	if b.IsFinalised() {
		t.Fatal("fresh buffer reported finalised")
	}
	b.Finalise(0)
	if !b.IsFinalised() {
		t.Fatal("Finalise did not seal the record")
	}
	b.Clear()
	if b.IsFinalised() {
		t.Fatal("Clear did not reset the finalised mark")
	}
}

func TestChecksum(t *testing.T) {
	b := New(32)
	b.PutBytes([]byte("payload bytes"))
	sum := b.Checksum()

	// Flipping one byte inside the summed range must change the digest.
	b.Put(3, b.Get(3)^0x01)
	if b.Checksum() == sum {
		t.Fatal("checksum did not detect a one-byte corruption")
	}
	b.Put(3, b.Get(3)^0x01)
	if b.Checksum() != sum {
		t.Fatal("checksum not stable over identical content")
	}
}

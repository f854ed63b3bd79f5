package asmtp

import "testing"

func TestRing_WriteReadAdvance(t *testing.T) {
	r := NewRing(8)
	n, err := r.Write([]byte("abcd"))
	if err != nil || n != 4 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if got := string(r.Peek()); got != "abcd" {
		t.Fatalf("Peek() = %q, want %q", got, "abcd")
	}
	r.Advance(2)
	if got := string(r.Peek()); got != "cd" {
		t.Fatalf("Peek() after Advance = %q, want %q", got, "cd")
	}
	if r.Free() != 4 {
		t.Fatalf("Free() = %d, want 4", r.Free())
	}
}

func TestRing_FullReturnsError(t *testing.T) {
	r := NewRing(4)
	if _, err := r.Write([]byte("abcde")); err != ErrRingFull {
		t.Fatalf("Write() err = %v, want ErrRingFull", err)
	}
}

func TestRing_ZeroCopyWrapOnFullDrain(t *testing.T) {
	r := NewRing(4)
	if _, err := r.Write([]byte("abcd")); err != nil {
		t.Fatal(err)
	}
	r.Advance(4)
	if r.Free() != 4 {
		t.Fatalf("Free() after full drain = %d, want 4 (zero-copy wrap)", r.Free())
	}
	if _, err := r.Write([]byte("wxyz")); err != nil {
		t.Fatalf("Write() after wrap = %v", err)
	}
}

func TestRing_CompactSlidesUnreadData(t *testing.T) {
	r := NewRing(8)
	_, _ = r.Write([]byte("abcdef"))
	r.Advance(4)
	r.Compact()
	if got := string(r.Peek()); got != "ef" {
		t.Fatalf("Peek() after Compact = %q, want %q", got, "ef")
	}
	if r.Free() != 6 {
		t.Fatalf("Free() after Compact = %d, want 6", r.Free())
	}
}

func TestRing_Reset(t *testing.T) {
	r := NewRing(8)
	_, _ = r.Write([]byte("abcd"))
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", r.Len())
	}
	if r.Free() != 8 {
		t.Fatalf("Free() after Reset = %d, want 8", r.Free())
	}
}

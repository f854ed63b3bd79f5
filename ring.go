package asmtp

import "errors"

// DefaultRingCapacity is the default size, in bytes, of a Ring buffer created by NewRing.
const DefaultRingCapacity = 128 * 1024

// ErrRingFull is returned by Write when the Ring has no room left for the given data and the
// reader has not drained enough of the buffer to make space.
var ErrRingFull = errors.New("render: ring buffer is full")

// Ring is a bounded, single-producer/single-consumer byte buffer that hands the consumer a
// direct, contiguous view of the unread bytes instead of copying them out. It does not wrap
// data physically mid-buffer; once the write pointer reaches capacity and the reader has
// caught up to it, both pointers reset to zero so the buffer can be reused without a copy.
//
// Ring is not safe for concurrent use; the renderer's traversal FSM and its consumer are
// expected to run on the same goroutine, cooperating through readiness notifications.
type Ring struct {
	buf  []byte
	read int
	wr   int
}

// NewRing allocates a Ring with the given capacity. A capacity <= 0 uses DefaultRingCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Len returns the number of unread bytes currently buffered.
func (r *Ring) Len() int {
	return r.wr - r.read
}

// Free returns the number of bytes that can still be written before the buffer is full.
func (r *Ring) Free() int {
	return len(r.buf) - r.wr
}

// Cap returns the total capacity of the Ring.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Write copies p into the Ring, advancing the write pointer. It returns ErrRingFull if p does
// not fit in the remaining free space; the caller is expected to drain via Peek/Advance (or
// Compact) and retry.
func (r *Ring) Write(p []byte) (int, error) {
	if len(p) > r.Free() {
		return 0, ErrRingFull
	}
	n := copy(r.buf[r.wr:], p)
	r.wr += n
	return n, nil
}

// Peek returns a direct, contiguous view of the currently unread bytes. The caller must not
// retain the slice past the next call to Write, Advance, or Compact.
func (r *Ring) Peek() []byte {
	return r.buf[r.read:r.wr]
}

// Advance commits n bytes of the most recent Peek view as consumed, moving the read pointer
// forward. It then wraps both pointers to zero, with no copy, if the buffer has been fully
// drained and the writer had reached the end of the backing array.
func (r *Ring) Advance(n int) {
	r.read += n
	if r.read > r.wr {
		r.read = r.wr
	}
	r.maybeWrap()
}

// Compact slides any unread bytes down to the start of the backing array, making the maximum
// possible free space available for a subsequent Write without discarding unread data. It is
// a copy operation and is only used when a producer needs more contiguous room than Free()
// currently reports and the ring cannot do a zero-copy wrap (the reader has not fully drained
// it).
func (r *Ring) Compact() {
	if r.read == 0 {
		return
	}
	n := copy(r.buf, r.buf[r.read:r.wr])
	r.read = 0
	r.wr = n
}

// maybeWrap resets both pointers to zero, without copying, once the buffer has been entirely
// drained and the writer has used up the whole backing array.
func (r *Ring) maybeWrap() {
	if r.read == r.wr && r.wr == len(r.buf) {
		r.read = 0
		r.wr = 0
	}
}

// Reset empties the Ring, discarding any unread bytes.
func (r *Ring) Reset() {
	r.read = 0
	r.wr = 0
}

// Package ring implements the fixed-capacity byte and file-descriptor rings
// that back a wire connection's inbound and outbound buffers.
package ring

import "errors"

// ErrShort is returned by Copy when fewer than the requested number of
// bytes are currently buffered.
var ErrShort = errors.New("ring: not enough buffered bytes")

// Bytes is a fixed-capacity circular buffer of bytes with a peek/consume
// split: Copy never advances the read cursor, Consume advances it by an
// amount previously validated through Copy.
type Bytes struct {
	buf      []byte
	readPos  int
	writePos int
	full     bool
}

// NewBytes returns a byte ring with the given capacity.
func NewBytes(capacity int) *Bytes {
	return &Bytes{buf: make([]byte, capacity)}
}

// Occupied reports how many bytes are currently buffered.
func (r *Bytes) Occupied() int {
	if r.full {
		return len(r.buf)
	}
	n := r.writePos - r.readPos
	if n < 0 {
		n += len(r.buf)
	}
	return n
}

// Space reports how many bytes can still be written.
func (r *Bytes) Space() int {
	return len(r.buf) - r.Occupied()
}

// Copy peeks the next n bytes into dst without consuming them. It fails
// with ErrShort if fewer than n bytes are buffered.
func (r *Bytes) Copy(dst []byte, n int) error {
	if n > r.Occupied() {
		return ErrShort
	}
	pos := r.readPos
	for i := 0; i < n; i++ {
		dst[i] = r.buf[pos]
		pos++
		if pos == len(r.buf) {
			pos = 0
		}
	}
	return nil
}

// Consume advances the read cursor by n bytes. The caller must have
// already validated those bytes are present via Copy.
func (r *Bytes) Consume(n int) {
	if n <= 0 {
		return
	}
	r.readPos = (r.readPos + n) % len(r.buf)
	if r.readPos == r.writePos {
		r.full = false
	}
}

// Write appends as many bytes of src as fit, returning the count written.
// A short return signals back-pressure; it is not an error.
func (r *Bytes) Write(src []byte) int {
	space := r.Space()
	n := len(src)
	if n > space {
		n = space
	}
	pos := r.writePos
	for i := 0; i < n; i++ {
		r.buf[pos] = src[i]
		pos++
		if pos == len(r.buf) {
			pos = 0
		}
	}
	r.writePos = pos
	if n > 0 && r.writePos == r.readPos {
		r.full = true
	}
	return n
}

// Reset empties the ring.
func (r *Bytes) Reset() {
	r.readPos, r.writePos, r.full = 0, 0, false
}

// FDEntry associates a file descriptor with the byte offset (the
// connection's cumulative stream position, at the time of arrival or
// queueing) it was delivered at, so the codec can pop descriptors in the
// order their `h` arguments appear in the stream.
type FDEntry struct {
	FD     int
	Offset int64
}

// FDs is a small queue of in-flight file descriptors; it grows past its
// initial capacity as needed.
type FDs struct {
	entries []FDEntry
}

// NewFDs returns an empty descriptor queue with room for capacity entries
// before it grows.
func NewFDs(capacity int) *FDs {
	return &FDs{entries: make([]FDEntry, 0, capacity)}
}

// Push enqueues fd, recording the byte offset it arrived at.
func (q *FDs) Push(fd int, offset int64) {
	q.entries = append(q.entries, FDEntry{FD: fd, Offset: offset})
}

// At returns the i-th queued entry (0 is the oldest) without removing it.
func (q *FDs) At(i int) (FDEntry, bool) {
	if i < 0 || i >= len(q.entries) {
		return FDEntry{}, false
	}
	return q.entries[i], true
}

// Peek returns the oldest queued entry without removing it.
func (q *FDs) Peek() (FDEntry, bool) {
	if len(q.entries) == 0 {
		return FDEntry{}, false
	}
	return q.entries[0], true
}

// Pop dequeues the oldest descriptor. ok is false if the queue is empty.
func (q *FDs) Pop() (fd int, ok bool) {
	if len(q.entries) == 0 {
		return 0, false
	}
	fd = q.entries[0].FD
	q.entries = q.entries[1:]
	return fd, true
}

// Len reports the number of queued descriptors.
func (q *FDs) Len() int { return len(q.entries) }

// DrainClose pops and closes every remaining descriptor. Used when a
// connection is closed, so that unconsumed descriptors do not leak.
func (q *FDs) DrainClose(closeFD func(int) error) {
	for _, e := range q.entries {
		_ = closeFD(e.FD)
	}
	q.entries = q.entries[:0]
}

// Package bufpool provides fixed-capacity packet buffers and the
// scatter-vector used to stream a possibly-fragmented packet through a
// single transform pass (fusing decryption and MAC computation).
package bufpool

import "sync"

// BufSize is the fixed capacity of a Buf, at least as large as the largest
// assembled packet.
const BufSize = 16384

// Buf is a fixed-capacity packet buffer. A Buf may be referenced by more
// than one holder (the defragmenter and a decode stage) but is never
// mutated once a second holder can see it; decode stages always write into
// a fresh Buf.
type Buf struct {
	B [BufSize]byte
}

var pool = sync.Pool{New: func() any { return new(Buf) }}

// Get returns a Buf from the pool.
func Get() *Buf { return pool.Get().(*Buf) }

// Put returns a Buf to the pool. The caller must not retain any reference.
func Put(b *Buf) {
	if b != nil {
		pool.Put(b)
	}
}

// Slice is a view [S,E) into a Buf.
type Slice struct {
	B *Buf
	S int
	E int
}

// Len returns the number of bytes in the slice.
func (s Slice) Len() int { return s.E - s.S }

// Bytes returns the viewed bytes.
func (s Slice) Bytes() []byte { return s.B.B[s.S:s.E] }

// PacketVector is an ordered sequence of Buf slices forming one packet:
// head first, then fragments 1..n-1.
type PacketVector []Slice

// TotalSize returns the summed length of all slices.
func (pv PacketVector) TotalSize() int {
	n := 0
	for _, s := range pv {
		n += s.Len()
	}
	return n
}

// MergeCopy concatenates the vector into dst and returns the total size, or
// a negative value if the result would exceed the buffer capacity.
func (pv PacketVector) MergeCopy(dst *Buf) int {
	p := 0
	for _, s := range pv {
		n := s.Len()
		if p+n > BufSize {
			return -1
		}
		copy(dst.B[p:], s.Bytes())
		p += n
	}
	return p
}

// MapFunc transforms one chunk of packet bytes. dst and src have equal
// length; the function may read src and must fill dst completely. Stateful
// implementations fuse decryption and MAC updates in this single pass.
type MapFunc func(dst, src []byte)

// MergeMap streams the vector through fn into dst and returns the total
// size, or a negative value on capacity overflow. fn is called once per
// slice in order, so a stateful transform observes the packet bytes exactly
// as MergeCopy would produce them.
func (pv PacketVector) MergeMap(dst *Buf, fn MapFunc) int {
	p := 0
	for _, s := range pv {
		n := s.Len()
		if p+n > BufSize {
			return -1
		}
		fn(dst.B[p:p+n], s.Bytes())
		p += n
	}
	return p
}

package bufpool

import (
	"bytes"
	"testing"
)

func sliceOf(data []byte) Slice {
	b := Get()
	copy(b.B[:], data)
	return Slice{B: b, S: 0, E: len(data)}
}

func TestMergeCopy_Concatenates(t *testing.T) {
	pv := PacketVector{
		sliceOf([]byte("head-")),
		sliceOf([]byte("frag1-")),
		sliceOf([]byte("frag2")),
	}
	dst := Get()
	n := pv.MergeCopy(dst)
	if n != 16 {
		t.Fatalf("expected 16 bytes, got %d", n)
	}
	if !bytes.Equal(dst.B[:n], []byte("head-frag1-frag2")) {
		t.Fatalf("unexpected merge result %q", dst.B[:n])
	}
}

func TestMergeCopy_Overflow(t *testing.T) {
	a := Get()
	b := Get()
	pv := PacketVector{
		{B: a, S: 0, E: BufSize},
		{B: b, S: 0, E: 1},
	}
	dst := Get()
	if n := pv.MergeCopy(dst); n >= 0 {
		t.Fatalf("expected overflow, got %d", n)
	}
}

// MergeMap must present the bytes to the transform exactly as MergeCopy
// would concatenate them, once per slice, in order.
func TestMergeMap_StreamsInOrder(t *testing.T) {
	pv := PacketVector{
		sliceOf([]byte{1, 2, 3}),
		sliceOf([]byte{4, 5}),
		sliceOf([]byte{6}),
	}
	var seen []byte
	calls := 0
	dst := Get()
	n := pv.MergeMap(dst, func(d, s []byte) {
		calls++
		seen = append(seen, s...)
		for i := range s {
			d[i] = s[i] + 100
		}
	})
	if n != 6 || calls != 3 {
		t.Fatalf("n=%d calls=%d", n, calls)
	}
	if !bytes.Equal(seen, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("transform saw %v", seen)
	}
	if !bytes.Equal(dst.B[:6], []byte{101, 102, 103, 104, 105, 106}) {
		t.Fatalf("transform wrote %v", dst.B[:6])
	}
}

func TestTotalSize(t *testing.T) {
	pv := PacketVector{sliceOf(make([]byte, 10)), sliceOf(make([]byte, 22))}
	if pv.TotalSize() != 32 {
		t.Fatalf("got %d", pv.TotalSize())
	}
}

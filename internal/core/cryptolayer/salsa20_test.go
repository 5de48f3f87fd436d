package cryptolayer

import (
	"bytes"
	"testing"
)

func testKey() *[32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i * 7)
	}
	return &k
}

func testIV() []byte {
	return []byte{1, 2, 3, 4, 5, 6, 7, 8}
}

func keystream(t *testing.T, rounds, n int, chunks []int) []byte {
	t.Helper()
	s := NewSalsa20(testKey(), testIV(), rounds)
	out := make([]byte, n)
	zero := make([]byte, n)
	if chunks == nil {
		s.XORKeyStream(out, zero)
		return out
	}
	p := 0
	for _, c := range chunks {
		s.XORKeyStream(out[p:p+c], zero[p:p+c])
		p += c
	}
	return out[:p]
}

func TestSalsa20_Deterministic(t *testing.T) {
	a := keystream(t, 12, 256, nil)
	b := keystream(t, 12, 256, nil)
	if !bytes.Equal(a, b) {
		t.Fatal("keystream not deterministic")
	}
}

func TestSalsa20_RoundsDiffer(t *testing.T) {
	a := keystream(t, 12, 64, nil)
	b := keystream(t, 20, 64, nil)
	if bytes.Equal(a, b) {
		t.Fatal("12-round and 20-round keystreams should differ")
	}
}

func TestSalsa20_EncryptDecryptRoundTrip(t *testing.T) {
	msg := make([]byte, 300)
	for i := range msg {
		msg[i] = byte(i)
	}
	ct := make([]byte, len(msg))
	NewSalsa20(testKey(), testIV(), 12).XORKeyStream(ct, msg)
	if bytes.Equal(ct, msg) {
		t.Fatal("ciphertext equals plaintext")
	}
	pt := make([]byte, len(msg))
	NewSalsa20(testKey(), testIV(), 12).XORKeyStream(pt, ct)
	if !bytes.Equal(pt, msg) {
		t.Fatal("round trip failed")
	}
}

// The keystream position carries across calls at byte granularity: the
// receive pipeline decrypts one chunk per fragment while the sender
// encrypted the whole section in a single pass.
func TestSalsa20_StreamContinuesAcrossCalls(t *testing.T) {
	whole := keystream(t, 12, 256, nil)
	for _, chunks := range [][]int{
		{32, 224},
		{1, 63, 64, 128},
		{100, 100, 56},
		{255, 1},
	} {
		split := keystream(t, 12, 256, chunks)
		if !bytes.Equal(split, whole) {
			t.Fatalf("chunked keystream %v diverged from single pass", chunks)
		}
	}
}

func TestSalsa20_IVChangesStream(t *testing.T) {
	a := keystream(t, 12, 64, nil)
	s := NewSalsa20(testKey(), []byte{9, 9, 9, 9, 9, 9, 9, 9}, 12)
	b := make([]byte, 64)
	s.XORKeyStream(b, make([]byte, 64))
	if bytes.Equal(a, b) {
		t.Fatal("different IVs should produce different keystreams")
	}
}

func TestSalsa20_InPlace(t *testing.T) {
	msg := []byte("in-place encryption of a buffer against itself")
	expect := make([]byte, len(msg))
	NewSalsa20(testKey(), testIV(), 12).XORKeyStream(expect, msg)

	buf := append([]byte(nil), msg...)
	NewSalsa20(testKey(), testIV(), 12).XORKeyStream(buf, buf)
	if !bytes.Equal(buf, expect) {
		t.Fatal("in-place result differs")
	}
}

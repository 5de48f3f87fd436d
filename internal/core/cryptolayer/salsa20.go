// Package cryptolayer implements the symmetric primitives of the wire
// protocol: Salsa20/12 and Salsa20/20 stream ciphers, Poly1305 one-time MAC
// helpers, HMAC-SHA384, the KBKDF used to expand per-peer sub-keys, AES-CTR
// for HELLO metadata, and constant-time comparison.
package cryptolayer

import (
	"encoding/binary"
	"math/bits"
)

// Salsa20KeySize is the stream cipher key size in bytes.
const Salsa20KeySize = 32

// Salsa20IVSize is the stream cipher IV size in bytes.
const Salsa20IVSize = 8

// Salsa20 is a streaming Salsa20 cipher with a configurable round count
// (12 for packet armor, 20 for the address derivation hash).
//
// The keystream position carries across XORKeyStream calls at byte
// granularity. The receive path depends on this: the sender encrypts a
// packet's whole encrypted section in one pass, while the receiver streams
// it chunk by chunk (one chunk per fragment), and the 32-byte Poly1305 key
// prefix consumes the first half block before payload crypting begins.
type Salsa20 struct {
	state  [16]uint32
	rounds int
	block  [64]byte
	avail  int
}

// NewSalsa20 initializes a cipher with the given 32-byte key, 8-byte IV and
// round count (12 or 20).
func NewSalsa20(key *[Salsa20KeySize]byte, iv []byte, rounds int) *Salsa20 {
	s := &Salsa20{rounds: rounds}
	s.state[0] = 0x61707865 // "expa"
	s.state[5] = 0x3320646e // "nd 3"
	s.state[10] = 0x79622d32 // 2-by"
	s.state[15] = 0x6b206574 // "te k"
	for i := 0; i < 4; i++ {
		s.state[1+i] = binary.LittleEndian.Uint32(key[i*4:])
		s.state[11+i] = binary.LittleEndian.Uint32(key[16+i*4:])
	}
	s.state[6] = binary.LittleEndian.Uint32(iv[0:])
	s.state[7] = binary.LittleEndian.Uint32(iv[4:])
	s.state[8] = 0
	s.state[9] = 0
	return s
}

// XORKeyStream sets dst = src XOR keystream. dst and src must be the same
// length and may alias exactly.
func (s *Salsa20) XORKeyStream(dst, src []byte) {
	for len(src) > 0 {
		if s.avail == 0 {
			s.core(&s.block)
			s.state[8]++
			if s.state[8] == 0 {
				s.state[9]++
			}
			s.avail = 64
		}
		off := 64 - s.avail
		n := len(src)
		if n > s.avail {
			n = s.avail
		}
		for i := 0; i < n; i++ {
			dst[i] = src[i] ^ s.block[off+i]
		}
		s.avail -= n
		src = src[n:]
		dst = dst[n:]
	}
}

func (s *Salsa20) core(out *[64]byte) {
	x0, x1, x2, x3 := s.state[0], s.state[1], s.state[2], s.state[3]
	x4, x5, x6, x7 := s.state[4], s.state[5], s.state[6], s.state[7]
	x8, x9, x10, x11 := s.state[8], s.state[9], s.state[10], s.state[11]
	x12, x13, x14, x15 := s.state[12], s.state[13], s.state[14], s.state[15]

	for i := 0; i < s.rounds; i += 2 {
		// column round
		x4 ^= bits.RotateLeft32(x0+x12, 7)
		x8 ^= bits.RotateLeft32(x4+x0, 9)
		x12 ^= bits.RotateLeft32(x8+x4, 13)
		x0 ^= bits.RotateLeft32(x12+x8, 18)
		x9 ^= bits.RotateLeft32(x5+x1, 7)
		x13 ^= bits.RotateLeft32(x9+x5, 9)
		x1 ^= bits.RotateLeft32(x13+x9, 13)
		x5 ^= bits.RotateLeft32(x1+x13, 18)
		x14 ^= bits.RotateLeft32(x10+x6, 7)
		x2 ^= bits.RotateLeft32(x14+x10, 9)
		x6 ^= bits.RotateLeft32(x2+x14, 13)
		x10 ^= bits.RotateLeft32(x6+x2, 18)
		x3 ^= bits.RotateLeft32(x15+x11, 7)
		x7 ^= bits.RotateLeft32(x3+x15, 9)
		x11 ^= bits.RotateLeft32(x7+x3, 13)
		x15 ^= bits.RotateLeft32(x11+x7, 18)
		// row round
		x1 ^= bits.RotateLeft32(x0+x3, 7)
		x2 ^= bits.RotateLeft32(x1+x0, 9)
		x3 ^= bits.RotateLeft32(x2+x1, 13)
		x0 ^= bits.RotateLeft32(x3+x2, 18)
		x6 ^= bits.RotateLeft32(x5+x4, 7)
		x7 ^= bits.RotateLeft32(x6+x5, 9)
		x4 ^= bits.RotateLeft32(x7+x6, 13)
		x5 ^= bits.RotateLeft32(x4+x7, 18)
		x11 ^= bits.RotateLeft32(x10+x9, 7)
		x8 ^= bits.RotateLeft32(x11+x10, 9)
		x9 ^= bits.RotateLeft32(x8+x11, 13)
		x10 ^= bits.RotateLeft32(x9+x8, 18)
		x12 ^= bits.RotateLeft32(x15+x14, 7)
		x13 ^= bits.RotateLeft32(x12+x15, 9)
		x14 ^= bits.RotateLeft32(x13+x12, 13)
		x15 ^= bits.RotateLeft32(x14+x13, 18)
	}

	binary.LittleEndian.PutUint32(out[0:], x0+s.state[0])
	binary.LittleEndian.PutUint32(out[4:], x1+s.state[1])
	binary.LittleEndian.PutUint32(out[8:], x2+s.state[2])
	binary.LittleEndian.PutUint32(out[12:], x3+s.state[3])
	binary.LittleEndian.PutUint32(out[16:], x4+s.state[4])
	binary.LittleEndian.PutUint32(out[20:], x5+s.state[5])
	binary.LittleEndian.PutUint32(out[24:], x6+s.state[6])
	binary.LittleEndian.PutUint32(out[28:], x7+s.state[7])
	binary.LittleEndian.PutUint32(out[32:], x8+s.state[8])
	binary.LittleEndian.PutUint32(out[36:], x9+s.state[9])
	binary.LittleEndian.PutUint32(out[40:], x10+s.state[10])
	binary.LittleEndian.PutUint32(out[44:], x11+s.state[11])
	binary.LittleEndian.PutUint32(out[48:], x12+s.state[12])
	binary.LittleEndian.PutUint32(out[52:], x13+s.state[13])
	binary.LittleEndian.PutUint32(out[56:], x14+s.state[14])
	binary.LittleEndian.PutUint32(out[60:], x15+s.state[15])
}

package identity

import (
	"encoding/binary"

	"veilnet.io/stratum/internal/core/cryptolayer"
)

const (
	// derivationMemorySize is the size of the scratch memory used by the
	// address derivation hash. The hash is deliberately memory-intensive to
	// make bulk address generation expensive.
	derivationMemorySize = 2097152

	// powThreshold: the first byte of the final digest must be below this
	// for an identity to be valid.
	powThreshold = 17
)

var zero64 [64]byte

// addressDerivationHash transforms a 64-byte SHA-512 digest of the public
// key material in place. The transform fills 2 MiB of memory from a
// Salsa20/20 keystream seeded by the digest, then performs digest-dependent
// random reads and swaps against that memory, re-encrypting the digest at
// every step. The final digest yields both the proof-of-work test and the
// derived address.
//
// The swap indices interpret memory words big-endian; the swapped words move
// as raw bytes, so the result is byte-exact across architectures.
func addressDerivationHash(digest *[64]byte, genmem []byte) {
	var key [32]byte
	copy(key[:], digest[0:32])
	s20 := cryptolayer.NewSalsa20(&key, digest[32:40], 20)

	s20.XORKeyStream(genmem[0:64], zero64[:])
	for i := 64; i < derivationMemorySize; i += 64 {
		s20.XORKeyStream(genmem[i:i+64], genmem[i-64:i])
	}

	const words = derivationMemorySize / 8
	for i := 0; i < words; i += 2 {
		idx1 := (binary.BigEndian.Uint64(genmem[i*8:]) & 7) * 8
		idx2 := binary.BigEndian.Uint64(genmem[(i+1)*8:]) % words
		gw := genmem[idx2*8 : idx2*8+8]
		dw := digest[idx1 : idx1+8]
		var tmp [8]byte
		copy(tmp[:], gw)
		copy(gw, dw)
		copy(dw, tmp[:])
		s20.XORKeyStream(digest[:], digest[:])
	}
}

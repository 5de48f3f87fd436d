package cryptolayer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"

	"golang.org/x/crypto/poly1305"
)

// Poly1305KeySize is the one-time MAC key size in bytes.
const Poly1305KeySize = 32

// HMACSHA384Size is the length of an HMAC-SHA384 tag in bytes.
const HMACSHA384Size = 48

var zero32 [Poly1305KeySize]byte

// NewPacketMAC derives the one-time Poly1305 key for a packet by taking the
// first 32 keystream bytes of the given Salsa20 cipher (the first half of its
// first block; the stream continues at byte 32) and returns the initialized
// MAC.
func NewPacketMAC(s *Salsa20) *poly1305.MAC {
	var key [Poly1305KeySize]byte
	s.XORKeyStream(key[:], zero32[:])
	return poly1305.New(&key)
}

// HMACSHA384 computes the HMAC-SHA384 of msg under key.
func HMACSHA384(key, msg []byte) [HMACSHA384Size]byte {
	h := hmac.New(sha512.New384, key)
	h.Write(msg)
	var out [HMACSHA384Size]byte
	h.Sum(out[:0])
	return out
}

// SecureEq compares two byte slices in constant time.
func SecureEq(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// KBKDFHMACSHA384 expands a sub-key from a master key using a one-iteration
// counter-mode KBKDF with HMAC-SHA384 as the PRF. The label byte separates
// key usages.
func KBKDFHMACSHA384(key []byte, label byte) [HMACSHA384Size]byte {
	// counter=1, "ZT"-style domain tag, label, 0x00 separator, context,
	// output length 0x0180 bits
	msg := [12]byte{0, 0, 0, 1, 'S', 'M', label, 0, 0, 0, 0x01, 0x80}
	return HMACSHA384(key, msg[:])
}

// NewAESCTR returns an AES-CTR stream initialized from a 32-byte key and a
// 12-byte nonce (the 4 counter bytes start at zero).
func NewAESCTR(key []byte, nonce []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	var iv [16]byte
	copy(iv[:12], nonce)
	return cipher.NewCTR(block, iv[:]), nil
}

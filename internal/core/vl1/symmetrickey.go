package vl1

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"

	"veilnet.io/stratum/internal/core/cryptolayer"
	"veilnet.io/stratum/internal/core/identity"
)

// KBKDF labels separating the sub-keys expanded from the long-term
// identity agreement key.
const (
	kbkdfLabelHelloHMAC      = 'H'
	kbkdfLabelHelloDictonary = 'h'
)

// SymmetricKey is the long-term symmetric state shared with one peer,
// derived from identity key agreement. It exposes the raw identity key for
// per-packet key derivation, the HELLO HMAC key, the HELLO dictionary
// encryption key, and a monotonic message-ID generator.
type SymmetricKey struct {
	identityKey  [48]byte
	helloHMACKey [48]byte
	helloDictKey [32]byte
	nonce        atomic.Uint64
}

// NewSymmetricKey expands per-usage sub-keys from the 64-byte agreement
// output and seeds the message-ID counter randomly.
func NewSymmetricKey(shared *[64]byte) *SymmetricKey {
	k := &SymmetricKey{}
	copy(k.identityKey[:], shared[:48])
	k.helloHMACKey = cryptolayer.KBKDFHMACSHA384(shared[:48], kbkdfLabelHelloHMAC)
	dict := cryptolayer.KBKDFHMACSHA384(shared[:48], kbkdfLabelHelloDictonary)
	copy(k.helloDictKey[:], dict[:32])

	var seed [8]byte
	if _, err := rand.Read(seed[:]); err == nil {
		k.nonce.Store(binary.LittleEndian.Uint64(seed[:]))
	}
	return k
}

// IdentityKey returns the raw long-term key used for per-packet key
// derivation.
func (k *SymmetricKey) IdentityKey() *[48]byte { return &k.identityKey }

// HelloHMACKey returns the HMAC-SHA384 key authenticating HELLO and
// OK(HELLO) packets at protocol version 11 and newer.
func (k *SymmetricKey) HelloHMACKey() []byte { return k.helloHMACKey[:] }

// HelloDictionaryKey returns the AES-256 key encrypting the HELLO metadata
// dictionary section.
func (k *SymmetricKey) HelloDictionaryKey() []byte { return k.helloDictKey[:] }

// NextMessage returns the next outgoing packet ID for a message from one
// address to the other. The high bit encodes direction so the two ends of
// the relationship never collide.
func (k *SymmetricKey) NextMessage(from, to identity.Address) uint64 {
	var dir uint64
	if from > to {
		dir = 1 << 63
	}
	return k.nonce.Add(1) ^ dir
}

// Package identity implements node identities: 40-bit addresses derived from
// public key material through a memory-hard hash, local proof-of-work
// validation, and key agreement.
package identity

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"veilnet.io/stratum/internal/core"
)

// AddressLength is the wire size of an address in bytes.
const AddressLength = 5

// Address is a 40-bit node identifier, big-endian on the wire. The zero
// value is the nil address.
type Address uint64

const addressMask = (uint64(1) << 40) - 1

// NewAddress reads a 5-byte big-endian address. b must have at least
// AddressLength bytes.
func NewAddress(b []byte) Address {
	_ = b[4]
	return Address(uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4]))
}

// ParseAddress parses a 10-digit hex address string.
func ParseAddress(s string) (Address, error) {
	if len(s) != AddressLength*2 {
		return 0, fmt.Errorf("%w: address must be %d hex digits", core.ErrInvalidObject, AddressLength*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrInvalidObject, err)
	}
	return NewAddress(b), nil
}

// IsReserved reports whether this address is in the reserved range: the nil
// address or any address whose most significant byte is 0xff.
func (a Address) IsReserved() bool {
	return a == 0 || (uint64(a)>>32) == 0xff
}

// CopyTo writes the address as 5 big-endian bytes. b must have at least
// AddressLength bytes.
func (a Address) CopyTo(b []byte) {
	_ = b[4]
	b[0] = byte(a >> 32)
	b[1] = byte(a >> 24)
	b[2] = byte(a >> 16)
	b[3] = byte(a >> 8)
	b[4] = byte(a)
}

func (a Address) String() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(a)&addressMask)
	return hex.EncodeToString(b[3:])
}

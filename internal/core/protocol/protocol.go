// Package protocol defines the layer-1 wire format: header offsets, flags,
// cipher suite identifiers, verbs, fragment framing, and the helpers that
// build and read packets. All multi-byte integers are big-endian on the wire.
package protocol

import (
	"encoding/binary"

	"veilnet.io/stratum/internal/core/identity"
)

// Packet header layout. A full packet is at least MinPacketLength bytes;
// a fragment frame is at least MinFragmentLength bytes.
//
//	[0]  packet ID            (8 bytes)
//	[8]  destination address  (5 bytes)
//	[13] source address       (5 bytes)  -- 0xff here marks a fragment frame
//	[18] flags/cipher/hops    (1 byte)
//	[19] MAC                  (8 bytes)
//	[27] verb/flags           (1 byte)   -- first encrypted byte
//	[28] payload
const (
	PacketIDIndex     = 0
	DestinationIndex  = 8
	SourceIndex       = 13
	FlagsIndex        = 18
	MACIndex          = 19
	VerbIndex         = 27
	PayloadStart      = 28
	HeaderSize        = 28
	MinPacketLength   = HeaderSize
	MinFragmentLength = 16

	// EncryptedSectionStart is the offset at which packet armor begins:
	// everything before it is cleartext header, everything from the verb
	// byte onward is MAC'd (and encrypted under SALSA2012 armor).
	EncryptedSectionStart = VerbIndex
)

// Fragment frame layout. Fragments 1..n-1 of a fragmented packet use this
// framing; fragment 0 is the head packet itself (flagged FRAGMENTED).
//
//	[0]  packet ID (8 bytes, same as head)
//	[8]  destination address (5 bytes)
//	[13] fragment indicator 0xff
//	[14] (totalFragments << 4) | fragmentNo
//	[15] hops
//	[16] fragment payload
const (
	FragmentIndicatorIndex = 13
	FragmentIndicator      = 0xff
	FragmentCountsIndex    = 14
	FragmentHopsIndex      = 15
	FragmentPayloadStart   = 16
	MaxPacketFragments     = 8
)

// Flags byte (offset 18): bits 0-2 hops, bits 3-4 cipher, bit 6 FRAGMENTED.
const (
	FlagsMaskHops     = 0x07
	FlagsMaskHideHops = 0xf8
	FlagFragmented    = 0x40
	flagsCipherShift  = 3
	flagsCipherMask   = 0x03
)

// Verb byte (offset 27): bits 0-4 verb, bit 7 COMPRESSED.
const (
	VerbMask           = 0x1f
	VerbFlagCompressed = 0x80
)

// Cipher suite identifiers carried in the flags byte.
const (
	CipherPoly1305None      = 0 // Poly1305 MAC, no encryption
	CipherPoly1305Salsa2012 = 1 // Poly1305 MAC over Salsa20/12 ciphertext
	CipherNone              = 2 // reserved slot, not implemented
	CipherAESGMACSIV        = 3 // reserved slot, not implemented
)

// Protocol and implementation version constants.
const (
	ProtoVersion    = 11
	ProtoVersionMin = 8

	VersionMajor    = 0
	VersionMinor    = 3
	VersionRevision = 1
)

// Sizing constants.
const (
	// BufSize is the fixed capacity of a packet buffer, comfortably above
	// the largest assembled packet.
	BufSize = 16384

	// DefaultUDPMTU is the assumed safe datagram payload size.
	DefaultUDPMTU = 1432

	// MaxPacketLength is the largest assembled packet the protocol permits.
	MaxPacketLength = MaxPacketFragments * (DefaultUDPMTU - FragmentPayloadStart)
)

// PacketID reads the big-endian packet ID of a packet or fragment frame.
func PacketID(pkt []byte) uint64 {
	return binary.BigEndian.Uint64(pkt[PacketIDIndex:])
}

// Destination reads the destination address.
func Destination(pkt []byte) identity.Address {
	return identity.NewAddress(pkt[DestinationIndex:])
}

// Source reads the source address of a full (non-fragment) packet.
func Source(pkt []byte) identity.Address {
	return identity.NewAddress(pkt[SourceIndex:])
}

// Hops reads the hop count from the flags byte.
func Hops(pkt []byte) uint8 { return pkt[FlagsIndex] & FlagsMaskHops }

// Cipher reads the cipher suite identifier from the flags byte.
func Cipher(pkt []byte) uint8 { return (pkt[FlagsIndex] >> flagsCipherShift) & flagsCipherMask }

// NewPacket writes a fresh packet header into b and returns the payload
// write offset (PayloadStart). The flags byte starts at zero hops with the
// cipher bits cleared; Armor sets them when the packet is sealed.
func NewPacket(b []byte, packetID uint64, dest, src identity.Address, verb Verb) int {
	binary.BigEndian.PutUint64(b[PacketIDIndex:], packetID)
	dest.CopyTo(b[DestinationIndex:])
	src.CopyTo(b[SourceIndex:])
	b[FlagsIndex] = 0
	binary.BigEndian.PutUint64(b[MACIndex:], 0)
	b[VerbIndex] = byte(verb)
	return PayloadStart
}

// SalsaDerivePerPacketKey derives the per-packet Salsa20/12 key from the
// 48-byte long-term identity key and the packet bytes. The header bytes act
// as additional authenticated data: a different header produces a different
// key and therefore a failed MAC. Hops are masked out so that intermediate
// relays may increment them without invalidating the MAC.
func SalsaDerivePerPacketKey(identityKey *[48]byte, pkt []byte, packetSize int) (out [48]byte) {
	out = *identityKey
	for i := 0; i < 18; i++ {
		out[i] ^= pkt[i]
	}
	out[18] ^= pkt[FlagsIndex] & FlagsMaskHideHops
	out[19] ^= byte(packetSize >> 8)
	out[20] ^= byte(packetSize)
	return out
}

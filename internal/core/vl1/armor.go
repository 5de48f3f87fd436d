package vl1

import (
	"golang.org/x/crypto/poly1305"

	"veilnet.io/stratum/internal/core/cryptolayer"
	"veilnet.io/stratum/internal/core/protocol"
)

// streamMapper fuses MAC computation and (optional) Salsa20/12 decryption
// in one pass over a packet vector. The first hdrRemaining bytes (the
// cleartext header) are copied verbatim; every byte after that feeds the
// Poly1305 MAC as ciphertext and is either copied (authenticated-only) or
// XORed with the keystream (authenticated and encrypted).
type streamMapper struct {
	s20          *cryptolayer.Salsa20
	poly         *poly1305.MAC
	hdrRemaining int
	decrypt      bool
}

// newStreamMapper derives the per-packet cipher state. hdr must hold at
// least the packet's first 19 bytes (through the flags byte); packetSize is
// the total assembled size.
func newStreamMapper(identityKey *[48]byte, hdr []byte, packetSize int, decrypt bool) *streamMapper {
	perPacketKey := protocol.SalsaDerivePerPacketKey(identityKey, hdr, packetSize)
	var k32 [32]byte
	copy(k32[:], perPacketKey[:32])
	s20 := cryptolayer.NewSalsa20(&k32, hdr[protocol.PacketIDIndex:protocol.PacketIDIndex+8], 12)
	return &streamMapper{
		s20:          s20,
		poly:         cryptolayer.NewPacketMAC(s20),
		hdrRemaining: protocol.EncryptedSectionStart,
		decrypt:      decrypt,
	}
}

func (m *streamMapper) apply(dst, src []byte) {
	if m.hdrRemaining > 0 {
		n := len(src)
		if n > m.hdrRemaining {
			n = m.hdrRemaining
		}
		copy(dst[:n], src[:n])
		m.hdrRemaining -= n
		dst = dst[n:]
		src = src[n:]
	}
	m.poly.Write(src)
	if m.decrypt {
		m.s20.XORKeyStream(dst, src)
	} else {
		copy(dst, src)
	}
}

// mac returns the 16-byte Poly1305 tag; the packet MAC field carries its
// first 8 bytes.
func (m *streamMapper) mac() [16]byte {
	var tag [16]byte
	copy(tag[:], m.poly.Sum(nil))
	return tag
}

// Armor seals an outgoing packet in place under the given cipher suite:
// sets the cipher bits, encrypts the section after the header when the
// suite calls for it, and stores the Poly1305 MAC. It returns the packet ID
// for registration in the Expect table.
func Armor(pkt []byte, key *SymmetricKey, cipher uint8) uint64 {
	pkt[protocol.FlagsIndex] = (pkt[protocol.FlagsIndex] &^ (3 << 3)) | (cipher << 3)

	m := newStreamMapper(key.IdentityKey(), pkt, len(pkt), false)
	sec := pkt[protocol.EncryptedSectionStart:]
	if cipher == protocol.CipherPoly1305Salsa2012 {
		m.s20.XORKeyStream(sec, sec)
	}
	m.poly.Write(sec)
	tag := m.mac()
	copy(pkt[protocol.MACIndex:protocol.MACIndex+8], tag[:8])
	return protocol.PacketID(pkt)
}

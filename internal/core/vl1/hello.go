package vl1

import (
	"bytes"
	"encoding/binary"

	"veilnet.io/stratum/internal/core/bufpool"
	"veilnet.io/stratum/internal/core/cryptolayer"
	"veilnet.io/stratum/internal/core/dictionary"
	"veilnet.io/stratum/internal/core/identity"
	"veilnet.io/stratum/internal/core/protocol"
	"veilnet.io/stratum/internal/core/trace"
)

// handleHELLO processes a HELLO, learning the sender's identity if needed,
// authenticating under the version-appropriate MAC regime, and replying
// with OK(HELLO). It returns the peer on success or nil on any drop. pkt is
// reused to build the reply, so callers must not rely on its contents
// afterwards.
//
// HELLO payload: protoVersion u8, major u8, minor u8, revision u16,
// timestamp u64, marshalled Identity, marshalled InetAddress (the address
// the sender observed as ours). For protoVersion >= 11: 4 reserved bytes, a
// 12-byte AES-CTR nonce, an encrypted section (reserved u16, dictSize u16,
// dictionary bytes), and a trailing 48-byte HMAC-SHA384 over the whole
// packet with hops masked to zero and the legacy MAC field zeroed.
func (n *Node) handleHELLO(cc CallContext, path *Path, pkt *bufpool.Buf, packetSize int) *Peer {
	b := pkt.B[:]
	packetID := protocol.PacketID(b)
	legacyMAC := make([]byte, 8)
	copy(legacyMAC, b[protocol.MACIndex:protocol.MACIndex+8])
	hops := protocol.Hops(b)

	if packetSize < protocol.PayloadStart+13+identity.MarshalSizeMax {
		n.dropped(0x707a9808, packetID, nil, path, hops, protocol.VerbHELLO, trace.DropReasonMalformedPacket)
		return nil
	}

	protoVersion := b[protocol.PayloadStart]
	if protoVersion < protocol.ProtoVersionMin {
		n.dropped(0x907a9891, packetID, nil, path, hops, protocol.VerbHELLO, trace.DropReasonPeerTooOld)
		return nil
	}
	versionMajor := b[protocol.PayloadStart+1]
	versionMinor := b[protocol.PayloadStart+2]
	versionRev := binary.BigEndian.Uint16(b[protocol.PayloadStart+3:])
	timestamp := binary.BigEndian.Uint64(b[protocol.PayloadStart+5:])

	ii := protocol.PayloadStart + 13

	// The claimed identity must match the source field; everything else
	// about it is checked by proof-of-work validation below.
	id, idLen, err := identity.UnmarshalIdentity(b[ii:packetSize])
	if err != nil {
		n.dropped(0x707a9810, packetID, nil, path, hops, protocol.VerbHELLO, trace.DropReasonInvalidObject)
		return nil
	}
	ii += idLen
	if id.Address() != protocol.Source(b) {
		n.dropped(0x707a9010, packetID, nil, path, hops, protocol.VerbHELLO, trace.DropReasonMACFailed)
		return nil
	}

	peer := n.topology.PeerCached(cc, id.Address())
	if peer != nil {
		if !peer.Identity().Equal(id) {
			n.dropped(0x707a9891, packetID, peer.Identity(), path, hops, protocol.VerbHELLO, trace.DropReasonMACFailed)
			return nil
		}
		if peer.DeduplicateIncomingPacket(packetID) {
			return nil
		}
	} else {
		if !id.LocallyValidate() {
			n.dropped(0x707a9892, packetID, nil, path, hops, protocol.VerbHELLO, trace.DropReasonInvalidObject)
			return nil
		}
		p, err := NewPeer(n.ctx.Identity, id)
		if err != nil {
			n.dropped(0x707a9893, packetID, nil, path, hops, protocol.VerbHELLO, trace.DropReasonUnspecified)
			return nil
		}
		peer = n.topology.Add(cc, p)
		if peer.DeduplicateIncomingPacket(packetID) {
			return nil
		}
	}

	// Authenticate: HMAC-SHA384 with a dedicated sub-key at v11+, legacy
	// Poly1305 below that.
	if protoVersion >= 11 {
		if packetSize < protocol.PayloadStart+13+idLen+cryptolayer.HMACSHA384Size {
			n.dropped(0xab9c9891, packetID, peer.Identity(), path, hops, protocol.VerbHELLO, trace.DropReasonMACFailed)
			return nil
		}
		packetSize -= cryptolayer.HMACSHA384Size
		b[protocol.FlagsIndex] &= protocol.FlagsMaskHideHops
		binary.BigEndian.PutUint64(b[protocol.MACIndex:], 0)
		hmac := cryptolayer.HMACSHA384(peer.Key().HelloHMACKey(), b[:packetSize])
		if !cryptolayer.SecureEq(hmac[:], b[packetSize:packetSize+cryptolayer.HMACSHA384Size]) {
			n.dropped(0x707a9894, packetID, peer.Identity(), path, hops, protocol.VerbHELLO, trace.DropReasonMACFailed)
			return nil
		}
	} else {
		if packetSize <= protocol.EncryptedSectionStart {
			n.dropped(0x11bfff81, packetID, id, path, hops, protocol.VerbNOP, trace.DropReasonMACFailed)
			return nil
		}
		m := newStreamMapper(peer.Key().IdentityKey(), b, packetSize, false)
		m.poly.Write(b[protocol.EncryptedSectionStart:packetSize])
		tag := m.mac()
		if !bytes.Equal(tag[:8], legacyMAC) {
			n.dropped(0x11bfff82, packetID, id, path, hops, protocol.VerbNOP, trace.DropReasonMACFailed)
			return nil
		}
	}

	// The address the sender observed as ours feeds NAT reflection
	// detection.
	sentTo, stLen, err := protocol.UnmarshalInetAddress(b[ii:packetSize])
	if err != nil {
		n.dropped(0x707a9811, packetID, peer.Identity(), path, hops, protocol.VerbHELLO, trace.DropReasonInvalidObject)
		return nil
	}
	ii += stLen
	if n.ctx.SentTo != nil {
		n.ctx.SentTo(cc, peer, sentTo)
	}

	key := peer.Key()

	if protoVersion >= 11 {
		ii += 4 // reserved
		if ii+12 < packetSize {
			nonce := b[ii : ii+12]
			ii += 12
			ctr, err := cryptolayer.NewAESCTR(key.HelloDictionaryKey(), nonce)
			if err == nil {
				ctr.XORKeyStream(b[ii:packetSize], b[ii:packetSize])
			}
			ii += 2 // reserved
			if ii+2 > packetSize {
				n.dropped(0x707a9815, packetID, peer.Identity(), path, hops, protocol.VerbHELLO, trace.DropReasonInvalidObject)
				return nil
			}
			dictSize := int(binary.BigEndian.Uint16(b[ii:]))
			ii += 2
			if ii+dictSize > packetSize {
				n.dropped(0x707a9815, packetID, peer.Identity(), path, hops, protocol.VerbHELLO, trace.DropReasonInvalidObject)
				return nil
			}
			md := dictionary.Dictionary{}
			if !md.Decode(b[ii : ii+dictSize]) {
				n.dropped(0x707a9816, packetID, peer.Identity(), path, hops, protocol.VerbHELLO, trace.DropReasonInvalidObject)
				return nil
			}
			// No metadata keys are consumed yet; the dictionary is a
			// forward compatibility slot.
		}
	}

	// Build the OK(HELLO) reply in place.
	okID := key.NextMessage(n.Address(), peer.Address())
	wi := protocol.NewPacket(b, okID, peer.Address(), n.Address(), protocol.VerbOK)
	b[wi] = byte(protocol.VerbHELLO)
	wi++
	binary.BigEndian.PutUint64(b[wi:], packetID)
	wi += 8
	binary.BigEndian.PutUint64(b[wi:], timestamp)
	wi += 8
	b[wi] = protocol.ProtoVersion
	b[wi+1] = protocol.VersionMajor
	b[wi+2] = protocol.VersionMinor
	wi += 3
	binary.BigEndian.PutUint16(b[wi:], protocol.VersionRevision)
	wi += 2
	wi += protocol.MarshalInetAddress(b[wi:], path.Address())
	binary.BigEndian.PutUint16(b[wi:], 0) // legacy field, always zero
	wi += 2

	if protoVersion >= 11 {
		okmd := dictionary.Dictionary{}.Encode()
		binary.BigEndian.PutUint16(b[wi:], uint16(len(okmd)))
		wi += 2
		copy(b[wi:], okmd)
		wi += len(okmd)

		if wi+cryptolayer.HMACSHA384Size > bufpool.BufSize {
			return nil
		}
		hmac := cryptolayer.HMACSHA384(key.HelloHMACKey(), b[:wi])
		copy(b[wi:], hmac[:])
		wi += cryptolayer.HMACSHA384Size
	}

	peer.SetRemoteVersion(protoVersion, versionMajor, versionMinor, versionRev)
	Armor(b[:wi], key, protocol.CipherPoly1305None)
	peer.Send(n.ctx, cc, b[:wi], path)
	return peer
}

package vl1

import (
	"encoding/binary"
	"net/netip"

	"veilnet.io/stratum/internal/core/bufpool"
	"veilnet.io/stratum/internal/core/identity"
	"veilnet.io/stratum/internal/core/protocol"
	"veilnet.io/stratum/internal/core/trace"
)

// handleERROR processes an ERROR reply. Only solicited replies (matching an
// Expect registration) are accepted; the inner error kind is surfaced to
// the embedder's hook.
func (n *Node) handleERROR(cc CallContext, packetID uint64, auth AuthFlags, path *Path,
	peer *Peer, pkt *bufpool.Buf, packetSize int, inReVerb *protocol.Verb) bool {

	if packetSize < protocol.PayloadStart+10 {
		n.dropped(0x3beb1947, packetID, peer.Identity(), path, 0, protocol.VerbERROR, trace.DropReasonMalformedPacket)
		return false
	}
	ii := protocol.PayloadStart
	*inReVerb = protocol.Verb(pkt.B[ii])
	ii++
	inRePacketID := binary.BigEndian.Uint64(pkt.B[ii:])
	ii += 8
	errorCode := pkt.B[ii]

	if !n.expect.Expecting(inRePacketID, cc.Ticks) {
		n.dropped(0x4c1f1ff7, packetID, peer.Identity(), path, 0, protocol.VerbERROR, trace.DropReasonReplyNotExpected)
		return false
	}

	if n.ctx.RemoteError != nil {
		n.ctx.RemoteError(cc, peer, *inReVerb, inRePacketID, errorCode)
	}
	return true
}

// handleOK processes an OK reply. Only solicited replies are accepted.
// OK(HELLO) records the remote version and latency; OK(WHOIS) installs the
// returned identities and replays packets queued for them.
func (n *Node) handleOK(cc CallContext, packetID uint64, auth AuthFlags, path *Path,
	peer *Peer, pkt *bufpool.Buf, packetSize int, inReVerb *protocol.Verb) bool {

	if packetSize < protocol.PayloadStart+9 {
		n.dropped(0x4c1f1ff6, packetID, peer.Identity(), path, 0, protocol.VerbOK, trace.DropReasonMalformedPacket)
		return false
	}
	ii := protocol.PayloadStart
	*inReVerb = protocol.Verb(pkt.B[ii])
	ii++
	inRePacketID := binary.BigEndian.Uint64(pkt.B[ii:])
	ii += 8

	if !n.expect.Expecting(inRePacketID, cc.Ticks) {
		n.dropped(0x4c1f1ff8, packetID, peer.Identity(), path, 0, protocol.VerbOK, trace.DropReasonReplyNotExpected)
		return false
	}

	switch *inReVerb {
	case protocol.VerbHELLO:
		if packetSize < ii+13 {
			n.dropped(0x4c1f1ff9, packetID, peer.Identity(), path, 0, protocol.VerbOK, trace.DropReasonMalformedPacket)
			return false
		}
		timestamp := binary.BigEndian.Uint64(pkt.B[ii:])
		ii += 8
		protoVersion := pkt.B[ii]
		versionMajor := pkt.B[ii+1]
		versionMinor := pkt.B[ii+2]
		ii += 3
		versionRev := binary.BigEndian.Uint16(pkt.B[ii:])
		peer.SetRemoteVersion(protoVersion, versionMajor, versionMinor, versionRev)
		if rtt := cc.Ticks - int64(timestamp); rtt >= 0 && rtt < ExpectTTL {
			peer.setLatency(rtt)
		}

	case protocol.VerbWHOIS:
		for ii+identity.MarshalSizeMax <= packetSize {
			id, idLen, err := identity.UnmarshalIdentity(pkt.B[ii:packetSize])
			if err != nil {
				n.dropped(0x4c1f1ffa, packetID, peer.Identity(), path, 0, protocol.VerbOK, trace.DropReasonInvalidObject)
				return false
			}
			ii += idLen
			if !id.LocallyValidate() {
				n.dropped(0x4c1f1ffb, packetID, peer.Identity(), path, 0, protocol.VerbOK, trace.DropReasonInvalidObject)
				continue
			}
			wp, err := NewPeer(n.ctx.Identity, id)
			if err != nil {
				continue
			}
			n.topology.Add(cc, wp)
			n.whoisComplete(cc, id.Address())
		}

	case protocol.VerbNETWORKCONFIGREQUEST, protocol.VerbMULTICASTGATHER:
		// Replies belonging to the VL2 collaborator's requests.
	}

	return true
}

// handleWHOIS serves identity lookups: for every known address in the
// request, the matching identity is packed into OK(WHOIS) replies. The
// request is rate-gated per peer.
func (n *Node) handleWHOIS(cc CallContext, packetID uint64, auth AuthFlags, path *Path,
	peer *Peer, pkt *bufpool.Buf, packetSize int) bool {

	if !peer.whoisGate.gate(cc.Ticks, WhoisRateLimit) {
		n.dropped(0x19f7194a, packetID, peer.Identity(), path, 0, protocol.VerbWHOIS, trace.DropReasonRateLimitExceeded)
		return true
	}

	outp := bufpool.Get()
	defer bufpool.Put(outp)

	ptr := protocol.PayloadStart
	for ptr+identity.AddressLength <= packetSize {
		replyID := peer.Key().NextMessage(n.Address(), peer.Address())
		wi := protocol.NewPacket(outp.B[:], replyID, peer.Address(), n.Address(), protocol.VerbOK)
		outp.B[wi] = byte(protocol.VerbWHOIS)
		wi++
		binary.BigEndian.PutUint64(outp.B[wi:], packetID)
		wi += 8

		payloadStart := wi
		for ptr+identity.AddressLength <= packetSize && wi+identity.MarshalSizeMax <= protocol.DefaultUDPMTU {
			addr := identity.NewAddress(pkt.B[ptr:])
			ptr += identity.AddressLength
			if wp := n.topology.Peer(cc, addr); wp != nil {
				wi += wp.Identity().MarshalTo(outp.B[wi:])
			}
		}
		if wi > payloadStart {
			Armor(outp.B[:wi], peer.Key(), peer.Cipher())
			peer.Send(n.ctx, cc, outp.B[:wi], path)
		}
	}
	return true
}

// handleECHO replies with OK(ECHO) echoing the payload, rate-gated per
// peer.
func (n *Node) handleECHO(cc CallContext, packetID uint64, auth AuthFlags, path *Path,
	peer *Peer, pkt *bufpool.Buf, packetSize int) bool {

	if !peer.echoGate.gate(cc.Ticks, EchoRateLimit) {
		n.dropped(0x27878bc1, packetID, peer.Identity(), path, 0, protocol.VerbECHO, trace.DropReasonRateLimitExceeded)
		return true
	}

	payloadLen := packetSize - protocol.PayloadStart
	outp := bufpool.Get()
	defer bufpool.Put(outp)

	replyID := peer.Key().NextMessage(n.Address(), peer.Address())
	wi := protocol.NewPacket(outp.B[:], replyID, peer.Address(), n.Address(), protocol.VerbOK)
	outp.B[wi] = byte(protocol.VerbECHO)
	wi++
	binary.BigEndian.PutUint64(outp.B[wi:], packetID)
	wi += 8
	if wi+payloadLen > bufpool.BufSize {
		n.dropped(0x14d70bb0, packetID, peer.Identity(), path, 0, protocol.VerbECHO, trace.DropReasonMalformedPacket)
		return false
	}
	copy(outp.B[wi:], pkt.B[protocol.PayloadStart:packetSize])
	wi += payloadLen

	Armor(outp.B[:wi], peer.Key(), peer.Cipher())
	peer.Send(n.ctx, cc, outp.B[:wi], path)
	return true
}

// handleRENDEZVOUS processes a hole-punch referral. Only roots are
// believed. Payload: flags u8, peerAddress 5 bytes, port u16, addressLength
// u8, address bytes.
func (n *Node) handleRENDEZVOUS(cc CallContext, packetID uint64, auth AuthFlags, path *Path,
	peer *Peer, pkt *bufpool.Buf, packetSize int) bool {

	if !n.topology.IsRoot(peer.Identity()) {
		return true
	}
	if packetSize < protocol.PayloadStart+9 {
		n.dropped(0x43e90ab3, packetID, peer.Identity(), path, 0, protocol.VerbRENDEZVOUS, trace.DropReasonMalformedPacket)
		return false
	}
	ii := protocol.PayloadStart + 1 // flags unused
	with := identity.NewAddress(pkt.B[ii:])
	ii += identity.AddressLength
	port := binary.BigEndian.Uint16(pkt.B[ii:])
	ii += 2
	addrLen := int(pkt.B[ii])
	ii++

	withPeer := n.topology.Peer(cc, with)
	if withPeer == nil || port == 0 {
		return true
	}
	if (addrLen != 4 && addrLen != 16) || ii+addrLen > packetSize {
		return true
	}
	candidate := addrPortFromBytes(pkt.B[ii:ii+addrLen], port)
	if candidate.IsValid() {
		n.ctx.Trace.TryingNewPath(0x55a19aaa, withPeer.Identity(), candidate,
			path.Address(), packetID, protocol.VerbRENDEZVOUS, trace.NewPathReasonRendezvous)
		if n.ctx.PathTrier != nil {
			n.ctx.PathTrier(cc, withPeer, candidate)
		}
	}
	return true
}

// handlePUSHDIRECTPATHS processes a peer's advertisement of its own direct
// endpoints. Each record: flags u8, extLen u16 + extLen bytes, addrType u8,
// addrRecordLen u8, then the record (for types 4 and 6: address bytes plus
// a u16 port).
func (n *Node) handlePUSHDIRECTPATHS(cc CallContext, packetID uint64, auth AuthFlags, path *Path,
	peer *Peer, pkt *bufpool.Buf, packetSize int) bool {

	if packetSize < protocol.PayloadStart+2 {
		n.dropped(0x1bb1bbb1, packetID, peer.Identity(), path, 0, protocol.VerbPUSHDIRECTPATHS, trace.DropReasonMalformedPacket)
		return false
	}
	ptr := protocol.PayloadStart
	numPaths := int(binary.BigEndian.Uint16(pkt.B[ptr:]))
	ptr += 2

	for pi := 0; pi < numPaths; pi++ {
		if ptr+4 > packetSize {
			n.dropped(0xb450e10f, packetID, peer.Identity(), path, 0, protocol.VerbPUSHDIRECTPATHS, trace.DropReasonMalformedPacket)
			return false
		}
		ptr++ // flags, presently unused
		extLen := int(binary.BigEndian.Uint16(pkt.B[ptr:]))
		ptr += 2 + extLen
		if ptr+2 > packetSize {
			n.dropped(0xb450e10f, packetID, peer.Identity(), path, 0, protocol.VerbPUSHDIRECTPATHS, trace.DropReasonMalformedPacket)
			return false
		}
		addrType := pkt.B[ptr]
		recordLen := int(pkt.B[ptr+1])
		ptr += 2
		if recordLen == 0 || ptr+recordLen > packetSize {
			n.dropped(0xaed00118, packetID, peer.Identity(), path, 0, protocol.VerbPUSHDIRECTPATHS, trace.DropReasonMalformedPacket)
			return false
		}
		record := pkt.B[ptr : ptr+recordLen]
		ptr += recordLen

		var candidate netip.AddrPort
		switch addrType {
		case 4:
			if recordLen >= 6 {
				candidate = addrPortFromBytes(record[:4], binary.BigEndian.Uint16(record[4:]))
			}
		case 6:
			if recordLen >= 18 {
				candidate = addrPortFromBytes(record[:16], binary.BigEndian.Uint16(record[16:]))
			}
		default:
			// Unknown endpoint types are skipped, not errors.
		}
		if candidate.IsValid() {
			n.ctx.Trace.TryingNewPath(0xa5ab1a43, peer.Identity(), candidate,
				path.Address(), packetID, protocol.VerbPUSHDIRECTPATHS, trace.NewPathReasonPushDirectPaths)
			if n.ctx.PathTrier != nil {
				n.ctx.PathTrier(cc, peer, candidate)
			}
		}
	}
	return true
}

// handleUSERMESSAGE hands an opaque user message (u64 type ID + payload) to
// the embedder's hook.
func (n *Node) handleUSERMESSAGE(cc CallContext, packetID uint64, auth AuthFlags, path *Path,
	peer *Peer, pkt *bufpool.Buf, packetSize int) bool {

	if packetSize < protocol.PayloadStart+8 {
		n.dropped(0x6a6b6c6d, packetID, peer.Identity(), path, 0, protocol.VerbUSERMESSAGE, trace.DropReasonMalformedPacket)
		return false
	}
	if n.ctx.UserMessage != nil {
		typeID := binary.BigEndian.Uint64(pkt.B[protocol.PayloadStart:])
		n.ctx.UserMessage(cc, peer, typeID, pkt.B[protocol.PayloadStart+8:packetSize])
	}
	return true
}

// handleENCAP is a slot for encapsulated packets; not implemented in this
// core.
func (n *Node) handleENCAP(cc CallContext, packetID uint64, auth AuthFlags, path *Path,
	peer *Peer, pkt *bufpool.Buf, packetSize int) bool {
	return true
}

func addrPortFromBytes(b []byte, port uint16) netip.AddrPort {
	if a, ok := netip.AddrFromSlice(b); ok {
		return netip.AddrPortFrom(a.Unmap(), port)
	}
	return netip.AddrPort{}
}

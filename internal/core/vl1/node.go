package vl1

import (
	"bytes"
	"net/netip"
	"sync"

	"github.com/pierrec/lz4/v4"

	"veilnet.io/stratum/internal/core/bufpool"
	"veilnet.io/stratum/internal/core/identity"
	"veilnet.io/stratum/internal/core/protocol"
	"veilnet.io/stratum/internal/core/trace"
	"veilnet.io/stratum/internal/metrics"
)

// Node is the VL1 engine: it owns the receive pipeline, the defragmenter,
// the WHOIS queue, the Expect registry, and the topology.
type Node struct {
	ctx      *Context
	topology *Topology
	expect   *Expect
	defrag   *Defragmenter

	whoisMu sync.Mutex
	whois   map[identity.Address]*whoisQueueItem
}

// NewNode creates a node around an injected Context. The Context's
// Identity, Trace, Store and Out fields must be set.
func NewNode(ctx *Context) *Node {
	n := &Node{
		ctx:    ctx,
		expect: NewExpect(),
		defrag: NewDefragmenter(),
		whois:  make(map[identity.Address]*whoisQueueItem),
	}
	n.topology = NewTopology(ctx)
	return n
}

// Topology returns the node's topology registry.
func (n *Node) Topology() *Topology { return n.topology }

// Expect returns the node's outstanding-request registry.
func (n *Node) Expect() *Expect { return n.expect }

// Address returns this node's address.
func (n *Node) Address() identity.Address { return n.ctx.Identity.Address() }

// OnRemotePacket ingests one datagram from a physical socket. It may be
// called concurrently from any number of I/O threads. It never returns an
// error: packet-level failures are silent drops reported via the trace
// sink, and unexpected internal failures are caught here and never
// propagate to the socket caller.
func (n *Node) OnRemotePacket(cc CallContext, localSocket int64, fromAddr netip.AddrPort,
	data *bufpool.Buf, length int) {

	path := n.topology.PathTo(localSocket, fromAddr)
	path.Received(cc.Ticks, length)
	metrics.PacketsReceivedTotal.Inc()

	defer func() {
		if r := recover(); r != nil {
			n.ctx.Trace.UnexpectedError(0xea1b6dea,
				"unexpected panic in OnRemotePacket() parsing packet from %s: %v",
				fromAddr.String(), r)
		}
	}()

	if length < protocol.MinFragmentLength {
		return
	}

	packetID := protocol.PacketID(data.B[:])
	dest := protocol.Destination(data.B[:])
	if dest != n.ctx.Identity.Address() {
		// Candidate for relay; VL1 does no further processing.
		if n.ctx.Relay != nil {
			n.ctx.Relay(cc, path, dest, data, length)
		} else {
			bufpool.Put(data)
		}
		return
	}

	var pv bufpool.PacketVector
	if data.B[protocol.FragmentIndicatorIndex] == protocol.FragmentIndicator {
		// A non-head fragment of a larger packet.
		total := (data.B[protocol.FragmentCountsIndex] >> 4) & 0x0f
		no := data.B[protocol.FragmentCountsIndex] & 0x0f
		switch n.defrag.Assemble(packetID, &pv, data,
			protocol.FragmentPayloadStart, length-protocol.FragmentPayloadStart,
			no, total, cc.Ticks, path) {
		case defragComplete:
		case defragOK:
			return
		default:
			bufpool.Put(data)
			return
		}
	} else {
		if length < protocol.MinPacketLength {
			return
		}
		if data.B[protocol.FlagsIndex]&protocol.FlagFragmented != 0 {
			// The head of a series of fragments we may or may not have.
			// The total count comes from the fragments, not the head.
			switch n.defrag.Assemble(packetID, &pv, data, 0, length, 0, 0, cc.Ticks, path) {
			case defragComplete:
			case defragOK:
				return
			default:
				bufpool.Put(data)
				return
			}
		} else {
			// A single whole packet; wrap the buffer directly.
			pv = bufpool.PacketVector{{B: data, S: 0, E: length}}
		}
	}

	n.processAssembled(cc, path, pv)
}

// releaseVector returns a packet vector's buffers to the pool.
func releaseVector(pv bufpool.PacketVector) {
	for _, s := range pv {
		bufpool.Put(s.B)
	}
}

// processAssembled authenticates, deduplicates, decompresses and
// dispatches one fully assembled packet.
func (n *Node) processAssembled(cc CallContext, path *Path, pv bufpool.PacketVector) {
	hdr := pv[0].Bytes()
	packetID := protocol.PacketID(hdr)
	source := protocol.Source(hdr)
	hops := protocol.Hops(hdr)
	cipher := protocol.Cipher(hdr)

	pkt := bufpool.Get()
	pktSize := 0

	// Cleartext HELLO under the legacy ciphers carries its own MAC/HMAC
	// and is handled before peer lookup, since HELLO is how we learn peers.
	if (cipher == protocol.CipherPoly1305None || cipher == protocol.CipherNone) &&
		protocol.Verb(hdr[protocol.VerbIndex]&protocol.VerbMask) == protocol.VerbHELLO {
		pktSize = pv.MergeCopy(pkt)
		releaseVector(pv)
		if pktSize < protocol.MinPacketLength {
			bufpool.Put(pkt)
			return
		}
		if peer := n.handleHELLO(cc, path, pkt, pktSize); peer != nil {
			peer.Received(n.ctx, cc, path, hops, packetID,
				pktSize-protocol.PayloadStart, protocol.VerbHELLO, protocol.VerbNOP)
			metrics.PacketsDispatchedTotal.WithLabelValues(protocol.VerbHELLO.String()).Inc()
		}
		bufpool.Put(pkt)
		return
	}

	var auth AuthFlags
	peer := n.topology.Peer(cc, source)
	if peer != nil {
		switch cipher {
		case protocol.CipherPoly1305None:
			m := newStreamMapper(peer.Key().IdentityKey(), hdr, pv.TotalSize(), false)
			pktSize = pv.MergeMap(pkt, m.apply)
			if pktSize < protocol.MinPacketLength {
				releaseVector(pv)
				bufpool.Put(pkt)
				return
			}
			tag := m.mac()
			if !bytes.Equal(tag[:8], hdr[protocol.MACIndex:protocol.MACIndex+8]) {
				n.dropped(0xcc89c812, packetID, peer.Identity(), path, hops,
					protocol.VerbNOP, trace.DropReasonMACFailed)
				releaseVector(pv)
				bufpool.Put(pkt)
				return
			}
			auth = AuthAuthenticated

		case protocol.CipherPoly1305Salsa2012:
			m := newStreamMapper(peer.Key().IdentityKey(), hdr, pv.TotalSize(), true)
			pktSize = pv.MergeMap(pkt, m.apply)
			if pktSize < protocol.MinPacketLength {
				releaseVector(pv)
				bufpool.Put(pkt)
				return
			}
			tag := m.mac()
			if !bytes.Equal(tag[:8], hdr[protocol.MACIndex:protocol.MACIndex+8]) {
				n.dropped(0xcc89c812, packetID, peer.Identity(), path, hops,
					protocol.VerbNOP, trace.DropReasonMACFailed)
				releaseVector(pv)
				bufpool.Put(pkt)
				return
			}
			auth = AuthAuthenticated | AuthEncrypted

		case protocol.CipherNone, protocol.CipherAESGMACSIV:
			// Cipher slots not implemented in this core.
			n.dropped(0x5b001098, packetID, peer.Identity(), path, hops,
				protocol.VerbNOP, trace.DropReasonInvalidObject)
			releaseVector(pv)
			bufpool.Put(pkt)
			return

		default:
			n.dropped(0x5b001099, packetID, peer.Identity(), path, hops,
				protocol.VerbNOP, trace.DropReasonInvalidObject)
			releaseVector(pv)
			bufpool.Put(pkt)
			return
		}
	}

	if auth != 0 {
		releaseVector(pv)
		n.dispatchAuthenticated(cc, path, peer, auth, packetID, hops, pkt, pktSize)
		return
	}

	// Authentication could not proceed: unknown source. Queue the assembled
	// packet and look the identity up.
	if pktSize <= 0 {
		pktSize = pv.MergeCopy(pkt)
	}
	releaseVector(pv)
	if pktSize < protocol.MinPacketLength {
		bufpool.Put(pkt)
		return
	}
	n.enqueueWhois(cc, source, path, pkt, pktSize)
}

// dispatchAuthenticated runs deduplication, decompression and verb
// dispatch on an authenticated packet. Takes ownership of pkt.
func (n *Node) dispatchAuthenticated(cc CallContext, path *Path, peer *Peer, auth AuthFlags,
	packetID uint64, hops uint8, pkt *bufpool.Buf, pktSize int) {
	// Deferred as a closure so the buffer released is the one pkt holds at
	// return, which differs from the argument after decompression.
	defer func() { bufpool.Put(pkt) }()

	if peer.DeduplicateIncomingPacket(packetID) {
		metrics.PacketsDeduplicatedTotal.Inc()
		return
	}

	verbFlags := pkt.B[protocol.VerbIndex]
	verb := protocol.Verb(verbFlags & protocol.VerbMask)

	// Decompress only after the MAC validated, so the decompressor never
	// sees attacker-chosen input.
	if verbFlags&protocol.VerbFlagCompressed != 0 && pktSize > protocol.PayloadStart {
		dec := bufpool.Get()
		copy(dec.B[:protocol.PayloadStart], pkt.B[:protocol.PayloadStart])
		un, err := lz4.UncompressBlock(pkt.B[protocol.PayloadStart:pktSize], dec.B[protocol.PayloadStart:])
		if err != nil || un > bufpool.BufSize-protocol.PayloadStart {
			bufpool.Put(dec)
			n.dropped(0xee9e4392, packetID, peer.Identity(), path, hops, verb,
				trace.DropReasonInvalidCompressedData)
			return
		}
		bufpool.Put(pkt)
		pkt = dec
		pktSize = protocol.PayloadStart + un
	}

	inReVerb := protocol.VerbNOP
	ok := true
	switch verb {
	case protocol.VerbNOP:
	case protocol.VerbHELLO:
		// HELLO is normally handled in the clear before this point. An
		// armored HELLO goes to handleHELLO, whose replay check sees the
		// packet ID already recorded above, so once it passes HELLO's own
		// format and identity checks it is dropped there without a reply.
		ok = n.handleHELLO(cc, path, pkt, pktSize) != nil
	case protocol.VerbERROR:
		ok = n.handleERROR(cc, packetID, auth, path, peer, pkt, pktSize, &inReVerb)
	case protocol.VerbOK:
		ok = n.handleOK(cc, packetID, auth, path, peer, pkt, pktSize, &inReVerb)
	case protocol.VerbWHOIS:
		ok = n.handleWHOIS(cc, packetID, auth, path, peer, pkt, pktSize)
	case protocol.VerbRENDEZVOUS:
		ok = n.handleRENDEZVOUS(cc, packetID, auth, path, peer, pkt, pktSize)
	case protocol.VerbECHO:
		ok = n.handleECHO(cc, packetID, auth, path, peer, pkt, pktSize)
	case protocol.VerbPUSHDIRECTPATHS:
		ok = n.handlePUSHDIRECTPATHS(cc, packetID, auth, path, peer, pkt, pktSize)
	case protocol.VerbUSERMESSAGE:
		ok = n.handleUSERMESSAGE(cc, packetID, auth, path, peer, pkt, pktSize)
	case protocol.VerbENCAP:
		ok = n.handleENCAP(cc, packetID, auth, path, peer, pkt, pktSize)
	case protocol.VerbFRAME, protocol.VerbEXTFRAME, protocol.VerbMULTICASTLIKE,
		protocol.VerbNETWORKCREDENTIALS, protocol.VerbNETWORKCONFIGREQUEST,
		protocol.VerbNETWORKCONFIG, protocol.VerbMULTICASTGATHER,
		protocol.VerbMULTICASTFRAMEOld, protocol.VerbMULTICAST:
		if n.ctx.VL2 != nil {
			ok = n.ctx.VL2.OnPacket(cc, packetID, auth, path, peer, verb, pkt, pktSize)
		} else {
			ok = false
		}
	default:
		n.dropped(0xeeeeeff0, packetID, peer.Identity(), path, hops, verb,
			trace.DropReasonUnrecognizedVerb)
		ok = false
	}

	if ok {
		peer.Received(n.ctx, cc, path, hops, packetID, pktSize-protocol.PayloadStart, verb, inReVerb)
		metrics.PacketsDispatchedTotal.WithLabelValues(verb.String()).Inc()
	}
}

// dropped reports one dropped packet to the trace sink and the drop
// counter.
func (n *Node) dropped(tag uint32, packetID uint64, ident *identity.Identity, path *Path,
	hops uint8, verb protocol.Verb, reason trace.DropReason) {
	var addr netip.AddrPort
	if path != nil {
		addr = path.Address()
	}
	n.ctx.Trace.IncomingPacketDropped(tag, packetID, ident, addr, hops, verb, reason)
	metrics.PacketsDroppedTotal.WithLabelValues(reason.String()).Inc()
}

// DoBackgroundTasks drives the periodic machinery: topology GC (with
// defragmenter cleanup for evicted paths), root re-ranking, and WHOIS
// retries. The embedder calls this from its service loop.
func (n *Node) DoBackgroundTasks(cc CallContext) {
	for _, path := range n.topology.DoPeriodicTasks(cc) {
		n.defrag.EvictPath(path)
	}
	n.SendPendingWhois(cc)
}

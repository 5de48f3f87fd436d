package vl1

import (
	"crypto/rand"
	"encoding/binary"
	"net/netip"

	"veilnet.io/stratum/internal/core/bufpool"
	"veilnet.io/stratum/internal/core/cryptolayer"
	"veilnet.io/stratum/internal/core/dictionary"
	"veilnet.io/stratum/internal/core/protocol"
)

// SeedRootPath installs a configured endpoint for a root as a usable path
// so first-contact HELLO and WHOIS have somewhere to go before anything has
// been received from it.
func (n *Node) SeedRootPath(cc CallContext, root *Peer, localSocket int64, remote netip.AddrPort) {
	path := n.topology.PathTo(localSocket, remote)
	path.Received(cc.Ticks, 0)
	root.learnPath(path)
}

// SendHellos sends a keepalive HELLO to every root on its best path. The
// service loop calls this on the keepalive cadence; it is also how contact
// with a root is first established.
func (n *Node) SendHellos(cc CallContext) {
	for _, root := range n.topology.Roots() {
		if path := root.DirectPath(cc); path != nil {
			n.SendHELLO(cc, root, path)
		}
	}
}

// SendHELLO builds, authenticates and sends a HELLO to a peer on the given
// path. The packet carries our identity, the address we see the peer at,
// and an (empty) encrypted metadata dictionary; it is authenticated with
// HMAC-SHA384 plus the legacy Poly1305 MAC and sent in the clear.
func (n *Node) SendHELLO(cc CallContext, peer *Peer, path *Path) {
	key := peer.Key()
	outp := bufpool.Get()
	defer bufpool.Put(outp)
	b := outp.B[:]

	helloID := key.NextMessage(n.Address(), peer.Address())
	wi := protocol.NewPacket(b, helloID, peer.Address(), n.Address(), protocol.VerbHELLO)
	b[wi] = protocol.ProtoVersion
	b[wi+1] = protocol.VersionMajor
	b[wi+2] = protocol.VersionMinor
	wi += 3
	binary.BigEndian.PutUint16(b[wi:], protocol.VersionRevision)
	wi += 2
	binary.BigEndian.PutUint64(b[wi:], uint64(cc.Ticks))
	wi += 8
	wi += n.ctx.Identity.MarshalTo(b[wi:])
	wi += protocol.MarshalInetAddress(b[wi:], path.Address())

	// v11+ section: reserved, CTR nonce, encrypted (reserved u16, dict).
	for i := 0; i < 4; i++ {
		b[wi+i] = 0
	}
	wi += 4
	var nonce [12]byte
	_, _ = rand.Read(nonce[:])
	copy(b[wi:], nonce[:])
	wi += 12
	encStart := wi
	binary.BigEndian.PutUint16(b[wi:], 0) // reserved
	wi += 2
	md := dictionary.Dictionary{}.Encode()
	binary.BigEndian.PutUint16(b[wi:], uint16(len(md)))
	wi += 2
	copy(b[wi:], md)
	wi += len(md)
	if ctr, err := cryptolayer.NewAESCTR(key.HelloDictionaryKey(), nonce[:]); err == nil {
		ctr.XORKeyStream(b[encStart:wi], b[encStart:wi])
	}

	// Trailing HMAC over everything so far (hops are zero and the MAC
	// field is still zero here, as the verifier expects).
	hmac := cryptolayer.HMACSHA384(key.HelloHMACKey(), b[:wi])
	copy(b[wi:], hmac[:])
	wi += cryptolayer.HMACSHA384Size

	n.expect.Sending(Armor(b[:wi], key, protocol.CipherPoly1305None), cc.Ticks)
	peer.Send(n.ctx, cc, b[:wi], path)
}

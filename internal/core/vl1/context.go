package vl1

import (
	"net/netip"

	"veilnet.io/stratum/internal/core/bufpool"
	"veilnet.io/stratum/internal/core/identity"
	"veilnet.io/stratum/internal/core/protocol"
	"veilnet.io/stratum/internal/core/trace"
	"veilnet.io/stratum/internal/store"
)

// CallContext carries per-call state through the pipeline: the current
// monotonic tick in milliseconds.
type CallContext struct {
	Ticks int64
}

// AuthFlags describes how an incoming packet was authenticated.
type AuthFlags uint8

const (
	// AuthAuthenticated is set when the packet MAC verified.
	AuthAuthenticated AuthFlags = 1 << iota
	// AuthEncrypted is set when the payload was also encrypted in transit.
	AuthEncrypted
)

// Transport sends datagrams on behalf of paths. Implementations must not
// block; sends are fire-and-forget.
type Transport interface {
	SendDatagram(localSocket int64, remote netip.AddrPort, data []byte) error
}

// VL2 receives the verbs VL1 does not handle itself (FRAME, EXT_FRAME,
// multicast and network config verbs).
type VL2 interface {
	OnPacket(cc CallContext, packetID uint64, auth AuthFlags, path *Path, peer *Peer,
		verb protocol.Verb, pkt *bufpool.Buf, size int) bool
}

// Context holds the capability interfaces and hooks injected by the
// embedder. It is created once, used for the node's lifetime, and torn down
// by the embedder.
type Context struct {
	// Identity is this node's identity, including its secret.
	Identity *identity.Identity

	// Trace receives drop/event reports. Must be non-nil (use trace.Nop{}).
	Trace trace.Sink

	// Store persists peers and identity material. Must be non-nil.
	Store store.Store

	// Out sends datagrams. Must be non-nil.
	Out Transport

	// VL2 receives forwarded verbs. May be nil, in which case those verbs
	// fail dispatch.
	VL2 VL2

	// Relay is invoked for datagrams whose destination is not this node.
	// VL1 performs no further processing on them. May be nil.
	Relay func(cc CallContext, path *Path, dest identity.Address, data *bufpool.Buf, length int)

	// PathTrier receives candidate physical endpoints for a peer learned
	// from RENDEZVOUS or PUSH_DIRECT_PATHS. May be nil.
	PathTrier func(cc CallContext, peer *Peer, candidate netip.AddrPort)

	// SentTo receives the externally observed address of this node as
	// reported in a HELLO (NAT reflection detection). May be nil.
	SentTo func(cc CallContext, reporter *Peer, observed netip.AddrPort)

	// UserMessage receives USER_MESSAGE payloads. May be nil.
	UserMessage func(cc CallContext, peer *Peer, typeID uint64, data []byte)

	// RemoteError is invoked for solicited ERROR replies. May be nil.
	RemoteError func(cc CallContext, peer *Peer, inReVerb protocol.Verb, inRePacketID uint64, errorCode uint8)
}

// Package trace defines the structured drop/event reporter for the packet
// core. Every packet-level failure is a silent drop paired with one event
// carrying a code-location tag that identifies the emitting call site
// across builds.
package trace

import (
	"net/netip"

	"veilnet.io/stratum/internal/core/identity"
	"veilnet.io/stratum/internal/core/protocol"
)

// DropReason classifies why an incoming packet was discarded.
type DropReason int

const (
	DropReasonUnspecified DropReason = iota
	DropReasonMACFailed
	DropReasonRateLimitExceeded
	DropReasonInvalidObject
	DropReasonInvalidCompressedData
	DropReasonMalformedPacket
	DropReasonUnrecognizedVerb
	DropReasonReplyNotExpected
	DropReasonPeerTooOld
)

var dropReasonNames = [...]string{
	"unspecified",
	"MAC_FAILED",
	"RATE_LIMIT_EXCEEDED",
	"INVALID_OBJECT",
	"INVALID_COMPRESSED_DATA",
	"MALFORMED_PACKET",
	"UNRECOGNIZED_VERB",
	"REPLY_NOT_EXPECTED",
	"PEER_TOO_OLD",
}

func (r DropReason) String() string {
	if int(r) < len(dropReasonNames) {
		return dropReasonNames[r]
	}
	return "unspecified"
}

// NewPathReason classifies why the node is attempting a new physical path.
type NewPathReason int

const (
	NewPathReasonRendezvous NewPathReason = iota
	NewPathReasonPushDirectPaths
)

// Sink receives trace events. Implementations must be safe for concurrent
// use and must never block the receive path.
type Sink interface {
	// IncomingPacketDropped reports a dropped packet. ident may be nil when
	// the source identity is unknown.
	IncomingPacketDropped(tag uint32, packetID uint64, ident *identity.Identity,
		pathAddr netip.AddrPort, hops uint8, verb protocol.Verb, reason DropReason)

	// TryingNewPath reports that a candidate physical path was learned from
	// RENDEZVOUS or PUSH_DIRECT_PATHS.
	TryingNewPath(tag uint32, ident *identity.Identity, candidate netip.AddrPort,
		triggerAddr netip.AddrPort, triggerPacketID uint64, triggerVerb protocol.Verb,
		reason NewPathReason)

	// UnexpectedError reports an internal failure caught at the pipeline
	// boundary. It never terminates the process.
	UnexpectedError(tag uint32, format string, args ...any)
}

// Nop is a Sink that discards all events.
type Nop struct{}

func (Nop) IncomingPacketDropped(uint32, uint64, *identity.Identity, netip.AddrPort, uint8, protocol.Verb, DropReason) {
}
func (Nop) TryingNewPath(uint32, *identity.Identity, netip.AddrPort, netip.AddrPort, uint64, protocol.Verb, NewPathReason) {
}
func (Nop) UnexpectedError(uint32, string, ...any) {}

package vl1

import (
	"net/netip"
	"sync/atomic"
)

// Path is one physical (local socket, remote address) pair. Paths are owned
// by the Topology; peers hold the same handles for their current path set
// and paths never point back at peers.
type Path struct {
	localSocket int64
	remote      netip.AddrPort

	lastIn  atomic.Int64
	lastOut atomic.Int64

	// inboundFragments counts in-flight defragmenter entries bound to this
	// path, enforcing the per-path reassembly budget.
	inboundFragments atomic.Int32
}

// NewPath creates a path for a (local socket, remote address) pair.
func NewPath(localSocket int64, remote netip.AddrPort) *Path {
	return &Path{localSocket: localSocket, remote: remote}
}

// LocalSocket returns the opaque local socket handle.
func (p *Path) LocalSocket() int64 { return p.localSocket }

// Address returns the remote address of this path.
func (p *Path) Address() netip.AddrPort { return p.remote }

// Received records an inbound datagram on this path.
func (p *Path) Received(ticks int64, _ int) { p.lastIn.Store(ticks) }

// LastIn returns the tick of the most recent inbound datagram.
func (p *Path) LastIn() int64 { return p.lastIn.Load() }

// Alive reports whether the path received anything recently enough to be
// considered usable.
func (p *Path) Alive(cc CallContext) bool {
	return cc.Ticks-p.lastIn.Load() < PathAliveTimeout
}

// Send transmits a datagram on this path.
func (p *Path) Send(ctx *Context, cc CallContext, data []byte) error {
	p.lastOut.Store(cc.Ticks)
	return ctx.Out.SendDatagram(p.localSocket, p.remote, data)
}

// pathKey identifies a path in the topology map.
type pathKey struct {
	localSocket int64
	remote      netip.AddrPort
}

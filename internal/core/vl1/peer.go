package vl1

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"veilnet.io/stratum/internal/core"
	"veilnet.io/stratum/internal/core/identity"
	"veilnet.io/stratum/internal/core/protocol"
	"veilnet.io/stratum/internal/store"
)

const (
	dedupBuckets = 512
	maxPeerPaths = 4
)

// rateGate admits at most one event per interval.
type rateGate struct {
	mu   sync.Mutex
	last int64
}

func (g *rateGate) gate(now, interval int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if now-g.last >= interval {
		g.last = now
		return true
	}
	return false
}

// Peer is a remote node we share a symmetric key with: its identity, the
// negotiated key, a bounded replay filter, the current path set, and
// liveness state. One Peer exists per address; insertion races in the
// topology resolve to a single winner.
type Peer struct {
	id  *identity.Identity
	key *SymmetricKey

	created     int64
	lastReceive atomic.Int64
	latency     atomic.Int32 // milliseconds, negative = unknown

	// dedup is the bounded replay filter for incoming packet IDs.
	// TODO: fold the remote instance ID into the filter key once instance
	// IDs are carried in HELLO.
	dedup [dedupBuckets]atomic.Uint64

	pathsMu sync.Mutex
	paths   []*Path

	// remoteVersion packs proto<<48 | major<<32 | minor<<16 | revision.
	remoteVersion atomic.Uint64

	echoGate  rateGate
	whoisGate rateGate
}

// NewPeer performs key agreement between our identity and the given remote
// identity and returns an initialized peer.
func NewPeer(self *identity.Identity, id *identity.Identity) (*Peer, error) {
	shared, err := self.Agree(id)
	if err != nil {
		return nil, err
	}
	p := &Peer{id: id, key: NewSymmetricKey(&shared)}
	p.latency.Store(-1)
	return p, nil
}

// Identity returns the peer's identity.
func (p *Peer) Identity() *identity.Identity { return p.id }

// Address returns the peer's 40-bit address.
func (p *Peer) Address() identity.Address { return p.id.Address() }

// Key returns the long-term symmetric key shared with this peer.
func (p *Peer) Key() *SymmetricKey { return p.key }

// Cipher returns the cipher suite to use when sending to this peer.
func (p *Peer) Cipher() uint8 { return protocol.CipherPoly1305Salsa2012 }

// LastReceive returns the tick of the most recent authenticated packet.
func (p *Peer) LastReceive() int64 { return p.lastReceive.Load() }

// Latency returns the measured round-trip latency in milliseconds, or a
// negative value if unknown.
func (p *Peer) Latency() int { return int(p.latency.Load()) }

func (p *Peer) setLatency(ms int64) {
	if ms >= 0 && ms < (1<<30) {
		p.latency.Store(int32(ms))
	}
}

// DeduplicateIncomingPacket records the packet ID in the replay filter and
// reports whether it was already present (in which case the packet must be
// dropped).
func (p *Peer) DeduplicateIncomingPacket(packetID uint64) bool {
	// Stored values are offset by one so the zero packet ID does not
	// collide with the empty-bucket sentinel.
	b := &p.dedup[mix64(packetID)%dedupBuckets]
	return b.Swap(packetID+1) == packetID+1
}

// Received updates liveness and path state after a packet from this peer
// passed authentication and dispatch. Direct packets (zero hops) learn the
// arrival path.
func (p *Peer) Received(ctx *Context, cc CallContext, path *Path, hops uint8,
	packetID uint64, payloadLen int, verb, inReVerb protocol.Verb) {
	p.lastReceive.Store(cc.Ticks)
	if hops == 0 && path != nil {
		p.learnPath(path)
	}
}

func (p *Peer) learnPath(path *Path) {
	p.pathsMu.Lock()
	defer p.pathsMu.Unlock()
	for _, q := range p.paths {
		if q == path {
			return
		}
	}
	if len(p.paths) >= maxPeerPaths {
		// Replace the least recently used path.
		oldest := 0
		for i := 1; i < len(p.paths); i++ {
			if p.paths[i].LastIn() < p.paths[oldest].LastIn() {
				oldest = i
			}
		}
		p.paths[oldest] = path
		return
	}
	p.paths = append(p.paths, path)
}

// DirectPath returns the most recently active usable path to this peer, or
// nil if none.
func (p *Peer) DirectPath(cc CallContext) *Path {
	p.pathsMu.Lock()
	defer p.pathsMu.Unlock()
	var best *Path
	for _, q := range p.paths {
		if q.Alive(cc) && (best == nil || q.LastIn() > best.LastIn()) {
			best = q
		}
	}
	return best
}

// pathHandles returns the peer's current path set.
func (p *Peer) pathHandles() []*Path {
	p.pathsMu.Lock()
	defer p.pathsMu.Unlock()
	out := make([]*Path, len(p.paths))
	copy(out, p.paths)
	return out
}

// Send transmits an (already armored) packet to the peer on the given path,
// or on the best direct path when path is nil.
func (p *Peer) Send(ctx *Context, cc CallContext, data []byte, path *Path) {
	if path == nil {
		if path = p.DirectPath(cc); path == nil {
			return
		}
	}
	_ = path.Send(ctx, cc, data)
}

// SetRemoteVersion records the remote node's protocol and software version.
func (p *Peer) SetRemoteVersion(proto, major, minor uint8, revision uint16) {
	p.remoteVersion.Store(uint64(proto)<<48 | uint64(major)<<32 | uint64(minor)<<16 | uint64(revision))
}

// RemoteProtocolVersion returns the remote protocol version, or zero if no
// HELLO has been exchanged.
func (p *Peer) RemoteProtocolVersion() uint8 {
	return uint8(p.remoteVersion.Load() >> 48)
}

// Save persists this peer to the state store: 8 bytes of big-endian
// creation timestamp followed by the peer-internal marshal.
func (p *Peer) Save(ctx *Context, cc CallContext) {
	blob := make([]byte, 8+identity.MarshalSizeMax+8)
	binary.BigEndian.PutUint64(blob, uint64(p.created))
	n := p.id.MarshalTo(blob[8:])
	if n < 0 {
		return
	}
	binary.BigEndian.PutUint64(blob[8+n:], p.remoteVersion.Load())
	_ = ctx.Store.Put(store.ObjectPeer, [2]uint64{uint64(p.Address()), 0}, blob[:8+n+8])
}

// unmarshalPeer reconstructs a peer from a cached blob (without the leading
// timestamp, which the topology strips and validates).
func unmarshalPeer(self *identity.Identity, blob []byte) (*Peer, error) {
	id, n, err := identity.UnmarshalIdentity(blob)
	if err != nil {
		return nil, err
	}
	p, err := NewPeer(self, id)
	if err != nil {
		return nil, err
	}
	if len(blob) >= n+8 {
		p.remoteVersion.Store(binary.BigEndian.Uint64(blob[n:]))
	} else if len(blob) != n {
		return nil, core.ErrInvalidObject
	}
	return p, nil
}

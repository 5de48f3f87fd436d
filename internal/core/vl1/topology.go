package vl1

import (
	"encoding/binary"
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"

	"veilnet.io/stratum/internal/core/identity"
	"veilnet.io/stratum/internal/metrics"
	"veilnet.io/stratum/internal/store"
)

// Topology is the registry of everything this node knows about the network:
// peers by address, physical paths by (local socket, remote address), and
// the ordered root set with a cached best root for lock-free reads on the
// send path.
//
// Lock order: the peers lock may be acquired while holding the roots lock
// (root materialization), never the reverse.
type Topology struct {
	ctx *Context

	peersMu sync.RWMutex
	peers   map[identity.Address]*Peer

	pathsMu sync.RWMutex
	paths   map[pathKey]*Path

	rootsMu sync.Mutex
	roots   []*Peer

	bestRoot atomic.Pointer[Peer]
}

// NewTopology creates an empty topology.
func NewTopology(ctx *Context) *Topology {
	return &Topology{
		ctx:   ctx,
		peers: make(map[identity.Address]*Peer),
		paths: make(map[pathKey]*Path),
	}
}

// Peer returns the peer with the given address or nil.
func (t *Topology) Peer(cc CallContext, addr identity.Address) *Peer {
	t.peersMu.RLock()
	p := t.peers[addr]
	t.peersMu.RUnlock()
	return p
}

// PeerCached returns the peer with the given address, attempting to load it
// from the state store on a miss. Corrupt or expired cache blobs are
// treated as misses.
func (t *Topology) PeerCached(cc CallContext, addr identity.Address) *Peer {
	if p := t.Peer(cc, addr); p != nil {
		return p
	}
	p := t.loadCached(cc, addr)
	if p == nil {
		return nil
	}
	return t.Add(cc, p)
}

// Add inserts a peer, returning the existing peer if one with the same
// address is already registered (the insertion race has a single stable
// winner).
func (t *Topology) Add(cc CallContext, peer *Peer) *Peer {
	t.peersMu.Lock()
	if existing := t.peers[peer.Address()]; existing != nil {
		t.peersMu.Unlock()
		return existing
	}
	if peer.created == 0 {
		peer.created = cc.Ticks
	}
	t.peers[peer.Address()] = peer
	n := len(t.peers)
	t.peersMu.Unlock()
	metrics.TopologyPeers.Set(float64(n))
	return peer
}

func (t *Topology) loadCached(cc CallContext, addr identity.Address) *Peer {
	data, err := t.ctx.Store.Get(store.ObjectPeer, [2]uint64{uint64(addr), 0})
	if err != nil || len(data) <= 8 {
		return nil
	}
	created := int64(binary.BigEndian.Uint64(data))
	if cc.Ticks-created >= PeerGlobalTimeout {
		return nil
	}
	p, err := unmarshalPeer(t.ctx.Identity, data[8:])
	if err != nil || p.Address() != addr {
		return nil
	}
	p.created = created
	return p
}

// PathTo returns the path for (localSocket, remote), creating and
// installing it atomically if missing.
func (t *Topology) PathTo(localSocket int64, remote netip.AddrPort) *Path {
	k := pathKey{localSocket: localSocket, remote: remote}
	t.pathsMu.RLock()
	p := t.paths[k]
	t.pathsMu.RUnlock()
	if p != nil {
		return p
	}
	t.pathsMu.Lock()
	if p = t.paths[k]; p == nil {
		p = NewPath(localSocket, remote)
		t.paths[k] = p
	}
	n := len(t.paths)
	t.pathsMu.Unlock()
	metrics.TopologyPaths.Set(float64(n))
	return p
}

// Root returns the current best root, or nil if no roots are configured.
func (t *Topology) Root() *Peer { return t.bestRoot.Load() }

// Roots returns a snapshot of the current root set.
func (t *Topology) Roots() []*Peer {
	t.rootsMu.Lock()
	defer t.rootsMu.Unlock()
	out := make([]*Peer, len(t.roots))
	copy(out, t.roots)
	return out
}

// IsRoot reports whether the given identity belongs to a current root.
func (t *Topology) IsRoot(id *identity.Identity) bool {
	t.rootsMu.Lock()
	defer t.rootsMu.Unlock()
	for _, r := range t.roots {
		if r.Identity().Equal(id) {
			return true
		}
	}
	return false
}

// SetRoots rebuilds the root set from the trust store's identities,
// materializing peers for roots we have not met, then re-ranks. Identities
// that fail key agreement are skipped.
func (t *Topology) SetRoots(cc CallContext, ids []*identity.Identity) {
	newRoots := make([]*Peer, 0, len(ids))
	for _, id := range ids {
		root := t.PeerCached(cc, id.Address())
		if root == nil || !root.Identity().Equal(id) {
			p, err := NewPeer(t.ctx.Identity, id)
			if err != nil {
				continue
			}
			root = t.Add(cc, p)
		}
		newRoots = append(newRoots, root)
	}

	t.rootsMu.Lock()
	t.roots = newRoots
	t.rankRootsLocked()
	t.rootsMu.Unlock()
}

// RankRoots re-ranks the root set and republishes the best root.
func (t *Topology) RankRoots() {
	t.rootsMu.Lock()
	t.rankRootsLocked()
	t.rootsMu.Unlock()
}

// rankRootsLocked orders roots by most recent receive time quantized to
// half the keepalive period (so living, responsive roots rank equal), then
// by lower latency; unknown latency sorts worst. Requires rootsMu.
func (t *Topology) rankRootsLocked() {
	if len(t.roots) == 0 {
		t.bestRoot.Store(nil)
		return
	}
	sort.SliceStable(t.roots, func(i, j int) bool {
		a, b := t.roots[i], t.roots[j]
		alr := a.LastReceive() / (PathKeepalivePeriod / 2)
		blr := b.LastReceive() / (PathKeepalivePeriod / 2)
		if alr != blr {
			return alr > blr
		}
		la, lb := a.Latency(), b.Latency()
		if la < 0 {
			return false
		}
		if lb < 0 {
			return true
		}
		return la < lb
	})
	t.bestRoot.Store(t.roots[0])
}

// DoPeriodicTasks garbage collects stale peers and orphaned paths. Peers
// idle past the alive timeout are removed and persisted, except roots,
// which are never collected. Paths no longer referenced by any surviving
// peer are dropped. Both sweeps are two-phase so write locks are held only
// briefly. The removed paths are returned so the caller can purge
// dependent state (in-flight reassembly).
func (t *Topology) DoPeriodicTasks(cc CallContext) []*Path {
	// Snapshot root pointers so the peer sweep can skip them.
	rootSet := make(map[*Peer]struct{})
	t.rootsMu.Lock()
	t.rankRootsLocked()
	for _, r := range t.roots {
		rootSet[r] = struct{}{}
	}
	t.rootsMu.Unlock()

	var stale []identity.Address
	t.peersMu.RLock()
	for addr, p := range t.peers {
		if _, isRoot := rootSet[p]; !isRoot && cc.Ticks-p.LastReceive() > PeerAliveTimeout {
			stale = append(stale, addr)
		}
	}
	t.peersMu.RUnlock()

	for _, addr := range stale {
		var toSave *Peer
		t.peersMu.Lock()
		if p, ok := t.peers[addr]; ok {
			toSave = p
			delete(t.peers, addr)
		}
		n := len(t.peers)
		t.peersMu.Unlock()
		metrics.TopologyPeers.Set(float64(n))
		if toSave != nil {
			toSave.Save(t.ctx, cc)
			metrics.PeersGarbageCollectedTotal.Inc()
		}
	}

	// Sweep paths not referenced by any surviving peer.
	referenced := make(map[*Path]struct{})
	t.peersMu.RLock()
	for _, p := range t.peers {
		for _, path := range p.pathHandles() {
			referenced[path] = struct{}{}
		}
	}
	t.peersMu.RUnlock()

	var removed []*Path
	t.pathsMu.Lock()
	for k, path := range t.paths {
		if _, ok := referenced[path]; !ok {
			delete(t.paths, k)
			removed = append(removed, path)
		}
	}
	n := len(t.paths)
	t.pathsMu.Unlock()
	metrics.TopologyPaths.Set(float64(n))
	return removed
}

// SaveAll persists every registered peer.
func (t *Topology) SaveAll(cc CallContext) {
	t.peersMu.RLock()
	peers := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.peersMu.RUnlock()
	for _, p := range peers {
		p.Save(t.ctx, cc)
	}
}

// CountPeers returns the number of registered peers.
func (t *Topology) CountPeers() int {
	t.peersMu.RLock()
	defer t.peersMu.RUnlock()
	return len(t.peers)
}

// CountPaths returns the number of registered paths.
func (t *Topology) CountPaths() int {
	t.pathsMu.RLock()
	defer t.pathsMu.RUnlock()
	return len(t.paths)
}

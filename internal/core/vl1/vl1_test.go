package vl1

import (
	"crypto/rand"
	"encoding/binary"
	"net/netip"
	"sync"
	"testing"

	"golang.org/x/crypto/curve25519"

	"veilnet.io/stratum/internal/core"
	"veilnet.io/stratum/internal/core/bufpool"
	"veilnet.io/stratum/internal/core/identity"
	"veilnet.io/stratum/internal/core/protocol"
	"veilnet.io/stratum/internal/core/trace"
	"veilnet.io/stratum/internal/store"
)

// --- shared ground-truth identities (proof of work is real, so grind them
// once per test binary) ---

var (
	idOnce      sync.Once
	idAlpha     *identity.Identity
	idBeta      *identity.Identity
	idGamma     *identity.Identity
	identityErr error
)

func testIdentity(t *testing.T, which int) *identity.Identity {
	t.Helper()
	idOnce.Do(func() {
		if idAlpha, identityErr = identity.Generate(); identityErr != nil {
			return
		}
		if idBeta, identityErr = identity.Generate(); identityErr != nil {
			return
		}
		idGamma, identityErr = identity.Generate()
	})
	if identityErr != nil {
		t.Fatalf("identity generation failed: %v", identityErr)
	}
	switch which {
	case 0:
		return idAlpha
	case 1:
		return idBeta
	default:
		return idGamma
	}
}

// fabricatedIdentity makes a structurally valid identity with an arbitrary
// address and a real curve point, good enough for key agreement but not
// proof-of-work valid. Used where many peers are needed.
func fabricatedIdentity(t *testing.T, addr identity.Address) *identity.Identity {
	t.Helper()
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		t.Fatal(err)
	}
	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		t.Fatal(err)
	}
	var pub, ed [32]byte
	copy(pub[:], pubSlice)
	if _, err := rand.Read(ed[:]); err != nil {
		t.Fatal(err)
	}
	return identity.NewIdentity(addr, pub, ed)
}

// --- recording collaborators ---

type sentDatagram struct {
	localSocket int64
	remote      netip.AddrPort
	data        []byte
}

type recordTransport struct {
	mu   sync.Mutex
	sent []sentDatagram
}

func (r *recordTransport) SendDatagram(localSocket int64, remote netip.AddrPort, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentDatagram{localSocket, remote, append([]byte(nil), data...)})
	return nil
}

func (r *recordTransport) take() []sentDatagram {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sent
	r.sent = nil
	return out
}

type recordSink struct {
	trace.Nop
	mu       sync.Mutex
	drops    []trace.DropReason
	newPaths []netip.AddrPort
}

func (s *recordSink) IncomingPacketDropped(tag uint32, packetID uint64, ident *identity.Identity,
	pathAddr netip.AddrPort, hops uint8, verb protocol.Verb, reason trace.DropReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops = append(s.drops, reason)
}

func (s *recordSink) TryingNewPath(tag uint32, ident *identity.Identity, candidate netip.AddrPort,
	triggerAddr netip.AddrPort, triggerPacketID uint64, triggerVerb protocol.Verb, reason trace.NewPathReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newPaths = append(s.newPaths, candidate)
}

func (s *recordSink) dropCount(reason trace.DropReason) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.drops {
		if r == reason {
			n++
		}
	}
	return n
}

func (s *recordSink) totalDrops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drops)
}

type memStore struct {
	mu   sync.Mutex
	m    map[string][]byte
	puts map[string]int
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string][]byte), puts: make(map[string]int)}
}

func storeKey(typ store.ObjectType, id [2]uint64) string {
	var b [24]byte
	b[0] = byte(typ)
	binary.BigEndian.PutUint64(b[1:], id[0])
	binary.BigEndian.PutUint64(b[9:], id[1])
	return string(b[:])
}

func (s *memStore) Get(typ store.ObjectType, id [2]uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.m[storeKey(typ, id)]; ok {
		return append([]byte(nil), d...), nil
	}
	return nil, core.ErrObjectNotFound
}

func (s *memStore) Put(typ store.ObjectType, id [2]uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey(typ, id)
	s.m[k] = append([]byte(nil), data...)
	s.puts[k]++
	return nil
}

func (s *memStore) putCount(typ store.ObjectType, id [2]uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts[storeKey(typ, id)]
}

// --- node harness ---

type testHarness struct {
	node  *Node
	out   *recordTransport
	sink  *recordSink
	store *memStore

	userMu   sync.Mutex
	userMsgs [][]byte

	relayMu sync.Mutex
	relayed int
}

func newTestHarness(t *testing.T, id *identity.Identity) *testHarness {
	t.Helper()
	h := &testHarness{out: &recordTransport{}, sink: &recordSink{}, store: newMemStore()}
	ctx := &Context{
		Identity: id,
		Trace:    h.sink,
		Store:    h.store,
		Out:      h.out,
	}
	ctx.UserMessage = func(cc CallContext, peer *Peer, typeID uint64, data []byte) {
		h.userMu.Lock()
		defer h.userMu.Unlock()
		h.userMsgs = append(h.userMsgs, append([]byte(nil), data...))
	}
	ctx.Relay = func(cc CallContext, path *Path, dest identity.Address, data *bufpool.Buf, length int) {
		h.relayMu.Lock()
		h.relayed++
		h.relayMu.Unlock()
		bufpool.Put(data)
	}
	h.node = NewNode(ctx)
	return h
}

func (h *testHarness) userMessageCount() int {
	h.userMu.Lock()
	defer h.userMu.Unlock()
	return len(h.userMsgs)
}

func (h *testHarness) lastUserMessage() []byte {
	h.userMu.Lock()
	defer h.userMu.Unlock()
	if len(h.userMsgs) == 0 {
		return nil
	}
	return h.userMsgs[len(h.userMsgs)-1]
}

// inject copies raw bytes into a pooled buffer and runs the pipeline.
func (h *testHarness) inject(cc CallContext, localSocket int64, from netip.AddrPort, raw []byte) {
	buf := bufpool.Get()
	copy(buf.B[:], raw)
	h.node.OnRemotePacket(cc, localSocket, from, buf, len(raw))
}

var (
	addrAlpha = netip.MustParseAddrPort("192.0.2.1:9993")
	addrBeta  = netip.MustParseAddrPort("192.0.2.2:9993")
	addrGamma = netip.MustParseAddrPort("192.0.2.3:9993")
)

// buildArmored constructs a sealed packet from one peer relationship's key.
func buildArmored(key *SymmetricKey, from, to identity.Address, verb protocol.Verb,
	payload []byte, cipher uint8, compressed bool) []byte {

	b := make([]byte, protocol.PayloadStart+len(payload))
	protocol.NewPacket(b, key.NextMessage(from, to), to, from, verb)
	if compressed {
		b[protocol.VerbIndex] |= protocol.VerbFlagCompressed
	}
	copy(b[protocol.PayloadStart:], payload)
	Armor(b, key, cipher)
	return b
}

func userMessagePayload(typeID uint64, data []byte) []byte {
	out := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(out, typeID)
	copy(out[8:], data)
	return out
}

// peersFor wires the A-side view of B: a Peer object registered in A's
// topology with a live path.
func peersFor(t *testing.T, h *testHarness, other *identity.Identity,
	localSocket int64, remote netip.AddrPort, cc CallContext) *Peer {
	t.Helper()
	p, err := NewPeer(h.node.ctx.Identity, other)
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	p = h.node.Topology().Add(cc, p)
	h.node.SeedRootPath(cc, p, localSocket, remote)
	return p
}

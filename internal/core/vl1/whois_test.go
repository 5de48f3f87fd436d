package vl1

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilnet.io/stratum/internal/core/identity"
	"veilnet.io/stratum/internal/core/protocol"
)

// openSent dearmors a captured datagram with the given relationship key.
func openSent(t *testing.T, key *SymmetricKey, raw []byte) []byte {
	t.Helper()
	return dearmor(t, key, raw, protocol.Cipher(raw))
}

// TestWhois_UnknownSourceQueuesAndQueries covers the unknown-source flow
// end to end: queue, WHOIS to the best root, OK(WHOIS) installing the
// identity, and replay of the queued packet.
func TestWhois_UnknownSourceQueuesAndQueries(t *testing.T) {
	cc := CallContext{Ticks: 100000}

	beta := newTestHarness(t, testIdentity(t, 1)) // node under test
	alphaID := testIdentity(t, 0)                 // the root
	gammaID := testIdentity(t, 2)                 // the unknown sender

	// Alpha is beta's root with a live path.
	beta.node.Topology().SetRoots(cc, []*identity.Identity{alphaID})
	root := beta.node.Topology().Peer(cc, alphaID.Address())
	require.NotNil(t, root)
	beta.node.SeedRootPath(cc, root, 2, addrAlpha)

	// Gamma (unknown to beta) sends an armored packet.
	gammaPeerView, err := NewPeer(gammaID, testIdentity(t, 1))
	require.NoError(t, err)
	gammaKey := gammaPeerView.Key()
	msg := []byte("payload waiting for identity")
	pkt := buildArmored(gammaKey, gammaID.Address(), beta.node.Address(),
		protocol.VerbUSERMESSAGE, userMessagePayload(5, msg),
		protocol.CipherPoly1305Salsa2012, false)
	beta.inject(cc, 2, addrGamma, pkt)

	assert.Zero(t, beta.userMessageCount(), "nothing dispatches before the identity is known")

	// The retry timer was never armed before, so a WHOIS goes out at once.
	sent := beta.out.take()
	require.Len(t, sent, 1, "a WHOIS request must go to the root")
	assert.Equal(t, addrAlpha, sent[0].remote)

	whois := openSent(t, root.Key(), sent[0].data)
	require.Equal(t, protocol.VerbWHOIS, protocol.Verb(whois[protocol.VerbIndex]&protocol.VerbMask))
	var wantAddr [5]byte
	gammaID.Address().CopyTo(wantAddr[:])
	assert.True(t, bytes.Contains(whois[protocol.PayloadStart:], wantAddr[:]),
		"the WHOIS must ask for the unknown address")
	whoisID := protocol.PacketID(whois)

	// Within the retry delay no second request is sent.
	beta.inject(CallContext{Ticks: cc.Ticks + 10}, 2, addrGamma, pkt)
	assert.Empty(t, beta.out.take(), "retries are gated by the retry delay")

	// After the delay another enqueue triggers a retry.
	later := CallContext{Ticks: cc.Ticks + WhoisRetryDelay + 1}
	pkt2 := buildArmored(gammaKey, gammaID.Address(), beta.node.Address(),
		protocol.VerbUSERMESSAGE, userMessagePayload(5, msg),
		protocol.CipherPoly1305Salsa2012, false)
	beta.inject(later, 2, addrGamma, pkt2)
	require.Len(t, beta.out.take(), 1, "a second WHOIS after the retry delay")

	// The root answers OK(WHOIS) with gamma's identity.
	payload := make([]byte, 9+identity.MarshalSizeMax)
	payload[0] = byte(protocol.VerbWHOIS)
	binary.BigEndian.PutUint64(payload[1:], whoisID)
	require.Equal(t, identity.MarshalSizeMax, gammaID.MarshalTo(payload[9:]))
	okPkt := buildArmored(root.Key(), alphaID.Address(), beta.node.Address(),
		protocol.VerbOK, payload, protocol.CipherPoly1305Salsa2012, false)
	beta.inject(later, 2, addrAlpha, okPkt)

	// Gamma is installed and the queued packets replay through dispatch.
	require.NotNil(t, beta.node.Topology().Peer(later, gammaID.Address()))
	assert.GreaterOrEqual(t, beta.userMessageCount(), 1, "queued packet replays once the identity is known")
	assert.Equal(t, msg, beta.lastUserMessage())
}

func TestWhois_NoRootMeansNoRequest(t *testing.T) {
	cc := CallContext{Ticks: 100000}
	beta := newTestHarness(t, testIdentity(t, 1))
	gammaView, err := NewPeer(testIdentity(t, 2), testIdentity(t, 1))
	require.NoError(t, err)

	pkt := buildArmored(gammaView.Key(), testIdentity(t, 2).Address(), beta.node.Address(),
		protocol.VerbUSERMESSAGE, userMessagePayload(1, []byte("x")),
		protocol.CipherPoly1305Salsa2012, false)
	beta.inject(cc, 2, addrGamma, pkt)
	assert.Empty(t, beta.out.take(), "without a root there is nowhere to ask")
}

func TestWhois_RingOverflowKeepsNewest(t *testing.T) {
	cc := CallContext{Ticks: 100000}
	beta := newTestHarness(t, testIdentity(t, 1))
	gammaID := testIdentity(t, 2)
	gammaView, err := NewPeer(gammaID, testIdentity(t, 1))
	require.NoError(t, err)

	// Overflow the per-address ring.
	for i := 0; i < MaxWhoisWaitingPackets+3; i++ {
		pkt := buildArmored(gammaView.Key(), gammaID.Address(), beta.node.Address(),
			protocol.VerbUSERMESSAGE, userMessagePayload(uint64(i), []byte{byte(i)}),
			protocol.CipherPoly1305Salsa2012, false)
		beta.inject(cc, 2, addrGamma, pkt)
	}

	beta.node.whoisMu.Lock()
	wq := beta.node.whois[gammaID.Address()]
	beta.node.whoisMu.Unlock()
	require.NotNil(t, wq)
	assert.Equal(t, uint(MaxWhoisWaitingPackets+3), wq.count)
	held := 0
	for _, p := range wq.waitingPacket {
		if p != nil {
			held++
		}
	}
	assert.Equal(t, MaxWhoisWaitingPackets, held, "overflow silently overwrites the oldest")
}

// handleWHOIS serves identities for known addresses back to the asker.
func TestWhois_ServesKnownIdentities(t *testing.T) {
	cc := CallContext{Ticks: 100000}
	a, b, aPeerB := twoNodes(t, cc)
	exchangeHello(t, a, b, aPeerB, cc)

	// Beta knows alpha now. Ask beta about alpha.
	var q [5]byte
	a.node.Address().CopyTo(q[:])
	whois := buildArmored(aPeerB.Key(), a.node.Address(), b.node.Address(),
		protocol.VerbWHOIS, q[:], protocol.CipherPoly1305Salsa2012, false)
	b.inject(cc, 2, addrAlpha, whois)

	sent := b.out.take()
	require.Len(t, sent, 1, "beta must answer with OK(WHOIS)")
	reply := openSent(t, aPeerB.Key(), sent[0].data)
	assert.Equal(t, protocol.VerbOK, protocol.Verb(reply[protocol.VerbIndex]&protocol.VerbMask))
	assert.Equal(t, protocol.VerbWHOIS, protocol.Verb(reply[protocol.PayloadStart]))
	id, _, err := identity.UnmarshalIdentity(reply[protocol.PayloadStart+9:])
	require.NoError(t, err)
	assert.True(t, id.Equal(testIdentity(t, 0)))
}

func TestWhois_RateGated(t *testing.T) {
	cc := CallContext{Ticks: 100000}
	a, b, aPeerB := twoNodes(t, cc)
	exchangeHello(t, a, b, aPeerB, cc)

	var q [5]byte
	a.node.Address().CopyTo(q[:])
	for i := 0; i < 2; i++ {
		whois := buildArmored(aPeerB.Key(), a.node.Address(), b.node.Address(),
			protocol.VerbWHOIS, q[:], protocol.CipherPoly1305Salsa2012, false)
		b.inject(cc, 2, addrAlpha, whois)
	}
	assert.Len(t, b.out.take(), 1, "the second WHOIS inside the gate window is not served")
}

// Ensure queued buffers do not leak into the pool while still referenced:
// replay uses the queued buffer and returns it afterwards.
func TestWhois_ReplayReleasesBuffers(t *testing.T) {
	cc := CallContext{Ticks: 100000}
	beta := newTestHarness(t, testIdentity(t, 1))
	gammaID := testIdentity(t, 2)
	gammaView, err := NewPeer(gammaID, testIdentity(t, 1))
	require.NoError(t, err)

	pkt := buildArmored(gammaView.Key(), gammaID.Address(), beta.node.Address(),
		protocol.VerbUSERMESSAGE, userMessagePayload(3, []byte("replayed")),
		protocol.CipherPoly1305Salsa2012, false)
	beta.inject(cc, 2, addrGamma, pkt)

	// Install gamma directly and complete the lookup.
	p, err := NewPeer(testIdentity(t, 1), gammaID)
	require.NoError(t, err)
	beta.node.Topology().Add(cc, p)
	beta.node.whoisComplete(cc, gammaID.Address())

	require.Equal(t, 1, beta.userMessageCount())
	assert.Equal(t, []byte("replayed"), beta.lastUserMessage())

	beta.node.whoisMu.Lock()
	_, still := beta.node.whois[gammaID.Address()]
	beta.node.whoisMu.Unlock()
	assert.False(t, still, "the queue entry is consumed")
}

package identity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testIDOnce sync.Once
	testIDA    *Identity
	testIDB    *Identity
)

// testIdentities grinds two identities once per test binary; generation is
// memory-hard but completes quickly.
func testIdentities(t *testing.T) (*Identity, *Identity) {
	t.Helper()
	testIDOnce.Do(func() {
		var err error
		if testIDA, err = Generate(); err != nil {
			t.Fatalf("generate: %v", err)
		}
		if testIDB, err = Generate(); err != nil {
			t.Fatalf("generate: %v", err)
		}
	})
	return testIDA, testIDB
}

func TestAddress_WireRoundTrip(t *testing.T) {
	a := Address(0x1a2b3c4d5e)
	var b [5]byte
	a.CopyTo(b[:])
	assert.Equal(t, [5]byte{0x1a, 0x2b, 0x3c, 0x4d, 0x5e}, b)
	assert.Equal(t, a, NewAddress(b[:]))
	assert.Equal(t, "1a2b3c4d5e", a.String())

	parsed, err := ParseAddress("1a2b3c4d5e")
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestAddress_Reserved(t *testing.T) {
	assert.True(t, Address(0).IsReserved())
	assert.True(t, NewAddress([]byte{0xff, 1, 2, 3, 4}).IsReserved())
	assert.False(t, NewAddress([]byte{0x01, 1, 2, 3, 4}).IsReserved())
}

func TestGenerate_ProducesValidIdentity(t *testing.T) {
	id, _ := testIdentities(t)
	assert.True(t, id.HasSecret())
	assert.False(t, id.Address().IsReserved())
	assert.True(t, id.LocallyValidate())
}

func TestLocallyValidate_RejectsForgedAddress(t *testing.T) {
	id, other := testIdentities(t)

	forged := &Identity{address: other.Address(), C25519: id.C25519, Ed25519: id.Ed25519}
	assert.False(t, forged.LocallyValidate(),
		"an identity claiming another address must fail validation")
}

func TestLocallyValidate_RejectsTamperedKey(t *testing.T) {
	id, _ := testIdentities(t)
	tampered := &Identity{address: id.address, C25519: id.C25519, Ed25519: id.Ed25519}
	tampered.C25519[0] ^= 1
	assert.False(t, tampered.LocallyValidate())
}

func TestAgree_IsSymmetric(t *testing.T) {
	a, b := testIdentities(t)

	ab, err := a.Agree(b)
	require.NoError(t, err)
	ba, err := b.Agree(a)
	require.NoError(t, err)
	assert.Equal(t, ab, ba, "key agreement must be symmetric")
	assert.NotEqual(t, [64]byte{}, ab)
}

func TestAgree_RequiresSecret(t *testing.T) {
	a, b := testIdentities(t)
	pub := &Identity{address: a.address, C25519: a.C25519, Ed25519: a.Ed25519}
	_, err := pub.Agree(b)
	assert.Error(t, err)
}

func TestMarshal_RoundTrip(t *testing.T) {
	id, _ := testIdentities(t)

	var buf [MarshalSizeMax]byte
	n := id.MarshalTo(buf[:])
	require.Equal(t, MarshalSizeMax, n)

	out, consumed, err := UnmarshalIdentity(buf[:])
	require.NoError(t, err)
	assert.Equal(t, n, consumed)
	assert.True(t, id.Equal(out))
	assert.False(t, out.HasSecret(), "secrets never travel on the wire")
}

func TestParse_RoundTrip(t *testing.T) {
	id, _ := testIdentities(t)

	pub, err := Parse(id.String())
	require.NoError(t, err)
	assert.True(t, id.Equal(pub))
	assert.False(t, pub.HasSecret())

	priv, err := id.PrivateString()
	require.NoError(t, err)
	full, err := Parse(priv)
	require.NoError(t, err)
	assert.True(t, id.Equal(full))
	assert.True(t, full.HasSecret())

	// The re-parsed secret must still agree identically.
	_, otherB := testIdentities(t)
	s1, err := id.Agree(otherB)
	require.NoError(t, err)
	s2, err := full.Agree(otherB)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestEqual_ByFullKeyNotAddress(t *testing.T) {
	id, other := testIdentities(t)
	sameAddr := &Identity{address: id.address, C25519: other.C25519, Ed25519: other.Ed25519}
	assert.False(t, id.Equal(sameAddr))
	assert.True(t, id.Equal(id))
}

func TestSignVerify(t *testing.T) {
	id, other := testIdentities(t)
	msg := []byte("message to sign")
	sig, err := id.Sign(msg)
	require.NoError(t, err)
	assert.True(t, id.Verify(msg, sig))
	assert.False(t, id.Verify([]byte("other message"), sig))
	assert.False(t, other.Verify(msg, sig))
}

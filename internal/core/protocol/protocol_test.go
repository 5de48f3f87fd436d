package protocol

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilnet.io/stratum/internal/core/identity"
)

func TestNewPacket_HeaderFields(t *testing.T) {
	var b [64]byte
	dest := identity.Address(0x0102030405)
	src := identity.Address(0x0a0b0c0d0e)

	p := NewPacket(b[:], 0xdeadbeefcafef00d, dest, src, VerbWHOIS)
	assert.Equal(t, PayloadStart, p)
	assert.Equal(t, uint64(0xdeadbeefcafef00d), PacketID(b[:]))
	assert.Equal(t, dest, Destination(b[:]))
	assert.Equal(t, src, Source(b[:]))
	assert.Equal(t, uint8(0), Hops(b[:]))
	assert.Equal(t, uint8(0), Cipher(b[:]))
	assert.Equal(t, VerbWHOIS, Verb(b[VerbIndex]&VerbMask))
}

func TestCipherAndHopsExtraction(t *testing.T) {
	var b [32]byte
	b[FlagsIndex] = 0x03 | (CipherPoly1305Salsa2012 << 3) | FlagFragmented
	assert.Equal(t, uint8(3), Hops(b[:]))
	assert.Equal(t, uint8(CipherPoly1305Salsa2012), Cipher(b[:]))
	assert.NotZero(t, b[FlagsIndex]&FlagFragmented)
}

// The per-packet key must ignore hops (relays increment them) but bind to
// every other header byte and the packet size.
func TestSalsaDerivePerPacketKey(t *testing.T) {
	var key [48]byte
	for i := range key {
		key[i] = byte(i)
	}
	var pkt [64]byte
	p := NewPacket(pkt[:], 12345, identity.Address(1), identity.Address(2), VerbFRAME)

	base := SalsaDerivePerPacketKey(&key, pkt[:], p)

	hopped := pkt
	hopped[FlagsIndex] |= 0x05 // hops change in flight
	assert.Equal(t, base, SalsaDerivePerPacketKey(&key, hopped[:], p),
		"hops must not affect the derived key")

	resized := SalsaDerivePerPacketKey(&key, pkt[:], p+1)
	assert.NotEqual(t, base, resized, "size must affect the derived key")

	redirected := pkt
	identity.Address(3).CopyTo(redirected[DestinationIndex:])
	assert.NotEqual(t, base, SalsaDerivePerPacketKey(&key, redirected[:], p),
		"destination must affect the derived key")

	assert.Equal(t, key[21:], base[21:], "key tail is used unchanged")
}

func TestInetAddress_RoundTrip(t *testing.T) {
	cases := []netip.AddrPort{
		{},
		netip.MustParseAddrPort("192.0.2.7:9993"),
		netip.MustParseAddrPort("[2001:db8::1]:443"),
	}
	for _, ap := range cases {
		var b [InetAddressMarshalSizeMax]byte
		n := MarshalInetAddress(b[:], ap)
		require.Positive(t, n)
		out, consumed, err := UnmarshalInetAddress(b[:n])
		require.NoError(t, err)
		assert.Equal(t, n, consumed)
		assert.Equal(t, ap, out)
	}
}

func TestInetAddress_Malformed(t *testing.T) {
	_, _, err := UnmarshalInetAddress([]byte{4, 1, 2})
	assert.Error(t, err)
	_, _, err = UnmarshalInetAddress([]byte{9})
	assert.Error(t, err)
	_, _, err = UnmarshalInetAddress(nil)
	assert.Error(t, err)
}

func TestFragmentFraming(t *testing.T) {
	// The fragment indicator occupies the first source-address byte, which
	// can never legitimately be 0xff because such addresses are reserved.
	assert.True(t, identity.NewAddress([]byte{FragmentIndicator, 0, 0, 0, 1}).IsReserved())
	assert.Equal(t, 13, FragmentIndicatorIndex)
	assert.Less(t, FragmentCountsIndex, MinFragmentLength)
	assert.Equal(t, MinFragmentLength, FragmentPayloadStart)
}

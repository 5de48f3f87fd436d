package protocol

import (
	"encoding/binary"
	"net/netip"

	"veilnet.io/stratum/internal/core"
)

// InetAddress wire format: one family byte (0 = nil, 4 = IPv4, 6 = IPv6)
// followed by the raw address bytes and a big-endian port.
const (
	inetFamilyNil = 0
	inetFamilyV4  = 4
	inetFamilyV6  = 6

	// InetAddressMarshalSizeMax is the largest encoded InetAddress.
	InetAddressMarshalSizeMax = 1 + 16 + 2
)

// MarshalInetAddress writes ap to b and returns the number of bytes
// written, or a negative value if b is too small.
func MarshalInetAddress(b []byte, ap netip.AddrPort) int {
	if !ap.IsValid() {
		if len(b) < 1 {
			return -1
		}
		b[0] = inetFamilyNil
		return 1
	}
	addr := ap.Addr().Unmap()
	if addr.Is4() {
		if len(b) < 1+4+2 {
			return -1
		}
		b[0] = inetFamilyV4
		a4 := addr.As4()
		copy(b[1:], a4[:])
		binary.BigEndian.PutUint16(b[5:], ap.Port())
		return 7
	}
	if len(b) < InetAddressMarshalSizeMax {
		return -1
	}
	b[0] = inetFamilyV6
	a16 := addr.As16()
	copy(b[1:], a16[:])
	binary.BigEndian.PutUint16(b[17:], ap.Port())
	return 19
}

// UnmarshalInetAddress reads an InetAddress from b, returning the address
// and the number of bytes consumed.
func UnmarshalInetAddress(b []byte) (netip.AddrPort, int, error) {
	if len(b) < 1 {
		return netip.AddrPort{}, 0, core.ErrMalformedPacket
	}
	switch b[0] {
	case inetFamilyNil:
		return netip.AddrPort{}, 1, nil
	case inetFamilyV4:
		if len(b) < 7 {
			return netip.AddrPort{}, 0, core.ErrMalformedPacket
		}
		var a4 [4]byte
		copy(a4[:], b[1:5])
		return netip.AddrPortFrom(netip.AddrFrom4(a4), binary.BigEndian.Uint16(b[5:7])), 7, nil
	case inetFamilyV6:
		if len(b) < 19 {
			return netip.AddrPort{}, 0, core.ErrMalformedPacket
		}
		var a16 [16]byte
		copy(a16[:], b[1:17])
		return netip.AddrPortFrom(netip.AddrFrom16(a16), binary.BigEndian.Uint16(b[17:19])), 19, nil
	default:
		return netip.AddrPort{}, 0, core.ErrInvalidObject
	}
}

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"

	"veilnet.io/stratum/internal/core"
)

const (
	// C25519PublicKeySize is the X25519 public key size.
	C25519PublicKeySize = 32
	// Ed25519PublicKeySize is the Ed25519 public key size.
	Ed25519PublicKeySize = 32

	keyTypeC25519 = 0

	// MarshalSizeMax is the maximum wire size of a public identity:
	// address + type + both public keys + zero secret length.
	MarshalSizeMax = AddressLength + 1 + C25519PublicKeySize + Ed25519PublicKeySize + 1
)

// Secret holds the private half of an identity.
type Secret struct {
	C25519 [32]byte
	Ed25519 ed25519.PrivateKey
}

// Identity is a node's public key material and the address derived from it.
// Two identities are equal only if their full key material matches; an
// attacker can grind a colliding address but not colliding keys.
type Identity struct {
	address Address
	C25519  [C25519PublicKeySize]byte
	Ed25519 [Ed25519PublicKeySize]byte
	secret  *Secret
}

// Generate creates a new identity, grinding key pairs until the derivation
// hash satisfies the proof-of-work threshold and yields a usable address.
// This takes a variable amount of time (typically well under a second).
func Generate() (*Identity, error) {
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	genmem := make([]byte, derivationMemorySize)
	for {
		var cPriv [32]byte
		if _, err := rand.Read(cPriv[:]); err != nil {
			return nil, err
		}
		cPubSlice, err := curve25519.X25519(cPriv[:], curve25519.Basepoint)
		if err != nil {
			continue
		}
		var cPub [32]byte
		copy(cPub[:], cPubSlice)

		digest := publicKeyDigest(cPub[:], edPub)
		addressDerivationHash(&digest, genmem)
		if digest[0] >= powThreshold {
			continue
		}
		addr := NewAddress(digest[59:64])
		if addr.IsReserved() {
			continue
		}

		id := &Identity{
			address: addr,
			C25519:  cPub,
			secret:  &Secret{C25519: cPriv, Ed25519: edPriv},
		}
		copy(id.Ed25519[:], edPub)
		return id, nil
	}
}

// NewIdentity assembles an identity from known public components. The
// result is not validated; call LocallyValidate before trusting it.
func NewIdentity(addr Address, c25519, ed25519Pub [32]byte) *Identity {
	return &Identity{address: addr, C25519: c25519, Ed25519: ed25519Pub}
}

func publicKeyDigest(c25519, ed25519pub []byte) [64]byte {
	h := sha512.New()
	h.Write(c25519)
	h.Write(ed25519pub)
	var digest [64]byte
	h.Sum(digest[:0])
	return digest
}

// Address returns the 40-bit address derived from this identity.
func (id *Identity) Address() Address { return id.address }

// HasSecret reports whether the private key material is present.
func (id *Identity) HasSecret() bool { return id.secret != nil }

// Equal compares the full public key material, not just the address.
func (id *Identity) Equal(other *Identity) bool {
	if id == nil || other == nil {
		return id == other
	}
	return id.address == other.address && id.C25519 == other.C25519 && id.Ed25519 == other.Ed25519
}

// LocallyValidate re-runs the address derivation hash over the public key
// material and checks both the proof-of-work threshold and that the derived
// address matches. This is the only defense against identities claiming an
// arbitrary address, so it runs before any unknown identity is admitted.
func (id *Identity) LocallyValidate() bool {
	if id.address.IsReserved() {
		return false
	}
	digest := publicKeyDigest(id.C25519[:], id.Ed25519[:])
	genmem := make([]byte, derivationMemorySize)
	addressDerivationHash(&digest, genmem)
	return digest[0] < powThreshold && NewAddress(digest[59:64]) == id.address
}

// Agree performs X25519 key agreement between this identity (which must
// hold its secret) and the other identity's public key. The returned
// 64-byte key is the SHA-512 of the raw shared secret, so derived sub-keys
// lose no entropy.
func (id *Identity) Agree(other *Identity) ([64]byte, error) {
	var key [64]byte
	if id.secret == nil {
		return key, core.ErrSecretKeyRequired
	}
	shared, err := curve25519.X25519(id.secret.C25519[:], other.C25519[:])
	if err != nil {
		return key, fmt.Errorf("%w: %v", core.ErrKeyAgreementFailed, err)
	}
	return sha512.Sum512(shared), nil
}

// Sign signs msg with the identity's Ed25519 key.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	if id.secret == nil {
		return nil, core.ErrSecretKeyRequired
	}
	return ed25519.Sign(id.secret.Ed25519, msg), nil
}

// Verify checks an Ed25519 signature by this identity.
func (id *Identity) Verify(msg, sig []byte) bool {
	return ed25519.VerifyWithOptions(ed25519.PublicKey(id.Ed25519[:]), msg, sig, &ed25519.Options{}) == nil
}

// MarshalTo writes the public identity to b and returns the number of bytes
// written, or a negative value if b is too small.
func (id *Identity) MarshalTo(b []byte) int {
	if len(b) < MarshalSizeMax {
		return -1
	}
	id.address.CopyTo(b)
	p := AddressLength
	b[p] = keyTypeC25519
	p++
	copy(b[p:], id.C25519[:])
	p += C25519PublicKeySize
	copy(b[p:], id.Ed25519[:])
	p += Ed25519PublicKeySize
	b[p] = 0 // no secret on the wire
	return p + 1
}

// UnmarshalIdentity reads a public identity from b, returning it and the
// number of bytes consumed.
func UnmarshalIdentity(b []byte) (*Identity, int, error) {
	if len(b) < MarshalSizeMax {
		return nil, 0, core.ErrInvalidObject
	}
	if b[AddressLength] != keyTypeC25519 {
		return nil, 0, fmt.Errorf("%w: unknown identity key type %d", core.ErrInvalidObject, b[AddressLength])
	}
	id := &Identity{address: NewAddress(b)}
	p := AddressLength + 1
	copy(id.C25519[:], b[p:])
	p += C25519PublicKeySize
	copy(id.Ed25519[:], b[p:])
	p += Ed25519PublicKeySize
	secretLen := int(b[p])
	p++
	if secretLen > 0 {
		// Secrets are never accepted from the wire.
		p += secretLen
		if p > len(b) {
			return nil, 0, core.ErrInvalidObject
		}
	}
	return id, p, nil
}

// String renders the public identity as address:0:hexkeys.
func (id *Identity) String() string {
	return fmt.Sprintf("%s:0:%s%s", id.address.String(),
		hex.EncodeToString(id.C25519[:]), hex.EncodeToString(id.Ed25519[:]))
}

// PrivateString renders the identity including its secret key material.
func (id *Identity) PrivateString() (string, error) {
	if id.secret == nil {
		return "", core.ErrSecretKeyRequired
	}
	return fmt.Sprintf("%s:%s%s", id.String(),
		hex.EncodeToString(id.secret.C25519[:]),
		hex.EncodeToString(id.secret.Ed25519.Seed())), nil
}

// Parse reads an identity in the String/PrivateString text form.
func Parse(s string) (*Identity, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 3 || parts[1] != "0" {
		return nil, fmt.Errorf("%w: bad identity string", core.ErrInvalidIdentity)
	}
	addr, err := ParseAddress(parts[0])
	if err != nil {
		return nil, err
	}
	pub, err := hex.DecodeString(parts[2])
	if err != nil || len(pub) != C25519PublicKeySize+Ed25519PublicKeySize {
		return nil, fmt.Errorf("%w: bad public key", core.ErrInvalidIdentity)
	}
	id := &Identity{address: addr}
	copy(id.C25519[:], pub[:C25519PublicKeySize])
	copy(id.Ed25519[:], pub[C25519PublicKeySize:])
	if len(parts) >= 4 && parts[3] != "" {
		sec, err := hex.DecodeString(parts[3])
		if err != nil || len(sec) != 64 {
			return nil, fmt.Errorf("%w: bad secret key", core.ErrInvalidIdentity)
		}
		secret := &Secret{Ed25519: ed25519.NewKeyFromSeed(sec[32:])}
		copy(secret.C25519[:], sec[:32])
		id.secret = secret
	}
	return id, nil
}

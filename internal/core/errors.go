// Package core defines sentinel errors shared across the node.
package core

import "errors"

// Sentinel errors. Packet-level failures inside the receive pipeline are
// silent drops reported through the trace sink; these errors surface only on
// embedder-facing APIs (config, store, transport, marshalling).
var (
	// Wire codec errors
	ErrMalformedPacket = errors.New("stratum: malformed packet")
	ErrBufferOverflow  = errors.New("stratum: buffer capacity exceeded")
	ErrInvalidObject   = errors.New("stratum: invalid marshalled object")

	// Identity errors
	ErrInvalidIdentity    = errors.New("stratum: invalid identity")
	ErrSecretKeyRequired  = errors.New("stratum: identity has no secret key")
	ErrKeyAgreementFailed = errors.New("stratum: key agreement failed")

	// Store errors
	ErrObjectNotFound = errors.New("stratum: object not found")

	// Configuration errors
	ErrConfigInvalid = errors.New("stratum: invalid configuration")

	// Transport errors
	ErrTransportClosed = errors.New("stratum: transport closed")
)

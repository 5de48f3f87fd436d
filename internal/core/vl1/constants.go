// Package vl1 implements the layer-1 packet core: the receive pipeline
// (parse, defragment, authenticate, deduplicate, decompress, dispatch), the
// HELLO handshake, the WHOIS queue, and the topology registry of peers and
// paths with its background garbage collection.
package vl1

// All durations are milliseconds of the monotonic tick clock carried by
// CallContext.
const (
	// WhoisRetryDelay gates how often WHOIS requests for one address are
	// (re)sent to a root.
	WhoisRetryDelay = 500

	// MaxWhoisWaitingPackets is the ring capacity of packets held per
	// unknown source address; overflow overwrites the oldest.
	MaxWhoisWaitingPackets = 4

	// ExpectTTL is how long an outstanding request packet ID remains valid
	// for matching an OK/ERROR reply.
	ExpectTTL = 10000

	// PathKeepalivePeriod quantizes root ranking and bounds keepalive
	// cadence on the service loop.
	PathKeepalivePeriod = 20000

	// PathAliveTimeout is how long after the last inbound datagram a path
	// still counts as usable.
	PathAliveTimeout = PathKeepalivePeriod * 2

	// PeerAliveTimeout is how long a non-root peer survives in the
	// topology without receiving anything.
	PeerAliveTimeout = 600000

	// PeerGlobalTimeout bounds the age of cached peer blobs loaded from
	// the state store.
	PeerGlobalTimeout = 30 * 24 * 3600 * 1000

	// FragmentExpiration is how long a partially assembled packet is held.
	FragmentExpiration = 1000

	// defragMaxEntries bounds the total number of in-flight partial
	// packets across all paths.
	defragMaxEntries = 512

	// maxFragmentsPerPath bounds in-flight partial packets bound to one
	// path, so a single remote cannot monopolize reassembly memory.
	maxFragmentsPerPath = 16

	// EchoRateLimit and WhoisRateLimit gate per-peer reply generation.
	EchoRateLimit  = 1000
	WhoisRateLimit = 100
)

// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsReceivedTotal counts datagrams handed to the receive pipeline.
	PacketsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stratum_vl1_packets_received_total",
			Help: "Total number of datagrams received by the VL1 pipeline",
		},
	)

	// PacketsDroppedTotal counts pipeline drops by reason.
	PacketsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_vl1_packets_dropped_total",
			Help: "Total number of packets dropped by the VL1 pipeline",
		},
		[]string{"reason"},
	)

	// PacketsDispatchedTotal counts successfully dispatched packets by verb.
	PacketsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_vl1_packets_dispatched_total",
			Help: "Total number of authenticated packets dispatched to verb handlers",
		},
		[]string{"verb"},
	)

	// PacketsDeduplicatedTotal counts replay-filter hits.
	PacketsDeduplicatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stratum_vl1_packets_deduplicated_total",
			Help: "Total number of packets discarded as duplicates",
		},
	)

	// DefragmenterActiveEntries tracks packets awaiting reassembly.
	DefragmenterActiveEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratum_vl1_defragmenter_active_entries",
			Help: "Number of partially reassembled packets currently held",
		},
	)

	// WhoisQueueDepth tracks addresses with queued packets awaiting identity lookup.
	WhoisQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratum_vl1_whois_queue_depth",
			Help: "Number of unknown addresses with packets queued for WHOIS",
		},
	)

	// WhoisRequestsTotal counts WHOIS request packets sent to roots.
	WhoisRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stratum_vl1_whois_requests_total",
			Help: "Total number of WHOIS request packets sent",
		},
	)

	// TopologyPeers tracks the number of known peers.
	TopologyPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratum_vl1_topology_peers",
			Help: "Number of peers currently registered in the topology",
		},
	)

	// TopologyPaths tracks the number of live physical paths.
	TopologyPaths = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratum_vl1_topology_paths",
			Help: "Number of physical paths currently registered in the topology",
		},
	)

	// PeersGarbageCollectedTotal counts peers removed by periodic GC.
	PeersGarbageCollectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stratum_vl1_peers_gc_total",
			Help: "Total number of stale peers garbage collected",
		},
	)
)

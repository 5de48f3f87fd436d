package vl1

import (
	"sync"

	"veilnet.io/stratum/internal/core/bufpool"
	"veilnet.io/stratum/internal/core/protocol"
	"veilnet.io/stratum/internal/metrics"
)

// defragResult is the outcome of feeding one fragment to the defragmenter.
type defragResult int

const (
	// defragOK: fragment accepted, packet not yet complete.
	defragOK defragResult = iota
	// defragComplete: the packet vector was filled with the whole packet.
	defragComplete
	// Error results all collapse to a silent drop at the call site.
	defragErrDuplicateFragment
	defragErrInvalidFragment
	defragErrTooManyFragmentsForPath
	defragErrOutOfMemory
)

// fragmentInFlight is one partially reassembled packet. Once the total
// fragment count is learned from any non-head fragment it never changes;
// fragments fill distinct slots and duplicates are rejected.
type fragmentInFlight struct {
	id        uint64
	ts        int64
	path      *Path
	frags     [protocol.MaxPacketFragments]bufpool.Slice
	have      uint8
	expecting uint8
}

// Defragmenter is a bounded associative store of in-flight partial packets
// keyed by packet ID. Entries expire by age (evicted on insert), by
// per-path and global caps, and when their binding path is evicted from
// the topology.
type Defragmenter struct {
	mu       sync.Mutex
	inFlight map[uint64]*fragmentInFlight
}

// NewDefragmenter creates an empty defragmenter.
func NewDefragmenter() *Defragmenter {
	return &Defragmenter{inFlight: make(map[uint64]*fragmentInFlight)}
}

// Assemble feeds one fragment. data[start:start+length] is the fragment
// payload (for the head, the whole packet including its header).
// totalFragments is zero for the head, which learns the count from any
// non-head fragment. On defragComplete the vector holds the packet head
// first and ownership of all buffers moves to the caller; on defragOK the
// entry retains the buffer; on any error the caller keeps ownership of
// data.
func (d *Defragmenter) Assemble(packetID uint64, pv *bufpool.PacketVector, data *bufpool.Buf,
	start, length int, fragmentNo, totalFragments uint8, ticks int64, path *Path) defragResult {

	if length <= 0 || fragmentNo >= protocol.MaxPacketFragments ||
		totalFragments > protocol.MaxPacketFragments ||
		(totalFragments != 0 && fragmentNo >= totalFragments) {
		return defragErrInvalidFragment
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.inFlight[packetID]
	if !ok {
		if len(d.inFlight) >= defragMaxEntries {
			d.expireLocked(ticks)
			if len(d.inFlight) >= defragMaxEntries {
				return defragErrOutOfMemory
			}
		}
		if path != nil && path.inboundFragments.Load() >= maxFragmentsPerPath {
			return defragErrTooManyFragmentsForPath
		}
		e = &fragmentInFlight{id: packetID, ts: ticks, path: path}
		d.inFlight[packetID] = e
		if path != nil {
			path.inboundFragments.Add(1)
		}
		metrics.DefragmenterActiveEntries.Set(float64(len(d.inFlight)))
	} else if ticks-e.ts > FragmentExpiration {
		d.releaseLocked(e)
		d.removeLocked(e)
		return defragErrInvalidFragment
	}

	if e.frags[fragmentNo].B != nil {
		return defragErrDuplicateFragment
	}
	// The first non-head fragment fixes the total; a later fragment that
	// claims a different total is rejected.
	if totalFragments != 0 {
		if e.expecting == 0 {
			e.expecting = totalFragments
		} else if totalFragments != e.expecting {
			return defragErrInvalidFragment
		}
	}
	e.frags[fragmentNo] = bufpool.Slice{B: data, S: start, E: start + length}
	e.have++

	if e.expecting == 0 || e.have < e.expecting || e.frags[0].B == nil {
		return defragOK
	}
	for i := uint8(0); i < e.expecting; i++ {
		if e.frags[i].B == nil {
			return defragOK
		}
	}

	*pv = append((*pv)[:0], e.frags[:e.expecting]...)
	d.removeLocked(e)
	return defragComplete
}

// EvictPath drops all in-flight entries bound to a path that is being
// removed from the topology.
func (d *Defragmenter) EvictPath(path *Path) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.inFlight {
		if e.path == path {
			d.releaseLocked(e)
			d.removeLocked(e)
		}
	}
}

// removeLocked deletes an entry without touching its buffers.
func (d *Defragmenter) removeLocked(e *fragmentInFlight) {
	delete(d.inFlight, e.id)
	if e.path != nil {
		e.path.inboundFragments.Add(-1)
		e.path = nil
	}
	metrics.DefragmenterActiveEntries.Set(float64(len(d.inFlight)))
}

// releaseLocked returns an entry's buffers to the pool.
func (d *Defragmenter) releaseLocked(e *fragmentInFlight) {
	for i := range e.frags {
		if e.frags[i].B != nil {
			bufpool.Put(e.frags[i].B)
			e.frags[i] = bufpool.Slice{}
		}
	}
}

// expireLocked evicts entries older than the reassembly deadline.
func (d *Defragmenter) expireLocked(ticks int64) {
	for _, e := range d.inFlight {
		if ticks-e.ts > FragmentExpiration {
			d.releaseLocked(e)
			d.removeLocked(e)
		}
	}
}

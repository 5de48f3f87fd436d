package vl1

import (
	"veilnet.io/stratum/internal/core/bufpool"
	"veilnet.io/stratum/internal/core/identity"
	"veilnet.io/stratum/internal/core/protocol"
	"veilnet.io/stratum/internal/metrics"
)

// whoisQueueItem holds packets from one unknown source address while its
// identity is looked up. The ring is bounded; overflow silently overwrites
// the oldest entry.
type whoisQueueItem struct {
	waitingPacket [MaxWhoisWaitingPackets]*bufpool.Buf
	waitingSize   [MaxWhoisWaitingPackets]int
	count         uint
	lastRetry     int64
	retries       int
	lastPath      *Path
}

// enqueueWhois stores an assembled packet that could not be authenticated
// because its source identity is unknown, then kicks a WHOIS retry pass if
// one is due. Takes ownership of pkt.
func (n *Node) enqueueWhois(cc CallContext, source identity.Address, path *Path, pkt *bufpool.Buf, pktSize int) {
	n.whoisMu.Lock()
	wq := n.whois[source]
	if wq == nil {
		wq = &whoisQueueItem{}
		n.whois[source] = wq
		metrics.WhoisQueueDepth.Set(float64(len(n.whois)))
	}
	idx := wq.count % MaxWhoisWaitingPackets
	if wq.waitingPacket[idx] != nil {
		bufpool.Put(wq.waitingPacket[idx])
	}
	wq.waitingPacket[idx] = pkt
	wq.waitingSize[idx] = pktSize
	wq.count++
	wq.lastPath = path
	sendPending := cc.Ticks-wq.lastRetry >= WhoisRetryDelay
	n.whoisMu.Unlock()

	if sendPending {
		n.SendPendingWhois(cc)
	}
}

// SendPendingWhois batches every address whose retry timer has expired into
// as few WHOIS requests as fit the MTU and sends them to the current best
// root.
func (n *Node) SendPendingWhois(cc CallContext) {
	root := n.topology.Root()
	if root == nil {
		return
	}
	rootPath := root.DirectPath(cc)
	if rootPath == nil {
		return
	}

	var toSend []identity.Address
	n.whoisMu.Lock()
	for addr, wq := range n.whois {
		if cc.Ticks-wq.lastRetry >= WhoisRetryDelay {
			wq.lastRetry = cc.Ticks
			wq.retries++
			toSend = append(toSend, addr)
		}
	}
	n.whoisMu.Unlock()
	if len(toSend) == 0 {
		return
	}

	key := root.Key()
	var outp [protocol.DefaultUDPMTU]byte
	i := 0
	for i < len(toSend) {
		packetID := key.NextMessage(n.Address(), root.Address())
		p := protocol.NewPacket(outp[:], packetID, root.Address(), n.Address(), protocol.VerbWHOIS)
		for i < len(toSend) && p+identity.AddressLength <= len(outp) {
			toSend[i].CopyTo(outp[p:])
			p += identity.AddressLength
			i++
		}
		n.expect.Sending(Armor(outp[:p], key, root.Cipher()), cc.Ticks)
		root.Send(n.ctx, cc, outp[:p], rootPath)
		metrics.WhoisRequestsTotal.Inc()
	}
}

// whoisComplete is invoked when an identity lookup resolved. The queued
// packets for that address are replayed through the normal authentication
// and dispatch path.
func (n *Node) whoisComplete(cc CallContext, addr identity.Address) {
	n.whoisMu.Lock()
	wq := n.whois[addr]
	delete(n.whois, addr)
	metrics.WhoisQueueDepth.Set(float64(len(n.whois)))
	n.whoisMu.Unlock()
	if wq == nil {
		return
	}

	path := wq.lastPath
	for i := range wq.waitingPacket {
		pkt := wq.waitingPacket[i]
		if pkt == nil {
			continue
		}
		wq.waitingPacket[i] = nil
		if path != nil {
			n.processAssembled(cc, path, bufpool.PacketVector{{B: pkt, S: 0, E: wq.waitingSize[i]}})
		} else {
			bufpool.Put(pkt)
		}
	}
}

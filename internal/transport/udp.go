// Package transport implements the UDP datagram binding that feeds the
// packet core. Each listen address becomes one socket with an opaque int64
// handle; inbound datagrams are read in batches and handed to the node,
// outbound datagrams are fire-and-forget.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"veilnet.io/stratum/internal/core"
	"veilnet.io/stratum/internal/core/bufpool"
)

const defaultBatchSize = 32

// Handler receives inbound datagrams. Ownership of data passes to the
// handler.
type Handler func(localSocket int64, from netip.AddrPort, data *bufpool.Buf, length int)

type socket struct {
	handle int64
	conn   *net.UDPConn
	pc4    *ipv4.PacketConn
	pc6    *ipv6.PacketConn
}

// Binding owns the node's UDP sockets.
type Binding struct {
	mu      sync.RWMutex
	sockets map[int64]*socket
	next    int64
	batch   int
	recvBuf int
	handler Handler
	wg      sync.WaitGroup
	closed  bool
}

// NewBinding creates an empty binding. batchSize and recvBufSize fall back
// to sane defaults when zero.
func NewBinding(batchSize, recvBufSize int, handler Handler) *Binding {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Binding{
		sockets: make(map[int64]*socket),
		batch:   batchSize,
		recvBuf: recvBufSize,
		handler: handler,
	}
}

// Listen opens a UDP socket on addr and starts its read loop, returning the
// socket's opaque handle.
func (b *Binding) Listen(addr string) (int64, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				if serr == nil && b.recvBuf > 0 {
					serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, b.recvBuf)
				}
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return 0, fmt.Errorf("listen %s: %w", addr, err)
	}
	conn := pc.(*net.UDPConn)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return 0, core.ErrTransportClosed
	}
	b.next++
	s := &socket{handle: b.next, conn: conn}
	if la, ok := conn.LocalAddr().(*net.UDPAddr); ok && la.IP.To4() == nil {
		s.pc6 = ipv6.NewPacketConn(conn)
	} else {
		s.pc4 = ipv4.NewPacketConn(conn)
	}
	b.sockets[s.handle] = s
	b.mu.Unlock()

	b.wg.Add(1)
	go b.readLoop(s)
	return s.handle, nil
}

// readLoop drains one socket with batched reads until it is closed.
func (b *Binding) readLoop(s *socket) {
	defer b.wg.Done()

	msgs := make([]ipv4.Message, b.batch)
	bufs := make([]*bufpool.Buf, b.batch)
	for i := range msgs {
		bufs[i] = bufpool.Get()
		msgs[i].Buffers = [][]byte{bufs[i].B[:]}
	}

	for {
		var n int
		var err error
		if s.pc4 != nil {
			n, err = s.pc4.ReadBatch(msgs, 0)
		} else {
			n, err = s.pc6.ReadBatch(msgs, 0)
		}
		if err != nil {
			return
		}
		for i := 0; i < n; i++ {
			m := &msgs[i]
			from, ok := udpAddrPort(m.Addr)
			if !ok || m.N <= 0 {
				continue
			}
			b.handler(s.handle, from, bufs[i], m.N)
			// The handler took the buffer; replace it for the next batch.
			bufs[i] = bufpool.Get()
			m.Buffers[0] = bufs[i].B[:]
		}
	}
}

// SendDatagram transmits one datagram on the given socket. It satisfies
// the packet core's transport contract and never blocks meaningfully (UDP
// sends either complete or drop).
func (b *Binding) SendDatagram(localSocket int64, remote netip.AddrPort, data []byte) error {
	b.mu.RLock()
	s := b.sockets[localSocket]
	b.mu.RUnlock()
	if s == nil {
		return core.ErrTransportClosed
	}
	_, err := s.conn.WriteToUDPAddrPort(data, remote)
	return err
}

// Handles returns the currently open socket handles.
func (b *Binding) Handles() []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]int64, 0, len(b.sockets))
	for h := range b.sockets {
		out = append(out, h)
	}
	return out
}

// Close shuts all sockets and waits for the read loops to exit.
func (b *Binding) Close() {
	b.mu.Lock()
	b.closed = true
	for _, s := range b.sockets {
		s.conn.Close()
	}
	b.sockets = make(map[int64]*socket)
	b.mu.Unlock()
	b.wg.Wait()
}

func udpAddrPort(a net.Addr) (netip.AddrPort, bool) {
	ua, ok := a.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	ap := ua.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
}

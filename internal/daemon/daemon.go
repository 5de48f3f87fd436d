// Package daemon implements the node daemon lifecycle: it wires
// configuration, logging, metrics, the state store, the UDP transport and
// the packet core together and drives the periodic service loop.
package daemon

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"veilnet.io/stratum/internal/config"
	"veilnet.io/stratum/internal/core/bufpool"
	"veilnet.io/stratum/internal/core/identity"
	"veilnet.io/stratum/internal/core/trace"
	"veilnet.io/stratum/internal/core/vl1"
	logpkg "veilnet.io/stratum/internal/log"
	"veilnet.io/stratum/internal/metrics"
	"veilnet.io/stratum/internal/store"
	"veilnet.io/stratum/internal/transport"
)

// Daemon manages the node process lifecycle.
type Daemon struct {
	config *config.GlobalConfig
	log    *logrus.Logger

	store         *store.FileStore
	node          *vl1.Node
	binding       *transport.Binding
	metricsServer *metrics.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// New loads configuration and creates a daemon instance.
func New(configPath string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	l, err := logpkg.Init(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	d := &Daemon{config: cfg, log: l}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// ticks returns the millisecond tick clock. Wall time is used so that
// peer-cache timestamps survive restarts.
func ticks() int64 { return time.Now().UnixMilli() }

// Start initializes and starts all components.
func (d *Daemon) Start() error {
	fs, err := store.NewFileStore(d.config.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open data dir: %w", err)
	}
	d.store = fs

	id, err := d.loadOrGenerateIdentity()
	if err != nil {
		return fmt.Errorf("failed to initialize identity: %w", err)
	}
	d.log.WithField("address", id.Address().String()).Info("node identity ready")

	vctx := &vl1.Context{
		Identity: id,
		Trace:    trace.NewLogSink(d.log),
		Store:    fs,
	}
	d.node = vl1.NewNode(vctx)

	d.binding = transport.NewBinding(d.config.Transport.BatchSize, d.config.Transport.RecvBufSize,
		func(localSocket int64, from netip.AddrPort, data *bufpool.Buf, length int) {
			d.node.OnRemotePacket(vl1.CallContext{Ticks: ticks()}, localSocket, from, data, length)
		})
	vctx.Out = d.binding

	for _, addr := range d.config.Transport.Listen {
		handle, err := d.binding.Listen(addr)
		if err != nil {
			d.binding.Close()
			return err
		}
		d.log.WithFields(logrus.Fields{"addr": addr, "socket": handle}).Info("listening")
	}

	if err := d.loadRoots(); err != nil {
		d.binding.Close()
		return err
	}

	if d.config.Metrics.Enabled {
		d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path, d.log)
		if err := d.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	go d.serviceLoop()
	return nil
}

// loadOrGenerateIdentity reads the node identity from the state store or
// from the configured file, generating and persisting a fresh one on first
// run.
func (d *Daemon) loadOrGenerateIdentity() (*identity.Identity, error) {
	if f := d.config.Node.IdentityFile; f != "" {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		return identity.Parse(string(data))
	}

	if data, err := d.store.Get(store.ObjectIdentitySecret, [2]uint64{}); err == nil {
		if id, err := identity.Parse(string(data)); err == nil && id.HasSecret() {
			return id, nil
		}
		d.log.Warn("stored identity unreadable, generating a new one")
	}

	d.log.Info("generating node identity (proof of work)")
	id, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	secret, err := id.PrivateString()
	if err != nil {
		return nil, err
	}
	if err := d.store.Put(store.ObjectIdentitySecret, [2]uint64{}, []byte(secret)); err != nil {
		return nil, err
	}
	if err := d.store.Put(store.ObjectIdentityPublic, [2]uint64{}, []byte(id.String())); err != nil {
		return nil, err
	}
	return id, nil
}

// loadRoots installs the configured roots into the topology and seeds a
// path to each endpoint so first-contact WHOIS has somewhere to go.
func (d *Daemon) loadRoots() error {
	specs, err := d.config.LoadRoots()
	if err != nil {
		return err
	}
	cc := vl1.CallContext{Ticks: ticks()}
	ids := make([]*identity.Identity, 0, len(specs))
	endpoints := make(map[identity.Address][]netip.AddrPort)
	for _, spec := range specs {
		id, err := identity.Parse(spec.Identity)
		if err != nil {
			return fmt.Errorf("bad root identity %q: %w", spec.Identity, err)
		}
		ids = append(ids, id)
		for _, ep := range spec.Endpoints {
			ap, err := netip.ParseAddrPort(ep)
			if err != nil {
				return fmt.Errorf("bad root endpoint %q: %w", ep, err)
			}
			endpoints[id.Address()] = append(endpoints[id.Address()], ap)
		}
	}
	d.node.Topology().SetRoots(cc, ids)
	handles := d.binding.Handles()
	if len(handles) == 0 {
		return nil
	}
	for addr, eps := range endpoints {
		if root := d.node.Topology().Peer(cc, addr); root != nil {
			for _, ep := range eps {
				d.node.SeedRootPath(cc, root, handles[0], ep)
			}
		}
	}
	d.log.WithField("roots", len(ids)).Info("root set installed")
	return nil
}

// serviceLoop drives periodic maintenance: WHOIS retries at the retry
// cadence, topology GC and root keepalives at a slower cadence.
func (d *Daemon) serviceLoop() {
	retry := time.NewTicker(vl1.WhoisRetryDelay * time.Millisecond)
	slow := time.NewTicker(vl1.PathKeepalivePeriod * time.Millisecond / 2)
	defer retry.Stop()
	defer slow.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-retry.C:
			d.node.SendPendingWhois(vl1.CallContext{Ticks: ticks()})
		case <-slow.C:
			cc := vl1.CallContext{Ticks: ticks()}
			d.node.DoBackgroundTasks(cc)
			d.node.SendHellos(cc)
		}
	}
}

// Run starts the daemon and blocks until a termination signal.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	d.log.WithField("signal", s.String()).Info("shutting down")
	return d.Stop()
}

// Stop tears the daemon down, persisting peers on the way out.
func (d *Daemon) Stop() error {
	d.cancel()
	if d.binding != nil {
		d.binding.Close()
	}
	if d.node != nil {
		d.node.Topology().SaveAll(vl1.CallContext{Ticks: ticks()})
	}
	if d.metricsServer != nil {
		_ = d.metricsServer.Stop(context.Background())
	}
	return nil
}

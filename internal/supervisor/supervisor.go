package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"fastsetupd/internal/bus"
	"fastsetupd/internal/check"
	"fastsetupd/internal/clockhealth"
	"fastsetupd/internal/configstore"
	"fastsetupd/internal/device"
	"fastsetupd/internal/domain"
	"fastsetupd/internal/ipc"
	"fastsetupd/internal/meshnet"
	"fastsetupd/internal/role"
	"fastsetupd/internal/ssdp"
	"fastsetupd/pkg/sdk/defaults"
)

// relaySubscriberID is the bus identity the Supervisor's own relay loop
// registers under.
const relaySubscriberID = "supervisor"

// Config bundles the external collaborators a Supervisor is built from.
// Fields left zero get a sensible production default; tests override the
// ones that would otherwise touch real hardware.
type Config struct {
	ConfigPath string // fast_setup.conf-equivalent path (internal/configstore)
	UserID     string
	GroupID    string

	Transport       ipc.Transport        // nil => ipc.NewFake() (loopback mode)
	InterfaceLister ssdp.InterfaceLister // nil => ssdp.NewNetlinkLister()
	NewSocket       func(ssdp.Interface) (ssdp.Socket, error) // nil => real UDP multicast sockets
	SSDPConfig      ssdp.Config

	RoleOpts []role.Option
	MeshOpts []meshnet.Option

	// Clock, when true, runs the non-gating NTP clock-health diagnostic
	// (spec.md §4.9/expansion §4.9).
	Clock bool

	OnEvent   func(event, message string)
	OnFailure func(err error)
}

// Supervisor owns the construction, wiring, and lifecycle of every core
// component (spec.md §4.4): it is the only place in the daemon that
// knows about all of the Message Bus, Config Store, SSDP Discovery
// Service, Network Orchestrator, Role State Machine, and IPC Client at
// once.
type Supervisor struct {
	b      *bus.Bus
	cfg    *configstore.Store
	ssdp   *ssdp.Service
	mesh   *meshnet.Manager
	roleM  *role.Manager
	ipcCli *ipc.Client
	clock  *clockhealth.Checker
	rssi   *cachedRSSI
	sub    *bus.Subscriber

	OnEvent   func(event, message string)
	OnFailure func(err error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	g       *errgroup.Group
	started bool
}

// New constructs every core component and wires the relays between them,
// but starts nothing — call Start to bring the daemon up.
func New(cfg Config) (*Supervisor, error) {
	store, err := configstore.Open(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open config store: %w", err)
	}

	deviceID, err := device.Resolve(store, store.Save)
	if err != nil {
		return nil, fmt.Errorf("supervisor: resolve device id: %w", err)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = ipc.NewFake()
	}

	lister := cfg.InterfaceLister
	if lister == nil {
		lister = ssdp.NewNetlinkLister()
	}

	b := bus.New()

	ssdpCfg := cfg.SSDPConfig
	if ssdpCfg.USN == "" {
		ssdpCfg.USN = fmt.Sprintf("ora-fastsetupd-%d", deviceID)
	}
	if ssdpCfg.DevType == "" {
		ssdpCfg.DevType = "ora:mesh:node"
	}
	ssdpSvc := ssdp.NewService(lister, cfg.NewSocket, ssdp.WithConfig(ssdpCfg))

	meshMgr := meshnet.NewManager(b, store, ssdpSvc, cfg.UserID, cfg.GroupID, cfg.MeshOpts...)

	rssi := &cachedRSSI{}
	roleMgr := role.NewManager(deviceID, meshMgr, meshMgr.AsRoleAPValidator(), rssi, cfg.RoleOpts...)

	meshMgr.BindRoleReceiver(roleMgr)
	ssdpSvc.OnPacketReceived = meshMgr.HandleRawPacket

	ipcCli := ipc.NewClient(b, transport)

	var clock *clockhealth.Checker
	if cfg.Clock {
		clock = clockhealth.New()
	}

	return &Supervisor{
		b:         b,
		cfg:       store,
		ssdp:      ssdpSvc,
		mesh:      meshMgr,
		roleM:     roleMgr,
		ipcCli:    ipcCli,
		clock:     clock,
		rssi:      rssi,
		OnEvent:   cfg.OnEvent,
		OnFailure: cfg.OnFailure,
	}, nil
}

// Bus exposes the shared Message Bus, e.g. so a BLE stack adapter can
// call ipc.Client.NotifyBLEAPConfigured against it.
func (s *Supervisor) Bus() *bus.Bus { return s.b }

// IPC exposes the IPC Client, e.g. for NotifyBLEAPConfigured.
func (s *Supervisor) IPC() *ipc.Client { return s.ipcCli }

// Start brings up every component and begins the mesh join sequence.
// Acquisition is errgroup-scoped (spec.md §9): every component's run
// loop is launched under one cancelable, error-propagating context, so
// the first loop to fail tears every other one down rather than leaving
// a half-started daemon running.
func (s *Supervisor) Start(ctx context.Context) error {
	check.Assert(s.mesh != nil, "Supervisor.Start: mesh orchestrator must not be nil")
	check.Assert(s.roleM != nil, "Supervisor.Start: role machine must not be nil")

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor: already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.sub = s.b.Subscribe(relaySubscriberID)
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { s.ipcCli.Run(gctx); return nil })
	g.Go(func() error { s.mesh.Run(gctx); return nil })
	g.Go(func() error { s.roleM.Run(gctx); return nil })
	g.Go(func() error {
		if err := s.ssdp.Run(gctx); err != nil {
			return fmt.Errorf("ssdp discovery: %w", err)
		}
		return nil
	})
	if s.clock != nil {
		g.Go(func() error { s.clock.Run(gctx); return nil })
	}
	g.Go(func() error { s.runRelays(gctx); return nil })

	s.mu.Lock()
	s.g = g
	s.mu.Unlock()

	s.mesh.Start(gctx)
	return nil
}

// WaitForExit blocks until every component's run loop has returned,
// returning the first error any of them reported.
func (s *Supervisor) WaitForExit() error {
	s.mu.Lock()
	g := s.g
	s.mu.Unlock()
	if g == nil {
		return errors.New("supervisor: not started")
	}
	return g.Wait()
}

// Stop cancels every component's run loop and unsubscribes the relay.
// Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	sub := s.sub
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.ipcCli.Stop()
	s.mesh.Stop()
	s.roleM.Stop()
	if sub != nil {
		s.b.Unsubscribe(relaySubscriberID)
	}
}

func (s *Supervisor) emit(event, message string) {
	if s.OnEvent != nil {
		s.OnEvent(event, message)
	}
	slog.Debug("supervisor event", "event", event, "message", message)
}

func (s *Supervisor) fail(err error) {
	if err == nil {
		return
	}
	if s.OnFailure != nil {
		s.OnFailure(err)
	}
	slog.Warn("supervisor failure", "err", err)
}

// runRelays drains the bus for the cross-component relays of spec.md
// §4.4's table that would otherwise require the Network Orchestrator,
// Role State Machine, and Config Store to import one another.
func (s *Supervisor) runRelays(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.sub.Messages():
			if !ok {
				return
			}
			s.handleRelay(ctx, msg)
		}
	}
}

func (s *Supervisor) handleRelay(ctx context.Context, msg bus.Message) {
	switch msg.Kind {
	case bus.KindNWPublicMeshJoined:
		joined, ok := msg.Payload.(bus.MeshJoined)
		if ok && joined.OK {
			s.emit("mesh.public_joined", "public mesh joined, scanning for a private mesh")
			s.mesh.ScanNetwork()
		}

	case bus.KindNWPrivMeshJoined:
		joined, ok := msg.Payload.(bus.MeshJoined)
		if ok && joined.OK {
			s.emit("mesh.private_joined", "private mesh joined, entering role election")
			s.roleM.SetState(role.StateNoRole)
		}

	case bus.KindNWScanNetworkTimeout:
		s.emit("mesh.scan_timeout", "no private mesh found this scan round")

	case bus.KindNWPrivMeshFound:
		s.emit("mesh.priv_mesh_found", "a private mesh was discovered")

	case bus.KindIPCBLEAPConfigured:
		body, ok := msg.Payload.(bus.BLEAPConfigured)
		if ok {
			go s.handleBLEAPConfigured(ctx, body.AP)
		}
	}
}

// handleBLEAPConfigured runs spec.md §4.4's BLE-to-private-mesh relay:
// validate the AP a BLE client just configured, persist it only once
// validated, then stand up a fresh private mesh over it. It runs on its
// own goroutine, mirroring the Network Orchestrator's own pattern of
// keeping the bus-draining loop free of blocking IPC waits.
func (s *Supervisor) handleBLEAPConfigured(ctx context.Context, ap domain.APInfo) {
	ok, err := s.mesh.ValidateAP(ctx, ap)
	if err != nil {
		s.fail(fmt.Errorf("validate_ap for %q: %w", ap.SSID, err))
		return
	}
	if !ok {
		s.emit("ble_ap.rejected", fmt.Sprintf("access point %q did not validate", ap.SSID))
		return
	}

	s.cfg.AppendAP(ap)
	if err := s.cfg.Save(); err != nil {
		s.fail(fmt.Errorf("persist validated access point %q: %w", ap.SSID, err))
		return
	}

	s.emit("ble_ap.accepted", fmt.Sprintf("access point %q validated, creating private mesh", ap.SSID))
	s.mesh.CreatePrivMesh(ctx)
}

// DefaultSSDPConfig returns the discovery identity defaults a production
// binary uses when it has nothing more specific to advertise.
func DefaultSSDPConfig() ssdp.Config {
	return ssdp.Config{
		LocationPrefix: "http://",
		LocationSuffix: fmt.Sprintf(":%d", defaults.SSDPPort),
	}
}

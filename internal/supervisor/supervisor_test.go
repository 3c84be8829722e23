package supervisor

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fastsetupd/internal/domain"
	"fastsetupd/internal/ipc"
	"fastsetupd/internal/role"
	"fastsetupd/internal/ssdp"
)

// loopbackSocket is an in-memory ssdp.Socket that never touches a real
// NIC, letting the Supervisor's SSDP component run end to end in a test
// binary without multicast group membership.
type loopbackSocket struct {
	mu     sync.Mutex
	inbox  [][]byte
	group  [][]byte
	outbox [][]byte
}

func (s *loopbackSocket) ReadFrom(buf []byte, deadline time.Time) (int, net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbox) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Err: loopbackTimeout{}}
	}
	n := copy(buf, s.inbox[0])
	s.inbox = s.inbox[1:]
	return n, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, nil
}

type loopbackTimeout struct{}

func (loopbackTimeout) Error() string   { return "i/o timeout" }
func (loopbackTimeout) Timeout() bool   { return true }
func (loopbackTimeout) Temporary() bool { return true }

func (s *loopbackSocket) WriteToGroup(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.group = append(s.group, buf)
	return nil
}

func (s *loopbackSocket) WriteTo(buf []byte, dst net.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, buf)
	return nil
}

func (s *loopbackSocket) Close() error { return nil }

type loopbackLister struct{ ifaces []ssdp.Interface }

func (l loopbackLister) List() ([]ssdp.Interface, error) { return l.ifaces, nil }

func newTestConfig(t *testing.T, transport ipc.Transport) (Config, *loopbackSocket) {
	t.Helper()
	sock := &loopbackSocket{}
	cfg := Config{
		ConfigPath: filepath.Join(t.TempDir(), "fast_setup.conf"),
		UserID:     "42",
		GroupID:    "7",
		Transport:  transport,
		InterfaceLister: loopbackLister{ifaces: []ssdp.Interface{
			{Name: "lo0", IP: net.IPv4(127, 0, 0, 1), Mask: net.CIDRMask(8, 32)},
		}},
		NewSocket: func(ssdp.Interface) (ssdp.Socket, error) { return sock, nil },
		SSDPConfig: ssdp.Config{
			USN: "dev-test", DevType: "hub",
			SelectTimeout: 5 * time.Millisecond, HeartbeatPeriod: time.Hour, NeighborTimeout: time.Hour,
		},
	}
	return cfg, sock
}

func waitUntil(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if fn() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("condition never became true")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartRunsColdStartJoinAndScanRelay(t *testing.T) {
	cfg, sock := newTestConfig(t, ipc.NewFake())
	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	waitUntil(t, func() bool { return sup.mesh.PublicState() == domain.ConnConnected })

	// The NW_PUBLIC_MESH_JOINED(true) relay should trigger ScanNetwork,
	// which sends an M-SEARCH over the (loopback) SSDP transport, on top
	// of the one SendMSearch already fires at ssdp.Service.Run startup.
	waitUntil(t, func() bool {
		sock.mu.Lock()
		defer sock.mu.Unlock()
		return len(sock.group) >= 2
	})
}

func TestBLEAPConfiguredRelayValidatesPersistsAndCreatesPrivMesh(t *testing.T) {
	fake := ipc.NewFake()
	cfg, _ := newTestConfig(t, fake)
	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	waitUntil(t, func() bool { return sup.mesh.PublicState() == domain.ConnConnected })

	ap := domain.APInfo{SSID: "home-ap", KeyMgmt: domain.KeyMgmtWPA2, Password: "hunter2"}
	sup.IPC().NotifyBLEAPConfigured(ap)

	waitUntil(t, func() bool { return sup.mesh.PrivateState() == domain.ConnConnected })

	found := false
	for _, persisted := range sup.cfg.APList() {
		if persisted.SSID == ap.SSID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected validated AP to be persisted to the config store")
	}
}

func TestPrivateMeshJoinedRelayPromotesRoleMachineToNoRole(t *testing.T) {
	cfg, _ := newTestConfig(t, ipc.NewFake())
	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sup.cfg.SetMeshInfo(domain.PrivateMesh, domain.MeshInfo{ESSID: "priv", Submask: "255.0.0.0", IP: "10.1.2.9", Channel: 6})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	waitUntil(t, func() bool { return sup.mesh.PrivateState() == domain.ConnConnected })
	waitUntil(t, func() bool { return sup.roleM.CurrentState() == role.StateNoRole })
}

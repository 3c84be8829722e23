package ssdp

import (
	"net"
	"sync"
	"testing"
	"time"
)

// fakeSocket is an in-memory Socket: WriteTo/WriteToGroup append to an
// outbox, ReadFrom drains an inbox queue fed directly by the test.
type fakeSocket struct {
	mu      sync.Mutex
	inbox   [][]byte
	sources []net.Addr
	outbox  [][]byte
	group   [][]byte
	closed  bool
}

func (f *fakeSocket) deliver(buf []byte, src net.Addr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, buf)
	f.sources = append(f.sources, src)
}

func (f *fakeSocket) ReadFrom(buf []byte, deadline time.Time) (int, net.Addr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Err: errTimeout{}}
	}
	n := copy(buf, f.inbox[0])
	src := f.sources[0]
	f.inbox = f.inbox[1:]
	f.sources = f.sources[1:]
	return n, src, nil
}

type errTimeout struct{}

func (errTimeout) Error() string   { return "i/o timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

func (f *fakeSocket) WriteToGroup(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.group = append(f.group, buf)
	return nil
}

func (f *fakeSocket) WriteTo(buf []byte, dst net.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbox = append(f.outbox, buf)
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeLister struct {
	ifaces []Interface
}

func (f fakeLister) List() ([]Interface, error) {
	return f.ifaces, nil
}

func testInterface() Interface {
	return Interface{Name: "eth0", IP: net.IPv4(192, 168, 1, 5), Mask: net.CIDRMask(24, 32)}
}

func newTestService(t *testing.T, sock *fakeSocket) *Service {
	t.Helper()
	lister := fakeLister{ifaces: []Interface{testInterface()}}
	factory := func(Interface) (Socket, error) { return sock, nil }
	return NewService(lister, factory, WithConfig(Config{
		USN: "dev-1", DevType: "hub",
		SelectTimeout: 5 * time.Millisecond, HeartbeatPeriod: time.Hour, NeighborTimeout: time.Minute,
	}))
}

func TestDispatchNotifyUpsertsNeighborAndFiresFound(t *testing.T) {
	sock := &fakeSocket{}
	svc := newTestService(t, sock)

	var found []Neighbor
	svc.OnNeighborFound = func(n Neighbor) { found = append(found, n) }

	pkt := Format(MethodNotify, map[string]string{"USN": "peer-1", "LOCATION": ":1900", "ST": "ora:mesh"})
	svc.dispatch(pkt, &net.UDPAddr{IP: net.IPv4(192, 168, 1, 9)}, "eth0")

	if svc.Neighbors() != 1 {
		t.Fatalf("expected 1 neighbor, got %d", svc.Neighbors())
	}
	if len(found) != 1 || found[0].USN != "peer-1" {
		t.Fatalf("expected OnNeighborFound to fire for peer-1, got %+v", found)
	}
}

func TestDispatchUnrecognizedDatagramFiresPacketReceivedAsRawMeshData(t *testing.T) {
	sock := &fakeSocket{}
	svc := newTestService(t, sock)

	var gotRaw []byte
	var gotCalled bool
	svc.OnPacketReceived = func(raw []byte, src net.Addr) { gotRaw = raw; gotCalled = true }

	raw := []byte{0x5e, 0xa7, 0x00, 0x01, 0x00, 0x00, 0x00, 0x2a}
	svc.dispatch(raw, &net.UDPAddr{IP: net.IPv4(192, 168, 1, 9)}, "eth0")

	if !gotCalled {
		t.Fatalf("expected OnPacketReceived to fire for a non-SSDP datagram")
	}
	if string(gotRaw) != string(raw) {
		t.Fatalf("expected raw bytes to pass through unmodified, got %v want %v", gotRaw, raw)
	}

	// A well-formed SSDP RESPONSE must NOT trigger OnPacketReceived — it is
	// consumed purely as a neighbor upsert.
	gotCalled = false
	resp := Format(MethodResponse, map[string]string{"USN": "peer-2", "LOCATION": ":1900", "ST": "ora:mesh"})
	svc.dispatch(resp, &net.UDPAddr{IP: net.IPv4(192, 168, 1, 9)}, "eth0")
	if gotCalled {
		t.Fatalf("expected RESPONSE packets not to trigger OnPacketReceived")
	}
}

func TestDispatchDiscardsPacketWithMismatchedSearchTarget(t *testing.T) {
	sock := &fakeSocket{}
	svc := newTestService(t, sock)

	var found []Neighbor
	svc.OnNeighborFound = func(n Neighbor) { found = append(found, n) }

	pkt := Format(MethodNotify, map[string]string{"USN": "stranger-1", "LOCATION": ":1900", "ST": "upnp:rootdevice"})
	svc.dispatch(pkt, &net.UDPAddr{IP: net.IPv4(192, 168, 1, 9)}, "eth0")

	if svc.Neighbors() != 0 {
		t.Fatalf("expected packet with foreign search target to be discarded, got %d neighbors", svc.Neighbors())
	}
	if len(found) != 0 {
		t.Fatalf("expected OnNeighborFound not to fire for a foreign search target, got %+v", found)
	}
}

func TestBroadcastDataAndUnicastDataUseBoundSockets(t *testing.T) {
	sock := &fakeSocket{}
	svc := newTestService(t, sock)
	if err := svc.refreshInterfaces(); err != nil {
		t.Fatalf("refreshInterfaces: %v", err)
	}

	roleEvent := []byte{0x5e, 0xa7, 0x00, 0x02}
	if err := svc.BroadcastData(roleEvent); err != nil {
		t.Fatalf("BroadcastData: %v", err)
	}
	if len(sock.group) != 1 {
		t.Fatalf("expected 1 group write from BroadcastData, got %d", len(sock.group))
	}

	dst := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 9), Port: 1900}
	if err := svc.UnicastData(roleEvent, dst); err != nil {
		t.Fatalf("UnicastData: %v", err)
	}
	if len(sock.outbox) != 1 {
		t.Fatalf("expected 1 direct write from UnicastData, got %d", len(sock.outbox))
	}
}

func TestRespondIfSameLANAnswersOnlyWithinSubnet(t *testing.T) {
	sock := &fakeSocket{}
	svc := newTestService(t, sock)
	if err := svc.refreshInterfaces(); err != nil {
		t.Fatalf("refreshInterfaces: %v", err)
	}

	// Same-subnet requester (192.168.1.0/24) gets a RESPONSE.
	svc.respondIfSameLAN(&net.UDPAddr{IP: net.IPv4(192, 168, 1, 42), Port: 1900}, "eth0")
	if len(sock.outbox) != 1 {
		t.Fatalf("expected 1 response for same-LAN requester, got %d", len(sock.outbox))
	}

	// Cross-subnet requester gets nothing.
	svc.respondIfSameLAN(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 1900}, "eth0")
	if len(sock.outbox) != 1 {
		t.Fatalf("expected cross-LAN requester to be ignored, outbox grew to %d", len(sock.outbox))
	}
}

func TestSendMSearchWritesToGroupOnEveryBoundSocket(t *testing.T) {
	sock := &fakeSocket{}
	svc := newTestService(t, sock)
	if err := svc.refreshInterfaces(); err != nil {
		t.Fatalf("refreshInterfaces: %v", err)
	}

	svc.SendMSearch()
	if len(sock.group) != 1 {
		t.Fatalf("expected 1 M-SEARCH broadcast, got %d", len(sock.group))
	}
	pkt, ok := Parse(sock.group[0])
	if !ok || pkt.Method != MethodMSearch {
		t.Fatalf("expected a parseable M-SEARCH packet, got %+v ok=%v", pkt, ok)
	}
}

func TestRefreshInterfacesClearsNeighborsOnInterfaceLoss(t *testing.T) {
	sock := &fakeSocket{}
	lister := &fakeLister{ifaces: []Interface{testInterface()}}
	factory := func(Interface) (Socket, error) { return sock, nil }
	svc := NewService(lister, factory, WithConfig(Config{USN: "dev-1", NeighborTimeout: time.Minute}))

	if err := svc.refreshInterfaces(); err != nil {
		t.Fatalf("refreshInterfaces: %v", err)
	}
	svc.table.Upsert(Neighbor{USN: "peer-1", Location: "loc-1"})
	if svc.Neighbors() != 1 {
		t.Fatalf("expected 1 neighbor before interface loss")
	}

	lister.ifaces = nil
	if err := svc.refreshInterfaces(); err != nil {
		t.Fatalf("refreshInterfaces after loss: %v", err)
	}
	if !sock.closed {
		t.Fatalf("expected socket to be closed on interface loss")
	}
	if svc.Neighbors() != 0 {
		t.Fatalf("expected neighbor table cleared on interface loss, got %d", svc.Neighbors())
	}
}

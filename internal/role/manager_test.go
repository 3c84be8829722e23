package role

import (
	"context"
	"sync"
	"testing"
	"time"

	"fastsetupd/internal/domain"
	"fastsetupd/internal/ferrors"
	"fastsetupd/internal/roleevent"

	"errors"
)

// fakeNet wires a fixed set of Managers together in-process, handing each
// broadcast/unicast straight to RecvDataPacket the way a real mesh socket
// would hand it a received datagram.
type fakeNet struct {
	mu    sync.Mutex
	peers map[domain.DeviceID]*Manager
}

func newFakeNet() *fakeNet {
	return &fakeNet{peers: make(map[domain.DeviceID]*Manager)}
}

func (n *fakeNet) register(id domain.DeviceID, m *Manager) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[id] = m
}

func (n *fakeNet) broadcast(from domain.DeviceID, payload []byte) error {
	n.mu.Lock()
	targets := make([]*Manager, 0, len(n.peers))
	for id, m := range n.peers {
		if id == from {
			continue
		}
		targets = append(targets, m)
	}
	n.mu.Unlock()
	for _, m := range targets {
		_ = m.RecvDataPacket(from, payload)
	}
	return nil
}

func (n *fakeNet) unicast(from, to domain.DeviceID, payload []byte) error {
	n.mu.Lock()
	m := n.peers[to]
	n.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.RecvDataPacket(from, payload)
}

type netDelivery struct {
	net *fakeNet
	id  domain.DeviceID
}

func (d netDelivery) Broadcast(payload []byte) error { return d.net.broadcast(d.id, payload) }
func (d netDelivery) Unicast(target domain.DeviceID, payload []byte) error {
	return d.net.unicast(d.id, target, payload)
}
func (d netDelivery) Multicast(payload []byte) error { return d.net.broadcast(d.id, payload) }

type fakeValidator struct{ ok bool }

func (v fakeValidator) ValidateAP(context.Context) (bool, error) { return v.ok, nil }

type fakeRSSI int

func (r fakeRSSI) RSSI() int { return int(r) }

const testTimer = 80 * time.Millisecond

func testOption() Option {
	return WithTimings(testTimer, testTimer, testTimer, testTimer, testTimer, testTimer)
}

func TestSetStateEntersNoRole(t *testing.T) {
	net := newFakeNet()
	m := NewManager(1, netDelivery{net: net, id: 1}, fakeValidator{ok: true}, fakeRSSI(-50), testOption())
	net.register(1, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	defer m.Stop()

	m.SetState(StateNoRole)
	waitForState(t, m, StateNoRole)
}

func TestRecvDataPacketRejectsSenderMismatch(t *testing.T) {
	net := newFakeNet()
	m := NewManager(1, netDelivery{net: net, id: 1}, fakeValidator{ok: true}, fakeRSSI(-50), testOption())

	ev := roleevent.Event{ID: roleevent.IDQueryMasterInfo, Sender: 2, Kind: roleevent.KindBroadcast}
	err := m.RecvDataPacket(3, ev.Encode())
	if !errors.Is(err, ferrors.ProtocolViolation) {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}

// TestTieBreakElectsLowerDeviceIDYieldsToDefiner exercises the two-peer
// election: the higher device id yields into PRE_ROLE on the
// QUERY_MASTER_INFO exchange, the lower id stays in NO_ROLE, times out and
// becomes DEFINER. Only the higher id can reach an external AP in this
// scenario, so the DEFINER invites it with SET_MASTER_INFO, the higher id
// claims MASTER, and the lower id follows as SLAVE.
func TestTieBreakElectsLowerDeviceIDYieldsToDefiner(t *testing.T) {
	net := newFakeNet()

	lowValidator := fakeValidator{ok: false}
	highValidator := fakeValidator{ok: true}

	low := NewManager(10, netDelivery{net: net, id: 10}, lowValidator, fakeRSSI(-60), testOption())
	high := NewManager(20, netDelivery{net: net, id: 20}, highValidator, fakeRSSI(-40), testOption())
	net.register(10, low)
	net.register(20, high)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go low.Run(ctx)
	go high.Run(ctx)
	defer low.Stop()
	defer high.Stop()

	low.SetState(StateNoRole)
	high.SetState(StateNoRole)

	waitForState(t, high, StateMaster)
	waitForState(t, low, StateSlave)

	master, ok := low.Master()
	if !ok || master.DeviceID != 20 {
		t.Fatalf("expected low to follow device 20 as master, got %+v ok=%v", master, ok)
	}
}

// TestElectionSafetyOnlyOneMaster runs a three-peer election where every
// peer can reach an external AP and asserts exactly one ends up MASTER
// (spec.md §8 invariant 5).
func TestElectionSafetyOnlyOneMaster(t *testing.T) {
	net := newFakeNet()
	ids := []domain.DeviceID{1, 2, 3}
	managers := make(map[domain.DeviceID]*Manager, len(ids))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range ids {
		m := NewManager(id, netDelivery{net: net, id: id}, fakeValidator{ok: true}, fakeRSSI(-50), testOption())
		net.register(id, m)
		managers[id] = m
		go m.Run(ctx)
		defer m.Stop()
	}
	for _, m := range managers {
		m.SetState(StateNoRole)
	}

	deadline := time.After(2 * time.Second)
	for {
		masters := 0
		for _, m := range managers {
			if m.CurrentState() == StateMaster {
				masters++
			}
		}
		if masters >= 1 {
			if masters != 1 {
				t.Fatalf("expected exactly one master, got %d", masters)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no master elected before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func waitForState(t *testing.T, m *Manager, want StateKind) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if m.CurrentState() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state never reached %v, stuck at %v", want, m.CurrentState())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

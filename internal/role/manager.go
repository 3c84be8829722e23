// Package role implements the Role State Machine (RSM) of spec.md §4.5: a
// distributed leader election run independently by every peer on the
// private mesh, driven by ROLE_EVENT datagrams and local timers.
//
// Each state is its own type implementing a small interface, dispatched
// through a single table covering every (state, event) pair — the Go
// reshaping of the original per-state class hierarchy (spec.md §9).
package role

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fastsetupd/internal/domain"
	"fastsetupd/internal/ferrors"
	"fastsetupd/internal/roleevent"
	"fastsetupd/internal/telemetry"
	"fastsetupd/pkg/sdk/defaults"

	"go.opentelemetry.io/otel/attribute"
)

// StateKind identifies one of the RSM's states.
type StateKind int

const (
	StateNone StateKind = iota
	StateNoRole
	StatePreRole
	StateDefiner
	StateSlave
	StateMaster
)

func (k StateKind) String() string {
	switch k {
	case StateNoRole:
		return "NO_ROLE"
	case StatePreRole:
		return "PRE_ROLE"
	case StateDefiner:
		return "DEFINER"
	case StateSlave:
		return "SLAVE"
	case StateMaster:
		return "MASTER"
	default:
		return "NONE"
	}
}

// state is the per-state behavior: entry/exit actions plus event dispatch.
type state interface {
	Kind() StateKind
	Enter(m *Manager)
	Exit(m *Manager)
	Handle(m *Manager, ev roleevent.Event)
}

func stateFor(kind StateKind) state {
	switch kind {
	case StateNoRole:
		return noRoleState{}
	case StatePreRole:
		return preRoleState{}
	case StateDefiner:
		return definerState{}
	case StateSlave:
		return slaveState{}
	case StateMaster:
		return masterState{}
	default:
		return noneState{}
	}
}

type forceStateCmd struct{ kind StateKind }

// timings holds the RSM's timer durations, defaulted from pkg/sdk/defaults
// and overridable via WithTimings so tests don't wait out real 8s timers.
type timings struct {
	noRole          time.Duration
	preRole         time.Duration
	definer         time.Duration
	masterHeartbeat time.Duration
	slaveGrace      time.Duration
	ipcSync         time.Duration
}

func defaultTimings() timings {
	return timings{
		noRole:          defaults.RoleTimerNoRole,
		preRole:         defaults.RoleTimerPreRole,
		definer:         defaults.RoleTimerDefiner,
		masterHeartbeat: defaults.RoleMasterHeartbeatInterval,
		slaveGrace:      defaults.RoleSlaveHeartbeatGrace,
		ipcSync:         defaults.IPCSyncTimeout,
	}
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithTimings overrides the RSM's state timers, e.g. to shrink them in tests.
func WithTimings(noRole, preRole, definer, masterHeartbeat, slaveGrace, ipcSync time.Duration) Option {
	return func(m *Manager) {
		m.timings = timings{
			noRole:          noRole,
			preRole:         preRole,
			definer:         definer,
			masterHeartbeat: masterHeartbeat,
			slaveGrace:      slaveGrace,
			ipcSync:         ipcSync,
		}
	}
}

// Manager runs the RSM's single worker loop. The active state value
// (current) is owned exclusively by that loop; everything else an outside
// caller may read (CurrentState, Master) goes through mu.
type Manager struct {
	deviceID  domain.DeviceID
	delivery  DataDelivery
	validator APValidator
	rssi      RSSISource

	queue *cmdQueue

	mu          sync.RWMutex
	currentKind StateKind
	master      domain.MasterInfo
	masterKnown bool

	current  state
	timer    *time.Timer
	timerGen atomic.Uint64
	timings  timings
}

// NewManager builds an idle Manager in state NONE. It does not start
// electing until SetState(StateNoRole) is called — per spec.md §4.4, that
// call is the Daemon Supervisor's relay of NW_PRIV_MESH_JOINED(true).
func NewManager(deviceID domain.DeviceID, delivery DataDelivery, validator APValidator, rssi RSSISource, opts ...Option) *Manager {
	m := &Manager{
		deviceID:  deviceID,
		delivery:  delivery,
		validator: validator,
		rssi:      rssi,
		queue:     newCmdQueue(),
		current:   noneState{},
		timings:   defaultTimings(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CurrentState reports the RSM's present state.
func (m *Manager) CurrentState() StateKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentKind
}

// Master reports the last known elected master, if any has been learned.
func (m *Manager) Master() (domain.MasterInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.master, m.masterKnown
}

// SetState forces a state transition, queued onto the RSM's own worker so
// the single-owner invariant on current holds even though the caller (the
// Daemon Supervisor) runs on a different goroutine.
func (m *Manager) SetState(kind StateKind) {
	m.queue.push(forceStateCmd{kind: kind})
}

// RecvDataPacket decodes a raw mesh datagram and forwards it to the RSM
// worker. sender is the datagram's transport-level source, checked against
// the envelope's own sender field (spec.md §8 invariant 4).
func (m *Manager) RecvDataPacket(sender domain.DeviceID, raw []byte) error {
	ev, err := roleevent.Decode(raw)
	if err != nil {
		return err
	}
	if ev.Sender != sender {
		return fmt.Errorf("role recv data packet: envelope sender %d does not match datagram source %d: %w",
			ev.Sender, sender, ferrors.ProtocolViolation)
	}
	m.queue.push(ev)
	return nil
}

// Run drives the worker loop until ctx is canceled or Stop is called.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-m.queue.out:
			if !ok {
				return
			}
			switch c := cmd.(type) {
			case roleevent.Event:
				m.dispatch(c)
			case forceStateCmd:
				m.transition(stateFor(c.kind))
			}
		}
	}
}

// Stop tears down the worker's queue.
func (m *Manager) Stop() {
	m.queue.close()
}

func (m *Manager) dispatch(ev roleevent.Event) {
	_, span := telemetry.Tracer().Start(context.Background(), "role.dispatch")
	span.SetAttributes(
		attribute.String("role.state", m.current.Kind().String()),
		attribute.Int("role.event_id", int(ev.ID)),
	)
	defer span.End()
	m.current.Handle(m, ev)
}

func (m *Manager) transition(next state) {
	_, span := telemetry.Tracer().Start(context.Background(), "role.transition")
	defer span.End()

	from := m.current.Kind()
	m.current.Exit(m)
	m.cancelTimer()
	m.current = next

	m.mu.Lock()
	m.currentKind = next.Kind()
	m.mu.Unlock()

	span.SetAttributes(attribute.String("role.from", from.String()), attribute.String("role.to", next.Kind().String()))
	slog.Info("role transition", "from", from, "to", next.Kind())

	next.Enter(m)
}

func (m *Manager) saveMaster(info domain.MasterInfo) {
	m.mu.Lock()
	m.master = info
	m.masterKnown = true
	m.mu.Unlock()
}

func (m *Manager) protocolViolation(ev roleevent.Event) {
	slog.Warn("role event unexpected in current state", "state", m.current.Kind(), "event_id", ev.ID, "err", ferrors.ProtocolViolation)
}

// sendEvent hands ev to the data-delivery port per its Kind (spec.md §9's
// SendEvent design note). TIMEOUT events never leave the process; they
// only exist as a queue entry synthesized by scheduleTimer's callback.
func (m *Manager) sendEvent(ev roleevent.Event) {
	buf := ev.Encode()
	var err error
	switch ev.Kind {
	case roleevent.KindBroadcast:
		err = m.delivery.Broadcast(buf)
	case roleevent.KindUnicast:
		err = m.delivery.Unicast(ev.Sender, buf)
	case roleevent.KindMulticast:
		err = m.delivery.Multicast(buf)
	default:
		return
	}
	if err != nil {
		slog.Warn("role send event failed", "event_id", ev.ID, "kind", ev.Kind, "err", err)
	}
}

// scheduleTimer arms the state's single outstanding timer, replacing any
// timer already running. The fired callback is tagged with a generation
// number so a timer canceled mid-flight (by cancelTimer or a reschedule)
// can never deliver a stale TIMER_TIMEOUT.
func (m *Manager) scheduleTimer(d time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	gen := m.timerGen.Add(1)
	m.timer = time.AfterFunc(d, func() {
		if m.timerGen.Load() != gen {
			return
		}
		m.queue.push(roleevent.Event{ID: roleevent.IDTimerTimeout, Sender: m.deviceID, Kind: roleevent.KindTimeout})
	})
}

func (m *Manager) cancelTimer() {
	m.timerGen.Add(1)
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

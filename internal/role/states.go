package role

import (
	"context"
	"log/slog"

	"fastsetupd/internal/domain"
	"fastsetupd/internal/roleevent"
)

// noneState is the RSM's idle state before the private mesh has ever been
// joined. It exists only so Manager always has a non-nil current state.
type noneState struct{}

func (noneState) Kind() StateKind { return StateNone }
func (noneState) Enter(*Manager)  {}
func (noneState) Exit(*Manager)   {}
func (noneState) Handle(m *Manager, ev roleevent.Event) {
	slog.Debug("role event dropped before first SetState", "event_id", ev.ID)
}

// noRoleState: fresh on the private mesh, canvassing for an existing
// master. A peer that hears a query from a lower device id yields to
// PRE_ROLE, so the lowest id stays in NO_ROLE and times out into DEFINER.
type noRoleState struct{}

func (noRoleState) Kind() StateKind { return StateNoRole }

func (noRoleState) Enter(m *Manager) {
	m.scheduleTimer(m.timings.noRole)
	m.sendEvent(roleevent.Event{ID: roleevent.IDQueryMasterInfo, Sender: m.deviceID, Kind: roleevent.KindBroadcast})
}

func (noRoleState) Exit(*Manager) {}

func (noRoleState) Handle(m *Manager, ev roleevent.Event) {
	switch ev.ID {
	case roleevent.IDQueryMasterInfo:
		if ev.Sender < m.deviceID {
			m.transition(preRoleState{})
		}
	case roleevent.IDDefinerDetected:
		m.transition(preRoleState{})
	case roleevent.IDMasterDetected:
		if info, ok := decodeMasterInfo(ev.Payload); ok {
			m.saveMaster(info)
			m.transition(slaveState{})
		}
	case roleevent.IDTimerTimeout:
		m.transition(definerState{})
	default:
		m.protocolViolation(ev)
	}
}

// preRoleState: standing by for the DEFINER's candidacy. A receiver that
// can itself reach an external network claims MASTER; otherwise it takes
// over as DEFINER and tries the next candidate.
type preRoleState struct{}

func (preRoleState) Kind() StateKind { return StatePreRole }

func (preRoleState) Enter(m *Manager) {
	m.scheduleTimer(m.timings.preRole)
}

func (preRoleState) Exit(*Manager) {}

func (preRoleState) Handle(m *Manager, ev roleevent.Event) {
	switch ev.ID {
	case roleevent.IDSetMasterInfo:
		if m.claimMasterIfReachable() {
			return
		}
		m.transition(definerState{})
	case roleevent.IDMasterDetected:
		if info, ok := decodeMasterInfo(ev.Payload); ok {
			m.saveMaster(info)
			m.transition(slaveState{})
		}
	case roleevent.IDFetchAPRSSI:
		m.sendEvent(roleevent.Event{ID: roleevent.IDFetchAPRSSIResp, Sender: ev.Sender, Kind: roleevent.KindUnicast, Payload: encodeRSSI(m.rssi.RSSI())})
	case roleevent.IDTimerTimeout:
		m.transition(noRoleState{})
	default:
		m.protocolViolation(ev)
	}
}

// definerState: the peer that timed out first in NO_ROLE, nominated to
// validate external connectivity. Resolves spec.md's open question on
// DEFINER's entry action (see DESIGN.md): on entry it announces itself as
// DEFINER, then validates immediately; it claims MASTER on success, or
// invites the PRE_ROLE cohort with SET_MASTER_INFO and falls back to
// PRE_ROLE on failure. Its own timeout also returns it to PRE_ROLE.
type definerState struct{}

func (definerState) Kind() StateKind { return StateDefiner }

func (definerState) Enter(m *Manager) {
	m.scheduleTimer(m.timings.definer)

	// Announce candidacy so any NO_ROLE stragglers stand down into PRE_ROLE.
	m.sendEvent(roleevent.Event{ID: roleevent.IDDefinerDetected, Sender: m.deviceID, Kind: roleevent.KindBroadcast})

	if m.claimMasterIfReachable() {
		return
	}

	// Can't reach an external network itself: invite the PRE_ROLE cohort
	// to try, and rejoin them so it is eligible for the next round too.
	m.sendEvent(roleevent.Event{ID: roleevent.IDSetMasterInfo, Sender: m.deviceID, Kind: roleevent.KindBroadcast})
	m.transition(preRoleState{})
}

func (definerState) Exit(*Manager) {}

func (definerState) Handle(m *Manager, ev roleevent.Event) {
	switch ev.ID {
	case roleevent.IDMasterDetected:
		if info, ok := decodeMasterInfo(ev.Payload); ok {
			m.saveMaster(info)
			m.transition(slaveState{})
		}
	case roleevent.IDTimerTimeout:
		m.transition(preRoleState{})
	default:
		m.protocolViolation(ev)
	}
}

// slaveState: follows an elected master, re-electing if its heartbeat goes
// silent past the grace period.
type slaveState struct{}

func (slaveState) Kind() StateKind { return StateSlave }

func (slaveState) Enter(m *Manager) {
	m.scheduleTimer(m.timings.slaveGrace)
}

func (slaveState) Exit(*Manager) {}

func (slaveState) Handle(m *Manager, ev roleevent.Event) {
	switch ev.ID {
	case roleevent.IDMasterHeartbeat:
		m.scheduleTimer(m.timings.slaveGrace)
	case roleevent.IDMasterDetected:
		if info, ok := decodeMasterInfo(ev.Payload); ok {
			m.saveMaster(info)
		}
	case roleevent.IDTimerTimeout:
		m.transition(noRoleState{})
	default:
		m.protocolViolation(ev)
	}
}

// masterState: the elected leader. Answers queries, serves RSSI, and
// drives the mesh's periodic heartbeat.
type masterState struct{}

func (masterState) Kind() StateKind { return StateMaster }

func (masterState) Enter(m *Manager) {
	m.saveMaster(domain.MasterInfo{DeviceID: m.deviceID})
	m.scheduleTimer(m.timings.masterHeartbeat)
}

func (masterState) Exit(*Manager) {}

func (masterState) Handle(m *Manager, ev roleevent.Event) {
	switch ev.ID {
	case roleevent.IDTimerTimeout:
		m.sendEvent(roleevent.Event{ID: roleevent.IDMasterHeartbeat, Sender: m.deviceID, Kind: roleevent.KindBroadcast})
		m.scheduleTimer(m.timings.masterHeartbeat)
	case roleevent.IDQueryMasterInfo:
		info, _ := m.Master()
		m.sendEvent(roleevent.Event{ID: roleevent.IDMasterDetected, Sender: ev.Sender, Kind: roleevent.KindUnicast, Payload: encodeMasterInfo(info)})
	case roleevent.IDFetchAPRSSI:
		m.sendEvent(roleevent.Event{ID: roleevent.IDFetchAPRSSIResp, Sender: ev.Sender, Kind: roleevent.KindUnicast, Payload: encodeRSSI(m.rssi.RSSI())})
	default:
		m.protocolViolation(ev)
	}
}

// claimMasterIfReachable validates external AP connectivity and, on
// success, announces and adopts MASTER. Shared by PRE_ROLE's
// SET_MASTER_INFO handler and DEFINER's entry action.
func (m *Manager) claimMasterIfReachable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.timings.ipcSync)
	defer cancel()

	ok, err := m.validator.ValidateAP(ctx)
	if err != nil {
		slog.Warn("role ap validate failed", "err", err)
	}
	if !ok {
		return false
	}

	info := domain.MasterInfo{DeviceID: m.deviceID}
	m.saveMaster(info)
	m.sendEvent(roleevent.Event{ID: roleevent.IDMasterDetected, Sender: m.deviceID, Kind: roleevent.KindBroadcast, Payload: encodeMasterInfo(info)})
	m.transition(masterState{})
	return true
}

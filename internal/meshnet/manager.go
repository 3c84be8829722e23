package meshnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"fastsetupd/internal/bus"
	"fastsetupd/internal/configstore"
	"fastsetupd/internal/domain"
	"fastsetupd/internal/ferrors"
	"fastsetupd/internal/role"
	"fastsetupd/internal/roleevent"
	"fastsetupd/internal/telemetry"
	"fastsetupd/pkg/sdk/defaults"

	"go.opentelemetry.io/otel/attribute"
)

// SubscriberID is the bus identity the Network Orchestrator registers under.
const SubscriberID = "network"

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithIPCTimeout overrides the default enclosing deadline for IPC sync waits.
func WithIPCTimeout(d time.Duration) Option {
	return func(m *Manager) { m.ipcTimeout = d }
}

// Manager is the Network Orchestrator of spec.md §4.2: it owns current mesh
// membership and mediates every mesh-lifecycle IPC request, driving two
// independent (but mutually exclusive in CONNECTED) mesh lifecycle FSMs —
// one for the public mesh, one for the private one. Grounded on
// CNetworkService (original_source/Network.cpp): JoinMeshNetwork's two
// sequential IPC round trips become two correlator.Wait calls, and
// OnMsgProcedure's reply handling becomes Run's bus dispatch.
type Manager struct {
	b          *bus.Bus
	sub        *bus.Subscriber
	correlator *bus.Correlator
	cfg        *configstore.Store
	transport  MeshTransport

	ipcTimeout time.Duration
	userID     string
	groupID    string

	mu          sync.Mutex
	publicState domain.ConnState
	privState   domain.ConnState
	apState     domain.ConnState
	joiningRole domain.MeshRole
	publicMesh  domain.MeshInfo
	privMesh    domain.MeshInfo

	validateMu sync.Mutex
	validating bool

	addrMu   sync.Mutex
	addrBook map[domain.DeviceID]net.Addr

	roleRecv RoleReceiver
	roleMgr  *role.Manager
}

// NewManager builds a Manager subscribed to b, with cfg as its persistence
// backend and transport as its SSDP-shared send path. userID/groupID derive
// the mesh ESSIDs (spec.md §3 PublicESSID/PrivateESSID).
func NewManager(b *bus.Bus, cfg *configstore.Store, transport MeshTransport, userID, groupID string, opts ...Option) *Manager {
	m := &Manager{
		b:          b,
		sub:        b.Subscribe(SubscriberID),
		correlator: bus.NewCorrelator(),
		cfg:        cfg,
		transport:  transport,
		ipcTimeout: defaults.IPCSyncTimeout,
		userID:     userID,
		groupID:    groupID,
		addrBook:   make(map[domain.DeviceID]net.Addr),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BindRoleReceiver attaches the Role State Machine's inbound data-packet
// port. Must be called once, after role.NewManager is constructed with this
// Manager as its DataDelivery (spec.md §4.4's construction-order rule).
func (m *Manager) BindRoleReceiver(rr RoleReceiver) {
	m.roleRecv = rr
	if rm, ok := rr.(*role.Manager); ok {
		m.roleMgr = rm
	}
}

// HandleRawPacket is wired as the SSDP Service's OnPacketReceived callback:
// every datagram sharing the discovery socket that isn't itself an SSDP
// packet is a raw ROLE_EVENT destined for the Role State Machine. The
// envelope's own sender field is recorded against src so a later Unicast
// can address this peer directly (original source gives no concrete
// device-id <-> transport-address mapping beyond the observed packet).
func (m *Manager) HandleRawPacket(raw []byte, src net.Addr) {
	ev, err := roleevent.Decode(raw)
	if err != nil {
		slog.Warn("meshnet: dropping malformed mesh datagram", "error", err)
		return
	}

	m.addrMu.Lock()
	m.addrBook[ev.Sender] = src
	m.addrMu.Unlock()

	if m.roleRecv == nil {
		return
	}
	if err := m.roleRecv.RecvDataPacket(ev.Sender, raw); err != nil {
		slog.Warn("meshnet: role recv data packet failed", "error", err)
	}
}

// Broadcast implements role.DataDelivery by proxying onto the SSDP socket's
// shared mesh-data transport.
func (m *Manager) Broadcast(payload []byte) error {
	return m.transport.BroadcastData(payload)
}

// Multicast implements role.DataDelivery.
func (m *Manager) Multicast(payload []byte) error {
	return m.transport.MulticastData(payload)
}

// Unicast implements role.DataDelivery, resolving target to the transport
// address most recently observed for it.
func (m *Manager) Unicast(target domain.DeviceID, payload []byte) error {
	m.addrMu.Lock()
	addr, ok := m.addrBook[target]
	m.addrMu.Unlock()
	if !ok {
		return fmt.Errorf("meshnet: no known transport address for device %d", target)
	}
	return m.transport.UnicastData(payload, addr)
}

// AsRoleAPValidator adapts m's validate_ap logic to role.APValidator's
// parameterless port, checking reachability of the most recently
// configured access point (the RSM's own candidacy check, distinct from
// the NO's public ValidateAP(ctx, ap) operation — the two differ in
// signature so cannot share one method name).
func (m *Manager) AsRoleAPValidator() role.APValidator {
	return roleAPValidatorAdapter{m: m}
}

type roleAPValidatorAdapter struct{ m *Manager }

func (a roleAPValidatorAdapter) ValidateAP(ctx context.Context) (bool, error) {
	aps := a.m.cfg.APList()
	if len(aps) == 0 {
		return false, nil
	}
	return a.m.ValidateAP(ctx, aps[len(aps)-1])
}

// Start kicks off the Start-sequence of spec.md §4.2: if a valid private
// MeshInfo is persisted, join it directly; otherwise synthesize (if
// needed) and join the public mesh. The join itself runs on its own
// goroutine since it blocks on IPC sync waits that Run's own dispatch
// loop must remain free to resolve (spec.md §5).
func (m *Manager) Start(ctx context.Context) {
	if priv, ok := m.cfg.MeshInfo(domain.PrivateMesh); ok && priv.Valid() {
		m.mu.Lock()
		m.privMesh = priv
		m.privState = domain.ConnConnecting
		m.mu.Unlock()
		go m.joinMesh(ctx, domain.PrivateMesh, priv)
		return
	}

	pub, ok := m.cfg.MeshInfo(domain.PublicMesh)
	if !ok || !pub.Valid() {
		pub = domain.MeshInfo{
			ESSID:   domain.PublicESSID(m.userID),
			Submask: defaults.DefaultMeshSubmask,
			IP:      "10.1.2.3", // TODO: derive from this device's own hardware identity.
			Channel: defaults.DefaultMeshChannel,
		}
		m.cfg.SetMeshInfo(domain.PublicMesh, pub)
		if err := m.cfg.Save(); err != nil {
			slog.Warn("meshnet: persist synthesized public mesh failed", "error", err)
		}
	}
	m.mu.Lock()
	m.publicMesh = pub
	m.publicState = domain.ConnConnecting
	m.mu.Unlock()
	go m.joinMesh(ctx, domain.PublicMesh, pub)
}

// Run drains the bus until ctx is canceled or a Quit message arrives,
// resolving every IPC reply's correlator waiter and reacting to the
// asynchronous outcomes spec.md §4.2 describes (mesh-join side effects,
// scan results).
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-m.sub.Messages():
			if !ok {
				return
			}
			if msg.Kind == bus.KindQuit {
				return
			}
			m.handle(ctx, msg)
		}
	}
}

// Stop unblocks every in-flight correlator wait and unsubscribes from the bus.
func (m *Manager) Stop() {
	m.correlator.Cancel()
	m.b.Unsubscribe(SubscriberID)
}

func (m *Manager) handle(ctx context.Context, msg bus.Message) {
	resp, ok := msg.Payload.(bus.RespPayload)
	if !ok {
		return
	}

	switch msg.Kind {
	case bus.KindIPCSetMeshInfoResp, bus.KindIPCStopMeshResp, bus.KindIPCAPConnectResp, bus.KindIPCAPDisconnectResp:
		m.correlator.Resolve(resp.ReqID, resp.Body)

	case bus.KindIPCStartMeshResp:
		m.handleStartMeshResp(ctx, resp)

	case bus.KindIPCScanPrivMeshResp:
		m.handleScanPrivMeshResp(ctx, resp)
	}
}

func (m *Manager) handleStartMeshResp(ctx context.Context, resp bus.RespPayload) {
	body, _ := resp.Body.(bus.StartMeshResp)

	m.mu.Lock()
	joining := m.joiningRole
	if body.OK {
		m.setStateLocked(joining, domain.ConnConnected)
	} else {
		m.setStateLocked(joining, domain.ConnDisconnected)
	}
	publicMesh := m.publicMesh
	m.mu.Unlock()

	kind := bus.KindNWPublicMeshJoined
	if joining == domain.PrivateMesh {
		kind = bus.KindNWPrivMeshJoined
	}
	m.b.Publish(bus.Message{Kind: kind, Payload: bus.MeshJoined{Role: joining, OK: body.OK}})

	if !body.OK && joining == domain.PrivateMesh {
		// Auto-fallback (spec.md §4.2, scenario 6): re-join public on a
		// separate goroutine so this dispatch loop stays free to resolve
		// the fallback join's own IPC replies.
		go m.joinMesh(ctx, domain.PublicMesh, publicMesh)
	}

	m.correlator.Resolve(resp.ReqID, body)
}

func (m *Manager) handleScanPrivMeshResp(ctx context.Context, resp bus.RespPayload) {
	body, _ := resp.Body.(bus.ScanPrivMeshResp)

	if body.Timeout || body.Mesh == nil {
		m.b.Publish(bus.Message{Kind: bus.KindNWScanNetworkTimeout})
		return
	}

	mesh := *body.Mesh
	m.b.Publish(bus.Message{Kind: bus.KindNWPrivMeshFound, Payload: bus.PrivMeshFound{Mesh: mesh}})
	go m.privateMeshFound(ctx, mesh)
}

// privateMeshFound leaves whichever mesh is presently connected and joins
// the newly found private one (original: PrivateMeshNetworkFound). Must
// run off Run's own goroutine: both legs block on IPC sync waits.
func (m *Manager) privateMeshFound(ctx context.Context, mesh domain.MeshInfo) {
	m.mu.Lock()
	leaving := domain.PublicMesh
	shouldLeave := m.publicState == domain.ConnConnected
	if m.privState == domain.ConnConnected {
		leaving, shouldLeave = domain.PrivateMesh, true
	}
	m.privMesh = mesh
	m.mu.Unlock()

	if shouldLeave {
		m.leaveMesh(ctx, leaving)
	}

	m.mu.Lock()
	m.privState = domain.ConnConnecting
	m.mu.Unlock()
	m.joinMesh(ctx, domain.PrivateMesh, mesh)
}

// ScanNetwork issues IPC_SCAN_PRIV_MESH and starts an SSDP M-SEARCH round.
// The outcome arrives asynchronously as NW_PRIV_MESH_FOUND or
// NW_SCAN_NETWORK_TIMEOUT (spec.md §4.2); ScanNetwork itself never blocks.
func (m *Manager) ScanNetwork() {
	m.b.Publish(bus.Message{Kind: bus.KindIPCScanPrivMesh, Payload: bus.ReqPayload{Body: bus.ScanPrivMeshReq{}}})
	m.transport.SendMSearch()
}

// CreatePrivMesh synthesizes a private MeshInfo from (user_id, group_id),
// persists it, and leaves the public mesh to join it. No-op if already
// connected to a private mesh. Must be called from a goroutine other than
// this Manager's own Run loop, since it blocks on the join's IPC waits.
func (m *Manager) CreatePrivMesh(ctx context.Context) {
	m.mu.Lock()
	if m.privState == domain.ConnConnected {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	mesh := domain.MeshInfo{
		ESSID:   domain.PrivateESSID(m.userID, m.groupID),
		Submask: defaults.DefaultMeshSubmask,
		IP:      "10.1.2.3", // TODO: derive from this device's own hardware identity.
		Channel: defaults.DefaultMeshChannel,
	}
	m.cfg.SetMeshInfo(domain.PrivateMesh, mesh)
	if err := m.cfg.Save(); err != nil {
		slog.Warn("meshnet: persist private mesh failed", "error", err)
	}

	m.b.Publish(bus.Message{Kind: bus.KindNWPrivMeshFound, Payload: bus.PrivMeshFound{Mesh: mesh}})
	m.privateMeshFound(ctx, mesh)
}

// ValidateAP is the NO's public synchronous AP probe (spec.md §4.2): it
// publishes IPC_AP_CONNECT, blocks for the reply, and on success publishes
// an immediate IPC_AP_DISCONNECT (fire-and-forget, matching the original's
// ValidateAPConnection). Only one validate_ap may be in flight; a
// concurrent call fails with ferrors.Busy.
func (m *Manager) ValidateAP(ctx context.Context, ap domain.APInfo) (bool, error) {
	if !m.tryBeginValidate() {
		return false, ferrors.Busy
	}
	defer m.endValidate()

	ctx, cancel := context.WithTimeout(ctx, m.ipcTimeout)
	defer cancel()

	reqID := m.correlator.NewRequest()
	m.b.Publish(bus.Message{Kind: bus.KindIPCAPConnect, Payload: bus.ReqPayload{ReqID: reqID, Body: bus.APConnectReq{AP: ap}}})
	body, err := m.waitIPC(ctx, reqID)
	if err != nil {
		return false, err
	}
	resp := body.(bus.APConnectResp)
	if resp.Connected {
		m.b.Publish(bus.Message{Kind: bus.KindIPCAPDisconnect, Payload: bus.ReqPayload{Body: bus.APDisconnectReq{}}})
	}
	return resp.Connected, nil
}

func (m *Manager) tryBeginValidate() bool {
	m.validateMu.Lock()
	defer m.validateMu.Unlock()
	if m.validating {
		return false
	}
	m.validating = true
	return true
}

func (m *Manager) endValidate() {
	m.validateMu.Lock()
	m.validating = false
	m.validateMu.Unlock()
}

// ConnectExternalNetwork publishes IPC_AP_CONNECT for the most recently
// configured AP and blocks for the reply. Valid only in role MASTER
// (spec.md §4.2).
func (m *Manager) ConnectExternalNetwork(ctx context.Context) error {
	if m.roleMgr == nil || m.roleMgr.CurrentState() != role.StateMaster {
		return fmt.Errorf("meshnet: connect external network requires MASTER role: %w", ferrors.ProtocolViolation)
	}

	aps := m.cfg.APList()
	if len(aps) == 0 {
		return fmt.Errorf("meshnet: no configured access point")
	}
	ap := aps[len(aps)-1]

	ctx, cancel := context.WithTimeout(ctx, m.ipcTimeout)
	defer cancel()

	m.setAPState(domain.ConnConnecting)
	reqID := m.correlator.NewRequest()
	m.b.Publish(bus.Message{Kind: bus.KindIPCAPConnect, Payload: bus.ReqPayload{ReqID: reqID, Body: bus.APConnectReq{AP: ap}}})
	body, err := m.waitIPC(ctx, reqID)
	if err != nil {
		m.setAPState(domain.ConnDisconnected)
		return err
	}
	resp := body.(bus.APConnectResp)
	if resp.Connected {
		m.setAPState(domain.ConnConnected)
	} else {
		m.setAPState(domain.ConnDisconnected)
	}
	return nil
}

// APConnStatus returns the current external AP connection state.
func (m *Manager) APConnStatus() domain.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apState
}

// joinMesh runs the two-step join handshake of spec.md §4.2's FSM table:
// IPC_SET_MESH_INFO then IPC_START_MESH, each awaited in turn. Must run off
// Run's own goroutine.
func (m *Manager) joinMesh(ctx context.Context, role domain.MeshRole, mesh domain.MeshInfo) {
	_, span := telemetry.Tracer().Start(ctx, "meshnet.joinMesh")
	span.SetAttributes(attribute.String("mesh.role", role.String()), attribute.String("mesh.essid", mesh.ESSID))
	defer span.End()

	waitCtx, cancel := context.WithTimeout(ctx, m.ipcTimeout)
	defer cancel()

	setID := m.correlator.NewRequest()
	m.b.Publish(bus.Message{Kind: bus.KindIPCSetMeshInfo, Payload: bus.ReqPayload{ReqID: setID, Body: bus.SetMeshInfoReq{Mesh: mesh}}})
	if _, err := m.waitIPC(waitCtx, setID); err != nil {
		slog.Warn("meshnet: set mesh info failed", "role", role, "error", err)
		m.setState(role, domain.ConnDisconnected)
		return
	}

	m.mu.Lock()
	m.joiningRole = role
	m.mu.Unlock()

	startID := m.correlator.NewRequest()
	m.b.Publish(bus.Message{Kind: bus.KindIPCStartMesh, Payload: bus.ReqPayload{ReqID: startID, Body: bus.StartMeshReq{}}})
	if _, err := m.waitIPC(waitCtx, startID); err != nil {
		slog.Warn("meshnet: start mesh failed", "role", role, "error", err)
		m.setState(role, domain.ConnDisconnected)
	}
	// The success/failure reaction itself (state transition, NW_*_JOINED
	// publish, auto-fallback) runs in handleStartMeshResp on Run's
	// goroutine once the reply arrives; this call only blocks until then.
}

// leaveMesh publishes IPC_STOP_MESH and awaits the reply. Must run off
// Run's own goroutine.
func (m *Manager) leaveMesh(ctx context.Context, role domain.MeshRole) {
	waitCtx, cancel := context.WithTimeout(ctx, m.ipcTimeout)
	defer cancel()

	reqID := m.correlator.NewRequest()
	m.b.Publish(bus.Message{Kind: bus.KindIPCStopMesh, Payload: bus.ReqPayload{ReqID: reqID, Body: bus.StopMeshReq{}}})
	if _, err := m.waitIPC(waitCtx, reqID); err != nil {
		slog.Warn("meshnet: stop mesh failed", "role", role, "error", err)
	}
	m.setState(role, domain.ConnDisconnected)
}

// waitIPC blocks for reqID's reply, translating a blown deadline into
// ferrors.IPCTimeout (spec.md §7).
func (m *Manager) waitIPC(ctx context.Context, reqID uint64) (any, error) {
	body, err := m.correlator.Wait(ctx, reqID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("meshnet: ipc request timed out: %w", ferrors.IPCTimeout)
		}
		return nil, err
	}
	return body, nil
}

func (m *Manager) setState(role domain.MeshRole, state domain.ConnState) {
	m.mu.Lock()
	m.setStateLocked(role, state)
	m.mu.Unlock()
}

func (m *Manager) setStateLocked(role domain.MeshRole, state domain.ConnState) {
	if role == domain.PrivateMesh {
		m.privState = state
		return
	}
	m.publicState = state
}

func (m *Manager) setAPState(state domain.ConnState) {
	m.mu.Lock()
	m.apState = state
	m.mu.Unlock()
}

// PublicState reports the public mesh's current connection state.
func (m *Manager) PublicState() domain.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publicState
}

// PrivateState reports the private mesh's current connection state.
func (m *Manager) PrivateState() domain.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.privState
}

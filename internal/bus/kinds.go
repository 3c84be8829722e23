package bus

import "fastsetupd/internal/domain"

// Kind is the message-catalog identifier carried by every bus Message.
type Kind int

const (
	// IPC request/reply catalog (spec.md §6).
	KindIPCSetMeshInfo Kind = iota
	KindIPCSetMeshInfoResp
	KindIPCStartMesh
	KindIPCStartMeshResp
	KindIPCStopMesh
	KindIPCStopMeshResp
	KindIPCScanPrivMesh
	KindIPCScanPrivMeshResp
	KindIPCAPConnect
	KindIPCAPConnectResp
	KindIPCAPDisconnect
	KindIPCAPDisconnectResp
	KindIPCBLEAPConfigured

	// Network Orchestrator events (spec.md §4.2, §4.4).
	KindNWPublicMeshJoined
	KindNWPrivMeshJoined
	KindNWPrivMeshFound
	KindNWScanNetworkTimeout

	// Control.
	KindQuit
)

// ReqPayload wraps any IPC request with a correlation id the IPC client
// must echo back on the corresponding *Resp message (spec.md §9 design
// note: requests/replies correlate through a per-request id).
type ReqPayload struct {
	ReqID uint64
	Body  any
}

// RespPayload wraps any IPC reply with the correlation id of the request
// it answers.
type RespPayload struct {
	ReqID uint64
	Body  any
}

// SetMeshInfoReq/Resp — IPC_SET_MESH_INFO.
type SetMeshInfoReq struct {
	Mesh domain.MeshInfo
}
type SetMeshInfoResp struct {
	OK bool
}

// StartMeshReq/Resp — IPC_START_MESH.
type StartMeshReq struct{}
type StartMeshResp struct {
	OK      bool
	ErrCode int
}

// StopMeshReq/Resp — IPC_STOP_MESH.
type StopMeshReq struct{}
type StopMeshResp struct {
	OK      bool
	ErrCode int
}

// ScanPrivMeshReq/Resp — IPC_SCAN_PRIV_MESH.
type ScanPrivMeshReq struct{}
type ScanPrivMeshResp struct {
	Timeout bool
	Mesh    *domain.MeshInfo
}

// APConnectReq/Resp — IPC_AP_CONNECT.
type APConnectReq struct {
	AP domain.APInfo
}
type APConnectResp struct {
	AP        domain.APInfo
	Connected bool
}

// APDisconnectReq/Resp — IPC_AP_DISCONNECT.
type APDisconnectReq struct{}
type APDisconnectResp struct{}

// BLEAPConfigured — IPC_BLE_AP_CONFIGURED, inbound only.
type BLEAPConfigured struct {
	AP domain.APInfo
}

// MeshJoined is the payload of NW_{PUBLIC,PRIV}_MESH_JOINED.
type MeshJoined struct {
	Role domain.MeshRole
	OK   bool
	Err  error
}

// PrivMeshFound is the payload of NW_PRIV_MESH_FOUND.
type PrivMeshFound struct {
	Mesh domain.MeshInfo
}

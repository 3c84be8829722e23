// Package ipc implements the IPC Client boundary of spec.md §4.2/§6: a
// typed request/reply port to the underlying Wi-Fi manager and BLE
// stack. Wire encoding is explicitly out of scope (spec.md §1) — the
// Transport interface is the entire contract the core depends on; a
// real binary would plug in a transport that speaks to the platform's
// IPC daemon, and tests/loopback mode plug in Fake.
package ipc

import (
	"context"

	"fastsetupd/internal/domain"
)

// Transport is the opaque external collaborator that performs mesh and
// AP lifecycle operations against the Wi-Fi/BLE stack.
type Transport interface {
	SetMeshInfo(ctx context.Context, mesh domain.MeshInfo) (ok bool, err error)
	StartMesh(ctx context.Context) (ok bool, errCode int, err error)
	StopMesh(ctx context.Context) (ok bool, errCode int, err error)
	ScanPrivMesh(ctx context.Context) (timeout bool, mesh *domain.MeshInfo, err error)
	APConnect(ctx context.Context, ap domain.APInfo) (connected bool, err error)
	APDisconnect(ctx context.Context) error
}

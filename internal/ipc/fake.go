package ipc

import (
	"context"
	"sync"

	"fastsetupd/internal/domain"
)

// Fake is an in-memory Transport that never touches real hardware. It
// backs unit tests and is the daemon's default transport whenever
// supervisor.Config.Transport is nil; no command-line flag selects it
// (SPEC_FULL.md §4.7).
// Every call succeeds by default; tests override behavior via the
// exported hook fields before the call they want to affect.
type Fake struct {
	mu sync.Mutex

	// StartMeshFunc, when set, overrides StartMesh's result.
	StartMeshFunc func(ctx context.Context) (ok bool, errCode int, err error)
	// APConnectFunc, when set, overrides APConnect's result.
	APConnectFunc func(ctx context.Context, ap domain.APInfo) (connected bool, err error)
	// ScanPrivMeshFunc, when set, overrides ScanPrivMesh's result.
	ScanPrivMeshFunc func(ctx context.Context) (timeout bool, mesh *domain.MeshInfo, err error)

	lastMesh    domain.MeshInfo
	lastAP      domain.APInfo
	meshStarted bool
}

// NewFake returns a Fake with no overrides: every call succeeds.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) SetMeshInfo(_ context.Context, mesh domain.MeshInfo) (bool, error) {
	f.mu.Lock()
	f.lastMesh = mesh
	f.mu.Unlock()
	return true, nil
}

func (f *Fake) StartMesh(ctx context.Context) (bool, int, error) {
	if f.StartMeshFunc != nil {
		return f.StartMeshFunc(ctx)
	}
	f.mu.Lock()
	f.meshStarted = true
	f.mu.Unlock()
	return true, 0, nil
}

func (f *Fake) StopMesh(_ context.Context) (bool, int, error) {
	f.mu.Lock()
	f.meshStarted = false
	f.mu.Unlock()
	return true, 0, nil
}

func (f *Fake) ScanPrivMesh(ctx context.Context) (bool, *domain.MeshInfo, error) {
	if f.ScanPrivMeshFunc != nil {
		return f.ScanPrivMeshFunc(ctx)
	}
	return true, nil, nil
}

func (f *Fake) APConnect(ctx context.Context, ap domain.APInfo) (bool, error) {
	if f.APConnectFunc != nil {
		return f.APConnectFunc(ctx, ap)
	}
	f.mu.Lock()
	f.lastAP = ap
	f.mu.Unlock()
	return true, nil
}

func (f *Fake) APDisconnect(_ context.Context) error {
	return nil
}

// LastMesh returns the most recent mesh info passed to SetMeshInfo.
func (f *Fake) LastMesh() domain.MeshInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMesh
}

// MeshStarted reports whether StartMesh has run more recently than StopMesh.
func (f *Fake) MeshStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meshStarted
}

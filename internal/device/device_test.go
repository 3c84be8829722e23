package device

import (
	"testing"

	"fastsetupd/internal/domain"
)

type memStore struct {
	id domain.DeviceID
	ok bool
}

func (m *memStore) DeviceID() (domain.DeviceID, bool) { return m.id, m.ok }
func (m *memStore) SetDeviceID(id domain.DeviceID)    { m.id, m.ok = id, true }

func TestResolvePersistsOnFirstCall(t *testing.T) {
	store := &memStore{}
	saved := false

	id, err := Resolve(store, func() error { saved = true; return nil })
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected a non-zero derived id")
	}
	if !saved {
		t.Fatalf("expected save callback to run on first derivation")
	}
	if store.id != id {
		t.Fatalf("store not updated with derived id")
	}
}

func TestResolveReusesPersistedID(t *testing.T) {
	store := &memStore{id: 99, ok: true}

	id, err := Resolve(store, func() error {
		t.Fatalf("save should not run when an id is already persisted")
		return nil
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != 99 {
		t.Fatalf("got %d, want 99", id)
	}
}

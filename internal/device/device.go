// Package device derives and persists the 64-bit DeviceId of spec.md §3.
//
// DESIGN.md resolves the spec's open question on derivation as: FNV-1a64
// over the lowest-index non-loopback interface's hardware address followed
// by 8 random salt bytes drawn on first run. Only the resulting id is
// persisted, not the salt. The salt keeps two devices that clone the same
// interface MAC (e.g. virtualized test fixtures) from colliding; the id
// stays stable across restarts because Resolve reuses the persisted value
// instead of deriving a new one.
package device

import (
	"crypto/rand"
	"hash/fnv"
	"net"

	"fastsetupd/internal/domain"
)

// ConfigStore is the subset of the config store this package needs.
type ConfigStore interface {
	DeviceID() (domain.DeviceID, bool)
	SetDeviceID(domain.DeviceID)
}

// Resolve returns the persisted device id, deriving and persisting a new
// one via Save if none exists yet.
func Resolve(store ConfigStore, save func() error) (domain.DeviceID, error) {
	if id, ok := store.DeviceID(); ok {
		return id, nil
	}

	id, err := derive()
	if err != nil {
		return 0, err
	}
	store.SetDeviceID(id)
	if save != nil {
		if err := save(); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func derive() (domain.DeviceID, error) {
	h := fnv.New64a()
	if mac := primaryHardwareAddr(); mac != nil {
		_, _ = h.Write(mac)
	}

	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return 0, err
	}
	_, _ = h.Write(salt)

	return domain.DeviceID(h.Sum64()), nil
}

// primaryHardwareAddr returns the hardware address of the lowest-index
// non-loopback interface that has one, or nil if none qualifies.
func primaryHardwareAddr() net.HardwareAddr {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(ifc.HardwareAddr) == 0 {
			continue
		}
		return ifc.HardwareAddr
	}
	return nil
}

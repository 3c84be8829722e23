// Package domain holds the data types shared across the Role State
// Machine, Network Orchestrator, and SSDP Discovery Service (spec.md §3).
// It exists to avoid an import cycle between those three packages: each
// depends on these shared shapes but not on each other's internals.
package domain

import "fmt"

// DeviceID is the 64-bit opaque identifier of spec.md §3: stable across
// restarts, derived from hardware and persisted.
type DeviceID uint64

// MeshRole distinguishes the public discovery mesh from the private working mesh.
type MeshRole int

const (
	PublicMesh MeshRole = iota
	PrivateMesh
)

func (r MeshRole) String() string {
	if r == PrivateMesh {
		return "private"
	}
	return "public"
}

// MeshInfo describes one mesh network's join parameters.
type MeshInfo struct {
	ESSID   string
	Submask string
	IP      string
	Channel uint8
}

// Valid reports whether all four fields are populated and Channel is in [1,14].
func (m MeshInfo) Valid() bool {
	return m.ESSID != "" && m.Submask != "" && m.IP != "" && m.Channel >= 1 && m.Channel <= 14
}

// PublicESSID derives the public mesh's ESSID from a user id.
func PublicESSID(userID string) string {
	return fmt.Sprintf("ora_mesh_%s", userID)
}

// PrivateESSID derives the private mesh's ESSID from a (user id, group id) pair.
func PrivateESSID(userID, groupID string) string {
	return fmt.Sprintf("unique_ssid_ora_mesh_%s_%s", userID, groupID)
}

// KeyMgmt enumerates the AP authentication modes spec.md §3 allows.
type KeyMgmt int

const (
	KeyMgmtOpen KeyMgmt = iota
	KeyMgmtWPA
	KeyMgmtWPA2
)

func (k KeyMgmt) String() string {
	switch k {
	case KeyMgmtWPA:
		return "WPA"
	case KeyMgmtWPA2:
		return "WPA2"
	default:
		return "OPEN"
	}
}

// APInfo is a candidate external access point.
type APInfo struct {
	SSID     string
	KeyMgmt  KeyMgmt
	Password string
}

// ConnState is the connection lifecycle of one mesh slot.
type ConnState int

const (
	ConnNone ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "CONNECTING"
	case ConnConnected:
		return "CONNECTED"
	case ConnDisconnected:
		return "DISCONNECTED"
	default:
		return "NONE"
	}
}

// MasterInfo identifies the elected master on the private mesh.
type MasterInfo struct {
	DeviceID DeviceID
	IPAddr   string
}

// Package defaults centralizes the daemon's default paths, ports, and timings.
package defaults

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// SSDPPort is the well-known SSDP-style discovery port (spec.md §6).
	SSDPPort = 1900

	// SSDPMulticastAddr is the multicast group used for peer discovery.
	SSDPMulticastAddr = "239.255.255.250"

	// SSDPSelectTimeout bounds how long the heartbeat loop blocks waiting for a datagram.
	SSDPSelectTimeout = 500 * time.Millisecond

	// SSDPHeartbeatInterval is the wall-clock period between M-SEARCH rounds and neighbor sweeps.
	SSDPHeartbeatInterval = 5 * time.Second

	// SSDPNeighborTimeout is the default age at which an un-refreshed neighbor is evicted.
	SSDPNeighborTimeout = 15 * time.Second

	// SSDPCacheControlMaxAge is the value advertised in the CACHE-CONTROL header.
	SSDPCacheControlMaxAge = 120 * time.Second

	// RoleTimerNoRole, RoleTimerPreRole, RoleTimerDefiner are the 8s leisure timeouts of spec.md §4.5.
	RoleTimerNoRole  = 8 * time.Second
	RoleTimerPreRole = 8 * time.Second
	RoleTimerDefiner = 8 * time.Second

	// RoleMasterHeartbeatInterval is the MASTER state's periodic heartbeat period.
	RoleMasterHeartbeatInterval = 8 * time.Second

	// RoleSlaveHeartbeatGrace is how long a SLAVE waits past a missed heartbeat before re-electing.
	RoleSlaveHeartbeatGrace = 2 * RoleMasterHeartbeatInterval

	// IPCSyncTimeout is the default enclosing deadline for IPC sync waits (spec.md §5).
	IPCSyncTimeout = 10 * time.Second

	// DefaultMeshChannel is the Wi-Fi channel assigned to a freshly synthesized
	// MeshInfo when none is configured (original: DEFAULT_MESH_CHANNEL).
	DefaultMeshChannel = 6

	// DefaultMeshSubmask is the subnet mask assigned to a freshly synthesized MeshInfo.
	DefaultMeshSubmask = "255.0.0.0"

	// NTPPool is the default NTP server pool queried by the clock health checker.
	NTPPool = "pool.ntp.org"

	// NTPCheckInterval is how often the clock health checker re-queries the pool.
	NTPCheckInterval = 60 * time.Second

	// NTPDriftThreshold is the offset magnitude above which the clock is considered unhealthy.
	NTPDriftThreshold = 500 * time.Millisecond
)

// DataRoot returns the default directory for daemon-persisted state,
// honoring XDG_STATE_HOME and falling back to /var/lib/fastsetupd outside
// of a user session.
func DataRoot() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "fastsetupd")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "state", "fastsetupd")
	}
	return filepath.Join(string(os.PathSeparator), "var", "lib", "fastsetupd")
}

// ConfigPath returns the default location of the daemon's KV config file.
func ConfigPath(dataRoot string) string {
	if dataRoot == "" {
		dataRoot = DataRoot()
	}
	return filepath.Join(dataRoot, "fast_setup.conf")
}

// LockPath returns the default single-instance lock file path.
func LockPath(dataRoot string) string {
	if dataRoot == "" {
		dataRoot = DataRoot()
	}
	return filepath.Join(dataRoot, "fastsetupd.lock")
}

// EnsureDataRoot creates the data root directory if it does not already exist.
func EnsureDataRoot(dataRoot string) error {
	return os.MkdirAll(dataRoot, 0o755)
}

// Package meshnet implements the Network Orchestrator (NO) of spec.md
// §4.2: mesh lifecycle (public ↔ private), AP validation, and — via
// HandleRawPacket, wired as the SSDP Service's OnPacketReceived callback —
// the relay from the discovery socket's raw data-packet traffic to the
// Role State Machine's RecvDataPacket port.
package meshnet

import (
	"net"

	"fastsetupd/internal/domain"
)

// MeshTransport is the subset of internal/ssdp's Service the orchestrator
// needs: sending raw (non-SSDP) mesh data and triggering a discovery round.
// internal/ssdp's single multicast socket carries both SSDP discovery
// traffic and ROLE_EVENT mesh data (original: SSDPBroadCastData/
// SSDPMulticastData alongside SendMsearch on one CSSDPService instance).
type MeshTransport interface {
	BroadcastData(raw []byte) error
	MulticastData(raw []byte) error
	UnicastData(raw []byte, dst net.Addr) error
	SendMSearch()
}

// RoleReceiver is the Role State Machine's inbound data-packet port.
type RoleReceiver interface {
	RecvDataPacket(sender domain.DeviceID, raw []byte) error
}

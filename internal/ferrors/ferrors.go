// Package ferrors defines the classifiable error kinds of the daemon's
// error handling design: sentinel values wrapped with context via
// fmt.Errorf("...: %w", ferrors.X) and recovered with errors.Is.
package ferrors

import "errors"

var (
	// ConfigUnavailable marks the config file as missing or unparseable. Fatal at init.
	ConfigUnavailable = errors.New("config unavailable")

	// IPCTimeout marks an IPC request/reply handshake that did not complete before its deadline.
	IPCTimeout = errors.New("ipc timeout")

	// IPCRejected marks an IPC reply that explicitly reported failure.
	IPCRejected = errors.New("ipc rejected")

	// SocketError marks an SSDP socket create/bind/join failure.
	SocketError = errors.New("socket error")

	// EventMalformed marks a role event that failed the id_flag/size check.
	EventMalformed = errors.New("role event malformed")

	// ProtocolViolation marks an event delivered to a state that does not expect it.
	ProtocolViolation = errors.New("protocol violation")

	// Busy marks a rejected concurrent validate_ap call.
	Busy = errors.New("busy")

	// Shutdown marks cancellation of a pending sync wait.
	Shutdown = errors.New("shutdown")
)

// Package roleevent implements the fixed binary ROLE_EVENT envelope of
// spec.md §3 and §6: a 16-byte, big-endian header followed by a payload,
// carried over mesh-broadcast UDP.
package roleevent

import (
	"encoding/binary"
	"fmt"

	"fastsetupd/internal/domain"
	"fastsetupd/internal/ferrors"
)

// IDFlag is the magic value identifying a datagram as a role event.
const IDFlag uint16 = 0x5EA7

// HeaderSize is the fixed size of the envelope header, exclusive of payload.
const HeaderSize = 2 + 2 + 4 + 4 + 4 // id_flag + event_id + sender + event_type + data_size

// ID enumerates the role-election event ids (REID_* in the original source).
type ID uint16

const (
	IDSetMasterInfo ID = iota
	IDMasterDetected
	IDQueryMasterInfo
	IDDefinerDetected
	IDTimerTimeout
	IDQueryRSSIInfo
	IDQueryRSSIInfoResp
	IDNotifyDefinerAlive
	IDFetchAPRSSI
	IDFetchAPRSSIResp
	IDMasterHeartbeat
)

// Kind is the delivery mode of a role event (RSEventType in the original source).
type Kind uint32

const (
	KindBroadcast Kind = iota
	KindUnicast
	KindMulticast
	KindTimeout
)

// Event is the decoded form of a ROLE_EVENT envelope.
type Event struct {
	ID      ID
	Sender  domain.DeviceID
	Kind    Kind
	Payload []byte
}

// Encode serializes e into the big-endian wire envelope of spec.md §3.
func (e Event) Encode() []byte {
	buf := make([]byte, HeaderSize+len(e.Payload))
	binary.BigEndian.PutUint16(buf[0:2], IDFlag)
	binary.BigEndian.PutUint16(buf[2:4], uint16(e.ID))
	binary.BigEndian.PutUint32(buf[4:8], uint32(e.Sender))
	binary.BigEndian.PutUint32(buf[8:12], uint32(e.Kind))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(e.Payload)))
	copy(buf[HeaderSize:], e.Payload)
	return buf
}

// Decode parses a wire envelope, rejecting anything smaller than HeaderSize,
// lacking the magic id_flag, or whose payload length does not match data_size
// (spec.md §3, §6, §8 invariant 4).
func Decode(buf []byte) (Event, error) {
	if len(buf) < HeaderSize {
		return Event{}, fmt.Errorf("decode role event: short envelope (%d bytes): %w", len(buf), ferrors.EventMalformed)
	}
	idFlag := binary.BigEndian.Uint16(buf[0:2])
	if idFlag != IDFlag {
		return Event{}, fmt.Errorf("decode role event: bad id_flag %#x: %w", idFlag, ferrors.EventMalformed)
	}
	eventID := binary.BigEndian.Uint16(buf[2:4])
	sender := binary.BigEndian.Uint32(buf[4:8])
	kind := binary.BigEndian.Uint32(buf[8:12])
	dataSize := binary.BigEndian.Uint32(buf[12:16])

	payload := buf[HeaderSize:]
	if uint32(len(payload)) != dataSize {
		return Event{}, fmt.Errorf("decode role event: data_size %d != payload length %d: %w", dataSize, len(payload), ferrors.EventMalformed)
	}

	out := make([]byte, len(payload))
	copy(out, payload)

	return Event{
		ID:      ID(eventID),
		Sender:  domain.DeviceID(sender),
		Kind:    Kind(kind),
		Payload: out,
	}, nil
}

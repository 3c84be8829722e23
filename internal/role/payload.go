package role

import (
	"encoding/binary"

	"fastsetupd/internal/domain"
)

// encodeMasterInfo packs a MasterInfo for the SET_MASTER_INFO and
// MASTER_DETECTED event payloads: an 8-byte device id followed by a
// length-prefixed IP address string.
func encodeMasterInfo(m domain.MasterInfo) []byte {
	ip := []byte(m.IPAddr)
	buf := make([]byte, 8+2+len(ip))
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.DeviceID))
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(ip)))
	copy(buf[10:], ip)
	return buf
}

func decodeMasterInfo(buf []byte) (domain.MasterInfo, bool) {
	if len(buf) < 10 {
		return domain.MasterInfo{}, false
	}
	id := binary.BigEndian.Uint64(buf[0:8])
	n := binary.BigEndian.Uint16(buf[8:10])
	if len(buf) < 10+int(n) {
		return domain.MasterInfo{}, false
	}
	return domain.MasterInfo{DeviceID: domain.DeviceID(id), IPAddr: string(buf[10 : 10+n])}, true
}

func encodeRSSI(v int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(int32(v)))
	return buf
}

func decodeRSSI(buf []byte) (int, bool) {
	if len(buf) < 4 {
		return 0, false
	}
	return int(int32(binary.BigEndian.Uint32(buf))), true
}

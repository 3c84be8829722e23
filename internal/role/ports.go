package role

import (
	"context"

	"fastsetupd/internal/domain"
)

// DataDelivery is how the RSM puts a role event back out onto the mesh.
// The concrete implementation lives in internal/meshnet, proxying onto
// the same multicast socket internal/ssdp already owns for discovery
// traffic; the RSM never touches a socket directly.
type DataDelivery interface {
	Broadcast(payload []byte) error
	Unicast(target domain.DeviceID, payload []byte) error
	Multicast(payload []byte) error
}

// APValidator reports whether this device can presently reach an external
// network through one of its configured access points. It backs the
// PRE_ROLE and DEFINER states' master-candidacy checks (spec.md §4.5).
type APValidator interface {
	ValidateAP(ctx context.Context) (bool, error)
}

// RSSISource answers FETCH_AP_RSSI queries with this device's current
// signal strength toward its connected access point.
type RSSISource interface {
	RSSI() int
}

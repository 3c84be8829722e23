// Package configstore implements the Config Store external interface of
// spec.md §1/§6 as a concrete, atomically-written YAML file: a typed KV
// over USER_ID, GROUP_ID, PUBLIC_MESH, PRIVATE_MESH, SCANNING_INTERVAL,
// VISIBLE_INTERVAL, DEVICE_ID, and the AP list. The AP list is stored as
// one sequence of {ssid, key_mgmt, password} records under ap_series, not
// as parallel AP_*_SERIES arrays.
// Grounded on config/config.go's atomic Load/Save over gopkg.in/yaml.v3.
package configstore

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"fastsetupd/internal/domain"
	"fastsetupd/internal/ferrors"
)

// meshRecord is the 4-string array [essid, channel, submask, ipaddr] of
// spec.md §6, given field names for YAML legibility.
type meshRecord struct {
	ESSID   string `yaml:"essid"`
	Channel uint8  `yaml:"channel"`
	Submask string `yaml:"submask"`
	IPAddr  string `yaml:"ipaddr"`
}

func (m meshRecord) toMeshInfo() domain.MeshInfo {
	return domain.MeshInfo{ESSID: m.ESSID, Submask: m.Submask, IP: m.IPAddr, Channel: m.Channel}
}

func fromMeshInfo(mi domain.MeshInfo) meshRecord {
	return meshRecord{ESSID: mi.ESSID, Channel: mi.Channel, Submask: mi.Submask, IPAddr: mi.IP}
}

type apRecord struct {
	SSID     string `yaml:"ssid"`
	KeyMgmt  string `yaml:"key_mgmt"`
	Password string `yaml:"password"`
}

// file is the on-disk shape.
type file struct {
	UserID           string       `yaml:"user_id"`
	GroupID          string       `yaml:"group_id"`
	PublicMesh       *meshRecord  `yaml:"public_mesh,omitempty"`
	PrivateMesh      *meshRecord  `yaml:"private_mesh,omitempty"`
	ScanningInterval int          `yaml:"scanning_interval_ms,omitempty"`
	VisibleInterval  int          `yaml:"visible_interval_ms,omitempty"`
	DeviceID         uint64       `yaml:"device_id,omitempty"`
	APs              []apRecord   `yaml:"ap_series,omitempty"`
}

// Store is a typed KV config store backed by a single YAML file.
type Store struct {
	path string
	data file
}

// Open loads path, tolerating a missing file (returns empty defaults)
// but treating a present-but-unparseable file as fatal, per spec.md §7
// CONFIG_UNAVAILABLE.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, ferrors.ConfigUnavailable)
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse config %s: %v: %w", path, err, ferrors.ConfigUnavailable)
	}
	return s, nil
}

// Save atomically writes the store's current contents to disk.
func (s *Store) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	out, err := yaml.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) UserID() string  { return s.data.UserID }
func (s *Store) GroupID() string { return s.data.GroupID }

func (s *Store) SetUserID(id string)  { s.data.UserID = id }
func (s *Store) SetGroupID(id string) { s.data.GroupID = id }

// MeshInfo returns the persisted mesh record for role, if any.
func (s *Store) MeshInfo(role domain.MeshRole) (domain.MeshInfo, bool) {
	rec := s.record(role)
	if rec == nil {
		return domain.MeshInfo{}, false
	}
	return rec.toMeshInfo(), true
}

// SetMeshInfo persists mesh under role.
func (s *Store) SetMeshInfo(role domain.MeshRole, mesh domain.MeshInfo) {
	rec := fromMeshInfo(mesh)
	if role == domain.PrivateMesh {
		s.data.PrivateMesh = &rec
		return
	}
	s.data.PublicMesh = &rec
}

func (s *Store) record(role domain.MeshRole) *meshRecord {
	if role == domain.PrivateMesh {
		return s.data.PrivateMesh
	}
	return s.data.PublicMesh
}

// DeviceID returns the persisted device id and whether one was set.
func (s *Store) DeviceID() (domain.DeviceID, bool) {
	if s.data.DeviceID == 0 {
		return 0, false
	}
	return domain.DeviceID(s.data.DeviceID), true
}

// SetDeviceID persists id.
func (s *Store) SetDeviceID(id domain.DeviceID) {
	s.data.DeviceID = uint64(id)
}

// APList returns the persisted AP candidates in order.
func (s *Store) APList() []domain.APInfo {
	out := make([]domain.APInfo, 0, len(s.data.APs))
	for _, rec := range s.data.APs {
		out = append(out, domain.APInfo{
			SSID:     rec.SSID,
			KeyMgmt:  parseKeyMgmt(rec.KeyMgmt),
			Password: rec.Password,
		})
	}
	return out
}

// AppendAP appends ap to the persisted AP list.
func (s *Store) AppendAP(ap domain.APInfo) {
	s.data.APs = append(s.data.APs, apRecord{
		SSID:     ap.SSID,
		KeyMgmt:  ap.KeyMgmt.String(),
		Password: ap.Password,
	})
}

func parseKeyMgmt(s string) domain.KeyMgmt {
	switch s {
	case "WPA":
		return domain.KeyMgmtWPA
	case "WPA2":
		return domain.KeyMgmtWPA2
	default:
		return domain.KeyMgmtOpen
	}
}

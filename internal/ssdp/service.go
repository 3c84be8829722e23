package ssdp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"fastsetupd/internal/ferrors"
	"fastsetupd/internal/telemetry"
	"fastsetupd/pkg/sdk/defaults"

	"go.opentelemetry.io/otel/attribute"
)

// Config carries the identity SDS advertises of itself (spec.md §4.3, §6).
type Config struct {
	USN             string
	DevType         string
	SearchTarget    string // ST we advertise and require of incoming packets
	LocationPrefix  string // e.g. "http://"
	LocationDomain  string // used verbatim in LOCATION if set, else the sending interface's IP
	LocationSuffix  string // e.g. ":5678"
	SelectTimeout   time.Duration
	HeartbeatPeriod time.Duration
	NeighborTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		SearchTarget:    "ora:mesh",
		LocationSuffix:  fmt.Sprintf(":%d", defaults.SSDPPort),
		SelectTimeout:   defaults.SSDPSelectTimeout,
		HeartbeatPeriod: defaults.SSDPHeartbeatInterval,
		NeighborTimeout: defaults.SSDPNeighborTimeout,
	}
}

// Option customizes a Service at construction.
type Option func(*Service)

// WithConfig overrides the default identity/timing config.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		if cfg.SelectTimeout != 0 {
			s.cfg.SelectTimeout = cfg.SelectTimeout
		}
		if cfg.HeartbeatPeriod != 0 {
			s.cfg.HeartbeatPeriod = cfg.HeartbeatPeriod
		}
		if cfg.NeighborTimeout != 0 {
			s.cfg.NeighborTimeout = cfg.NeighborTimeout
		}
		if cfg.USN != "" {
			s.cfg.USN = cfg.USN
		}
		if cfg.DevType != "" {
			s.cfg.DevType = cfg.DevType
		}
		if cfg.SearchTarget != "" {
			s.cfg.SearchTarget = cfg.SearchTarget
		}
		if cfg.LocationPrefix != "" {
			s.cfg.LocationPrefix = cfg.LocationPrefix
		}
		if cfg.LocationDomain != "" {
			s.cfg.LocationDomain = cfg.LocationDomain
		}
		if cfg.LocationSuffix != "" {
			s.cfg.LocationSuffix = cfg.LocationSuffix
		}
	}
}

// socketFactory lets tests substitute a fake Socket for the real UDP one.
type socketFactory func(Interface) (Socket, error)

// boundSocket pairs an open Socket with the Interface it was opened on,
// so a RESPONSE's LOCATION header can embed that interface's own IP.
type boundSocket struct {
	sock  Socket
	iface Interface
}

// Service runs the SSDP Discovery Service heartbeat loop: periodic
// M-SEARCH, NOTIFY/RESPONSE handling, and neighbor timeout sweeps
// (spec.md §4.3).
type Service struct {
	cfg       Config
	lister    InterfaceLister
	table     *Table
	newSocket socketFactory

	mu      sync.Mutex
	sockets map[string]boundSocket // keyed by interface name

	OnNeighborFound  func(Neighbor)
	OnNeighborLost   func(Neighbor)
	OnPacketReceived func(raw []byte, src net.Addr)
}

// NewService builds an SDS instance. lister and newSocket default to the
// real netlink/UDP implementations when nil.
func NewService(lister InterfaceLister, newSocket socketFactory, opts ...Option) *Service {
	if lister == nil {
		lister = NewNetlinkLister()
	}
	if newSocket == nil {
		newSocket = NewUDPSocket
	}
	s := &Service{
		cfg:       defaultConfig(),
		lister:    lister,
		newSocket: newSocket,
		sockets:   make(map[string]boundSocket),
	}
	s.table = NewTable(s.cfg.NeighborTimeout)
	for _, opt := range opts {
		opt(s)
	}
	s.table.timeout = s.cfg.NeighborTimeout
	s.table.OnFound = func(n Neighbor) {
		if s.OnNeighborFound != nil {
			s.OnNeighborFound(n)
		}
	}
	s.table.OnLost = func(n Neighbor) {
		if s.OnNeighborLost != nil {
			s.OnNeighborLost(n)
		}
	}
	return s
}

// Neighbors returns a point-in-time count of discovered peers.
func (s *Service) Neighbors() int {
	return s.table.Len()
}

// Run drives the heartbeat loop until ctx is canceled: a read-with-timeout
// on every bound interface socket, periodic M-SEARCH, a neighbor sweep, and
// a refresh of the bound interface set (spec.md §4.3).
func (s *Service) Run(ctx context.Context) error {
	if err := s.refreshInterfaces(); err != nil {
		return fmt.Errorf("ssdp: initial interface bind: %w", err)
	}
	defer s.closeAllSockets()

	ticker := time.NewTicker(s.cfg.HeartbeatPeriod)
	defer ticker.Stop()

	s.SendMSearch()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.table.Sweep()
			if err := s.refreshInterfaces(); err != nil {
				slog.Warn("ssdp: interface refresh failed", "error", err)
			}
			s.SendMSearch()
		default:
		}

		if !s.pollOnce(ctx) {
			return nil
		}
	}
}

// pollOnce reads one datagram per bound socket with a bounded deadline,
// returning false only if ctx has been canceled.
func (s *Service) pollOnce(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}

	s.mu.Lock()
	socks := make(map[string]Socket, len(s.sockets))
	for name, bound := range s.sockets {
		socks[name] = bound.sock
	}
	s.mu.Unlock()

	buf := make([]byte, 2048)
	deadline := time.Now().Add(s.cfg.SelectTimeout)
	for name, sock := range socks {
		n, src, err := sock.ReadFrom(buf, deadline)
		if err != nil {
			continue
		}
		s.dispatch(buf[:n], src, name)
	}
	return true
}

// dispatch parses one datagram and routes it by SSDP method. A datagram
// that does not start with a recognized SSDP status line is not SSDP at
// all: it is a raw mesh data packet sharing this same multicast socket,
// handed to OnPacketReceived verbatim (the Role State Machine's transport).
// A recognized packet whose ST/NT does not match our own search target is
// discarded without side effect (spec.md §4.3).
func (s *Service) dispatch(buf []byte, src net.Addr, ifaceName string) {
	pkt, ok := Parse(buf)
	if !ok {
		if s.OnPacketReceived != nil {
			s.OnPacketReceived(buf, src)
		}
		return
	}

	if pkt.SearchTarget() != s.cfg.SearchTarget {
		return
	}

	_, span := telemetry.Tracer().Start(context.Background(), "ssdp.dispatch")
	span.SetAttributes(attribute.String("method", string(pkt.Method)), attribute.String("iface", ifaceName))
	defer span.End()

	switch pkt.Method {
	case MethodNotify, MethodResponse:
		s.table.Upsert(Neighbor{USN: pkt.USN, Location: pkt.Location, SmID: pkt.SmID, DevType: pkt.DevType})
	case MethodMSearch:
		s.respondIfSameLAN(src, ifaceName)
	}
}

// respondIfSameLAN answers an M-SEARCH with our own RESPONSE, but only
// when the requester is on the same subnet as the interface that received
// it — spec.md §4.3's cross-LAN response gate.
func (s *Service) respondIfSameLAN(src net.Addr, ifaceName string) {
	udpSrc, ok := src.(*net.UDPAddr)
	if !ok {
		return
	}

	s.mu.Lock()
	bound, haveSock := s.sockets[ifaceName]
	s.mu.Unlock()
	if !haveSock || !bound.iface.sameLAN(udpSrc.IP) {
		return
	}

	buf := Format(MethodResponse, s.headerValues(bound.iface))
	if err := bound.sock.WriteTo(buf, src); err != nil {
		slog.Warn("ssdp: response send failed", "error", err)
	}
}

// SendMSearch broadcasts an M-SEARCH on every bound interface.
func (s *Service) SendMSearch() {
	s.mu.Lock()
	bounds := make([]boundSocket, 0, len(s.sockets))
	for _, bound := range s.sockets {
		bounds = append(bounds, bound)
	}
	s.mu.Unlock()

	for _, bound := range bounds {
		buf := Format(MethodMSearch, s.headerValues(bound.iface))
		if err := bound.sock.WriteToGroup(buf); err != nil {
			slog.Warn("ssdp: m-search send failed", "error", fmt.Errorf("%w: %v", ferrors.SocketError, err))
		}
	}
}

// BroadcastData sends a raw (non-SSDP) data packet to the multicast group
// on every bound interface, sharing this socket with SSDP discovery
// traffic (original: SSDPBroadCastData). Used as the Role State Machine's
// broadcast transport.
func (s *Service) BroadcastData(raw []byte) error {
	s.mu.Lock()
	bounds := make([]boundSocket, 0, len(s.sockets))
	for _, bound := range s.sockets {
		bounds = append(bounds, bound)
	}
	s.mu.Unlock()

	var firstErr error
	for _, bound := range bounds {
		if err := bound.sock.WriteToGroup(raw); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", ferrors.SocketError, err)
		}
	}
	return firstErr
}

// MulticastData sends a raw data packet to the multicast group — on this
// transport, multicast and broadcast share the same group address, so
// this is equivalent to BroadcastData (original: SSDPMulticastData).
func (s *Service) MulticastData(raw []byte) error {
	return s.BroadcastData(raw)
}

// UnicastData sends a raw data packet directly to dst on any bound
// socket, bypassing the multicast group.
func (s *Service) UnicastData(raw []byte, dst net.Addr) error {
	s.mu.Lock()
	var sock Socket
	for _, bound := range s.sockets {
		sock = bound.sock
		break
	}
	s.mu.Unlock()
	if sock == nil {
		return fmt.Errorf("ssdp: no bound socket: %w", ferrors.SocketError)
	}
	if err := sock.WriteTo(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ferrors.SocketError, err)
	}
	return nil
}

// headerValues builds the header set advertised on ifc: LOCATION is the
// configured prefix, then the configured domain if set else ifc's own IP,
// then the configured suffix (spec.md §4.3).
func (s *Service) headerValues(ifc Interface) map[string]string {
	domain := s.cfg.LocationDomain
	if domain == "" && ifc.IP != nil {
		domain = ifc.IP.String()
	}
	location := s.cfg.LocationPrefix + domain + s.cfg.LocationSuffix

	return map[string]string{
		"USN":           s.cfg.USN,
		"ST":            s.cfg.SearchTarget,
		"LOCATION":      location,
		"SM_ID":         s.cfg.USN,
		"DEV_TYPE":      s.cfg.DevType,
		"CACHE-CONTROL": fmt.Sprintf("max-age=%d", int(defaults.SSDPCacheControlMaxAge.Seconds())),
	}
}

// refreshInterfaces binds any newly-appeared interface and tears down any
// that have disappeared, clearing neighbor state on interface loss
// (spec.md §4.3: SSDP state does not survive an interface's disappearance).
func (s *Service) refreshInterfaces() error {
	current, err := s.lister.List()
	if err != nil {
		return fmt.Errorf("%w: %v", ferrors.SocketError, err)
	}

	want := make(map[string]Interface, len(current))
	for _, ifc := range current {
		want[ifc.Name] = ifc
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, bound := range s.sockets {
		if _, ok := want[name]; !ok {
			bound.sock.Close()
			delete(s.sockets, name)
			s.table.Clear()
		}
	}
	for name, ifc := range want {
		if _, ok := s.sockets[name]; ok {
			continue
		}
		sock, err := s.newSocket(ifc)
		if err != nil {
			slog.Warn("ssdp: bind failed", "iface", name, "error", err)
			continue
		}
		s.sockets[name] = boundSocket{sock: sock, iface: ifc}
	}
	return nil
}

func (s *Service) closeAllSockets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, bound := range s.sockets {
		bound.sock.Close()
		delete(s.sockets, name)
	}
}

package ssdp

import (
	"net"
	"syscall"
	"time"

	"fastsetupd/pkg/sdk/defaults"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// Socket is the minimal multicast transport SDS needs: receive with a
// deadline, send to the group, send unicast, and close. A fake
// implementation backs tests; udpSocket backs the real daemon.
type Socket interface {
	ReadFrom(buf []byte, deadline time.Time) (n int, src net.Addr, err error)
	WriteToGroup(buf []byte) error
	WriteTo(buf []byte, dst net.Addr) error
	Close() error
}

// udpSocket binds one IPv4 multicast socket per interface, joining the SDS
// group with SO_REUSEADDR so multiple interfaces can share the port —
// mirroring the C++ implementation's raw setsockopt(SO_REUSEADDR) call.
type udpSocket struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	grp  *net.UDPAddr
}

// NewUDPSocket opens a UDP socket on the wildcard address and the SSDP
// port, joins the multicast group on iface and sends group traffic out of
// iface, with multicast loopback disabled so a host never reacts to its
// own datagrams.
func NewUDPSocket(iface Interface) (Socket, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	addr := &net.UDPAddr{IP: net.IPv4zero, Port: defaults.SSDPPort}
	conn, err := lc.ListenPacket(nil, "udp4", addr.String())
	if err != nil {
		return nil, err
	}
	udpConn := conn.(*net.UDPConn)

	pc := ipv4.NewPacketConn(udpConn)
	grp := &net.UDPAddr{IP: net.ParseIP(defaults.SSDPMulticastAddr), Port: defaults.SSDPPort}
	ifi, err := net.InterfaceByName(iface.Name)
	if err != nil {
		udpConn.Close()
		return nil, err
	}
	if err := pc.JoinGroup(ifi, grp); err != nil {
		udpConn.Close()
		return nil, err
	}
	if err := pc.SetMulticastInterface(ifi); err != nil {
		udpConn.Close()
		return nil, err
	}
	if err := pc.SetMulticastLoopback(false); err != nil {
		udpConn.Close()
		return nil, err
	}

	return &udpSocket{conn: udpConn, pc: pc, grp: grp}, nil
}

func (s *udpSocket) ReadFrom(buf []byte, deadline time.Time) (int, net.Addr, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, err
	}
	return s.conn.ReadFrom(buf)
}

func (s *udpSocket) WriteToGroup(buf []byte) error {
	_, err := s.conn.WriteTo(buf, s.grp)
	return err
}

func (s *udpSocket) WriteTo(buf []byte, dst net.Addr) error {
	_, err := s.conn.WriteTo(buf, dst)
	return err
}

func (s *udpSocket) Close() error {
	return s.conn.Close()
}

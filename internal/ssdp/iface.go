package ssdp

import (
	"net"

	"github.com/vishvananda/netlink"
)

// Interface is one IPv4-capable, non-loopback network interface SDS will
// join the multicast group on.
type Interface struct {
	Name string
	IP   net.IP
	Mask net.IPMask
}

// sameLAN reports whether ip belongs to the interface's IPv4 subnet —
// used to gate M-SEARCH responses to same-LAN requesters (spec.md §4.3).
func (i Interface) sameLAN(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil || i.IP == nil {
		return false
	}
	net1 := i.IP.Mask(i.Mask)
	net2 := ip4.Mask(i.Mask)
	return net1.Equal(net2)
}

// InterfaceLister enumerates the interfaces SDS should bind to. A fake
// implementation backs tests; netlinkLister backs the real daemon.
type InterfaceLister interface {
	List() ([]Interface, error)
}

// netlinkLister lists up, non-loopback interfaces carrying an IPv4 address,
// generalizing the teacher's narrower netlink.LinkByName existence check
// into full enumeration for multicast group membership.
type netlinkLister struct{}

// NewNetlinkLister returns the production InterfaceLister.
func NewNetlinkLister() InterfaceLister {
	return netlinkLister{}
}

func (netlinkLister) List() ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, err
	}

	var out []Interface
	for _, link := range links {
		attrs := link.Attrs()
		if attrs.Flags&net.FlagLoopback != 0 || attrs.OperState != netlink.OperUp {
			continue
		}
		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err != nil || len(addrs) == 0 {
			continue
		}
		for _, a := range addrs {
			if a.IPNet == nil || a.IPNet.IP.To4() == nil {
				continue
			}
			out = append(out, Interface{Name: attrs.Name, IP: a.IPNet.IP.To4(), Mask: a.IPNet.Mask})
			break
		}
	}
	return out, nil
}

// Package ssdp implements the SSDP Discovery Service (SDS) of spec.md §4.3:
// a minimal SSDP-style multicast peer discovery loop, independent of the
// standard UPnP SSDP profile (spec.md §1 Non-goals: "no general-purpose
// SSDP stack, only the fields listed in §6").
package ssdp

import (
	"strings"
)

// Method is the SSDP-style request/response line of a packet.
type Method string

const (
	MethodMSearch  Method = "M-SEARCH"
	MethodNotify   Method = "NOTIFY"
	MethodResponse Method = "RESPONSE"
)

func statusLine(m Method) string {
	switch m {
	case MethodMSearch:
		return "M-SEARCH * HTTP/1.1"
	case MethodNotify:
		return "NOTIFY * HTTP/1.1"
	default:
		return "HTTP/1.1 200 OK"
	}
}

// Packet is the recognized subset of an SSDP-style text packet (spec.md §4.3, §6).
type Packet struct {
	Method   Method
	ST       string
	NT       string
	USN      string
	Location string
	SmID     string
	DevType  string
}

// SearchTarget returns ST if present, else NT — the two headers are never
// both populated in a single recognized packet.
func (p Packet) SearchTarget() string {
	if p.ST != "" {
		return p.ST
	}
	return p.NT
}

// Parse recognizes an M-SEARCH/NOTIFY/RESPONSE packet and extracts its
// headers. ok is false for anything not starting with a recognized status
// line — callers use this to tell an SSDP packet apart from an unrelated
// datagram on the same socket.
func Parse(buf []byte) (Packet, bool) {
	lines := strings.Split(string(buf), "\r\n")
	if len(lines) == 0 {
		return Packet{}, false
	}

	var method Method
	switch strings.TrimSpace(lines[0]) {
	case string(statusLine(MethodMSearch)):
		method = MethodMSearch
	case string(statusLine(MethodNotify)):
		method = MethodNotify
	case string(statusLine(MethodResponse)):
		method = MethodResponse
	default:
		return Packet{}, false
	}

	p := Packet{Method: method}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		switch key {
		case "ST":
			p.ST = val
		case "NT":
			p.NT = val
		case "USN":
			p.USN = val
		case "LOCATION":
			p.Location = val
		case "SM_ID":
			p.SmID = val
		case "DEV_TYPE":
			p.DevType = val
		}
	}
	return p, true
}

// headerOrder fixes the emission order of recognized headers.
var headerOrder = []string{"HOST", "CACHE-CONTROL", "LOCATION", "SERVER", "USN", "ST", "NT", "SM_ID", "DEV_TYPE"}

// Format renders method and headers into a CRLF-terminated SSDP-style packet.
func Format(method Method, headers map[string]string) []byte {
	var b strings.Builder
	b.WriteString(statusLine(method))
	b.WriteString("\r\n")
	for _, k := range headerOrder {
		v, ok := headers[k]
		if !ok || v == "" {
			continue
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

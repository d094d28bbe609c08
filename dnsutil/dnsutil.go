// Package dnsutil holds small helpers shared by the resolver and the wire
// server.
package dnsutil

import (
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// HasRecords reports whether the message carries answer or authority
// records. A nil message has none.
func HasRecords(m *dns.Msg) bool {
	if m == nil {
		return false
	}

	return len(m.Answer) > 0 || len(m.Ns) > 0
}

// Addresses returns the A and AAAA addresses of the answer section, with
// IPv4-mapped IPv6 addresses unmapped.
func Addresses(m *dns.Msg) []netip.Addr {
	if m == nil {
		return nil
	}

	var addrs []netip.Addr
	for _, rr := range m.Answer {
		var raw []byte
		switch v := rr.(type) {
		case *dns.A:
			raw = v.A
		case *dns.AAAA:
			raw = v.AAAA
		default:
			continue
		}

		if addr, ok := netip.AddrFromSlice(raw); ok {
			addrs = append(addrs, addr.Unmap())
		}
	}

	return addrs
}

// SetRcode returns message specified with rcode.
func SetRcode(req *dns.Msg, rcode int) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(req, rcode)
	m.RecursionAvailable = true
	m.RecursionDesired = req.RecursionDesired

	return m
}

// UDPSize returns the largest response the client accepts over UDP.
func UDPSize(req *dns.Msg) int {
	size := dns.MinMsgSize

	if opt := req.IsEdns0(); opt != nil {
		size = int(opt.UDPSize())
		if size < dns.MinMsgSize {
			size = dns.MinMsgSize
		}

		if size > DefaultMsgSize {
			size = DefaultMsgSize
		}
	}

	return size
}

// FormatQuestion returns a short printable form of the question.
func FormatQuestion(q dns.Question) string {
	return strings.ToLower(q.Name) + " " + dns.ClassToString[q.Qclass] + " " + dns.TypeToString[q.Qtype]
}

// Question returns the printable form of the first question of m, or "-".
func Question(m *dns.Msg) string {
	if m == nil || len(m.Question) == 0 {
		return "-"
	}

	return FormatQuestion(m.Question[0])
}

const (
	// DefaultMsgSize EDNS0 message size
	DefaultMsgSize = 1232
)

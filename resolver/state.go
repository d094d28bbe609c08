package resolver

import (
	"net/netip"
	"slices"
)

// state is an immutable view of the upstream lists. Writers build a new
// state and publish it; readers never see a partially updated list.
type state struct {
	bad  []netip.AddrPort
	good []netip.AddrPort

	signatures map[netip.Addr]struct{}
}

func (s *state) clone() *state {
	n := &state{
		bad:        slices.Clone(s.bad),
		good:       slices.Clone(s.good),
		signatures: make(map[netip.Addr]struct{}, len(s.signatures)+1),
	}

	for addr := range s.signatures {
		n.signatures[addr] = struct{}{}
	}

	return n
}

func (s *state) tampered(addrs []netip.Addr) bool {
	for _, addr := range addrs {
		if _, ok := s.signatures[addr.Unmap()]; ok {
			return true
		}
	}

	return false
}

func containsServer(list []netip.AddrPort, server netip.AddrPort) bool {
	for _, s := range list {
		if sameServer(s, server) {
			return true
		}
	}

	return false
}

// sameServer compares servers treating IPv4 and IPv4-mapped IPv6 forms as
// equal.
func sameServer(a, b netip.AddrPort) bool {
	return a.Port() == b.Port() && a.Addr().Unmap() == b.Addr().Unmap()
}

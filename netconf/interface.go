// Package netconf reads and changes the DNS configuration of network
// interfaces.
package netconf

import (
	"errors"
	"net/netip"
	"slices"
	"strings"
)

// Interface is a snapshot of a network interface. Two snapshots describe the
// same interface when their IDs match.
type Interface struct {
	HardwareAddr string
	Index        int
	Name         string
	Description  string
	Domain       string
	Addresses    []netip.Addr
}

// ID returns the identity of the interface, its normalized hardware address.
func (i Interface) ID() string {
	return strings.ToLower(i.HardwareAddr)
}

func (i Interface) String() string {
	if i.Name == "" {
		return i.ID()
	}
	return i.Name + " (" + i.ID() + ")"
}

// Scoped attaches the interface zone to a link-local addr that has none.
// Without it a link-local server can not be dialed.
func (i Interface) Scoped(addr netip.Addr) netip.Addr {
	addr = addr.Unmap()
	if !addr.Is6() || !addr.IsLinkLocalUnicast() || addr.Zone() != "" {
		return addr
	}

	return addr.WithZone(i.Name)
}

func (i Interface) clone() Interface {
	i.Addresses = slices.Clone(i.Addresses)
	return i
}

var (
	// ErrUnknownInterface is returned for interfaces that are gone.
	ErrUnknownInterface = errors.New("unknown interface")

	// ErrUnsupportedPlatform is returned by providers the current platform
	// can not run.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// MatchDomain reports whether domain ends with suffix, case-insensitively
// and ignoring the root dot. An empty suffix matches every domain.
func MatchDomain(domain, suffix string) bool {
	suffix = strings.ToLower(strings.TrimSuffix(suffix, "."))
	if suffix == "" {
		return true
	}

	domain = strings.ToLower(strings.TrimSuffix(domain, "."))

	return strings.HasSuffix(domain, suffix)
}

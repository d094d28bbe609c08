//go:build !linux

package netconf

import (
	"context"
	"net/netip"
)

// Resolved is only available on linux.
type Resolved struct{}

// NewResolved always fails on this platform.
func NewResolved() (*Resolved, error) {
	return nil, ErrUnsupportedPlatform
}

func (r *Resolved) Close() error { return nil }

func (r *Resolved) Interfaces(ctx context.Context, suffix string) ([]Interface, error) {
	return nil, ErrUnsupportedPlatform
}

func (r *Resolved) DNSServers(ctx context.Context, iface Interface) ([]netip.Addr, error) {
	return nil, ErrUnsupportedPlatform
}

func (r *Resolved) SetDNSServers(ctx context.Context, iface Interface, addrs []netip.Addr) error {
	return ErrUnsupportedPlatform
}

func (r *Resolved) ResetToAutomatic(ctx context.Context, iface Interface) error {
	return ErrUnsupportedPlatform
}

func (r *Resolved) FlushCaches(ctx context.Context) error {
	return ErrUnsupportedPlatform
}

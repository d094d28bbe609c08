//go:build linux

package netconf

import (
	"context"
	"fmt"
	"net/netip"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/semihalev/zlog/v2"
)

const (
	resolvedDest    = "org.freedesktop.resolve1"
	resolvedPath    = dbus.ObjectPath("/org/freedesktop/resolve1")
	resolvedManager = "org.freedesktop.resolve1.Manager"
	resolvedLink    = "org.freedesktop.resolve1.Link"
)

// linkAddress is the (iay) element of resolve1 DNS properties.
type linkAddress struct {
	Family  int32
	Address []byte
}

// linkDomain is the (sb) element of the resolve1 Domains property.
type linkDomain struct {
	Domain    string
	RouteOnly bool
}

// Resolved changes per-link DNS servers through systemd-resolved over the
// system bus.
type Resolved struct {
	conn *dbus.Conn
}

// NewResolved connects to the system bus.
func NewResolved() (*Resolved, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("dbus: connect system bus: %w", err)
	}

	return &Resolved{conn: conn}, nil
}

// Close closes the bus connection.
func (r *Resolved) Close() error {
	return r.conn.Close()
}

func (r *Resolved) manager() dbus.BusObject {
	return r.conn.Object(resolvedDest, resolvedPath)
}

func (r *Resolved) link(ctx context.Context, index int) (dbus.BusObject, error) {
	var path dbus.ObjectPath
	if err := r.manager().CallWithContext(ctx, resolvedManager+".GetLink", 0, int32(index)).Store(&path); err != nil {
		return nil, fmt.Errorf("dbus: get link %d: %w", index, err)
	}

	return r.conn.Object(resolvedDest, path), nil
}

// Interfaces returns the host interfaces whose first search domain matches
// suffix.
func (r *Resolved) Interfaces(ctx context.Context, suffix string) ([]Interface, error) {
	ifaces, err := HostInterfaces()
	if err != nil {
		return nil, err
	}

	var list []Interface
	for _, iface := range ifaces {
		obj, err := r.link(ctx, iface.Index)
		if err != nil {
			zlog.Debug("Link not managed by resolved", "interface", iface.Name, "error", err.Error())
			continue
		}

		v, err := obj.GetProperty(resolvedLink + ".Domains")
		if err != nil {
			return nil, fmt.Errorf("dbus: failed to access %s Domains: %w", iface.Name, err)
		}

		var domains []linkDomain
		if err := dbus.Store([]interface{}{v.Value()}, &domains); err != nil {
			return nil, fmt.Errorf("dbus: could not assert type of %s Domains: %w", iface.Name, err)
		}

		for _, d := range domains {
			if !d.RouteOnly {
				iface.Domain = d.Domain
				break
			}
		}

		if MatchDomain(iface.Domain, suffix) {
			list = append(list, iface)
		}
	}

	return list, nil
}

// DNSServers returns the DNS servers resolved uses for iface.
func (r *Resolved) DNSServers(ctx context.Context, iface Interface) ([]netip.Addr, error) {
	obj, err := r.link(ctx, iface.Index)
	if err != nil {
		return nil, err
	}

	v, err := obj.GetProperty(resolvedLink + ".DNS")
	if err != nil {
		return nil, fmt.Errorf("dbus: failed to access %s DNS: %w", iface.Name, err)
	}

	var servers []linkAddress
	if err := dbus.Store([]interface{}{v.Value()}, &servers); err != nil {
		return nil, fmt.Errorf("dbus: could not assert type of %s DNS: %w", iface.Name, err)
	}

	addrs := make([]netip.Addr, 0, len(servers))
	for _, s := range servers {
		addr, ok := netip.AddrFromSlice(s.Address)
		if !ok {
			return nil, fmt.Errorf("dbus: %s DNS address with invalid length: %q", iface.Name, s.Address)
		}
		addrs = append(addrs, iface.Scoped(addr))
	}

	return addrs, nil
}

// SetDNSServers points iface to addrs.
func (r *Resolved) SetDNSServers(ctx context.Context, iface Interface, addrs []netip.Addr) error {
	servers := make([]linkAddress, 0, len(addrs))
	for _, addr := range addrs {
		addr = addr.Unmap()
		if addr.Is4() {
			b := addr.As4()
			servers = append(servers, linkAddress{Family: syscall.AF_INET, Address: b[:]})
			continue
		}

		b := addr.As16()
		servers = append(servers, linkAddress{Family: syscall.AF_INET6, Address: b[:]})
	}

	call := r.manager().CallWithContext(ctx, resolvedManager+".SetLinkDNS", 0, int32(iface.Index), servers)
	if call.Err != nil {
		return fmt.Errorf("dbus: set dns of %s: %w", iface, call.Err)
	}

	return nil
}

// ResetToAutomatic drops every setting made on iface.
func (r *Resolved) ResetToAutomatic(ctx context.Context, iface Interface) error {
	call := r.manager().CallWithContext(ctx, resolvedManager+".RevertLink", 0, int32(iface.Index))
	if call.Err != nil {
		return fmt.Errorf("dbus: revert %s: %w", iface, call.Err)
	}

	return nil
}

// FlushCaches empties the resolved cache.
func (r *Resolved) FlushCaches(ctx context.Context) error {
	call := r.manager().CallWithContext(ctx, resolvedManager+".FlushCaches", 0)
	if call.Err != nil {
		return fmt.Errorf("dbus: flush caches: %w", call.Err)
	}

	return nil
}

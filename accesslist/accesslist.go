// Package accesslist restricts which clients may query the proxy.
package accesslist

import (
	"net"
	"net/netip"

	"github.com/semihalev/zlog/v2"
	"github.com/yl2chen/cidranger"
)

// AccessList type
type AccessList struct {
	ranger cidranger.Ranger
	empty  bool
}

// New return accesslist. Invalid entries are logged and skipped; a list
// without valid entries allows every client.
func New(cidrs []string) *AccessList {
	a := &AccessList{ranger: cidranger.NewPCTrieRanger(), empty: true}

	for _, cidr := range cidrs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			zlog.Error("Access list parse cidr failed", "cidr", cidr, "error", err.Error())
			continue
		}

		if err := a.ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet)); err != nil {
			zlog.Error("Access list insert failed", "cidr", cidr, "error", err.Error())
			continue
		}

		a.empty = false
	}

	return a
}

// Allowed reports whether client may use the proxy.
func (a *AccessList) Allowed(client netip.Addr) bool {
	if a.empty {
		return true
	}

	allowed, _ := a.ranger.Contains(net.IP(client.Unmap().AsSlice()))

	return allowed
}

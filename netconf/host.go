package netconf

import (
	"net"
	"net/netip"
)

// HostInterfaces lists the interfaces of this host that are up, are not
// loopback and have a hardware address. Domains are left empty.
func HostInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var list []Interface
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 || len(ifi.HardwareAddr) == 0 {
			continue
		}

		iface := Interface{
			HardwareAddr: ifi.HardwareAddr.String(),
			Index:        ifi.Index,
			Name:         ifi.Name,
			Description:  ifi.Name,
		}

		addrs, err := ifi.Addrs()
		if err == nil {
			for _, a := range addrs {
				ipnet, ok := a.(*net.IPNet)
				if !ok {
					continue
				}

				if addr, ok := netip.AddrFromSlice(ipnet.IP); ok {
					iface.Addresses = append(iface.Addresses, addr.Unmap())
				}
			}
		}

		list = append(list, iface)
	}

	return list, nil
}

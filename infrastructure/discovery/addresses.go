package discovery

import (
	"net"
	"net/netip"
	"sort"
)

const announcePort = 4445

var (
	groupV4 = netip.AddrPortFrom(netip.AddrFrom4([4]byte{224, 0, 2, 60}), announcePort)
	groupV6 = netip.AddrPortFrom(netip.MustParseAddr("ff75:230::60"), announcePort)
)

// virtualNet is the lobby's own virtual subnet; addresses inside it must
// never be used as discovery sources or the two sides would advertise to
// each other through the tunnel they are building.
var virtualNet = netip.MustParsePrefix("10.144.144.0/24")

// viableUnicastAddrs enumerates the local addresses worth broadcasting
// from: every up, non-loopback interface address outside the virtual
// subnet, plus the unspecified addresses as a fallback, sorted descending
// so concrete interface addresses come before wildcards.
func viableUnicastAddrs() []netip.Addr {
	var addrs []netip.Addr

	interfaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range interfaces {
			if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			ifaceAddrs, addrsErr := iface.Addrs()
			if addrsErr != nil {
				continue
			}
			for _, ifaceAddr := range ifaceAddrs {
				ipNet, isIPNet := ifaceAddr.(*net.IPNet)
				if !isIPNet {
					continue
				}
				addr, addrOK := netip.AddrFromSlice(ipNet.IP)
				if !addrOK {
					continue
				}
				addr = addr.Unmap()
				if addr.IsLoopback() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
					continue
				}
				if virtualNet.Contains(addr) {
					continue
				}
				addrs = append(addrs, addr)
			}
		}
	}

	addrs = append(addrs, netip.IPv4Unspecified(), netip.IPv6Unspecified())

	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Compare(addrs[j]) > 0
	})
	return addrs
}

// multicastInterfaces lists the interfaces a listener should join the
// announcement groups on.
func multicastInterfaces() []net.Interface {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var capable []net.Interface
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		capable = append(capable, iface)
	}
	return capable
}

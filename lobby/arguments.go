package lobby

import (
	"net/netip"

	"terracotta/domain/room"
	"terracotta/settings"
	"terracotta/settings/app_configuration"
)

// hostVirtualIP is the fixed virtual address of the hosting side; guests
// receive theirs over DHCP and reach the game through this one.
var hostVirtualIP = netip.MustParseAddr("10.144.144.1")

const engineListenPort = 11010

func commonArguments(configuration *app_configuration.Configuration, r room.Room) []settings.Argument {
	arguments := []settings.Argument{
		settings.Hostname{Name: configuration.MachineName},
		settings.NetworkName{Name: r.NetworkName()},
		settings.NetworkSecret{Secret: r.NetworkSecret()},
		settings.Compression{Algorithm: "zstd"},
		settings.MultiThread{},
		settings.LatencyFirst{},
		settings.EnableKCPProxy{},
	}
	for _, relay := range configuration.RelayServers {
		arguments = append(arguments, settings.PublicServer{URI: relay})
	}
	return arguments
}

// hostArguments configures the hosting side: a static virtual address,
// local listeners for direct peers, and the game port whitelisted for both
// protocols.
func hostArguments(configuration *app_configuration.Configuration, r room.Room) []settings.Argument {
	wildcard := netip.AddrPortFrom(netip.IPv4Unspecified(), engineListenPort)
	return append(commonArguments(configuration, r),
		settings.IPv4{Address: hostVirtualIP},
		settings.Listener{Address: wildcard, Proto: settings.TCP},
		settings.Listener{Address: wildcard, Proto: settings.UDP},
		settings.TCPWhitelist{Port: r.Port()},
		settings.UDPWhitelist{Port: r.Port()},
	)
}

// guestArguments configures the joining side: no tun device, a DHCP-assigned
// virtual address; the actual game traffic arrives through port forwards
// patched in after the session is up.
func guestArguments(configuration *app_configuration.Configuration, r room.Room) []settings.Argument {
	return append(commonArguments(configuration, r),
		settings.DHCP{},
		settings.NoTun{},
	)
}

// guestForwards bridges the loopback endpoint the local game client joins
// to the host's game port inside the virtual network.
func guestForwards(configuration *app_configuration.Configuration, r room.Room) []settings.PortForward {
	local := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), configuration.GuestLocalPort)
	remote := netip.AddrPortFrom(hostVirtualIP, r.Port())
	return []settings.PortForward{
		{Local: local, Remote: remote, Proto: settings.TCP},
		{Local: local, Remote: remote, Proto: settings.UDP},
	}
}

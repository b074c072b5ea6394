package settings

import "net/netip"

// Argument is one declarative intent for the mesh engine configuration.
// The set is closed: confgen maps every variant to exactly one insertion
// into the engine document and panics on anything else.
type Argument interface {
	isArgument()
}

// NoTun disables the engine's tun device (forward-only sessions).
type NoTun struct{}

// Compression selects the engine's payload compression algorithm.
type Compression struct {
	Algorithm string
}

// MultiThread enables the engine's multi-threaded runtime.
type MultiThread struct{}

// LatencyFirst prefers low-latency paths over high-throughput ones.
type LatencyFirst struct{}

// EnableKCPProxy tunnels TCP streams over KCP.
type EnableKCPProxy struct{}

// P2POnly forbids relayed forwarding between peers.
type P2POnly struct{}

// NetworkName sets the virtual network identity name. Last write wins.
type NetworkName struct {
	Name string
}

// NetworkSecret sets the virtual network shared secret. Last write wins.
type NetworkSecret struct {
	Secret string
}

// PublicServer appends a public relay peer URI.
type PublicServer struct {
	URI string
}

// Listener appends a local listener the engine accepts peers on.
type Listener struct {
	Address netip.AddrPort
	Proto   Protocol
}

// PortForward appends a forward rule from a local bind address to an
// address inside the virtual network. Also used as the patch unit for
// live sessions.
type PortForward struct {
	Local  netip.AddrPort
	Remote netip.AddrPort
	Proto  Protocol
}

// DHCP lets the engine assign the virtual IPv4 address.
type DHCP struct{}

// Hostname sets the name this node announces to its peers. Last write wins.
type Hostname struct {
	Name string
}

// IPv4 assigns a static virtual IPv4 address.
type IPv4 struct {
	Address netip.Addr
}

// TCPWhitelist appends a TCP port reachable through the virtual network.
type TCPWhitelist struct {
	Port uint16
}

// UDPWhitelist appends a UDP port reachable through the virtual network.
type UDPWhitelist struct {
	Port uint16
}

func (NoTun) isArgument()          {}
func (Compression) isArgument()    {}
func (MultiThread) isArgument()    {}
func (LatencyFirst) isArgument()   {}
func (EnableKCPProxy) isArgument() {}
func (P2POnly) isArgument()        {}
func (NetworkName) isArgument()    {}
func (NetworkSecret) isArgument()  {}
func (PublicServer) isArgument()   {}
func (Listener) isArgument()       {}
func (PortForward) isArgument()    {}
func (DHCP) isArgument()           {}
func (Hostname) isArgument()       {}
func (IPv4) isArgument()           {}
func (TCPWhitelist) isArgument()   {}
func (UDPWhitelist) isArgument()   {}

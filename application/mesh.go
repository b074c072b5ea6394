package application

import (
	"net/netip"
	"sync"

	"terracotta/settings"
)

// NodeAddress is the virtual address the engine assigned to this node.
type NodeAddress struct {
	IP           netip.Addr
	PrefixLength int
}

// PeerRoute is one known peer inside the virtual network.
type PeerRoute struct {
	Hostname     string
	VirtualIP    netip.Addr
	ProxiedCIDRs []string
}

// MeshEngine launches mesh network instances from a serialized engine
// configuration document. The engine itself (NAT traversal, routing,
// encryption) is an external collaborator behind this contract.
type MeshEngine interface {
	Launch(document []byte) (MeshInstance, error)
}

// MeshInstance is a handle to one running engine instance.
//
// Running must be cheap: callers poll it on every tick. APIReady reports
// whether the engine's control API has come up; after a fresh Launch it may
// stay false for several seconds. NodeAddress, Routes and PatchPortForwards
// require a ready API and return errors otherwise.
type MeshInstance interface {
	Running() bool
	APIReady() bool
	NodeAddress() (NodeAddress, error)
	Routes() ([]PeerRoute, error)
	PatchPortForwards(forwards []settings.PortForward) error
	TunDescriptor() *TunDescriptor
	LatestError() string
	SignalStop()
}

// TunnelBinder receives the virtual address and proxied-route set whenever
// either changes, together with the cell the tunnel descriptor is published
// through. This is the single channel by which the tunnel device reaches
// the host platform.
type TunnelBinder interface {
	Bind(address NodeAddress, proxiedCIDRs []string, descriptor *TunDescriptor)
}

// TunDescriptor is the shared cell holding the platform handle of the
// virtual network interface. Written by the session reconciliation loop,
// read by the host-platform collaborator. Last write wins.
type TunDescriptor struct {
	mu  sync.Mutex
	fd  int
	set bool
}

func (d *TunDescriptor) Store(fd int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fd = fd
	d.set = true
}

func (d *TunDescriptor) Load() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fd, d.set
}

func (d *TunDescriptor) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fd = 0
	d.set = false
}

// Package confgen turns an ordered list of declarative arguments into the
// serialized TOML document the mesh engine is launched with.
package confgen

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"terracotta/settings"
)

type flags struct {
	NoTun            bool `toml:"no_tun,omitempty"`
	DataCompressAlgo int  `toml:"data_compress_algo,omitempty"`
	MultiThread      bool `toml:"multi_thread,omitempty"`
	LatencyFirst     bool `toml:"latency_first,omitempty"`
	EnableKCPProxy   bool `toml:"enable_kcp_proxy,omitempty"`
	P2POnly          bool `toml:"p2p_only,omitempty"`
}

type networkIdentity struct {
	NetworkName   string `toml:"network_name,omitempty"`
	NetworkSecret string `toml:"network_secret,omitempty"`
}

type peer struct {
	URI string `toml:"uri"`
}

type portForward struct {
	BindAddr string `toml:"bind_addr"`
	DstAddr  string `toml:"dst_addr"`
	Proto    string `toml:"proto"`
}

// document field order is fixed so the same argument list always serializes
// to a byte-identical document.
type document struct {
	DHCP         bool            `toml:"dhcp,omitempty"`
	Hostname     string          `toml:"hostname,omitempty"`
	IPv4         string          `toml:"ipv4,omitempty"`
	Flags        flags           `toml:"flags"`
	Identity     networkIdentity `toml:"network_identity"`
	Listeners    []string        `toml:"listeners"`
	Peers        []peer          `toml:"peer"`
	PortForwards []portForward   `toml:"port_forward"`
	TCPWhitelist []string        `toml:"tcp_whitelist"`
	UDPWhitelist []string        `toml:"udp_whitelist"`
}

// Generator builds engine documents. It owns its document exclusively until
// Generate returns, so it needs no synchronization.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate maps every argument to exactly one insertion into the document
// and returns the serialized TOML. Scalar intents overwrite (last write
// wins); list intents append in argument order.
//
// Arguments originate from this codebase's own call sites, so an
// unrecognized variant or compression algorithm is a programmer error and
// panics instead of degrading silently.
func (g *Generator) Generate(arguments []settings.Argument) []byte {
	doc := document{
		Listeners:    []string{},
		Peers:        []peer{},
		PortForwards: []portForward{},
		TCPWhitelist: []string{},
		UDPWhitelist: []string{},
	}

	for _, argument := range arguments {
		switch a := argument.(type) {
		case settings.NoTun:
			doc.Flags.NoTun = true
		case settings.Compression:
			doc.Flags.DataCompressAlgo = compressionAlgo(a.Algorithm)
		case settings.MultiThread:
			doc.Flags.MultiThread = true
		case settings.LatencyFirst:
			doc.Flags.LatencyFirst = true
		case settings.EnableKCPProxy:
			doc.Flags.EnableKCPProxy = true
		case settings.P2POnly:
			doc.Flags.P2POnly = true
		case settings.NetworkName:
			doc.Identity.NetworkName = a.Name
		case settings.NetworkSecret:
			doc.Identity.NetworkSecret = a.Secret
		case settings.PublicServer:
			doc.Peers = append(doc.Peers, peer{URI: a.URI})
		case settings.Listener:
			doc.Listeners = append(doc.Listeners, fmt.Sprintf("%s://%s", a.Proto.Name(), a.Address))
		case settings.PortForward:
			doc.PortForwards = append(doc.PortForwards, portForward{
				BindAddr: a.Local.String(),
				DstAddr:  a.Remote.String(),
				Proto:    a.Proto.Name(),
			})
		case settings.DHCP:
			doc.DHCP = true
		case settings.Hostname:
			doc.Hostname = a.Name
		case settings.IPv4:
			doc.IPv4 = a.Address.String()
		case settings.TCPWhitelist:
			doc.TCPWhitelist = append(doc.TCPWhitelist, fmt.Sprintf("%d", a.Port))
		case settings.UDPWhitelist:
			doc.UDPWhitelist = append(doc.UDPWhitelist, fmt.Sprintf("%d", a.Port))
		default:
			panic(fmt.Sprintf("confgen: unsupported argument %T", argument))
		}
	}

	serialized, err := toml.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("confgen: cannot serialize engine document: %s", err))
	}
	return serialized
}

func compressionAlgo(name string) int {
	switch name {
	case "zstd":
		return 2
	default:
		panic(fmt.Sprintf("confgen: unsupported compression algorithm %q", name))
	}
}

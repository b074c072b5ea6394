package easytier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"terracotta/application"
	"terracotta/application/logging"
	"terracotta/settings"
)

const (
	cliTimeout  = 2 * time.Second
	killTimeout = 3 * time.Second
)

// Instance supervises one easytier-core process.
type Instance struct {
	logger    logging.Logger
	cliPath   string
	rpcPortal string
	cmd       *exec.Cmd

	mu        sync.Mutex
	running   bool
	lastError string
	stderr    bytes.Buffer

	tun      application.TunDescriptor
	stopOnce sync.Once
}

func newInstance(logger logging.Logger, cliPath, rpcPortal string, cmd *exec.Cmd) *Instance {
	return &Instance{
		logger:    logger,
		cliPath:   cliPath,
		rpcPortal: rpcPortal,
		cmd:       cmd,
	}
}

func (i *Instance) start() error {
	i.cmd.Stderr = &i.stderr
	if err := i.cmd.Start(); err != nil {
		return err
	}
	i.running = true

	go func() {
		waitErr := i.cmd.Wait()
		i.mu.Lock()
		i.running = false
		if waitErr != nil {
			i.lastError = fmt.Sprintf("%s: %s", waitErr, lastLine(i.stderr.String()))
		}
		i.mu.Unlock()
	}()
	return nil
}

// Running is a local flag, cheap enough for every tick.
func (i *Instance) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}

// APIReady probes the RPC portal with a trivial CLI query.
func (i *Instance) APIReady() bool {
	_, err := i.cli("node")
	return err == nil
}

func (i *Instance) NodeAddress() (application.NodeAddress, error) {
	raw, err := i.cli("node")
	if err != nil {
		return application.NodeAddress{}, err
	}
	var node struct {
		IPv4Addr string `json:"ipv4_addr"`
	}
	if unmarshalErr := json.Unmarshal(raw, &node); unmarshalErr != nil {
		return application.NodeAddress{}, fmt.Errorf("malformed node info: %w", unmarshalErr)
	}
	prefix, parseErr := netip.ParsePrefix(node.IPv4Addr)
	if parseErr != nil {
		return application.NodeAddress{}, fmt.Errorf("node has no virtual address yet: %w", parseErr)
	}
	return application.NodeAddress{IP: prefix.Addr(), PrefixLength: prefix.Bits()}, nil
}

func (i *Instance) Routes() ([]application.PeerRoute, error) {
	raw, err := i.cli("peer")
	if err != nil {
		return nil, err
	}
	var peers []struct {
		Hostname   string   `json:"hostname"`
		IPv4Addr   string   `json:"ipv4_addr"`
		ProxyCIDRs []string `json:"proxy_cidrs"`
	}
	if unmarshalErr := json.Unmarshal(raw, &peers); unmarshalErr != nil {
		return nil, fmt.Errorf("malformed peer list: %w", unmarshalErr)
	}

	routes := make([]application.PeerRoute, 0, len(peers))
	for _, peer := range peers {
		address, parseErr := netip.ParseAddr(strings.Split(peer.IPv4Addr, "/")[0])
		if parseErr != nil {
			continue
		}
		routes = append(routes, application.PeerRoute{
			Hostname:     peer.Hostname,
			VirtualIP:    address,
			ProxiedCIDRs: peer.ProxyCIDRs,
		})
	}
	return routes, nil
}

func (i *Instance) PatchPortForwards(forwards []settings.PortForward) error {
	for _, forward := range forwards {
		_, err := i.cli("port-forward", "add",
			"--bind-addr", fmt.Sprintf("%s://%s", forward.Proto.Name(), forward.Local),
			"--dst-addr", fmt.Sprintf("%s://%s", forward.Proto.Name(), forward.Remote),
		)
		if err != nil {
			return fmt.Errorf("port-forward %s %s -> %s: %w",
				forward.Proto.Name(), forward.Local, forward.Remote, err)
		}
	}
	return nil
}

// TunDescriptor returns the shared cell. The subprocess engine owns its tun
// device directly, so the cell stays empty on desktop builds; platform
// glue that receives descriptors from the engine populates it.
func (i *Instance) TunDescriptor() *application.TunDescriptor {
	return &i.tun
}

func (i *Instance) LatestError() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastError
}

// SignalStop asks the process to terminate and escalates to a kill if it
// lingers past the grace period.
func (i *Instance) SignalStop() {
	i.stopOnce.Do(func() {
		if i.cmd.Process == nil {
			return
		}
		if signalErr := i.cmd.Process.Signal(os.Interrupt); signalErr != nil {
			_ = i.cmd.Process.Kill()
			return
		}
		go func() {
			time.Sleep(killTimeout)
			if i.Running() {
				i.logger.Printf("easytier: instance ignored interrupt, killing")
				_ = i.cmd.Process.Kill()
			}
		}()
	})
}

// cli runs one easytier-cli command against this instance's RPC portal and
// returns its JSON output.
func (i *Instance) cli(args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	full := append([]string{"--rpc-portal", i.rpcPortal, "-o", "json"}, args...)
	output, err := exec.CommandContext(ctx, i.cliPath, full...).Output()
	if err != nil {
		return nil, fmt.Errorf("easytier-cli %s: %w", strings.Join(args, " "), err)
	}
	return output, nil
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return lines[len(lines)-1]
}

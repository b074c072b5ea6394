package discovery

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sync/errgroup"

	"terracotta/application/logging"
)

// Listener passively collects advertisements from the discovery channel.
// Datagrams failing the filter or the payload format are dropped silently;
// surviving candidates accumulate deduplicated in insertion order.
type Listener struct {
	logger logging.Logger
	filter func(motd string) bool

	mu         sync.Mutex
	seen       map[string]struct{}
	candidates []Candidate

	conns    []net.PacketConn
	group    errgroup.Group
	done     chan struct{}
	stopOnce sync.Once
}

// NewListener joins the IPv4 and IPv6 announcement groups on every
// multicast-capable interface and starts the receive loops. The filter
// decides which MOTDs are collected; third-party traffic on the same port
// is expected and not an error.
func NewListener(filter func(motd string) bool, logger logging.Logger) (*Listener, error) {
	var conns []net.PacketConn

	if conn, err := listenGroupV4(); err != nil {
		logger.Printf("discovery: cannot join IPv4 announcement group: %s", err)
	} else {
		conns = append(conns, conn)
	}
	if conn, err := listenGroupV6(); err != nil {
		logger.Printf("discovery: cannot join IPv6 announcement group: %s", err)
	} else {
		conns = append(conns, conn)
	}
	if len(conns) == 0 {
		return nil, fmt.Errorf("discovery: no announcement group could be joined")
	}

	return newListenerWithConns(filter, logger, conns...), nil
}

// newListenerWithConns is the assembly seam for tests (loopback sockets).
func newListenerWithConns(filter func(motd string) bool, logger logging.Logger, conns ...net.PacketConn) *Listener {
	l := &Listener{
		logger: logger,
		filter: filter,
		seen:   make(map[string]struct{}),
		conns:  conns,
		done:   make(chan struct{}),
	}
	for _, conn := range conns {
		conn := conn
		l.group.Go(func() error {
			l.receive(conn)
			return nil
		})
	}
	return l
}

// Candidates returns the discovered set, first-seen order preserved.
func (l *Listener) Candidates() []Candidate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Candidate(nil), l.candidates...)
}

// Stop closes the sockets, which unblocks the receive loops. Fire and
// forget: the owner does not need the loops fully drained.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		for _, conn := range l.conns {
			_ = conn.Close()
		}
	})
}

func (l *Listener) receive(conn net.PacketConn) {
	buffer := make([]byte, 1500)
	for {
		n, _, readErr := conn.ReadFrom(buffer)
		if readErr != nil {
			select {
			case <-l.done:
			default:
				l.logger.Printf("discovery: receive loop ended: %s", readErr)
			}
			return
		}

		motd, port, ok := ParsePayload(buffer[:n])
		if !ok || !l.filter(motd) {
			continue
		}
		l.record(Candidate{MOTD: motd, Port: port})
	}
}

func (l *Listener) record(candidate Candidate) {
	key := fmt.Sprintf("%s\x00%d", candidate.MOTD, candidate.Port)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, duplicate := l.seen[key]; duplicate {
		return
	}
	l.seen[key] = struct{}{}
	l.candidates = append(l.candidates, candidate)
}

func listenGroupV4() (net.PacketConn, error) {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", announcePort))
	if err != nil {
		return nil, err
	}
	packet := ipv4.NewPacketConn(conn)
	groupAddr := &net.UDPAddr{IP: net.IP(groupV4.Addr().AsSlice())}
	joined := false
	for _, iface := range multicastInterfaces() {
		if joinErr := packet.JoinGroup(&iface, groupAddr); joinErr == nil {
			joined = true
		}
	}
	if !joined {
		_ = conn.Close()
		return nil, fmt.Errorf("no interface accepted the IPv4 group join")
	}
	return conn, nil
}

func listenGroupV6() (net.PacketConn, error) {
	conn, err := net.ListenPacket("udp6", fmt.Sprintf("[::]:%d", announcePort))
	if err != nil {
		return nil, err
	}
	packet := ipv6.NewPacketConn(conn)
	groupAddr := &net.UDPAddr{IP: net.IP(groupV6.Addr().AsSlice())}
	joined := false
	for _, iface := range multicastInterfaces() {
		if joinErr := packet.JoinGroup(&iface, groupAddr); joinErr == nil {
			joined = true
		}
	}
	if !joined {
		_ = conn.Close()
		return nil, fmt.Errorf("no interface accepted the IPv6 group join")
	}
	return conn, nil
}

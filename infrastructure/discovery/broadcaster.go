package discovery

import (
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"terracotta/application/logging"
)

const announceInterval = 1500 * time.Millisecond

// Target is one socket/destination pair an announcement is sent through.
type Target struct {
	Conn net.PacketConn
	Addr net.Addr
}

// Broadcaster periodically announces one payload on every viable local
// interface. Individual send failures skip that target and continue; Stop
// is fire-and-forget (a single in-flight send may still complete).
type Broadcaster struct {
	logger   logging.Logger
	clock    clock.Clock
	interval time.Duration
	payload  []byte
	targets  []Target

	done     chan struct{}
	stopOnce sync.Once
}

// NewBroadcaster opens one announcement socket per viable local address,
// covering both the IPv4 and IPv6 discovery groups. Addresses that cannot
// be bound are skipped.
func NewBroadcaster(motd string, port uint16, logger logging.Logger) *Broadcaster {
	return newDirectedBroadcaster(motd, port, announceTargets(logger), clock.New(), announceInterval, logger)
}

// newDirectedBroadcaster is the assembly seam: tests inject loopback
// targets, a mock clock and a short interval.
func newDirectedBroadcaster(
	motd string,
	port uint16,
	targets []Target,
	clk clock.Clock,
	interval time.Duration,
	logger logging.Logger,
) *Broadcaster {
	return &Broadcaster{
		logger:   logger,
		clock:    clk,
		interval: interval,
		payload:  EncodePayload(motd, port),
		targets:  targets,
		done:     make(chan struct{}),
	}
}

func (b *Broadcaster) Start() {
	go b.run()
}

// Stop signals the send loop to exit on its next wake-up and releases the
// sockets once it has.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}

func (b *Broadcaster) run() {
	ticker := b.clock.Ticker(b.interval)
	defer ticker.Stop()

	for {
		b.sendAll()
		select {
		case <-b.done:
			for _, target := range b.targets {
				_ = target.Conn.Close()
			}
			return
		case <-ticker.C:
		}
	}
}

func (b *Broadcaster) sendAll() {
	for _, target := range b.targets {
		// Best effort: an unreachable interface must not stop the rest.
		_, _ = target.Conn.WriteTo(b.payload, target.Addr)
	}
}

func announceTargets(logger logging.Logger) []Target {
	var targets []Target

	for _, addr := range viableUnicastAddrs() {
		local := netip.AddrPortFrom(addr, 0)

		if addr.Is4() {
			conn, listenErr := net.ListenPacket("udp4", local.String())
			if listenErr != nil {
				logger.Printf("discovery: cannot bind announcement socket on %s: %s", addr, listenErr)
				continue
			}
			packet := ipv4.NewPacketConn(conn)
			_ = packet.SetMulticastTTL(4)
			_ = packet.SetMulticastLoopback(true)
			targets = append(targets, Target{
				Conn: conn,
				Addr: net.UDPAddrFromAddrPort(groupV4),
			})
			continue
		}

		conn, listenErr := net.ListenPacket("udp6", local.String())
		if listenErr != nil {
			logger.Printf("discovery: cannot bind announcement socket on %s: %s", addr, listenErr)
			continue
		}
		packet := ipv6.NewPacketConn(conn)
		_ = packet.SetMulticastLoopback(true)
		targets = append(targets, Target{
			Conn: conn,
			Addr: net.UDPAddrFromAddrPort(groupV6),
		})
	}

	return targets
}

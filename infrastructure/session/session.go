package session

import (
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"terracotta/application"
	"terracotta/application/logging"
	"terracotta/settings"
)

// Session owns one running engine instance. Exactly one lifecycle state may
// hold a Session at a time; once Alive reports false the session must not be
// reused.
type Session struct {
	instance application.MeshInstance
	binder   application.TunnelBinder
	logger   logging.Logger
	clock    clock.Clock

	reconcileInterval time.Duration
	stopTimeout       time.Duration

	mu      sync.Mutex
	applied map[forwardKey]struct{}

	done     chan struct{}
	stopOnce sync.Once
}

type forwardKey struct {
	local  string
	remote string
	proto  settings.Protocol
}

// Alive reports whether the engine still runs this session. Cheap: a local
// flag on the instance, no control-API round trip.
func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return s.instance.Running()
	}
}

// Routes lists the known peers and their virtual addresses. A query failure
// means "currently unknown", not fatal: the result is empty and the next
// caller retries.
func (s *Session) Routes() []application.PeerRoute {
	routes, err := s.instance.Routes()
	if err != nil {
		s.logger.Printf("session: route query failed: %s", err)
		return nil
	}
	return routes
}

// ApplyPortForwards submits the rules not yet applied, one by one. The
// engine does not deduplicate, so rules already accepted are never
// re-submitted. Rules that succeed stay applied even when later ones fail;
// the caller may retry the failed subset. Returns false if any rule failed.
func (s *Session) ApplyPortForwards(forwards []settings.PortForward) bool {
	var failed error

	for _, forward := range forwards {
		key := forwardKey{
			local:  forward.Local.String(),
			remote: forward.Remote.String(),
			proto:  forward.Proto,
		}

		s.mu.Lock()
		_, alreadyApplied := s.applied[key]
		s.mu.Unlock()
		if alreadyApplied {
			continue
		}

		if err := s.instance.PatchPortForwards([]settings.PortForward{forward}); err != nil {
			failed = multierr.Append(failed, err)
			continue
		}

		s.mu.Lock()
		s.applied[key] = struct{}{}
		s.mu.Unlock()
	}

	if failed != nil {
		s.logger.Printf("session: cannot apply port-forward rules: %s", failed)
		return false
	}
	return true
}

// Stop signals the engine to terminate and blocks, bounded by the stop
// timeout, until it reports not running. The tunnel descriptor cell is
// cleared before returning so the next session starts from a released slot.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)

		if msg := s.instance.LatestError(); msg != "" {
			s.logger.Printf("session: engine reported fatal error: %s", msg)
		}
		s.logger.Printf("session: stopping engine")
		s.instance.SignalStop()

		const probe = 50 * time.Millisecond
		for waited := time.Duration(0); waited < s.stopTimeout; waited += probe {
			if !s.instance.Running() {
				break
			}
			s.clock.Sleep(probe)
		}
		s.instance.TunDescriptor().Clear()
	})
}

// reconcile polls the engine for the node address and the proxied-route set
// and forwards every observed change to the tunnel binder. It is the single
// writer of the tunnel descriptor hand-off. Query errors leave the previous
// observation in place and are retried next round.
func (s *Session) reconcile() {
	ticker := s.clock.Ticker(s.reconcileInterval)
	defer ticker.Stop()

	var (
		lastAddress application.NodeAddress
		lastCIDRs   []string
		observed    bool
	)

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		address, addressErr := s.instance.NodeAddress()
		if addressErr != nil {
			continue
		}
		routes, routesErr := s.instance.Routes()
		if routesErr != nil {
			continue
		}

		var cidrs []string
		for _, route := range routes {
			cidrs = append(cidrs, route.ProxiedCIDRs...)
		}

		if observed && address == lastAddress && slices.Equal(cidrs, lastCIDRs) {
			continue
		}

		s.binder.Bind(address, cidrs, s.instance.TunDescriptor())
		lastAddress = address
		lastCIDRs = cidrs
		observed = true
	}
}

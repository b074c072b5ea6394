// Package session drives the lifecycle of one mesh engine instance: launch,
// control-API readiness polling, route/address reconciliation, port-forward
// patching and bounded shutdown.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"terracotta/application"
	"terracotta/application/logging"
)

var (
	// ErrEngineStartFailed reports that the engine refused to launch at all.
	ErrEngineStartFailed = errors.New("mesh engine refused to start")
	// ErrAPITimeout reports that the engine launched but its control API
	// never became reachable within the retry budget.
	ErrAPITimeout = errors.New("mesh engine control API did not become available")
)

const (
	defaultStartGrace        = 1500 * time.Millisecond
	defaultPollInterval      = 500 * time.Millisecond
	defaultPollAttempts      = 20
	defaultReconcileInterval = 100 * time.Millisecond
	defaultStopTimeout       = 5 * time.Second
)

type Controller struct {
	engine application.MeshEngine
	binder application.TunnelBinder
	logger logging.Logger
	clock  clock.Clock

	startGrace        time.Duration
	pollInterval      time.Duration
	pollAttempts      int
	reconcileInterval time.Duration
	stopTimeout       time.Duration
}

func NewController(
	engine application.MeshEngine,
	binder application.TunnelBinder,
	logger logging.Logger,
) *Controller {
	return NewTunedController(engine, binder, logger, clock.New(),
		defaultStartGrace, defaultPollInterval, defaultPollAttempts)
}

// NewTunedController exposes the timing knobs; tests inject a mock clock and
// shorter budgets through it.
func NewTunedController(
	engine application.MeshEngine,
	binder application.TunnelBinder,
	logger logging.Logger,
	clk clock.Clock,
	startGrace, pollInterval time.Duration,
	pollAttempts int,
) *Controller {
	return &Controller{
		engine:            engine,
		binder:            binder,
		logger:            logger,
		clock:             clk,
		startGrace:        startGrace,
		pollInterval:      pollInterval,
		pollAttempts:      pollAttempts,
		reconcileInterval: defaultReconcileInterval,
		stopTimeout:       defaultStopTimeout,
	}
}

// Start launches the engine with the given serialized document and waits for
// its control API to come up: one grace sleep, then bounded fixed-backoff
// polling. On poll exhaustion the half-started engine is signalled to stop
// before the error is returned, so no session leaks.
func (c *Controller) Start(document []byte) (*Session, error) {
	instance, launchErr := c.engine.Launch(document)
	if launchErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrEngineStartFailed, launchErr)
	}

	c.clock.Sleep(c.startGrace)

	ready := false
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		if instance.APIReady() {
			ready = true
			break
		}
		c.clock.Sleep(c.pollInterval)
	}
	if !ready {
		c.logger.Printf("session: control API unreachable after %d attempts, stopping engine", c.pollAttempts)
		instance.SignalStop()
		return nil, ErrAPITimeout
	}

	s := &Session{
		instance:          instance,
		binder:            c.binder,
		logger:            c.logger,
		clock:             c.clock,
		reconcileInterval: c.reconcileInterval,
		stopTimeout:       c.stopTimeout,
		applied:           make(map[forwardKey]struct{}),
		done:              make(chan struct{}),
	}
	go s.reconcile()
	return s, nil
}

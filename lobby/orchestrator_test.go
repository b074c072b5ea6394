package lobby

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"terracotta/application"
	"terracotta/domain/room"
	"terracotta/infrastructure/discovery"
	"terracotta/settings"
	"terracotta/settings/app_configuration"
)

type testLogger struct {
	mu   sync.Mutex
	logs []string
}

func (l *testLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, fmt.Sprintf(format, v...))
}

func (l *testLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.logs {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

type fakeSession struct {
	mu         sync.Mutex
	alive      bool
	stopped    bool
	applyCalls int
	applyOK    bool
}

func (s *fakeSession) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func (s *fakeSession) Routes() []application.PeerRoute { return nil }

func (s *fakeSession) ApplyPortForwards([]settings.PortForward) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCalls++
	return s.applyOK
}

func (s *fakeSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.alive = false
}

func (s *fakeSession) kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
}

func (s *fakeSession) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeSessionFactory struct {
	mu       sync.Mutex
	startErr error
	applyOK  bool
	sessions []*fakeSession
}

func (f *fakeSessionFactory) Start([]byte) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	s := &fakeSession{alive: true, applyOK: f.applyOK}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeSessionFactory) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

type fakeListener struct {
	mu         sync.Mutex
	candidates []discovery.Candidate
	stopped    bool
}

func (l *fakeListener) Candidates() []discovery.Candidate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]discovery.Candidate(nil), l.candidates...)
}

func (l *fakeListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
}

func (l *fakeListener) discover(candidate discovery.Candidate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates = append(l.candidates, candidate)
}

func (l *fakeListener) wasStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

type fakeAnnouncer struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (a *fakeAnnouncer) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
}

func (a *fakeAnnouncer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
}

type harness struct {
	orchestrator *Orchestrator
	clock        *clock.Mock
	factory      *fakeSessionFactory
	listener     *fakeListener
	announcer    *fakeAnnouncer
	logger       *testLogger
	idleCalls    int
}

// newHarness builds an orchestrator around fakes and a mock clock. The tick
// loop is not started; tests drive tick() directly for determinism.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     clock.NewMock(),
		factory:   &fakeSessionFactory{applyOK: true},
		listener:  &fakeListener{},
		announcer: &fakeAnnouncer{},
		logger:    &testLogger{},
	}
	h.orchestrator = NewOrchestrator(Dependencies{
		Configuration: &app_configuration.Configuration{
			Debug:          true,
			MachineName:    "terracotta-test",
			GuestLocalPort: 35781,
			RelayServers:   []string{"tcp://relay.example:11010"},
		},
		Logger:   h.logger,
		Clock:    h.clock,
		Sessions: h.factory,
		NewListener: func(func(motd string) bool) (CandidateListener, error) {
			return h.listener, nil
		},
		NewAnnouncer: func(string, uint16) Announcer {
			return h.announcer
		},
		OnIdle: func() { h.idleCalls++ },
	})
	return h
}

func (h *harness) mustBe(t *testing.T, label StateLabel) Status {
	t.Helper()
	status := h.orchestrator.Status()
	if status.Label != label {
		t.Fatalf("state = %s, want %s", status.Label, label)
	}
	return status
}

func TestOrchestrator_StartsWaiting(t *testing.T) {
	h := newHarness(t)
	status := h.mustBe(t, StateWaiting)
	if status.Generation != 0 {
		t.Errorf("fresh generation = %d, want 0", status.Generation)
	}
}

func TestRequestScan_FromWaiting(t *testing.T) {
	h := newHarness(t)

	if !h.orchestrator.RequestScan() {
		t.Fatal("RequestScan refused from Waiting")
	}
	status := h.mustBe(t, StateScanning)
	if status.Generation != 1 {
		t.Errorf("generation = %d, want 1 after one transition", status.Generation)
	}

	if h.orchestrator.RequestScan() {
		t.Error("RequestScan accepted while already Scanning")
	}
}

func TestRequestScan_ListenerFailureStaysWaiting(t *testing.T) {
	h := newHarness(t)
	h.orchestrator.deps.NewListener = func(func(motd string) bool) (CandidateListener, error) {
		return nil, errors.New("no interface")
	}

	if h.orchestrator.RequestScan() {
		t.Fatal("RequestScan succeeded despite listener failure")
	}
	status := h.mustBe(t, StateWaiting)
	if status.Generation != 0 {
		t.Errorf("failed scan bumped the generation to %d", status.Generation)
	}
}

func TestTick_ScanningToHosting(t *testing.T) {
	h := newHarness(t)
	h.orchestrator.RequestScan()

	h.listener.discover(discovery.Candidate{MOTD: "A Minecraft Server", Port: 25565})
	h.orchestrator.tick()

	status := h.mustBe(t, StateHosting)
	if status.Generation != 2 {
		t.Errorf("generation = %d, want 2", status.Generation)
	}
	decoded, ok := room.Decode(status.RoomCode)
	if !ok {
		t.Fatalf("hosting status carries undecodable room code %q", status.RoomCode)
	}
	if decoded.Port() != 25565 {
		t.Errorf("room port = %d, want the discovered game port 25565", decoded.Port())
	}
	if !h.listener.wasStopped() {
		t.Error("scanning listener kept running after the transition")
	}
}

func TestTick_FirstCandidateWins(t *testing.T) {
	h := newHarness(t)
	h.orchestrator.RequestScan()

	h.listener.discover(discovery.Candidate{MOTD: "first world", Port: 25565})
	h.listener.discover(discovery.Candidate{MOTD: "second world", Port: 25570})
	h.orchestrator.tick()

	status := h.mustBe(t, StateHosting)
	decoded, _ := room.Decode(status.RoomCode)
	if decoded.Port() != 25565 {
		t.Errorf("hosted port = %d, want the first discovered 25565", decoded.Port())
	}
}

func TestTick_HostStartFailureReturnsToWaiting(t *testing.T) {
	h := newHarness(t)
	h.factory.startErr = errors.New("engine refused")
	h.orchestrator.RequestScan()

	h.listener.discover(discovery.Candidate{MOTD: "A Minecraft Server", Port: 25565})
	h.orchestrator.tick()

	status := h.mustBe(t, StateWaiting)
	if status.Generation != 2 {
		t.Errorf("generation = %d, want 2 (scan + failed host)", status.Generation)
	}
	if !h.listener.wasStopped() {
		t.Error("listener leaked after a failed host start")
	}
	if !h.logger.contains("cannot host") {
		t.Error("failed host start was not logged")
	}
}

func TestTick_HostedSessionDeath(t *testing.T) {
	h := newHarness(t)
	h.orchestrator.RequestScan()
	h.listener.discover(discovery.Candidate{MOTD: "A Minecraft Server", Port: 25565})
	h.orchestrator.tick()
	h.mustBe(t, StateHosting)

	h.factory.last().kill()
	h.orchestrator.tick()

	status := h.mustBe(t, StateWaiting)
	if status.Generation != 3 {
		t.Errorf("generation = %d, want 3", status.Generation)
	}
	if !h.factory.last().wasStopped() {
		t.Error("dead session was not released")
	}
}

func TestTick_ScanningTimeout(t *testing.T) {
	h := newHarness(t)
	h.orchestrator.RequestScan()
	before := h.orchestrator.Status().Generation

	h.clock.Add(debugIdleTimeout)
	h.orchestrator.tick()

	status := h.mustBe(t, StateWaiting)
	if status.Generation != before+1 {
		t.Errorf("scanning timeout bumped generation %d -> %d, want +1", before, status.Generation)
	}
	if !h.listener.wasStopped() {
		t.Error("listener kept running after the scanning timeout")
	}
}

func TestTick_WaitingIdleFiresOnIdleWithoutBump(t *testing.T) {
	h := newHarness(t)
	before := h.orchestrator.Status().Generation

	h.clock.Add(debugIdleTimeout)
	h.orchestrator.tick()

	if h.idleCalls == 0 {
		t.Error("idle Waiting did not fire OnIdle")
	}
	// Status() resets the idle timestamp, so it must run after the check.
	status := h.orchestrator.Status()
	if status.Label != StateWaiting {
		t.Fatalf("state = %s, want waiting", status.Label)
	}
	if status.Generation != before {
		t.Errorf("pure Waiting idle bumped the generation %d -> %d", before, status.Generation)
	}
}

func TestStatus_ReadKeepsWaitingAlive(t *testing.T) {
	h := newHarness(t)

	h.clock.Add(debugIdleTimeout - time.Millisecond)
	h.orchestrator.Status()
	h.clock.Add(debugIdleTimeout - time.Millisecond)
	h.orchestrator.tick()

	if h.idleCalls != 0 {
		t.Error("OnIdle fired although Status reads kept resetting the idle timestamp")
	}
}

func TestRequestGuest_RejectsMalformedCode(t *testing.T) {
	h := newHarness(t)
	if h.orchestrator.RequestGuest("not-a-code") {
		t.Fatal("RequestGuest accepted a malformed code")
	}
	h.mustBe(t, StateWaiting)
}

func TestRequestGuest_FromWaiting(t *testing.T) {
	h := newHarness(t)
	code := room.New(25565).Code()

	if !h.orchestrator.RequestGuest(code) {
		t.Fatal("RequestGuest refused a valid code from Waiting")
	}
	status := h.mustBe(t, StateGuesting)
	if status.RoomCode != code {
		t.Errorf("status room = %q, want %q", status.RoomCode, code)
	}
	if status.GuestEndpoint != "127.0.0.1:35781" {
		t.Errorf("guest endpoint = %q, want the configured loopback port", status.GuestEndpoint)
	}
	if !h.announcer.started {
		t.Error("guest side did not start re-advertising the forwarded endpoint")
	}
	if h.factory.last().applyCalls == 0 {
		t.Error("port forwards were not applied on join")
	}
}

func TestRequestGuest_FromScanningReleasesListener(t *testing.T) {
	h := newHarness(t)
	h.orchestrator.RequestScan()

	if !h.orchestrator.RequestGuest(room.New(25565).Code()) {
		t.Fatal("RequestGuest refused from Scanning")
	}
	h.mustBe(t, StateGuesting)
	if !h.listener.wasStopped() {
		t.Error("scanning listener leaked across the guest transition")
	}
}

func TestRequestGuest_RefusedWhileHosting(t *testing.T) {
	h := newHarness(t)
	h.orchestrator.RequestScan()
	h.listener.discover(discovery.Candidate{MOTD: "A Minecraft Server", Port: 25565})
	h.orchestrator.tick()
	h.mustBe(t, StateHosting)

	if h.orchestrator.RequestGuest(room.New(25570).Code()) {
		t.Error("RequestGuest accepted while Hosting")
	}
}

func TestRequestGuest_StartFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.factory.startErr = errors.New("engine refused")

	if h.orchestrator.RequestGuest(room.New(25565).Code()) {
		t.Fatal("RequestGuest succeeded despite a failed session start")
	}
	status := h.mustBe(t, StateWaiting)
	if status.Generation != 0 {
		t.Errorf("failed join bumped the generation to %d", status.Generation)
	}
}

func TestTick_GuestSessionDeath(t *testing.T) {
	h := newHarness(t)
	h.orchestrator.RequestGuest(room.New(25565).Code())
	h.mustBe(t, StateGuesting)

	h.factory.last().kill()
	h.orchestrator.tick()

	h.mustBe(t, StateWaiting)
	if !h.announcer.stopped {
		t.Error("announcer kept running after the guest session died")
	}
	if !h.factory.last().wasStopped() {
		t.Error("dead guest session was not released")
	}
}

func TestTick_RetriesRejectedForwards(t *testing.T) {
	h := newHarness(t)
	h.factory.applyOK = false

	h.orchestrator.RequestGuest(room.New(25565).Code())
	s := h.factory.last()
	if s.applyCalls != 1 {
		t.Fatalf("applyCalls = %d after join, want 1", s.applyCalls)
	}

	h.orchestrator.tick()
	if s.applyCalls != 2 {
		t.Errorf("applyCalls = %d after one tick, want a retry", s.applyCalls)
	}

	// The engine recovers; the next tick succeeds and retries stop.
	s.mu.Lock()
	s.applyOK = true
	s.mu.Unlock()
	h.orchestrator.tick()
	h.orchestrator.tick()
	if s.applyCalls != 3 {
		t.Errorf("applyCalls = %d, want 3 (no retries after success)", s.applyCalls)
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t)

	// Waiting -> Waiting refreshes the timestamp only.
	h.orchestrator.Reset()
	if got := h.orchestrator.Status().Generation; got != 0 {
		t.Errorf("Reset in Waiting bumped the generation to %d", got)
	}

	h.orchestrator.RequestGuest(room.New(25565).Code())
	before := h.orchestrator.Status().Generation
	h.orchestrator.Reset()

	status := h.mustBe(t, StateWaiting)
	if status.Generation != before+1 {
		t.Errorf("Reset bumped generation %d -> %d, want +1", before, status.Generation)
	}
	if !h.factory.last().wasStopped() {
		t.Error("Reset did not release the guest session")
	}
	if !h.announcer.stopped {
		t.Error("Reset did not stop the announcer")
	}
}

func TestGeneration_StrictlyIncreases(t *testing.T) {
	h := newHarness(t)
	last := h.orchestrator.Status().Generation

	steps := []func(){
		func() { h.orchestrator.RequestScan() },
		func() {
			h.listener.discover(discovery.Candidate{MOTD: "world", Port: 25565})
			h.orchestrator.tick()
		},
		func() { h.orchestrator.Reset() },
		func() { h.orchestrator.RequestGuest(room.New(25570).Code()) },
		func() {
			h.factory.last().kill()
			h.orchestrator.tick()
		},
	}
	for i, step := range steps {
		step()
		current := h.orchestrator.Status().Generation
		if current != last+1 {
			t.Fatalf("step %d: generation %d -> %d, want strictly +1", i, last, current)
		}
		last = current
	}
}

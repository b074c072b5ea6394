package lobby

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"terracotta/application/confgen"
	"terracotta/application/logging"
	"terracotta/domain/room"
	"terracotta/infrastructure/discovery"
	"terracotta/settings"
	"terracotta/settings/app_configuration"
)

type StateLabel string

const (
	StateWaiting  StateLabel = "waiting"
	StateScanning StateLabel = "scanning"
	StateHosting  StateLabel = "hosting"
	StateGuesting StateLabel = "guesting"
)

const (
	tickInterval          = 200 * time.Millisecond
	productionIdleTimeout = 10 * time.Second
	debugIdleTimeout      = 3 * time.Second
)

// Status is the externally visible snapshot. Generation strictly increases
// across transitions, so pollers detect change by comparing it.
type Status struct {
	Generation    uint64     `json:"index"`
	Label         StateLabel `json:"state"`
	RoomCode      string     `json:"room,omitempty"`
	GuestEndpoint string     `json:"url,omitempty"`
}

// Dependencies are injected at construction; the orchestrator holds no
// process-wide state.
type Dependencies struct {
	Configuration *app_configuration.Configuration
	Logger        logging.Logger
	Clock         clock.Clock
	Sessions      SessionFactory
	NewListener   ListenerFactory
	NewAnnouncer  AnnouncerFactory
	// OnIdle fires when the lobby has sat in Waiting past the idle timeout
	// with no Status reads; the owner typically shuts the process down.
	OnIdle func()
}

// appState is the closed set of lifecycle states. Exactly one is live at a
// time; release frees whatever resources the state owns.
type appState interface {
	label() StateLabel
	release()
}

type waitingState struct {
	since time.Time
}

type scanningState struct {
	since    time.Time
	listener CandidateListener
}

type hostingState struct {
	session Session
	room    room.Room
}

type guestingState struct {
	session         Session
	room            room.Room
	announcer       Announcer
	forwards        []settings.PortForward
	forwardsApplied bool
}

func (*waitingState) label() StateLabel  { return StateWaiting }
func (*scanningState) label() StateLabel { return StateScanning }
func (*hostingState) label() StateLabel  { return StateHosting }
func (*guestingState) label() StateLabel { return StateGuesting }

func (*waitingState) release() {}
func (s *scanningState) release() {
	s.listener.Stop()
}
func (s *hostingState) release() {
	s.session.Stop()
}
func (s *guestingState) release() {
	s.announcer.Stop()
	s.session.Stop()
}

// Orchestrator serializes every transition, explicit or automatic, through
// one lock. The lock is never held across engine I/O: state is read, the
// slow work performed unlocked, then the transition committed only if the
// generation is still the one observed before the work started.
type Orchestrator struct {
	deps        Dependencies
	generator   *confgen.Generator
	idleTimeout time.Duration

	mu         sync.Mutex
	generation uint64
	state      appState

	done     chan struct{}
	stopOnce sync.Once
}

func NewOrchestrator(deps Dependencies) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	timeout := productionIdleTimeout
	if deps.Configuration.Debug {
		timeout = debugIdleTimeout
	}
	return &Orchestrator{
		deps:        deps,
		generator:   confgen.NewGenerator(),
		idleTimeout: timeout,
		state:       &waitingState{since: deps.Clock.Now()},
		done:        make(chan struct{}),
	}
}

// Start launches the tick loop driving automatic transitions.
func (o *Orchestrator) Start() {
	go o.loop()
}

// Close stops the tick loop and releases whatever the current state owns.
func (o *Orchestrator) Close() {
	o.stopOnce.Do(func() {
		close(o.done)
	})
	o.Reset()
}

// Status snapshots the current state. Reading while Waiting or Scanning
// refreshes the idle timestamp: a polling UI keeps the lobby alive.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch s := o.state.(type) {
	case *waitingState:
		s.since = o.deps.Clock.Now()
		return Status{Generation: o.generation, Label: StateWaiting}
	case *scanningState:
		s.since = o.deps.Clock.Now()
		return Status{Generation: o.generation, Label: StateScanning}
	case *hostingState:
		return Status{Generation: o.generation, Label: StateHosting, RoomCode: s.room.Code()}
	case *guestingState:
		return Status{
			Generation:    o.generation,
			Label:         StateGuesting,
			RoomCode:      s.room.Code(),
			GuestEndpoint: fmt.Sprintf("127.0.0.1:%d", o.deps.Configuration.GuestLocalPort),
		}
	default:
		return Status{Generation: o.generation, Label: StateWaiting}
	}
}

// RequestScan moves Waiting to Scanning, opening a discovery listener for
// the game's own announcements. Returns false if the lobby is not Waiting
// or the listener cannot be opened.
func (o *Orchestrator) RequestScan() bool {
	o.mu.Lock()
	if _, isWaiting := o.state.(*waitingState); !isWaiting {
		o.mu.Unlock()
		return false
	}
	observed := o.generation
	o.mu.Unlock()

	listener, listenErr := o.deps.NewListener(discovery.AcceptForeign)
	if listenErr != nil {
		o.deps.Logger.Printf("lobby: cannot open discovery listener: %s", listenErr)
		return false
	}

	o.mu.Lock()
	if o.generation != observed {
		o.mu.Unlock()
		listener.Stop()
		return false
	}
	o.generation++
	o.state = &scanningState{since: o.deps.Clock.Now(), listener: listener}
	o.mu.Unlock()

	o.deps.Logger.Printf("lobby: scanning for a local game")
	return true
}

// RequestGuest joins the room behind the given code. Allowed from Waiting
// and Scanning. Returns false on an undecodable code, a failed session
// start, or a conflicting concurrent transition; in every failure case the
// previous state is preserved.
func (o *Orchestrator) RequestGuest(code string) bool {
	joined, ok := room.Decode(code)
	if !ok {
		o.deps.Logger.Printf("lobby: rejecting malformed room code %q", code)
		return false
	}

	o.mu.Lock()
	switch o.state.(type) {
	case *waitingState, *scanningState:
	default:
		o.mu.Unlock()
		return false
	}
	observed := o.generation
	o.mu.Unlock()

	document := o.generator.Generate(guestArguments(o.deps.Configuration, joined))
	sess, startErr := o.deps.Sessions.Start(document)
	if startErr != nil {
		o.deps.Logger.Printf("lobby: cannot join room %s: %s", joined.Code(), startErr)
		return false
	}

	forwards := guestForwards(o.deps.Configuration, joined)
	applied := sess.ApplyPortForwards(forwards)

	o.mu.Lock()
	if o.generation != observed {
		o.mu.Unlock()
		sess.Stop()
		return false
	}
	previous := o.state
	announcer := o.deps.NewAnnouncer(discovery.RoomMOTD(joined), o.deps.Configuration.GuestLocalPort)
	o.generation++
	o.state = &guestingState{
		session:         sess,
		room:            joined,
		announcer:       announcer,
		forwards:        forwards,
		forwardsApplied: applied,
	}
	o.mu.Unlock()

	previous.release()
	announcer.Start()
	o.deps.Logger.Printf("lobby: guesting room %s", joined.Code())
	return true
}

// Reset unconditionally returns to Waiting, releasing whatever the current
// state owns. Already-Waiting resets only the idle timestamp, without a
// generation bump.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	if s, isWaiting := o.state.(*waitingState); isWaiting {
		s.since = o.deps.Clock.Now()
		o.mu.Unlock()
		return
	}
	previous := o.state
	o.generation++
	o.state = &waitingState{since: o.deps.Clock.Now()}
	o.mu.Unlock()

	o.deps.Logger.Printf("lobby: reset to waiting")
	previous.release()
}

func (o *Orchestrator) loop() {
	ticker := o.deps.Clock.Ticker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
			o.tick()
		}
	}
}

// tick performs at most one automatic transition per interval.
func (o *Orchestrator) tick() {
	o.mu.Lock()
	switch s := o.state.(type) {
	case *waitingState:
		idle := o.deps.Clock.Now().Sub(s.since)
		o.mu.Unlock()
		if idle >= o.idleTimeout && o.deps.OnIdle != nil {
			o.deps.Logger.Printf("lobby: idle for %s, signalling shutdown", idle.Round(time.Second))
			o.deps.OnIdle()
		}

	case *scanningState:
		now := o.deps.Clock.Now()
		if now.Sub(s.since) >= o.idleTimeout {
			o.generation++
			o.state = &waitingState{since: now}
			o.mu.Unlock()
			o.deps.Logger.Printf("lobby: scanning timed out")
			s.listener.Stop()
			return
		}
		candidates := s.listener.Candidates()
		if len(candidates) == 0 {
			o.mu.Unlock()
			return
		}
		observed := o.generation
		o.mu.Unlock()
		// First discovered candidate wins; later ones are ignored.
		o.host(observed, s, candidates[0])

	case *hostingState:
		if s.session.Alive() {
			o.mu.Unlock()
			return
		}
		o.generation++
		o.state = &waitingState{since: o.deps.Clock.Now()}
		o.mu.Unlock()
		o.deps.Logger.Printf("lobby: hosted session died")
		s.session.Stop()

	case *guestingState:
		if !s.session.Alive() {
			o.generation++
			o.state = &waitingState{since: o.deps.Clock.Now()}
			o.mu.Unlock()
			o.deps.Logger.Printf("lobby: guest session died")
			s.release()
			return
		}
		if s.forwardsApplied {
			o.mu.Unlock()
			return
		}
		// Retry the forwards the engine rejected; rules already accepted
		// are not re-submitted by the session.
		sess, forwards := s.session, s.forwards
		o.mu.Unlock()
		applied := sess.ApplyPortForwards(forwards)
		o.mu.Lock()
		if current, stillGuesting := o.state.(*guestingState); stillGuesting && current == s {
			current.forwardsApplied = applied
		}
		o.mu.Unlock()

	default:
		o.mu.Unlock()
	}
}

// host commits Scanning -> Hosting for the discovered game advertisement.
// A failed session start is surfaced as a transition back to Waiting.
func (o *Orchestrator) host(observed uint64, s *scanningState, candidate discovery.Candidate) {
	hosted := room.New(candidate.Port)
	document := o.generator.Generate(hostArguments(o.deps.Configuration, hosted))

	sess, startErr := o.deps.Sessions.Start(document)

	o.mu.Lock()
	if o.generation != observed {
		o.mu.Unlock()
		if startErr == nil {
			sess.Stop()
		}
		return
	}
	if startErr != nil {
		o.generation++
		o.state = &waitingState{since: o.deps.Clock.Now()}
		o.mu.Unlock()
		o.deps.Logger.Printf("lobby: cannot host room %s: %s", hosted.Code(), startErr)
		s.listener.Stop()
		return
	}
	o.generation++
	o.state = &hostingState{session: sess, room: hosted}
	o.mu.Unlock()

	s.listener.Stop()
	o.deps.Logger.Printf("lobby: hosting room %s for game port %d", hosted.Code(), candidate.Port)
}

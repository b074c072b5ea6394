// Package lobby owns the application state machine: Waiting, Scanning,
// Hosting and Guesting, the generation counter observers use for change
// detection, and the tick loop that performs automatic transitions.
package lobby

import (
	"terracotta/application"
	"terracotta/infrastructure/discovery"
	"terracotta/settings"
)

type (
	// Session is a live network session owned by exactly one state.
	Session interface {
		Alive() bool
		Routes() []application.PeerRoute
		ApplyPortForwards(forwards []settings.PortForward) bool
		Stop()
	}

	// SessionFactory starts a session from a serialized engine document.
	SessionFactory interface {
		Start(document []byte) (Session, error)
	}

	// CandidateListener is a running discovery listener.
	CandidateListener interface {
		Candidates() []discovery.Candidate
		Stop()
	}

	// Announcer is a running discovery broadcaster.
	Announcer interface {
		Start()
		Stop()
	}

	// ListenerFactory opens a discovery listener with the given MOTD filter.
	ListenerFactory func(filter func(motd string) bool) (CandidateListener, error)

	// AnnouncerFactory builds a broadcaster for the given announcement.
	AnnouncerFactory func(motd string, port uint16) Announcer
)

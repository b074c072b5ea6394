// Package interactive is the terminal front end. It drives the lobby
// through the same request surface the web control plane uses.
package interactive

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"terracotta/application/logging"
	"terracotta/infrastructure/discovery"
	"terracotta/lobby"
)

const (
	actionScan   = "scan: look for a local game and host it"
	actionJoin   = "join: enter a room code"
	actionNearby = "nearby: join a lobby announced on this segment"
	actionStatus = "status: show the current lobby state"
	actionQuit   = "quit"
)

// nearbyWindow covers two announcement intervals, enough to catch every
// active lobby on the segment.
const nearbyWindow = 3500 * time.Millisecond

type Prompt struct {
	lobby       *lobby.Orchestrator
	logger      logging.Logger
	newListener lobby.ListenerFactory
}

func NewPrompt(orchestrator *lobby.Orchestrator, logger logging.Logger, newListener lobby.ListenerFactory) *Prompt {
	return &Prompt{
		lobby:       orchestrator,
		logger:      logger,
		newListener: newListener,
	}
}

// Run loops the action menu until the user quits or the context ends.
func (p *Prompt) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		choice, choiceErr := p.askForAction()
		if choiceErr != nil {
			return choiceErr
		}

		switch choice {
		case actionScan:
			if !p.lobby.RequestScan() {
				fmt.Println("Cannot scan right now; reset to waiting first.")
				break
			}
			fmt.Println("Scanning for a local game. Open your world to LAN.")
		case actionJoin:
			code, codeErr := p.askForRoomCode()
			if codeErr != nil {
				return codeErr
			}
			if code == "" {
				break
			}
			p.join(code)
		case actionNearby:
			p.joinNearby(ctx)
		case actionStatus:
			p.printStatus()
		case actionQuit, "":
			return nil
		}
	}
}

func (p *Prompt) askForAction() (string, error) {
	selector := NewSelector("Terracotta", []string{
		actionScan, actionJoin, actionNearby, actionStatus, actionQuit,
	})
	model, runErr := tea.NewProgram(selector).Run()
	if runErr != nil {
		return "", fmt.Errorf("interactive: selector failed: %w", runErr)
	}
	result, ok := model.(Selector)
	if !ok {
		return "", nil
	}
	return result.Choice(), nil
}

func (p *Prompt) askForRoomCode() (string, error) {
	entry := NewTextArea("room code")
	model, runErr := tea.NewProgram(entry).Run()
	if runErr != nil {
		return "", fmt.Errorf("interactive: room code entry failed: %w", runErr)
	}
	result, ok := model.(*TextArea)
	if !ok {
		return "", nil
	}
	return result.Value(), nil
}

func (p *Prompt) join(code string) {
	if !p.lobby.RequestGuest(code) {
		fmt.Printf("Cannot join room %q.\n", code)
		return
	}
	p.printStatus()
}

// joinNearby listens for lobby announcements for a short window and joins
// the first decodable room it heard.
func (p *Prompt) joinNearby(ctx context.Context) {
	listener, listenErr := p.newListener(discovery.AcceptLobby)
	if listenErr != nil {
		fmt.Printf("Cannot listen for lobbies: %s\n", listenErr)
		return
	}
	defer listener.Stop()

	fmt.Println("Listening for nearby lobbies...")
	select {
	case <-ctx.Done():
		return
	case <-time.After(nearbyWindow):
	}

	for _, candidate := range listener.Candidates() {
		if found, ok := candidate.Room(); ok {
			fmt.Printf("Found lobby %s.\n", found.Code())
			p.join(found.Code())
			return
		}
	}
	fmt.Println("No lobby heard on this segment.")
}

func (p *Prompt) printStatus() {
	status := p.lobby.Status()
	switch status.Label {
	case lobby.StateHosting:
		fmt.Printf("Hosting room %s. Share this code with your guest.\n", status.RoomCode)
	case lobby.StateGuesting:
		fmt.Printf("Guesting room %s. The world appears in your LAN list at %s.\n",
			status.RoomCode, status.GuestEndpoint)
	default:
		fmt.Printf("State: %s\n", status.Label)
	}
}

// Package discovery implements the local-segment advertisement exchange:
// a broadcaster that periodically announces a lobby on every viable
// interface and a listener that collects candidate advertisements.
//
// The wire format piggybacks on the game's own LAN announcement so game
// clients discover the re-advertised endpoint like any local world:
//
//	[MOTD]<text>[/MOTD][AD]<port>[/AD]
//
// Our own announcements carry the lobby marker and the room code inside the
// MOTD text; everything else on the channel is third-party traffic.
package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"terracotta/domain/room"
)

// Marker distinguishes this system's announcements from other traffic
// sharing the discovery channel.
const Marker = "[Terracotta]"

// LobbyMOTD is the friendly announcement text shown inside the game's
// server list on the guest side.
const LobbyMOTD = Marker + " Double-click to join the lobby (keep Terracotta running)"

// RoomMOTD embeds the room code into the lobby announcement.
func RoomMOTD(r room.Room) string {
	return fmt.Sprintf("%s #%s", LobbyMOTD, r.Code())
}

// EncodePayload serializes one announcement datagram. The result is a few
// dozen bytes, far below any practical MTU.
func EncodePayload(motd string, port uint16) []byte {
	return []byte(fmt.Sprintf("[MOTD]%s[/MOTD][AD]%d[/AD]", motd, port))
}

// ParsePayload extracts the MOTD text and advertised port from a datagram.
// Anything malformed yields ok == false; the caller drops it silently.
func ParsePayload(datagram []byte) (motd string, port uint16, ok bool) {
	text := string(datagram)

	motd, rest, motdOK := cutSection(text, "[MOTD]", "[/MOTD]")
	if !motdOK {
		return "", 0, false
	}
	portText, _, portOK := cutSection(rest, "[AD]", "[/AD]")
	if !portOK {
		return "", 0, false
	}
	parsed, parseErr := strconv.ParseUint(portText, 10, 16)
	if parseErr != nil || parsed == 0 {
		return "", 0, false
	}
	return motd, uint16(parsed), true
}

func cutSection(text, open, close string) (inner, rest string, ok bool) {
	_, afterOpen, foundOpen := strings.Cut(text, open)
	if !foundOpen {
		return "", "", false
	}
	inner, rest, foundClose := strings.Cut(afterOpen, close)
	if !foundClose {
		return "", "", false
	}
	return inner, rest, true
}

// Candidate is one deduplicated advertisement observed on the segment.
type Candidate struct {
	MOTD string
	Port uint16
}

// Room decodes the room code embedded in a lobby announcement. Returns
// false for announcements without our marker or with an undecodable code.
func (c Candidate) Room() (room.Room, bool) {
	if !strings.HasPrefix(c.MOTD, Marker) {
		return room.Room{}, false
	}
	idx := strings.LastIndex(c.MOTD, "#")
	if idx < 0 {
		return room.Room{}, false
	}
	return room.Decode(strings.TrimSpace(c.MOTD[idx+1:]))
}

// IsForeign reports whether the advertisement came from something other
// than this system, e.g. the game's own LAN announcement.
func (c Candidate) IsForeign() bool {
	return !strings.HasPrefix(c.MOTD, Marker)
}

// AcceptForeign is the listener filter for scanning: only advertisements
// without our marker, i.e. the game's own announcements.
func AcceptForeign(motd string) bool {
	return !strings.HasPrefix(motd, Marker)
}

// AcceptLobby is the listener filter for finding nearby lobbies: only
// advertisements carrying our marker.
func AcceptLobby(motd string) bool {
	return strings.HasPrefix(motd, Marker)
}

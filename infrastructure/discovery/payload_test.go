package discovery

import (
	"strings"
	"testing"

	"terracotta/domain/room"
)

func TestParsePayload(t *testing.T) {
	cases := []struct {
		name     string
		datagram string
		wantMOTD string
		wantPort uint16
		wantOK   bool
	}{
		{"game announcement", "[MOTD]A Minecraft Server[/MOTD][AD]25565[/AD]", "A Minecraft Server", 25565, true},
		{"lobby announcement", "[MOTD]" + LobbyMOTD + "[/MOTD][AD]35781[/AD]", LobbyMOTD, 35781, true},
		{"empty motd", "[MOTD][/MOTD][AD]80[/AD]", "", 80, true},
		{"missing motd", "[AD]25565[/AD]", "", 0, false},
		{"missing port", "[MOTD]hello[/MOTD]", "", 0, false},
		{"unterminated motd", "[MOTD]hello[AD]25565[/AD]", "", 0, false},
		{"port not a number", "[MOTD]x[/MOTD][AD]abc[/AD]", "", 0, false},
		{"port zero", "[MOTD]x[/MOTD][AD]0[/AD]", "", 0, false},
		{"port overflow", "[MOTD]x[/MOTD][AD]70000[/AD]", "", 0, false},
		{"negative port", "[MOTD]x[/MOTD][AD]-1[/AD]", "", 0, false},
		{"empty datagram", "", "", 0, false},
		{"garbage", "\x00\xff\x17garbage", "", 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			motd, port, ok := ParsePayload([]byte(tc.datagram))
			if ok != tc.wantOK {
				t.Fatalf("ParsePayload(%q) ok = %v, want %v", tc.datagram, ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if motd != tc.wantMOTD || port != tc.wantPort {
				t.Errorf("ParsePayload(%q) = (%q, %d), want (%q, %d)",
					tc.datagram, motd, port, tc.wantMOTD, tc.wantPort)
			}
		})
	}
}

func TestEncodePayload_RoundTrip(t *testing.T) {
	r := room.New(25565)
	datagram := EncodePayload(RoomMOTD(r), 35781)

	motd, port, ok := ParsePayload(datagram)
	if !ok {
		t.Fatalf("own announcement does not parse: %q", datagram)
	}
	if port != 35781 {
		t.Errorf("port = %d, want 35781", port)
	}
	if !strings.HasPrefix(motd, Marker) {
		t.Errorf("own announcement lacks the marker: %q", motd)
	}
}

func TestCandidate_RoomExtraction(t *testing.T) {
	r := room.New(25565)

	cases := []struct {
		name   string
		motd   string
		wantOK bool
	}{
		{"lobby with code", RoomMOTD(r), true},
		{"marker without code", LobbyMOTD, false},
		{"marker with garbage code", Marker + " #not-a-code", false},
		{"foreign announcement", "A Minecraft Server", false},
		{"foreign with hash", "play #1 server", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, ok := Candidate{MOTD: tc.motd, Port: 25565}.Room()
			if ok != tc.wantOK {
				t.Fatalf("Room() ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && decoded.Port() != r.Port() {
				t.Errorf("extracted room port = %d, want %d", decoded.Port(), r.Port())
			}
		})
	}
}

func TestFilters(t *testing.T) {
	r := room.New(4445)

	if AcceptForeign(RoomMOTD(r)) {
		t.Error("AcceptForeign accepted our own announcement")
	}
	if !AcceptForeign("A Minecraft Server") {
		t.Error("AcceptForeign rejected a game announcement")
	}
	if !AcceptLobby(RoomMOTD(r)) {
		t.Error("AcceptLobby rejected a lobby announcement")
	}
	if AcceptLobby("A Minecraft Server") {
		t.Error("AcceptLobby accepted a game announcement")
	}
}

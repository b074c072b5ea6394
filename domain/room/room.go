// Package room implements the short human-shareable codes that carry the
// parameters needed to join a hosted session, and the virtual network
// identity derived from them.
package room

import (
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2s"
)

// codeVersion is the first payload byte; bumping it invalidates all codes
// minted under older schemes.
const codeVersion = 0x01

const secretPrefix = "terracotta/room/v1:"

// Room is a decoded (or freshly minted) session code. The zero value is
// not a valid room; construct via New or Decode.
type Room struct {
	code string
	port uint16
}

// New mints the room advertising the given local game port.
func New(port uint16) Room {
	payload := []byte{codeVersion, byte(port >> 8), byte(port)}
	sum := blake2s.Sum256(payload)
	return Room{
		code: base58.Encode(append(payload, sum[0])),
		port: port,
	}
}

// Decode parses a shared code back into a Room. It returns false for any
// malformed input: wrong alphabet, wrong length, unknown version, checksum
// mismatch, or a zero port.
func Decode(code string) (Room, bool) {
	raw, err := base58.Decode(code)
	if err != nil || len(raw) != 4 {
		return Room{}, false
	}
	if raw[0] != codeVersion {
		return Room{}, false
	}
	sum := blake2s.Sum256(raw[:3])
	if raw[3] != sum[0] {
		return Room{}, false
	}
	port := uint16(raw[1])<<8 | uint16(raw[2])
	if port == 0 {
		return Room{}, false
	}
	return Room{code: code, port: port}, true
}

func (r Room) Code() string {
	return r.code
}

// Port is the host-local game port this room tunnels.
func (r Room) Port() uint16 {
	return r.port
}

// NetworkName is the engine network identity shared by every member of the
// room. Codes are case-sensitive, so the name embeds the code verbatim.
func (r Room) NetworkName() string {
	return fmt.Sprintf("terracotta-%s", r.code)
}

// NetworkSecret derives the shared network secret from the code. Both sides
// compute it independently; it never travels over the discovery channel.
func (r Room) NetworkSecret() string {
	sum := blake2s.Sum256([]byte(secretPrefix + r.code))
	return hex.EncodeToString(sum[:])
}

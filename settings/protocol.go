package settings

import (
	"encoding/json"
	"errors"
	"strings"
)

type Protocol int

const (
	TCP Protocol = iota
	UDP
)

// Name returns the lowercase wire name used in engine documents and
// listener URIs ("tcp", "udp").
func (p Protocol) Name() string {
	switch p {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return "unknown"
	}
}

func (p Protocol) MarshalJSON() ([]byte, error) {
	switch p {
	case TCP:
		return json.Marshal("TCP")
	case UDP:
		return json.Marshal("UDP")
	default:
		return nil, errors.New("invalid protocol")
	}
}

func (p *Protocol) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToUpper(s) {
	case "TCP":
		*p = TCP
	case "UDP":
		*p = UDP
	default:
		return errors.New("invalid protocol")
	}
	return nil
}

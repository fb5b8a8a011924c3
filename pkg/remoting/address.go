package remoting

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Address identifies a reachable transport endpoint:
// protocol scheme, logical system name, host and port.
// It is an immutable value; equality is structural and an
// Address is usable as a map key.
type Address struct {
	Protocol string
	System   string
	Host     string
	Port     int
}

// ParseAddress parses "proto://system@host:port" into an Address.
// The system part is optional: "proto://host:port" is accepted.
func ParseAddress(s string) (Address, error) {
	var a Address
	i := strings.Index(s, "://")
	if i <= 0 {
		return a, fmt.Errorf("address %q: missing protocol scheme", s)
	}
	a.Protocol = s[:i]
	rest := s[i+3:]
	if j := strings.IndexByte(rest, '@'); j >= 0 {
		a.System = rest[:j]
		rest = rest[j+1:]
	}
	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return Address{}, fmt.Errorf("address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Address{}, fmt.Errorf("address %q: invalid port %q", s, portStr)
	}
	a.Host = host
	a.Port = port
	if a.Host == "" {
		return Address{}, fmt.Errorf("address %q: empty host", s)
	}
	return a, nil
}

func (a Address) String() string {
	var b strings.Builder
	b.WriteString(a.Protocol)
	b.WriteString("://")
	if a.System != "" {
		b.WriteString(a.System)
		b.WriteByte('@')
	}
	b.WriteString(a.HostPort())
	return b.String()
}

// HostPort returns the host:port part, suitable for net dialing.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether the address is the zero value.
func (a Address) IsZero() bool { return a == Address{} }

// UID distinguishes successive incarnations of a node at the same
// address. Zero means the incarnation is unknown.
type UID uint64

// NewUID mints a random non-zero UID from UUID entropy.
func NewUID() UID {
	for {
		u := uuid.New()
		id := UID(binary.BigEndian.Uint64(u[:8]))
		if id != 0 {
			return id
		}
	}
}

// PeerIdentity is an Address plus an optional incarnation UID.
// Two identities with the same Address but different UIDs belong to
// different runs of that node and never share a session.
type PeerIdentity struct {
	Address Address
	UID     UID
}

func (p PeerIdentity) String() string {
	if p.UID == 0 {
		return p.Address.String()
	}
	return p.Address.String() + "#" + strconv.FormatUint(uint64(p.UID), 10)
}

package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const DefaultProtocol = "akka.tcp"

var ErrInvalidAddress = errors.New("invalid address")

// Address represents a remote actor system location.
type Address struct {
	Protocol string
	System   string
	Host     string
	Port     uint32
}

func (a Address) String() string {
	if a.Host == "" {
		return fmt.Sprintf("%s://%s", a.Protocol, a.System)
	}
	return fmt.Sprintf("%s://%s@%s:%d", a.Protocol, a.System, a.Host, a.Port)
}

// HostPort returns the network endpoint of the address, suitable for dialing.
func (a Address) HostPort() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) Compare(b Address) int {
	if c := strings.Compare(a.Protocol, b.Protocol); c != 0 {
		return c
	}
	if c := strings.Compare(a.System, b.System); c != 0 {
		return c
	}
	if c := strings.Compare(a.Host, b.Host); c != 0 {
		return c
	}
	switch {
	case a.Port < b.Port:
		return -1
	case a.Port > b.Port:
		return 1
	}
	return 0
}

func (a Address) Less(b Address) bool {
	return a.Compare(b) < 0
}

// ParseAddress parses the output of Address.String. Trailing actor path
// elements are ignored.
func ParseAddress(s string) (Address, error) {
	idx := strings.Index(s, "://")
	if idx <= 0 {
		return Address{}, errors.Wrapf(ErrInvalidAddress, "missing protocol in %q", s)
	}
	out := Address{Protocol: s[:idx]}
	rest := s[idx+3:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	at := strings.Index(rest, "@")
	if at < 0 {
		out.System = rest
		if out.System == "" {
			return Address{}, errors.Wrapf(ErrInvalidAddress, "missing system in %q", s)
		}
		return out, nil
	}
	out.System = rest[:at]
	hostport := rest[at+1:]
	colon := strings.LastIndex(hostport, ":")
	if colon < 0 {
		return Address{}, errors.Wrapf(ErrInvalidAddress, "missing port in %q", s)
	}
	port, err := strconv.ParseUint(hostport[colon+1:], 10, 32)
	if err != nil {
		return Address{}, errors.Wrapf(ErrInvalidAddress, "invalid port in %q", s)
	}
	out.Host = hostport[:colon]
	out.Port = uint32(port)
	return out, nil
}

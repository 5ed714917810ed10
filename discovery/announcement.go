package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Wire markers of the presence announcement:
//
//	Server: <name>, IP: <ip>, PORT: <port>
//
// Parsing locates the first occurrence of each marker, so a name containing a
// marker would be misread. Names are validated at encode time instead of escaped.
const (
	markerName = "Server: "
	markerIP   = ", IP: "
	markerPort = ", PORT: "
)

// ErrMalformedAnnouncement indicates a datagram that is not a presence announcement.
var ErrMalformedAnnouncement = errors.New("discovery: malformed announcement")

// Announcement is the identity triple carried by one broadcast datagram.
type Announcement struct {
	Name string
	IP   string
	Port int
}

// Validate checks that the announcement can be encoded and parsed back unchanged.
func (a Announcement) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("announcement name is required")
	}
	for _, marker := range []string{markerName, markerIP, markerPort} {
		if strings.Contains(a.Name, marker) {
			return fmt.Errorf("announcement name %q must not contain %q", a.Name, marker)
		}
	}
	if ip := net.ParseIP(a.IP); ip == nil || ip.To4() == nil {
		return fmt.Errorf("announcement IP %q is not a dotted-quad address", a.IP)
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("announcement port %d out of range", a.Port)
	}
	return nil
}

// String renders the wire text without validation.
func (a Announcement) String() string {
	return markerName + a.Name + markerIP + a.IP + markerPort + strconv.Itoa(a.Port)
}

// Marshal validates and encodes the announcement.
func (a Announcement) Marshal() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return []byte(a.String()), nil
}

// ParseAnnouncement decodes one datagram payload.
func ParseAnnouncement(message string) (Announcement, error) {
	nameAt := strings.Index(message, markerName)
	if nameAt < 0 {
		return Announcement{}, fmt.Errorf("%w: missing %q", ErrMalformedAnnouncement, markerName)
	}
	rest := message[nameAt+len(markerName):]

	ipAt := strings.Index(rest, markerIP)
	if ipAt < 0 {
		return Announcement{}, fmt.Errorf("%w: missing %q", ErrMalformedAnnouncement, markerIP)
	}
	name := rest[:ipAt]
	rest = rest[ipAt+len(markerIP):]

	portAt := strings.Index(rest, markerPort)
	if portAt < 0 {
		return Announcement{}, fmt.Errorf("%w: missing %q", ErrMalformedAnnouncement, markerPort)
	}
	ip := rest[:portAt]
	rawPort := strings.TrimSpace(rest[portAt+len(markerPort):])

	if strings.TrimSpace(name) == "" {
		return Announcement{}, fmt.Errorf("%w: empty name", ErrMalformedAnnouncement)
	}
	if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil {
		return Announcement{}, fmt.Errorf("%w: invalid ip %q", ErrMalformedAnnouncement, ip)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 || port > 65535 {
		return Announcement{}, fmt.Errorf("%w: invalid port %q", ErrMalformedAnnouncement, rawPort)
	}

	return Announcement{Name: name, IP: ip, Port: port}, nil
}

// Package discovery implements authenticated peer discovery over IPv4
// multicast. The sender announces itself with a signed beacon every
// 500ms; the receiver listens on the shared group, verifies each
// datagram's HMAC against the code phrase, and surfaces verified peers.
// A passive observer sees only the phrase hash and can forge nothing.
package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/localsend/localsend-cli/protocol"
)

var (
	ErrPortInUse = errors.New("discovery: multicast port busy (another LocalSend instance may be running)")
	ErrClosed    = errors.New("discovery: closed")
)

// Config tunes the multicast transport. The zero value selects the
// LocalSend defaults.
type Config struct {
	// Group is the IPv4 multicast group address.
	Group string
	// Port is the UDP port beacons are sent to and received on.
	Port int
	// Interval is the delay between beacons.
	Interval time.Duration
	// ChanBuffer is the capacity of the discovered-device channel.
	ChanBuffer int
}

func (c *Config) defaults() {
	if c.Group == "" {
		c.Group = protocol.MulticastGroup
	}
	if c.Port <= 0 {
		c.Port = protocol.DefaultPort
	}
	if c.Interval <= 0 {
		c.Interval = protocol.AnnounceInterval
	}
	if c.ChanBuffer <= 0 {
		c.ChanBuffer = 8
	}
}

// Device is a verified transfer peer: the result of one accepted beacon.
// IP comes from the datagram source; everything else from the signed
// payload.
type Device struct {
	Alias       string
	IP          net.IP
	Port        int
	Scheme      string
	Fingerprint string
	SessionID   string
}

// Endpoint returns the peer's base URL, e.g. "https://192.168.1.7:53317".
func (d Device) Endpoint() string {
	return d.Scheme + "://" + net.JoinHostPort(d.IP.String(), strconv.Itoa(d.Port))
}

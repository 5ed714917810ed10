package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"lanshare/logger"
)

const (
	// DefaultBroadcastPort is the well-known UDP port for announcements.
	DefaultBroadcastPort = 9090
	// DefaultBroadcastAddress is the limited broadcast address.
	DefaultBroadcastAddress = "255.255.255.255"
	// DefaultInterval is the announcement cadence.
	DefaultInterval = time.Second
	// DefaultAttempts is the receive budget of one discovery call.
	DefaultAttempts = 3
	// DefaultAttemptTimeout bounds each receive.
	DefaultAttemptTimeout = 2 * time.Second
	// DefaultAttemptDelay separates receives so they interleave with the 1s cadence.
	DefaultAttemptDelay = time.Second
	// DefaultReadBufferSize is the largest accepted announcement datagram.
	DefaultReadBufferSize = 1024
)

type packetFunc func(ctx context.Context) (net.PacketConn, error)
type listenFunc func(ctx context.Context, port int) (net.PacketConn, error)
type sleepFunc func(ctx context.Context, d time.Duration) error

// Config controls presence broadcast, discovery and mDNS behavior.
type Config struct {
	// Identity announced by this host.
	Name     string
	IP       string
	HTTPPort int

	BroadcastAddress string
	BroadcastPort    int
	Interval         time.Duration

	Attempts       int
	AttemptTimeout time.Duration
	AttemptDelay   time.Duration
	ReadBufferSize int

	MDNS            bool
	Service         string
	Domain          string
	Version         int
	MDNSScanTimeout time.Duration

	packetFn   packetFunc
	listenFn   listenFunc
	sleepFn    sleepFunc
	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.IP == "" {
		out.IP = PreferredIPv4()
	}
	if out.BroadcastAddress == "" {
		out.BroadcastAddress = DefaultBroadcastAddress
	}
	if out.BroadcastPort == 0 {
		out.BroadcastPort = DefaultBroadcastPort
	}
	if out.Interval <= 0 {
		out.Interval = DefaultInterval
	}
	if out.Attempts <= 0 {
		out.Attempts = DefaultAttempts
	}
	if out.AttemptTimeout <= 0 {
		out.AttemptTimeout = DefaultAttemptTimeout
	}
	// A negative delay disables the pause between attempts.
	if out.AttemptDelay == 0 {
		out.AttemptDelay = DefaultAttemptDelay
	} else if out.AttemptDelay < 0 {
		out.AttemptDelay = 0
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = DefaultReadBufferSize
	}
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.MDNSScanTimeout <= 0 {
		out.MDNSScanTimeout = DefaultMDNSScanTimeout
	}
	if out.packetFn == nil {
		out.packetFn = openBroadcastSocket
	}
	if out.listenFn == nil {
		out.listenFn = listenReusable
	}
	if out.sleepFn == nil {
		out.sleepFn = sleepContext
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validateForBroadcast() error {
	if err := c.Identity().Validate(); err != nil {
		return err
	}
	if ip := net.ParseIP(c.BroadcastAddress); ip == nil || ip.To4() == nil {
		return fmt.Errorf("broadcast address %q is not IPv4", c.BroadcastAddress)
	}
	if c.BroadcastPort <= 0 || c.BroadcastPort > 65535 {
		return fmt.Errorf("broadcast port %d out of range", c.BroadcastPort)
	}
	return nil
}

func (c Config) validateForScan() error {
	if c.BroadcastPort <= 0 || c.BroadcastPort > 65535 {
		return fmt.Errorf("broadcast port %d out of range", c.BroadcastPort)
	}
	if strings.TrimSpace(c.Service) == "" {
		return errors.New("mDNS service is required")
	}
	return nil
}

// Identity returns the announcement this host broadcasts.
func (c Config) Identity() Announcement {
	return Announcement{Name: c.Name, IP: c.IP, Port: c.HTTPPort}
}

// Service owns the presence broadcaster, the optional mDNS advertiser and
// the on-demand discovery client.
type Service struct {
	Broadcaster *Broadcaster
	Advertiser  *Advertiser
	Client      *Client
}

// Start opens the broadcast socket and starts announcing. A socket failure is
// returned; an mDNS registration failure is only logged.
func Start(config Config) (*Service, error) {
	cfg := config.withDefaults()

	broadcaster, err := NewBroadcaster(cfg)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(cfg)
	if err != nil {
		broadcaster.Stop()
		return nil, err
	}

	svc := &Service{
		Broadcaster: broadcaster,
		Client:      client,
	}

	if cfg.MDNS {
		advertiser, err := StartAdvertiser(cfg)
		if err != nil {
			logger.Warnf("discovery: mDNS advertisement disabled: %v", err)
		} else {
			svc.Advertiser = advertiser
		}
	}

	broadcaster.Start()
	return svc, nil
}

// Identity returns the announced identity.
func (s *Service) Identity() Announcement {
	return s.Broadcaster.Identity()
}

// Stop stops the advertiser and the broadcaster.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	if s.Advertiser != nil {
		s.Advertiser.Stop()
	}
	if s.Broadcaster != nil {
		s.Broadcaster.Stop()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

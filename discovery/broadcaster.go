package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"lanshare/logger"
)

// Broadcaster periodically announces this host's identity over UDP broadcast.
// Delivery is best-effort: a failed send is logged and the next tick retries.
type Broadcaster struct {
	cfg      Config
	identity Announcement
	payload  []byte
	dst      *net.UDPAddr

	conn net.PacketConn

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewBroadcaster validates the identity and opens the send-only broadcast socket.
func NewBroadcaster(config Config) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForBroadcast(); err != nil {
		return nil, err
	}

	identity := cfg.Identity()
	payload, err := identity.Marshal()
	if err != nil {
		return nil, err
	}

	conn, err := cfg.packetFn(context.Background())
	if err != nil {
		return nil, fmt.Errorf("open broadcast socket: %w", err)
	}
	limitToLocalSegment(conn)

	return &Broadcaster{
		cfg:      cfg,
		identity: identity,
		payload:  payload,
		dst: &net.UDPAddr{
			IP:   net.ParseIP(cfg.BroadcastAddress),
			Port: cfg.BroadcastPort,
		},
		conn: conn,
	}, nil
}

// Identity returns the announced identity.
func (b *Broadcaster) Identity() Announcement {
	return b.identity
}

// Announce sends one announcement datagram.
func (b *Broadcaster) Announce() error {
	if _, err := b.conn.WriteTo(b.payload, b.dst); err != nil {
		return fmt.Errorf("send announcement to %s: %w", b.dst, err)
	}
	return nil
}

// Start begins announcing on the configured cadence until Stop.
func (b *Broadcaster) Start() {
	b.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.wg.Add(1)
		go b.loop(ctx)

		logger.WithFields(logrus.Fields{
			"name":     b.identity.Name,
			"ip":       b.identity.IP,
			"port":     b.identity.Port,
			"target":   b.dst.String(),
			"interval": b.cfg.Interval,
		}).Info("discovery: broadcasting presence")
	})
}

// Stop ends the announcement loop and releases the socket.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
		_ = b.conn.Close()
	})
}

func (b *Broadcaster) loop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := b.Announce(); err != nil {
			logger.Warnf("discovery: %v", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// limitToLocalSegment sets a TTL of 1. ipv4.NewPacketConn needs a socket
// that is also a net.Conn; anything else keeps its default TTL.
func limitToLocalSegment(conn net.PacketConn) {
	if _, ok := conn.(net.Conn); !ok {
		logger.Debugf("discovery: %T does not expose socket options, keeping default TTL", conn)
		return
	}
	if err := ipv4.NewPacketConn(conn).SetTTL(1); err != nil {
		logger.Debugf("discovery: set broadcast TTL: %v", err)
	}
}

func openBroadcastSocket(ctx context.Context) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: broadcastControl}
	return lc.ListenPacket(ctx, "udp4", ":0")
}

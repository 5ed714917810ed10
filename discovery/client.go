package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"lanshare/logger"
)

const (
	// SourceBroadcast marks peers heard through a UDP announcement.
	SourceBroadcast = "broadcast"
	// SourceMDNS marks peers found by an mDNS browse.
	SourceMDNS = "mdns"
)

// DiscoveredPeer is one host found during a single discovery call.
type DiscoveredPeer struct {
	Name   string
	IP     string
	Port   int
	Source string
}

// URL returns the peer's HTTP base URL.
func (p DiscoveredPeer) URL() string {
	return "http://" + net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// Client performs on-demand discovery. It keeps no peer cache between calls.
type Client struct {
	cfg Config
}

// NewClient creates a discovery client with config defaults applied.
func NewClient(config Config) (*Client, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForScan(); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg}, nil
}

// Discover listens for announcements for a bounded window and returns the
// peers heard, deduplicated by IP with the first announcement winning. When
// mDNS is enabled, a browse runs alongside and its results are merged after
// the broadcast ones.
func (c *Client) Discover(ctx context.Context) ([]DiscoveredPeer, error) {
	var broadcastPeers, mdnsPeers []DiscoveredPeer

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		peers, err := c.scanBroadcast(gctx)
		broadcastPeers = peers
		return err
	})
	if c.cfg.MDNS {
		g.Go(func() error {
			peers, err := c.scanMDNS(gctx)
			if err != nil {
				logger.Warnf("discovery: %v", err)
				return nil
			}
			mdnsPeers = peers
			return nil
		})
	}

	err := g.Wait()
	return mergePeers(broadcastPeers, mdnsPeers), err
}

func (c *Client) scanBroadcast(ctx context.Context) ([]DiscoveredPeer, error) {
	conn, err := c.cfg.listenFn(ctx, c.cfg.BroadcastPort)
	if err != nil {
		return nil, fmt.Errorf("open discovery socket on port %d: %w", c.cfg.BroadcastPort, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	// Unblock a pending read when the caller goes away.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, c.cfg.ReadBufferSize)
	seen := make(map[string]struct{})
	peers := make([]DiscoveredPeer, 0)

	for attempt := 0; attempt < c.cfg.Attempts; attempt++ {
		if attempt > 0 {
			if err := c.cfg.sleepFn(ctx, c.cfg.AttemptDelay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.AttemptTimeout)); err != nil {
			return peers, fmt.Errorf("set discovery read deadline: %w", err)
		}
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return peers, fmt.Errorf("receive announcement: %w", err)
		}

		announcement, err := ParseAnnouncement(string(buf[:n]))
		if err != nil {
			logger.Debugf("discovery: skipping datagram from %v: %v", src, err)
			continue
		}
		if _, dup := seen[announcement.IP]; dup {
			continue
		}
		seen[announcement.IP] = struct{}{}
		peers = append(peers, DiscoveredPeer{
			Name:   announcement.Name,
			IP:     announcement.IP,
			Port:   announcement.Port,
			Source: SourceBroadcast,
		})
	}

	return peers, nil
}

func mergePeers(lists ...[]DiscoveredPeer) []DiscoveredPeer {
	seen := make(map[string]struct{})
	out := make([]DiscoveredPeer, 0)
	for _, list := range lists {
		for _, peer := range list {
			if _, dup := seen[peer.IP]; dup {
				continue
			}
			seen[peer.IP] = struct{}{}
			out = append(out, peer)
		}
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func listenReusable(ctx context.Context, port int) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: reuseControl}
	return lc.ListenPacket(ctx, "udp4", ":"+strconv.Itoa(port))
}

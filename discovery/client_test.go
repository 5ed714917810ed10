package discovery

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

type fakePacketConn struct {
	mu       sync.Mutex
	queue    []string
	closed   bool
	deadline time.Time
}

func newFakePacketConn(datagrams ...string) *fakePacketConn {
	return &fakePacketConn{queue: append([]string(nil), datagrams...)}
}

func (c *fakePacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, nil, net.ErrClosed
	}
	if len(c.queue) == 0 {
		return 0, nil, os.ErrDeadlineExceeded
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	n := copy(p, next)
	return n, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 99), Port: 40000}, nil
}

func (c *fakePacketConn) WriteTo(p []byte, addr net.Addr) (int, error) { return len(p), nil }

func (c *fakePacketConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakePacketConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakePacketConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4zero, Port: DefaultBroadcastPort}
}

func (c *fakePacketConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *fakePacketConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *fakePacketConn) SetWriteDeadline(t time.Time) error { return nil }

func newTestClient(t *testing.T, conn net.PacketConn, mutate func(*Config)) *Client {
	t.Helper()

	cfg := Config{
		Attempts:       3,
		AttemptTimeout: 20 * time.Millisecond,
		AttemptDelay:   -1,
		listenFn: func(ctx context.Context, port int) (net.PacketConn, error) {
			return conn, nil
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestDiscoverDeduplicatesByIPFirstSeenWins(t *testing.T) {
	conn := newFakePacketConn(
		"Server: Alice, IP: 10.0.0.2, PORT: 8000",
		"Server: Alice Renamed, IP: 10.0.0.2, PORT: 8001",
		"Server: Bob, IP: 10.0.0.3, PORT: 8000",
	)
	client := newTestClient(t, conn, nil)

	peers, err := client.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %+v", peers)
	}
	if peers[0].Name != "Alice" || peers[0].Port != 8000 || peers[0].Source != SourceBroadcast {
		t.Fatalf("expected first-seen Alice to win, got %+v", peers[0])
	}
	if peers[1].IP != "10.0.0.3" {
		t.Fatalf("expected Bob second, got %+v", peers[1])
	}
	if peers[0].URL() != "http://10.0.0.2:8000" {
		t.Fatalf("unexpected peer URL %q", peers[0].URL())
	}
	if !conn.isClosed() {
		t.Fatalf("expected discovery socket to be closed")
	}
}

func TestDiscoverSkipsMalformedDatagrams(t *testing.T) {
	conn := newFakePacketConn(
		"LANDROP_DISCOVERY",
		"Server: Carol, IP: 10.0.0.4, PORT: 8000",
		"Server: broken, IP: 10.0.0.5, PORT: ",
	)
	client := newTestClient(t, conn, nil)

	peers, err := client.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(peers) != 1 || peers[0].Name != "Carol" {
		t.Fatalf("expected only Carol, got %+v", peers)
	}
}

func TestDiscoverTimeoutsEndAttemptsWithoutError(t *testing.T) {
	conn := newFakePacketConn()
	client := newTestClient(t, conn, nil)

	peers, err := client.Discover(context.Background())
	if err != nil {
		t.Fatalf("expected timeouts to be silent, got %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("expected no peers, got %+v", peers)
	}
	if !conn.isClosed() {
		t.Fatalf("expected discovery socket to be closed")
	}
}

func TestDiscoverUsesAttemptBudgetAndDelay(t *testing.T) {
	conn := newFakePacketConn(
		"Server: A, IP: 10.0.0.2, PORT: 8000",
		"Server: B, IP: 10.0.0.3, PORT: 8000",
		"Server: C, IP: 10.0.0.4, PORT: 8000",
		"Server: D, IP: 10.0.0.5, PORT: 8000",
	)
	var sleeps []time.Duration
	client := newTestClient(t, conn, func(cfg *Config) {
		cfg.AttemptDelay = time.Second
		cfg.sleepFn = func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}
	})

	peers, err := client.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(peers) != 3 {
		t.Fatalf("expected the 3-attempt budget to yield 3 peers, got %+v", peers)
	}
	if len(sleeps) != 2 || sleeps[0] != time.Second {
		t.Fatalf("expected 2 one-second pauses between attempts, got %v", sleeps)
	}
}

func TestDiscoverReportsSocketFailure(t *testing.T) {
	client, err := NewClient(Config{
		listenFn: func(ctx context.Context, port int) (net.PacketConn, error) {
			return nil, errors.New("address in use")
		},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Discover(context.Background()); err == nil {
		t.Fatalf("expected socket failure to be reported")
	}
}

func TestDiscoverMergesMDNSAfterBroadcast(t *testing.T) {
	conn := newFakePacketConn("Server: Alice, IP: 10.0.0.2, PORT: 8000")
	client := newTestClient(t, conn, func(cfg *Config) {
		cfg.MDNS = true
		cfg.MDNSScanTimeout = 40 * time.Millisecond
		cfg.browseFn = func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			entries <- testServiceEntry("Alice mDNS", 8000, "10.0.0.2")
			entries <- testServiceEntry("Dave", 8080, "10.0.0.6")
			<-ctx.Done()
			return nil
		}
	})

	peers, err := client.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("expected 2 merged peers, got %+v", peers)
	}
	if peers[0].Name != "Alice" || peers[0].Source != SourceBroadcast {
		t.Fatalf("expected broadcast result to win for shared IP, got %+v", peers[0])
	}
	if peers[1].Name != "Dave" || peers[1].Port != 8080 || peers[1].Source != SourceMDNS {
		t.Fatalf("unexpected mDNS peer %+v", peers[1])
	}
}

func TestDiscoverHearsTwoHostsOverLoopback(t *testing.T) {
	port := freeUDPPort(t)

	for _, identity := range []Announcement{
		{Name: "Host A", IP: "10.1.0.2", Port: 8000},
		{Name: "Host B", IP: "10.1.0.3", Port: 8000},
	} {
		b, err := NewBroadcaster(Config{
			Name:             identity.Name,
			IP:               identity.IP,
			HTTPPort:         identity.Port,
			BroadcastAddress: "127.0.0.1",
			BroadcastPort:    port,
			Interval:         40 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("NewBroadcaster(%s) failed: %v", identity.Name, err)
		}
		b.Start()
		defer b.Stop()
	}

	client, err := NewClient(Config{
		BroadcastPort:  port,
		Attempts:       3,
		AttemptTimeout: 2 * time.Second,
		AttemptDelay:   60 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	peers, err := client.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	counts := make(map[string]int)
	for _, peer := range peers {
		counts[peer.IP]++
	}
	if counts["10.1.0.2"] != 1 || counts["10.1.0.3"] != 1 || len(peers) != 2 {
		t.Fatalf("expected each host exactly once, got %+v", peers)
	}
}

func testServiceEntry(instance string, port int, ip string) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  DefaultService,
			Domain:   DefaultDomain,
		},
		HostName: instance + ".local.",
		Port:     port,
		Text:     []string{"version=1", "ip=" + ip},
		AddrIPv4: []net.IP{net.ParseIP(ip)},
	}
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve udp port: %v", err)
	}
	defer conn.Close()
	_, rawPort, _ := net.SplitHostPort(conn.LocalAddr().String())
	port, _ := strconv.Atoi(rawPort)
	return port
}

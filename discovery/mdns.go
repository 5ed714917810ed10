package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_lanshare._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultMDNSScanTimeout bounds each mDNS browse.
	DefaultMDNSScanTimeout = 3 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Advertiser publishes the HTTP service via mDNS next to the UDP broadcast.
type Advertiser struct {
	server *zeroconf.Server
}

// StartAdvertiser registers the local file service with mDNS.
func StartAdvertiser(config Config) (*Advertiser, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForBroadcast(); err != nil {
		return nil, err
	}

	txt := []string{
		"version=" + strconv.Itoa(cfg.Version),
		"ip=" + cfg.IP,
	}

	server, err := cfg.registerFn(cfg.Name, cfg.Service, cfg.Domain, cfg.HTTPPort, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Advertiser{server: server}, nil
}

// Stop withdraws the mDNS registration.
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

func (c *Client) scanMDNS(ctx context.Context) ([]DiscoveredPeer, error) {
	browse := c.cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver()
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, c.cfg.MDNSScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	var collected []DiscoveredPeer
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				if peer, ok := parseEntry(entry); ok {
					collected = append(collected, peer)
				}
			}
		}
	}()

	browseErr := browse(scanCtx, c.cfg.Service, c.cfg.Domain, entries)
	if browseErr != nil && !errors.Is(browseErr, context.DeadlineExceeded) && !errors.Is(browseErr, context.Canceled) {
		cancel()
		<-collectorDone
		return nil, fmt.Errorf("browse mDNS: %w", browseErr)
	}

	<-scanCtx.Done()
	<-collectorDone
	return collected, nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (DiscoveredPeer, bool) {
	txt := txtToMap(entry.Text)

	ip := ""
	for _, addr := range entry.AddrIPv4 {
		if addr != nil && addr.To4() != nil {
			ip = addr.String()
			break
		}
	}
	if ip == "" {
		if parsed := net.ParseIP(txt["ip"]); parsed != nil && parsed.To4() != nil {
			ip = parsed.String()
		}
	}
	if ip == "" || entry.Port <= 0 {
		return DiscoveredPeer{}, false
	}

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSuffix(strings.TrimSpace(entry.HostName), ".")
	}
	if name == "" {
		name = ip
	}

	return DiscoveredPeer{
		Name:   name,
		IP:     ip,
		Port:   entry.Port,
		Source: SourceMDNS,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}

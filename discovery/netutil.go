package discovery

import (
	"net"
)

// LocalIPv4s returns all non-loopback IPv4 addresses of up interfaces.
func LocalIPv4s() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	ips := make([]net.IP, 0)
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
				ips = append(ips, ip4)
			}
		}
	}
	return ips, nil
}

// PreferredIPv4 picks the address peers should use to reach this host:
// the first private LAN address, else the first non-loopback one, else loopback.
func PreferredIPv4() string {
	ips, err := LocalIPv4s()
	if err != nil || len(ips) == 0 {
		return "127.0.0.1"
	}
	for _, ip := range ips {
		if ip.IsPrivate() {
			return ip.String()
		}
	}
	return ips[0].String()
}

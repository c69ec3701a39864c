package utils

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// gatewayMarker is matched as a literal substring. Addresses containing it
// are treated as virtual/NAT gateways and are never advertised nor probed.
const gatewayMarker = ".0.1"

// InterfaceAddrs lists the unicast addresses of the local interfaces.
// Tests replace it.
var InterfaceAddrs = net.InterfaceAddrs

// LocalIPv4 returns every non-loopback IPv4 address of this host.
func LocalIPv4() ([]net.IP, error) {
	addrs, err := InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("failed to list interface addresses: %w", err)
	}

	var ips []net.IP
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			ips = append(ips, v4)
		}
	}
	return ips, nil
}

// IsGatewayLike reports whether addr contains the ".0.1" marker.
func IsGatewayLike(addr string) bool {
	return strings.Contains(addr, gatewayMarker)
}

// Subnet24Hosts enumerates the 254 host addresses of ip's /24.
func Subnet24Hosts(ip net.IP) []string {
	v4 := ip.To4()
	if v4 == nil {
		return nil
	}
	hosts := make([]string, 0, 254)
	for i := 1; i < 255; i++ {
		hosts = append(hosts, net.IPv4(v4[0], v4[1], v4[2], byte(i)).String())
	}
	return hosts
}

// NormalizeHostPort strips http:// and https:// prefixes and appends
// defPort when addr carries no port. A defPort of 0 leaves addr portless.
func NormalizeHostPort(addr string, defPort int) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil || defPort <= 0 {
		return addr
	}

	return net.JoinHostPort(addr, strconv.Itoa(defPort))
}

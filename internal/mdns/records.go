// Package mdns advertises this node on the local network and browses the
// nodes advertised by others, using multicast DNS.
package mdns

import (
	"net"

	"github.com/miekg/dns"

	"github.com/MrSnakeDoc/thalamus/internal/utils"
)

const (
	// DefaultService is the name every node advertises under.
	DefaultService = "_thalamus._tcp.local"

	recordTTL = 10
	mdnsPort  = 5353
)

var groupAddr = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: mdnsPort}

// ServiceEndpoint is one advertised instance.
type ServiceEndpoint struct {
	IPs  []string
	Port int
}

// EligibleIPs keeps the IPv4, non-loopback addresses that are not
// gateway-like.
func EligibleIPs(ips []net.IP) []net.IP {
	var out []net.IP
	for _, ip := range ips {
		v4 := ip.To4()
		if v4 == nil || v4.IsLoopback() || utils.IsGatewayLike(v4.String()) {
			continue
		}
		out = append(out, v4)
	}
	return out
}

// BuildRecords returns one A record per ip followed by a single SRV record
// for port, all owned by the service name.
func BuildRecords(ips []net.IP, port int, name string) []dns.RR {
	fqdn := dns.Fqdn(name)
	hdr := func(t uint16) dns.RR_Header {
		return dns.RR_Header{Name: fqdn, Rrtype: t, Class: dns.ClassINET, Ttl: recordTTL}
	}

	rrs := make([]dns.RR, 0, len(ips)+1)
	for _, ip := range ips {
		rrs = append(rrs, &dns.A{Hdr: hdr(dns.TypeA), A: ip.To4()})
	}
	rrs = append(rrs, &dns.SRV{
		Hdr:      hdr(dns.TypeSRV),
		Priority: 0,
		Weight:   0,
		Port:     uint16(port),
		Target:   fqdn,
	})
	return rrs
}

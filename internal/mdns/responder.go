package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/ipv4"

	"github.com/MrSnakeDoc/thalamus/internal/logger"
	"github.com/MrSnakeDoc/thalamus/internal/utils"
)

// Responder answers mDNS questions for the service name with this host's
// address and port records. Records are computed once, at startup.
type Responder struct {
	name    string
	port    int
	log     logger.Logger
	records []dns.RR
}

func NewResponder(name string, port int, log logger.Logger) *Responder {
	return &Responder{name: dns.Fqdn(name), port: port, log: log}
}

// Run joins the mDNS group on every eligible interface and serves until
// ctx is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	local, err := utils.LocalIPv4()
	if err != nil {
		return err
	}
	ips := EligibleIPs(local)
	if len(ips) == 0 {
		r.log.Warn("no interface eligible for advertisement")
		<-ctx.Done()
		return nil
	}
	r.records = BuildRecords(ips, r.port, r.name)

	conn, err := net.ListenMulticastUDP("udp4", nil, groupAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on mdns group: %w", err)
	}
	r.joinInterfaces(ipv4.NewPacketConn(conn), ips)

	r.log.Info("advertising service",
		logger.String("service", r.name),
		logger.Int("port", r.port),
		logger.Int("addresses", len(ips)))

	return r.serve(ctx, conn)
}

func (r *Responder) joinInterfaces(pc *ipv4.PacketConn, ips []net.IP) {
	ifaces, err := net.Interfaces()
	if err != nil {
		r.log.Warn("failed to list interfaces", logger.Error(err))
		return
	}
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagMulticast == 0 || ifi.Flags&net.FlagUp == 0 || !owns(ifi, ips) {
			continue
		}
		if err := pc.JoinGroup(&ifi, groupAddr); err != nil {
			r.log.Debug("join group", logger.String("iface", ifi.Name), logger.Error(err))
		}
	}
	_ = pc.SetMulticastLoopback(true)
}

func owns(ifi net.Interface, ips []net.IP) bool {
	addrs, err := ifi.Addrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		for _, ip := range ips {
			if ipn.IP.Equal(ip) {
				return true
			}
		}
	}
	return false
}

func (r *Responder) serve(ctx context.Context, conn *net.UDPConn) error {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, 9000)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("mdns read: %w", err)
		}

		var query dns.Msg
		if err := query.Unpack(buf[:n]); err != nil {
			r.log.Debug("dropping malformed packet", logger.String("from", src.String()), logger.Error(err))
			continue
		}
		resp := r.answer(&query)
		if resp == nil {
			continue
		}
		out, err := resp.Pack()
		if err != nil {
			r.log.Error("failed to pack mdns answer", logger.Error(err))
			continue
		}

		// Legacy queriers on an ephemeral port only hear unicast replies.
		dst := groupAddr
		if src.Port != mdnsPort {
			dst = src
		}
		if _, err := conn.WriteToUDP(out, dst); err != nil {
			r.log.Debug("mdns write", logger.String("to", dst.String()), logger.Error(err))
		}
	}
}

// answer builds the reply to query, or nil when no question concerns us.
func (r *Responder) answer(query *dns.Msg) *dns.Msg {
	if query.Response {
		return nil
	}

	var rrs []dns.RR
	for _, q := range query.Question {
		if !strings.EqualFold(q.Name, r.name) {
			continue
		}
		switch q.Qtype {
		case dns.TypeANY, dns.TypePTR, dns.TypeSRV:
			rrs = append(rrs, r.records...)
		case dns.TypeA:
			for _, rr := range r.records {
				if rr.Header().Rrtype == dns.TypeA {
					rrs = append(rrs, rr)
				}
			}
		}
	}
	if len(rrs) == 0 {
		return nil
	}

	resp := new(dns.Msg)
	resp.SetReply(query)
	resp.Authoritative = true
	resp.Answer = rrs
	return resp
}

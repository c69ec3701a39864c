package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/MrSnakeDoc/thalamus/internal/logger"
)

const defaultWindow = 2 * time.Second

type cacheEntry struct {
	ip      string
	port    int
	expires time.Time
}

// Browser keeps the set of endpoints advertised under a service name. Each
// answer is remembered for its record TTL.
type Browser struct {
	name   string
	window time.Duration
	log    logger.Logger
	dest   *net.UDPAddr
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry // ip:port
}

func NewBrowser(name string, window time.Duration, log logger.Logger) *Browser {
	if window <= 0 {
		window = defaultWindow
	}
	return &Browser{
		name:   dns.Fqdn(name),
		window: window,
		log:    log,
		dest:   groupAddr,
		now:    time.Now,
		cache:  map[string]cacheEntry{},
	}
}

// KnownServices sends one query, collects answers for the browse window
// and returns every endpoint whose records have not expired.
func (b *Browser) KnownServices(ctx context.Context) ([]ServiceEndpoint, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("failed to open browse socket: %w", err)
	}
	defer func() { _ = conn.Close() }()

	q := new(dns.Msg)
	q.SetQuestion(b.name, dns.TypeANY)
	q.RecursionDesired = false
	out, err := q.Pack()
	if err != nil {
		return nil, fmt.Errorf("failed to pack query: %w", err)
	}
	if _, err := conn.WriteToUDP(out, b.dest); err != nil {
		return nil, fmt.Errorf("failed to send query: %w", err)
	}

	deadline := time.Now().Add(b.window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	buf := make([]byte, 9000)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			return nil, fmt.Errorf("browse read: %w", err)
		}
		var msg dns.Msg
		if err := msg.Unpack(buf[:n]); err != nil {
			b.log.Debug("dropping malformed answer", logger.Error(err))
			continue
		}
		b.ingest(&msg)
	}

	return b.endpoints(), ctx.Err()
}

func (b *Browser) ingest(msg *dns.Msg) {
	if !msg.Response {
		return
	}

	var ips []string
	var ports []int
	ttl := uint32(recordTTL)
	rrs := make([]dns.RR, 0, len(msg.Answer)+len(msg.Extra))
	rrs = append(append(rrs, msg.Answer...), msg.Extra...)
	for _, rr := range rrs {
		if !strings.EqualFold(rr.Header().Name, b.name) {
			continue
		}
		switch v := rr.(type) {
		case *dns.A:
			ips = append(ips, v.A.String())
		case *dns.SRV:
			ports = append(ports, int(v.Port))
			ttl = v.Hdr.Ttl
		}
	}

	expires := b.now().Add(time.Duration(ttl) * time.Second)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, port := range ports {
		for _, ip := range ips {
			key := net.JoinHostPort(ip, strconv.Itoa(port))
			b.cache[key] = cacheEntry{ip: ip, port: port, expires: expires}
		}
	}
}

func (b *Browser) endpoints() []ServiceEndpoint {
	now := b.now()

	b.mu.Lock()
	byPort := map[int][]string{}
	for key, e := range b.cache {
		if !now.Before(e.expires) {
			delete(b.cache, key)
			continue
		}
		byPort[e.port] = append(byPort[e.port], e.ip)
	}
	b.mu.Unlock()

	out := make([]ServiceEndpoint, 0, len(byPort))
	for port, ips := range byPort {
		sort.Strings(ips)
		out = append(out, ServiceEndpoint{IPs: ips, Port: port})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

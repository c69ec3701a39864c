package mdns

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/thalamus/internal/logger"
)

func TestEligibleIPs(t *testing.T) {
	in := []net.IP{
		net.ParseIP("127.0.0.1"),
		net.ParseIP("fe80::1"),
		net.ParseIP("10.0.0.1"),
		net.ParseIP("192.168.0.12"),
		net.ParseIP("192.168.1.20"),
		net.ParseIP("172.16.5.4"),
	}

	got := EligibleIPs(in)

	var s []string
	for _, ip := range got {
		s = append(s, ip.String())
	}
	assert.Equal(t, []string{"192.168.1.20", "172.16.5.4"}, s)
}

func TestBuildRecords(t *testing.T) {
	ips := []net.IP{net.ParseIP("192.168.1.20"), net.ParseIP("172.16.5.4")}

	rrs := BuildRecords(ips, 8050, DefaultService)
	require.Len(t, rrs, 3)

	for _, rr := range rrs[:2] {
		a, ok := rr.(*dns.A)
		require.True(t, ok)
		assert.Equal(t, "_thalamus._tcp.local.", a.Hdr.Name)
		assert.EqualValues(t, 10, a.Hdr.Ttl)
	}
	srv, ok := rrs[2].(*dns.SRV)
	require.True(t, ok)
	assert.EqualValues(t, 8050, srv.Port)
	assert.EqualValues(t, 0, srv.Priority)
	assert.EqualValues(t, 0, srv.Weight)
}

func newTestResponder() *Responder {
	r := NewResponder(DefaultService, 8050, logger.New("error", false))
	r.records = BuildRecords([]net.IP{net.ParseIP("192.168.1.20")}, 8050, DefaultService)
	return r
}

func TestAnswer(t *testing.T) {
	r := newTestResponder()

	tests := []struct {
		name    string
		qname   string
		qtype   uint16
		wantLen int
	}{
		{name: "any", qname: "_thalamus._tcp.local.", qtype: dns.TypeANY, wantLen: 2},
		{name: "srv", qname: "_thalamus._tcp.local.", qtype: dns.TypeSRV, wantLen: 2},
		{name: "address only", qname: "_thalamus._tcp.local.", qtype: dns.TypeA, wantLen: 1},
		{name: "case insensitive", qname: "_THALAMUS._tcp.local.", qtype: dns.TypePTR, wantLen: 2},
		{name: "other service", qname: "_http._tcp.local.", qtype: dns.TypeANY, wantLen: 0},
		{name: "unsupported type", qname: "_thalamus._tcp.local.", qtype: dns.TypeTXT, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := new(dns.Msg)
			q.SetQuestion(tt.qname, tt.qtype)

			// Round-trip through the wire format like a real query.
			raw, err := q.Pack()
			require.NoError(t, err)
			var in dns.Msg
			require.NoError(t, in.Unpack(raw))

			resp := r.answer(&in)
			if tt.wantLen == 0 {
				assert.Nil(t, resp)
				return
			}
			require.NotNil(t, resp)
			assert.True(t, resp.Response)
			assert.Len(t, resp.Answer, tt.wantLen)
		})
	}
}

func TestAnswerIgnoresResponses(t *testing.T) {
	r := newTestResponder()
	m := new(dns.Msg)
	m.SetQuestion("_thalamus._tcp.local.", dns.TypeANY)
	m.Response = true

	assert.Nil(t, r.answer(m))
}

func TestBrowserCacheExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBrowser(DefaultService, time.Second, logger.New("error", false))
	b.now = func() time.Time { return now }

	resp := new(dns.Msg)
	resp.Response = true
	resp.Answer = BuildRecords([]net.IP{net.ParseIP("192.168.1.30"), net.ParseIP("192.168.1.20")}, 8050, DefaultService)
	b.ingest(resp)

	got := b.endpoints()
	require.Len(t, got, 1)
	assert.Equal(t, []string{"192.168.1.20", "192.168.1.30"}, got[0].IPs)
	assert.Equal(t, 8050, got[0].Port)

	now = now.Add(11 * time.Second)
	assert.Empty(t, b.endpoints())
}

func TestBrowserIgnoresForeignRecords(t *testing.T) {
	b := NewBrowser(DefaultService, time.Second, logger.New("error", false))

	resp := new(dns.Msg)
	resp.Response = true
	resp.Answer = BuildRecords([]net.IP{net.ParseIP("192.168.1.30")}, 9000, "_printer._tcp.local")
	b.ingest(resp)

	assert.Empty(t, b.endpoints())
}

func TestBrowserQueriesResponder(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newTestResponder()
	done := make(chan error, 1)
	go func() { done <- r.serve(ctx, conn) }()

	b := NewBrowser(DefaultService, 300*time.Millisecond, logger.New("error", false))
	b.dest = conn.LocalAddr().(*net.UDPAddr)

	got, err := b.KnownServices(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"192.168.1.20"}, got[0].IPs)
	assert.Equal(t, 8050, got[0].Port)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("responder did not stop")
	}
}

package masswhois

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// fakeDNSServer answers every A query for "coalesce.test." with a fixed
// address after a short delay, long enough that concurrent Lookups for
// the same name are guaranteed to land in the same in-flight window, and
// counts how many queries it actually received on the wire.
type fakeDNSServer struct {
	conn  *net.UDPConn
	hits  int32
	delay time.Duration
}

func newFakeDNSServer(t *testing.T, delay time.Duration) *fakeDNSServer {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	s := &fakeDNSServer{conn: conn, delay: delay}
	go s.serve()
	t.Cleanup(func() { conn.Close() })
	return s
}

func (s *fakeDNSServer) serve() {
	buf := make([]byte, 512)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		req := new(dns.Msg)
		if err := req.Unpack(buf[:n]); err != nil {
			continue
		}
		atomic.AddInt32(&s.hits, 1)
		go func(req *dns.Msg, addr *net.UDPAddr) {
			if s.delay > 0 {
				time.Sleep(s.delay)
			}
			resp := new(dns.Msg)
			resp.SetReply(req)
			if len(req.Question) == 1 && req.Question[0].Qtype == dns.TypeA {
				rr, _ := dns.NewRR(req.Question[0].Name + " 60 IN A 203.0.113.7")
				resp.Answer = append(resp.Answer, rr)
			}
			out, err := resp.Pack()
			if err != nil {
				return
			}
			s.conn.WriteToUDP(out, addr)
		}(req, addr)
	}
}

func (s *fakeDNSServer) port() int { return s.conn.LocalAddr().(*net.UDPAddr).Port }

func writeResolvConf(t *testing.T, port int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "resolv.conf")
	content := "nameserver 127.0.0.1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_ = port // the fake server binds an ephemeral port; tests below reach
	// it through the resolver's testUpstreamPort override (set in
	// newResolverForTest), not via port 53, so resolv.conf only needs to
	// name the loopback address.
	return path
}

func TestResolverLookupPositive(t *testing.T) {
	srv := newFakeDNSServer(t, 0)
	r := newResolverForTest(t, srv.port())
	defer r.Close()

	ip, err := r.Lookup(context.Background(), "coalesce.test.")
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7", ip.String())
}

func TestResolverLookupCoalesces(t *testing.T) {
	srv := newFakeDNSServer(t, 50*time.Millisecond)
	r := newResolverForTest(t, srv.port())
	defer r.Close()

	const concurrent = 8
	results := make(chan net.IP, concurrent)
	for i := 0; i < concurrent; i++ {
		go func() {
			ip, err := r.Lookup(context.Background(), "coalesce.test.")
			require.NoError(t, err)
			results <- ip
		}()
	}
	for i := 0; i < concurrent; i++ {
		ip := <-results
		require.Equal(t, "203.0.113.7", ip.String())
	}

	require.Equal(t, int32(1), atomic.LoadInt32(&srv.hits), "concurrent lookups for the same name must coalesce into one wire query")
}

func TestResolverLookupCachesSecondCall(t *testing.T) {
	srv := newFakeDNSServer(t, 0)
	r := newResolverForTest(t, srv.port())
	defer r.Close()

	_, err := r.Lookup(context.Background(), "coalesce.test.")
	require.NoError(t, err)
	_, err = r.Lookup(context.Background(), "coalesce.test.")
	require.NoError(t, err)

	require.Equal(t, int32(1), atomic.LoadInt32(&srv.hits), "a cached name must not cause a second wire query")
}

// newResolverForTest builds a Resolver wired to talk to a loopback fake
// server instead of the real upstream named in resolv.conf, by overriding
// the resolver's upstream port directly (the production constructor
// always targets port 53, which is unavailable in a sandboxed test run).
func newResolverForTest(t *testing.T, fakePort int) *Resolver {
	t.Helper()
	path := writeResolvConf(t, fakePort)
	r, err := NewResolver(IPConfig{Versions: IPv4, Preferred: IPv4}, path, nil)
	require.NoError(t, err)
	r.testUpstreamPort = fakePort
	return r
}

package masswhois

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// dnsTransactionID is the deterministic (but otherwise unspecified)
// transaction id used on every outgoing query, per the wire contract.
const dnsTransactionID uint16 = 0x2a74

const (
	resolverBucketCount  = 24 * 60
	resolverBucketWidth  = time.Minute
	resolverNegativeTTL  = resolverBucketWidth
	resolverUDPReadSize  = 0xFFFF
	resolverRequestQueue = 256
)

type inflightKey struct {
	name  string
	qtype uint16
}

type lookupRequest struct {
	name   string
	respCh chan lookupResult
}

type lookupResult struct {
	ip  net.IP
	err error
}

// Resolver is a non-blocking, caching, UDP-only A/AAAA resolver purpose
// built for resolving WHOIS server hostnames. It owns its sockets, caches
// and in-flight table on a single goroutine; every external interaction
// happens over channels so that goroutine never needs a lock.
type Resolver struct {
	cfg     IPConfig
	servers map[IPVersion]net.IP // upstream per family, from resolv.conf

	conn4 *net.UDPConn
	conn6 *net.UDPConn

	cache4 *GenericCache[string, net.IP]
	cache6 *GenericCache[string, net.IP]

	reqCh     chan *lookupRequest
	replyCh   chan rawReply
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	inflight map[inflightKey][]*lookupRequest

	metrics *Metrics

	// testUpstreamPort, when non-zero, overrides port 53 for outgoing
	// queries so tests can point the resolver at a loopback fake server.
	testUpstreamPort int
}

type rawReply struct {
	data   []byte
	n      int
	family IPVersion
}

// NewResolver reads resolvConfPath (e.g. /etc/resolv.conf) for upstream
// servers, binds a UDP socket per family enabled in cfg on an ephemeral
// port, and starts the owning goroutine. metrics may be nil.
func NewResolver(cfg IPConfig, resolvConfPath string, metrics *Metrics) (*Resolver, error) {
	servers, err := parseResolvConf(resolvConfPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", resolvConfPath, err)
	}

	r := &Resolver{
		cfg:      cfg,
		servers:  servers,
		reqCh:    make(chan *lookupRequest, resolverRequestQueue),
		replyCh:  make(chan rawReply, resolverRequestQueue),
		closeCh:  make(chan struct{}),
		inflight: make(map[inflightKey][]*lookupRequest),
		metrics:  metrics,
	}

	if cfg.Versions.has(IPv4) {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
		if err != nil {
			return nil, fmt.Errorf("binding ipv4 resolver socket: %w", err)
		}
		r.conn4 = conn
		r.cache4 = NewGenericCache[string, net.IP](resolverBucketCount, resolverBucketWidth)
		r.wg.Add(1)
		go r.readLoop(conn, IPv4)
	}
	if cfg.Versions.has(IPv6) {
		conn, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6unspecified, Port: 0})
		if err != nil {
			return nil, fmt.Errorf("binding ipv6 resolver socket: %w", err)
		}
		r.conn6 = conn
		r.cache6 = NewGenericCache[string, net.IP](resolverBucketCount, resolverBucketWidth)
		r.wg.Add(1)
		go r.readLoop(conn, IPv6)
	}

	r.wg.Add(1)
	go r.run()
	return r, nil
}

// Close stops the owning goroutine and closes all sockets.
func (r *Resolver) Close() error {
	r.closeOnce.Do(func() { close(r.closeCh) })
	if r.conn4 != nil {
		r.conn4.Close()
	}
	if r.conn6 != nil {
		r.conn6.Close()
	}
	r.wg.Wait()
	return nil
}

// Lookup resolves name to an address in the preferred family. A nil IP
// with a nil error means the name has no address (NXDOMAIN, or a reply
// without a record of the preferred family). A non-nil error means the
// resolver was closed or ctx ended before a result arrived: a
// LookupTimeoutError when ctx's deadline passed, ctx.Err() otherwise. A
// query the upstream never answers stays pending until one of those.
func (r *Resolver) Lookup(ctx context.Context, name string) (net.IP, error) {
	req := &lookupRequest{name: dns.Fqdn(name), respCh: make(chan lookupResult, 1)}

	select {
	case r.reqCh <- req:
	case <-r.closeCh:
		return nil, fmt.Errorf("resolver closed")
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, LookupTimeoutError{Name: name}
		}
		return nil, ctx.Err()
	}

	select {
	case res := <-req.respCh:
		return res.ip, res.err
	case <-r.closeCh:
		return nil, fmt.Errorf("resolver closed")
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, LookupTimeoutError{Name: name}
		}
		return nil, ctx.Err()
	}
}

func (r *Resolver) run() {
	defer r.wg.Done()
	for {
		select {
		case req := <-r.reqCh:
			r.handleRequest(req)
		case reply := <-r.replyCh:
			r.handleReply(reply)
		case <-r.closeCh:
			return
		}
	}
}

func (r *Resolver) preferredCache() (*GenericCache[string, net.IP], uint16) {
	if r.cfg.Preferred == IPv6 && r.cache6 != nil {
		return r.cache6, dns.TypeAAAA
	}
	return r.cache4, dns.TypeA
}

func (r *Resolver) handleRequest(req *lookupRequest) {
	cache, qtype := r.preferredCache()
	if cache == nil {
		req.respCh <- lookupResult{nil, nil}
		return
	}

	if ips, negative, ok := cache.Query(req.name, true); ok {
		r.metrics.recordCacheLookup(true)
		if negative {
			req.respCh <- lookupResult{nil, nil}
		} else {
			req.respCh <- lookupResult{ips[0], nil}
		}
		return
	}
	r.metrics.recordCacheLookup(false)

	key := inflightKey{name: req.name, qtype: qtype}
	if waiters, pending := r.inflight[key]; pending {
		r.inflight[key] = append(waiters, req)
		return
	}
	r.inflight[key] = []*lookupRequest{req}

	r.sendQuery(req.name, qtype)
	// Opportunistically prime the secondary family's cache too, when
	// dual-stack is configured, without making this caller wait on it.
	if r.cfg.Versions.has(IPv4) && r.cfg.Versions.has(IPv6) {
		other := dns.TypeA
		if qtype == dns.TypeA {
			other = dns.TypeAAAA
		}
		r.sendQuery(req.name, other)
	}
}

func (r *Resolver) sendQuery(name string, qtype uint16) {
	family := IPv4
	conn := r.conn4
	if qtype == dns.TypeAAAA {
		family = IPv6
		conn = r.conn6
	}
	if conn == nil {
		return
	}
	server, ok := r.servers[family]
	if !ok {
		Log.WithField("qname", name).Warn("no upstream dns server configured for family")
		return
	}

	m := new(dns.Msg)
	m.Id = dnsTransactionID
	m.RecursionDesired = true
	m.SetQuestion(name, qtype)

	buf, err := m.Pack()
	if err != nil {
		Log.WithError(err).Error("failed to pack dns query")
		return
	}
	port := 53
	if r.testUpstreamPort != 0 {
		port = r.testUpstreamPort
	}
	Log.WithFields(logrus.Fields{"qname": name, "qtype": dns.TypeToString[qtype], "server": server}).Debug("sending dns query")
	if _, err := conn.WriteTo(buf, &net.UDPAddr{IP: server, Port: port}); err != nil {
		Log.WithError(err).Warn("failed to send dns query")
	}
}

func (r *Resolver) readLoop(conn *net.UDPConn, family IPVersion) {
	defer r.wg.Done()
	buf := make([]byte, resolverUDPReadSize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case r.replyCh <- rawReply{data: data, n: n, family: family}:
		case <-r.closeCh:
			return
		}
	}
}

func (r *Resolver) handleReply(reply rawReply) {
	msg := new(dns.Msg)
	if err := msg.Unpack(reply.data[:reply.n]); err != nil {
		return // malformed datagram, silently dropped
	}
	if msg.Id != dnsTransactionID {
		return // mismatched id
	}
	if len(msg.Question) != 1 {
		return
	}
	q := msg.Question[0]
	if q.Qtype != dns.TypeA && q.Qtype != dns.TypeAAAA {
		return
	}

	cache := r.cache4
	if q.Qtype == dns.TypeAAAA {
		cache = r.cache6
	}
	if cache == nil {
		return
	}

	if msg.Rcode == dns.RcodeNameError {
		cache.InsertNegative(q.Name, resolverNegativeTTL)
	} else {
		for _, rr := range msg.Answer {
			if rr.Header().Rrtype != q.Qtype {
				continue
			}
			ttl := time.Duration(rr.Header().Ttl) * time.Second
			switch a := rr.(type) {
			case *dns.A:
				cache.Insert(q.Name, a.A, ttl, true)
			case *dns.AAAA:
				cache.Insert(q.Name, a.AAAA, ttl, true)
			}
		}
	}

	key := inflightKey{name: q.Name, qtype: q.Qtype}
	waiters, ok := r.inflight[key]
	if !ok {
		return
	}
	delete(r.inflight, key)

	for _, w := range waiters {
		if ips, negative, ok := cache.Query(q.Name, false); ok && !negative {
			w.respCh <- lookupResult{ips[0], nil}
		} else {
			w.respCh <- lookupResult{nil, nil}
		}
	}
}

func parseResolvConf(path string) (map[IPVersion]net.IP, error) {
	servers := make(map[IPVersion]net.IP)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return servers, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "nameserver" {
			continue
		}
		ip := net.ParseIP(fields[1])
		if ip == nil {
			continue
		}
		if ip4 := ip.To4(); ip4 != nil {
			if _, ok := servers[IPv4]; !ok {
				servers[IPv4] = ip4
			}
		} else if _, ok := servers[IPv6]; !ok {
			servers[IPv6] = ip
		}
	}
	return servers, scanner.Err()
}

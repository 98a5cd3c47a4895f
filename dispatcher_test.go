package masswhois

import (
	"bufio"
	"context"
	"net"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeWhoisServer answers every connection with a canned reply body and
// records every query string it received.
type fakeWhoisServer struct {
	ln      net.Listener
	reply   func(query string) string
	queries chan string
}

func newFakeWhoisServer(t *testing.T, reply func(query string) string) *fakeWhoisServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeWhoisServer{ln: ln, reply: reply, queries: make(chan string, 16)}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeWhoisServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			line, err := bufio.NewReader(conn).ReadString('\n')
			if err != nil {
				return
			}
			query := strings.TrimSpace(line)
			s.queries <- query
			conn.Write([]byte(s.reply(query)))
		}(conn)
	}
}

func (s *fakeWhoisServer) ip() net.IP {
	return s.ln.Addr().(*net.TCPAddr).IP
}

// collectingHandler records every Result it receives, for assertions.
type collectingHandler struct {
	results chan Result
}

func newCollectingHandler(n int) *collectingHandler {
	return &collectingHandler{results: make(chan Result, n)}
}

func (h *collectingHandler) Handle(r Result) error {
	h.results <- r
	return nil
}

func TestDispatcherSingleHopAvailability(t *testing.T) {
	srv := newFakeWhoisServer(t, func(query string) string {
		return "No match for \"" + query + "\"\n"
	})

	db := NewQueryDatabase()
	db.AddServerIPs("whois.test.example", srv.ip())
	db.AddAvailabilityPattern(regexp.MustCompile(`(?i)no match for`))

	supplier := NewArgsQuerySupplier([]string{"freedomain.test"})
	handler := newCollectingHandler(1)

	d := NewDispatcher(DispatcherConfig{
		Concurrency:         2,
		IPConfig:            IPConfig{Versions: IPv4, Preferred: IPv4},
		InferTypes:          true,
		InferServers:        false,
		AvailabilityEnabled: true,
		ExplicitServer:      "whois.test.example",
		QueryTimeout:        5 * time.Second,
	}, db, nil, supplier, handler, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx))

	result := <-handler.results
	require.NoError(t, result.Err)
	require.Equal(t, AvailabilityAvailable, result.Availability)
	require.Equal(t, 0, result.Hops)
}

func TestDispatcherFollowsReferral(t *testing.T) {
	var registrar *fakeWhoisServer
	registry := newFakeWhoisServer(t, func(query string) string {
		return "Registrar WHOIS Server: " + registrarHost(registrar) + "\n"
	})
	registrar = newFakeWhoisServer(t, func(query string) string {
		return "Domain Name: TAKEN.TEST\nRegistrar: Example Registrar\n"
	})

	db := NewQueryDatabase()
	db.AddServerIPs("whois.registry.example", registry.ip())
	db.AddServerIPs(registrarHost(registrar), registrar.ip())
	db.AddServerReferral("whois.registry.example", regexp.MustCompile(`(?im)^Registrar WHOIS Server:\s*(\S+)$`))
	db.AddAvailabilityPattern(regexp.MustCompile(`(?i)no match for`))

	supplier := NewArgsQuerySupplier([]string{"taken.test"})
	handler := newCollectingHandler(1)

	d := NewDispatcher(DispatcherConfig{
		Concurrency:         1,
		IPConfig:            IPConfig{Versions: IPv4, Preferred: IPv4},
		InferTypes:          true,
		InferServers:        false,
		AvailabilityEnabled: false,
		ExplicitServer:      "whois.registry.example",
		QueryTimeout:        5 * time.Second,
	}, db, nil, supplier, handler, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx))

	result := <-handler.results
	require.NoError(t, result.Err)
	require.Equal(t, 1, result.Hops)
	require.Contains(t, result.Body, "TAKEN.TEST")
}

func registrarHost(s *fakeWhoisServer) string {
	return s.ln.Addr().(*net.TCPAddr).IP.String() + ".registrar.test"
}

package masswhois

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// dialTimeout bounds a single TCP connect attempt to a WHOIS server.
const dialTimeout = 10 * time.Second

// readTimeout bounds how long a slot waits for a server to finish
// sending its reply once the query has been written.
const readTimeout = 30 * time.Second

// whoisSlot drives one conversation at a time to completion: resolve a
// server's address if needed, dial it, send the query, read the full
// reply, classify it, and follow at most db.ReferralHopCap() referrals
// before settling on a final Result. A fixed-size pool of slots, each
// looping over its own goroutine, is what gives the dispatcher its
// concurrency limit.
type whoisSlot struct {
	index    int
	db       *QueryDatabase
	resolver *Resolver
	ipConfig IPConfig

	inferServers        bool
	availabilityEnabled bool
	explicitServer      string
}

// run drives query to completion and returns the Result. ctx bounds the
// entire conversation, including every referral hop.
func (s *whoisSlot) run(ctx context.Context, query WhoisQuery) Result {
	conversationID := uuid.New().String()
	log := Log.WithFields(logrus.Fields{"slot": s.index, "query": query.String(), "conversation": conversationID})

	server := s.explicitServer
	if s.inferServers {
		server = "" // explicitServer is then only the fallback, see resolveStep
	}
	hops := 0
	var lastBody string
	var lastServer string

	for {
		wireQuery, resolvedServer, err := s.resolveStep(query, server)
		if err != nil {
			return Result{Query: query, Hops: hops, Err: err}
		}
		server = resolvedServer

		body, err := s.converse(ctx, server, wireQuery)
		if err != nil {
			log.WithError(err).WithField("server", server).Debug("conversation failed")
			return Result{Query: query, Server: server, Hops: hops, Err: err}
		}
		lastBody, lastServer = body, server

		availability := s.db.ClassifyAvailability(body)
		if s.availabilityEnabled {
			// Availability-check mode never chases referrals; one reply is
			// enough to classify the object.
			return Result{Query: query, Server: server, Body: body, Availability: availability, Hops: hops}
		}

		next, ok := s.db.FindReferral(server, body)
		if !ok || next == server {
			break
		}
		if hops >= s.db.ReferralHopCap() {
			log.WithField("hops", hops).Warn("referral cap reached, settling on last reply")
			return Result{Query: query, Server: server, Body: body, Availability: availability, Hops: hops,
				Err: ReferralCapError{Query: query.String(), Hops: hops}}
		}
		hops++
		server = next

		select {
		case <-ctx.Done():
			return Result{Query: query, Server: server, Hops: hops, Err: ctx.Err()}
		default:
		}
	}

	return Result{Query: query, Server: lastServer, Body: lastBody,
		Availability: s.db.ClassifyAvailability(lastBody), Hops: hops}
}

// resolveStep computes the next server to talk to (when server=="" and
// inference is enabled) and the fully templated query string to send it.
// When inference finds no server for query, s.explicitServer is used.
func (s *whoisSlot) resolveStep(query WhoisQuery, server string) (wireQuery, resolvedServer string, err error) {
	explicit := server
	if explicit == "" && !s.inferServers {
		return "", "", ConfigError{Detail: "no server given and server inference is disabled"}
	}
	resolvedServer, wireQuery, err = s.db.ResolveServer(query, explicit)
	if err != nil && explicit == "" && s.explicitServer != "" {
		resolvedServer, wireQuery, err = s.db.ResolveServer(query, s.explicitServer)
	}
	if err != nil {
		return "", "", err
	}
	return wireQuery, resolvedServer, nil
}

// converse resolves server's address, opens a TCP connection to port 43,
// writes wireQuery terminated by a newline, and reads the reply until the
// server closes its end.
func (s *whoisSlot) converse(ctx context.Context, server, wireQuery string) (string, error) {
	ip, err := s.serverAddress(ctx, server)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", server, err)
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), "43"))
	if err != nil {
		return "", fmt.Errorf("dialing %s (%s): %w", server, ip, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	payload := wireQuery
	if !strings.HasSuffix(payload, "\n") {
		payload += "\n"
	}
	if _, err := conn.Write([]byte(payload)); err != nil {
		return "", fmt.Errorf("writing query to %s: %w", server, err)
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	var body []byte
	reader := bufio.NewReaderSize(conn, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if err != nil {
			break // EOF (server closed) or a deadline; either ends the read
		}
	}
	return string(body), nil
}

// serverAddress returns an address for server: a static entry from the
// query database if one exists, otherwise a live lookup through the
// shared resolver.
func (s *whoisSlot) serverAddress(ctx context.Context, server string) (net.IP, error) {
	if ips, ok := s.db.ServerIPs(server, s.ipConfig); ok && len(ips) > 0 {
		return ips[0], nil
	}
	return s.resolver.Lookup(ctx, server)
}

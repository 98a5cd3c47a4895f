package masswhois

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
)

const (
	ServerARIN     = "whois.arin.net"
	ServerIANA     = "whois.iana.org"
	ServerVerisign = "whois.verisign-grs.com"

	defaultReferralHopCap = 5
)

// asnRange is one entry of the AS-number routing table: [Low, High] maps to
// Server. Ranges are kept sorted by Low and must not overlap.
type asnRange struct {
	Low, High uint32
	Server    string
}

// ipRange is one entry of the IP-to-RIR routing table.
type ipRange struct {
	Net    *net.IPNet
	Server string
}

// QueryDatabase holds the static routing tables that decide which WHOIS
// server answers a given query, how the query is worded for that server,
// how a referral to another server is recognized in a reply, and how a
// reply is classified as AVAILABLE / UNAVAILABLE / UNKNOWN.
//
// It is built once (typically from the embedded defaults, optionally
// overridden from a data directory) and is safe for concurrent read-only
// use by every dispatcher slot.
type QueryDatabase struct {
	domainServers map[string]string // dot-joined suffix -> server
	serverIPs     map[string][]net.IP
	serverQuery   map[string]string // server -> query template, "%s" is the query text
	serverReferral map[string]*regexp.Regexp
	availability  []*regexp.Regexp

	asnRanges []asnRange
	ipRanges  []ipRange

	referralHopCap int
}

// NewQueryDatabase builds an empty database; use the loader functions in
// dataloader.go to populate it, or call the Add* methods directly in
// tests.
func NewQueryDatabase() *QueryDatabase {
	return &QueryDatabase{
		domainServers:  make(map[string]string),
		serverIPs:      make(map[string][]net.IP),
		serverQuery:    make(map[string]string),
		serverReferral: make(map[string]*regexp.Regexp),
		referralHopCap: defaultReferralHopCap,
	}
}

// SetReferralHopCap overrides the default referral chain length limit.
func (db *QueryDatabase) SetReferralHopCap(n int) {
	if n > 0 {
		db.referralHopCap = n
	}
}

// ReferralHopCap returns the configured referral chain length limit.
func (db *QueryDatabase) ReferralHopCap() int { return db.referralHopCap }

// AddDomainServer maps a domain suffix (e.g. "com", "co.uk") to a server.
func (db *QueryDatabase) AddDomainServer(suffix, server string) {
	db.domainServers[strings.ToLower(suffix)] = server
}

// AddServerIPs records the resolved or literal addresses for server,
// preserving the given order (callers are expected to order by the
// resolver's family preference).
func (db *QueryDatabase) AddServerIPs(server string, ips ...net.IP) {
	db.serverIPs[server] = append(db.serverIPs[server], ips...)
}

// AddServerQueryTemplate sets how a raw query string is wrapped before
// being sent to server. A template without "%s" is treated as a prefix
// concatenated directly in front of the query (matching servers such as
// Verisign's "domain <name>" convention).
func (db *QueryDatabase) AddServerQueryTemplate(server, template string) {
	db.serverQuery[server] = template
}

// AddServerReferral registers the single-capture-group regular expression
// used to find a referral server name inside server's reply.
func (db *QueryDatabase) AddServerReferral(server string, re *regexp.Regexp) {
	db.serverReferral[server] = re
}

// AddAvailabilityPattern appends a regular expression that, if it matches a
// reply body, classifies the query as AVAILABLE.
func (db *QueryDatabase) AddAvailabilityPattern(re *regexp.Regexp) {
	db.availability = append(db.availability, re)
}

// AddASNRange registers that AS numbers in [low, high] are served by server.
// Ranges are kept sorted after every insert so resolveASNServer can binary
// search.
func (db *QueryDatabase) AddASNRange(low, high uint32, server string) {
	db.asnRanges = append(db.asnRanges, asnRange{Low: low, High: high, Server: server})
	sort.Slice(db.asnRanges, func(i, j int) bool { return db.asnRanges[i].Low < db.asnRanges[j].Low })
}

// AddIPRange registers that addresses inside cidr are served by server.
func (db *QueryDatabase) AddIPRange(cidr *net.IPNet, server string) {
	db.ipRanges = append(db.ipRanges, ipRange{Net: cidr, Server: server})
}

// ResolveServer picks the WHOIS server and the wire-ready query string for
// q. Domain queries walk the suffixes that follow each dot, from the most
// specific to the least specific, falling back to IANA for a bare or
// unrecognized TLD. IP queries consult the IP-to-RIR table, defaulting to
// ARIN. ASN queries binary search the AS-number table, defaulting to ARIN.
// Unspecified queries always go to whatever server was explicitly requested
// by the caller (explicitServer), since there is no routing information to
// infer one from. A non-empty explicitServer is used for every kind of query.
func (db *QueryDatabase) ResolveServer(q WhoisQuery, explicitServer string) (server, wireQuery string, err error) {
	if explicitServer != "" {
		return explicitServer, db.templateQuery(explicitServer, q.String()), nil
	}

	switch q.Kind {
	case QueryDomain:
		server = db.resolveDomainServer(q)
	case QueryIP:
		server = db.resolveIPServer(q.IP())
	case QueryASN:
		server = db.resolveASNServer(q.ASN())
	default:
		return "", "", ConfigError{Detail: fmt.Sprintf("query %q has no explicit server and type inference is disabled", q.String())}
	}
	return server, db.templateQuery(server, q.String()), nil
}

func (db *QueryDatabase) resolveDomainServer(q WhoisQuery) string {
	labels := q.labels()
	for i := 1; i < len(labels); i++ {
		suffix := strings.Join(labels[i:], ".")
		if server, ok := db.domainServers[suffix]; ok {
			return server
		}
	}
	return ServerIANA
}

func (db *QueryDatabase) resolveIPServer(ip net.IP) string {
	for _, r := range db.ipRanges {
		if r.Net.Contains(ip) {
			return r.Server
		}
	}
	return ServerARIN
}

func (db *QueryDatabase) resolveASNServer(asn uint32) string {
	ranges := db.asnRanges
	lo, hi := 0, len(ranges)-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		switch {
		case asn < ranges[mid].Low:
			hi = mid - 1
		case asn > ranges[mid].High:
			lo = mid + 1
		default:
			return ranges[mid].Server
		}
	}
	return ServerARIN
}

func (db *QueryDatabase) templateQuery(server, text string) string {
	tmpl, ok := db.serverQuery[server]
	if !ok {
		return text
	}
	if strings.Contains(tmpl, "%s") {
		return strings.Replace(tmpl, "%s", text, 1)
	}
	return tmpl + text
}

// ServerIPs returns the candidate addresses for server, ordered per cfg's
// family preference. A server with no statically configured addresses
// returns ok=false so the caller falls back to a live DNS lookup.
func (db *QueryDatabase) ServerIPs(server string, cfg IPConfig) (ips []net.IP, ok bool) {
	all, found := db.serverIPs[server]
	if !found || len(all) == 0 {
		return nil, false
	}
	var preferred, other []net.IP
	for _, ip := range all {
		fam := IPv4
		if ip.To4() == nil {
			fam = IPv6
		}
		if !cfg.Versions.has(fam) {
			continue
		}
		if fam == cfg.Preferred {
			preferred = append(preferred, ip)
		} else {
			other = append(other, ip)
		}
	}
	return append(preferred, other...), true
}

// FindReferral scans body for a referral to another WHOIS server, as
// reported by the pattern registered for server. It returns ok=false when
// server has no referral pattern or the pattern does not match.
func (db *QueryDatabase) FindReferral(server, body string) (next string, ok bool) {
	re, found := db.serverReferral[server]
	if !found {
		return "", false
	}
	m := re.FindStringSubmatch(body)
	if len(m) < 2 {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// Availability is the classification of a WHOIS reply.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	AvailabilityAvailable
	AvailabilityUnavailable
)

func (a Availability) String() string {
	switch a {
	case AvailabilityAvailable:
		return "AVAILABLE"
	case AvailabilityUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// ClassifyAvailability matches body against every registered availability
// pattern. Any match means AVAILABLE; otherwise, a non-empty reply is
// assumed UNAVAILABLE (the object exists), and an empty reply is UNKNOWN.
func (db *QueryDatabase) ClassifyAvailability(body string) Availability {
	for _, re := range db.availability {
		if re.MatchString(body) {
			return AvailabilityAvailable
		}
	}
	if strings.TrimSpace(body) == "" {
		return AvailabilityUnknown
	}
	return AvailabilityUnavailable
}

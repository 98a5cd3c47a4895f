package masswhois

import (
	"net"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *QueryDatabase {
	t.Helper()
	db := NewQueryDatabase()
	db.AddDomainServer("com", "whois.verisign-grs.com")
	db.AddDomainServer("co.uk", "whois.nic.uk")
	db.AddServerQueryTemplate("whois.verisign-grs.com", "domain %s")
	db.AddServerReferral("whois.iana.org", regexp.MustCompile(`(?im)^refer:\s*(\S+)$`))
	db.AddAvailabilityPattern(regexp.MustCompile(`(?i)no match for`))
	_, cidr, err := net.ParseCIDR("193.0.0.0/8")
	require.NoError(t, err)
	db.AddIPRange(cidr, "whois.ripe.net")
	db.AddASNRange(1, 100, "whois.apnic.net")
	return db
}

func TestResolveServerDomainSuffixWalk(t *testing.T) {
	db := newTestDB(t)

	server, wire, err := db.ResolveServer(NewWhoisQuery("example.com", true), "")
	require.NoError(t, err)
	require.Equal(t, "whois.verisign-grs.com", server)
	require.Equal(t, "domain example.com", wire)

	server, _, err = db.ResolveServer(NewWhoisQuery("example.co.uk", true), "")
	require.NoError(t, err)
	require.Equal(t, "whois.nic.uk", server)
}

func TestResolveServerBareTLDFallsBackToIANA(t *testing.T) {
	db := newTestDB(t)
	server, _, err := db.ResolveServer(NewWhoisQuery("xn--unknown", true), "")
	require.NoError(t, err)
	require.Equal(t, ServerIANA, server)
}

func TestResolveServerExplicitOverridesInference(t *testing.T) {
	db := newTestDB(t)
	server, _, err := db.ResolveServer(NewWhoisQuery("example.com", true), "whois.custom.example")
	require.NoError(t, err)
	require.Equal(t, "whois.custom.example", server)
}

func TestResolveServerIPUsesRIRTable(t *testing.T) {
	db := newTestDB(t)
	server, _, err := db.ResolveServer(NewWhoisQuery("193.1.2.3", true), "")
	require.NoError(t, err)
	require.Equal(t, "whois.ripe.net", server)

	server, _, err = db.ResolveServer(NewWhoisQuery("8.8.8.8", true), "")
	require.NoError(t, err)
	require.Equal(t, ServerARIN, server, "unrouted IP defaults to ARIN")
}

func TestResolveServerASNBinarySearch(t *testing.T) {
	db := newTestDB(t)
	server, _, err := db.ResolveServer(NewWhoisQuery("50", true), "")
	require.NoError(t, err)
	require.Equal(t, "whois.apnic.net", server)

	server, _, err = db.ResolveServer(NewWhoisQuery("99999", true), "")
	require.NoError(t, err)
	require.Equal(t, ServerARIN, server)
}

func TestFindReferral(t *testing.T) {
	db := newTestDB(t)
	next, ok := db.FindReferral("whois.iana.org", "refer:   whois.verisign-grs.com\nmore text")
	require.True(t, ok)
	require.Equal(t, "whois.verisign-grs.com", next)

	_, ok = db.FindReferral("whois.verisign-grs.com", "no pattern registered")
	require.False(t, ok)
}

func TestClassifyAvailability(t *testing.T) {
	db := newTestDB(t)
	require.Equal(t, AvailabilityAvailable, db.ClassifyAvailability("No match for \"EXAMPLE123.COM\""))
	require.Equal(t, AvailabilityUnavailable, db.ClassifyAvailability("Domain Name: EXAMPLE.COM\nRegistrar: Foo"))
	require.Equal(t, AvailabilityUnknown, db.ClassifyAvailability(""))
}

func TestServerIPsOrdersByPreference(t *testing.T) {
	db := NewQueryDatabase()
	db.AddServerIPs("whois.dual.example", net.ParseIP("2001:db8::1"), net.ParseIP("192.0.2.1"))

	ips, ok := db.ServerIPs("whois.dual.example", IPConfig{Versions: IPv4 | IPv6, Preferred: IPv4})
	require.True(t, ok)
	require.Equal(t, "192.0.2.1", ips[0].String())

	ips, ok = db.ServerIPs("whois.dual.example", IPConfig{Versions: IPv4 | IPv6, Preferred: IPv6})
	require.True(t, ok)
	require.Equal(t, "2001:db8::1", ips[0].String())
}

func TestServerIPsMissReturnsFalse(t *testing.T) {
	db := NewQueryDatabase()
	_, ok := db.ServerIPs("whois.unknown.example", IPConfig{Versions: IPv4, Preferred: IPv4})
	require.False(t, ok)
}

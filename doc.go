/*
Package masswhois implements a high-throughput batch WHOIS client. Given a
stream of lookup objects (domains, IPv4/IPv6 addresses, autonomous-system
numbers) it resolves the authoritative WHOIS server for each, issues a
plain-text query over TCP port 43, follows cross-server referrals, and
optionally classifies domain availability from the response body.

Dispatcher

The Dispatcher runs a fixed-width pool of goroutines ("slots"), each
independently pulling the next query, resolving its server, opening a TCP
connection and driving the request/referral/availability lifecycle to
completion before looping back for the next one.

Resolver

WHOIS server hostnames are resolved by an in-process, caching, UDP-only DNS
resolver. It owns its sockets and tables on a single goroutine and exposes a
blocking, coalescing Lookup call to the slot goroutines.

QueryDatabase

QueryDatabase holds the static routing tables: domain suffix to WHOIS
server, server to IP addresses, server to query-string template, server to
referral regex, the availability regex set, and the ASN range table. All of
it is loaded once at construction from plain-text data files.

This example looks up a single domain and prints the raw response:

	db, _ := masswhois.LoadDefaultQueryDatabase()
	resolver, _ := masswhois.NewResolver(masswhois.IPConfig{Versions: masswhois.IPv4, Preferred: masswhois.IPv4}, "/etc/resolv.conf", nil)
	defer resolver.Close()

	src := masswhois.NewArgsQuerySupplier([]string{"example.com"})
	sink := masswhois.NewReadableHandler(os.Stdout)

	d := masswhois.NewDispatcher(masswhois.DispatcherConfig{Concurrency: 1, InferTypes: true, InferServers: true}, db, resolver, src, sink, nil)
	d.Run(context.Background())
*/
package masswhois

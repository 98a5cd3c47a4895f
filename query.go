package masswhois

import (
	"net"
	"strconv"
	"strings"
)

// QueryKind identifies which variant of WhoisQuery a value holds.
type QueryKind int

const (
	QueryDomain QueryKind = iota
	QueryIP
	QueryASN
	QueryUnspecified
)

// WhoisQuery is a tagged union over the kinds of object masswhois can look
// up: a domain name, an IPv4/IPv6 address, an autonomous-system number, or
// a raw string passed through unchanged (when type inference is disabled).
type WhoisQuery struct {
	Kind QueryKind
	text string // Domain / Unspecified payload, or the original string for ASN/IP
	ip   net.IP
	asn  uint32
}

// NewWhoisQuery builds a WhoisQuery from raw input text. When infer is
// false the result is always Unspecified. Otherwise it tries an IP parse,
// then an unsigned integer parse, and falls back to Domain.
func NewWhoisQuery(raw string, infer bool) WhoisQuery {
	if !infer {
		return WhoisQuery{Kind: QueryUnspecified, text: raw}
	}
	if ip := net.ParseIP(raw); ip != nil {
		return WhoisQuery{Kind: QueryIP, text: raw, ip: ip}
	}
	if asn, err := strconv.ParseUint(raw, 10, 32); err == nil {
		return WhoisQuery{Kind: QueryASN, text: raw, asn: uint32(asn)}
	}
	return WhoisQuery{Kind: QueryDomain, text: raw}
}

// Domain returns the domain payload; only meaningful when Kind == QueryDomain.
func (q WhoisQuery) Domain() string { return q.text }

// IP returns the IP payload; only meaningful when Kind == QueryIP.
func (q WhoisQuery) IP() net.IP { return q.ip }

// ASN returns the AS number payload; only meaningful when Kind == QueryASN.
func (q WhoisQuery) ASN() uint32 { return q.asn }

// String renders the query the way it would be sent on the wire (absent
// any server-specific template wrapping).
func (q WhoisQuery) String() string {
	switch q.Kind {
	case QueryIP:
		return q.ip.String()
	case QueryASN:
		return strconv.FormatUint(uint64(q.asn), 10)
	default: // QueryDomain, QueryUnspecified
		return q.text
	}
}

// labels returns a domain's dot-separated labels, used for the
// longest-suffix server lookup. The empty string has no labels.
func (q WhoisQuery) labels() []string {
	if q.Kind != QueryDomain || q.text == "" {
		return nil
	}
	return strings.Split(q.text, ".")
}

package masswhois

// IPVersion is a bitset of supported IP address families.
type IPVersion uint8

const (
	IPv4 IPVersion = 1 << iota
	IPv6
)

func (v IPVersion) has(f IPVersion) bool { return v&f != 0 }

// IPConfig controls which address families the resolver and the
// server-IP preference ordering operate over.
type IPConfig struct {
	// Versions is the set of families to resolve/connect over.
	Versions IPVersion
	// Preferred is consulted first when both families are supported,
	// and determines the ordering of server_to_ips results.
	Preferred IPVersion
}

// ParseIPPreference decodes the --ip flag values: "4", "6", "4,6", "6,4".
func ParseIPPreference(s string) (IPConfig, error) {
	switch s {
	case "4", "":
		return IPConfig{Versions: IPv4, Preferred: IPv4}, nil
	case "6":
		return IPConfig{Versions: IPv6, Preferred: IPv6}, nil
	case "4,6":
		return IPConfig{Versions: IPv4 | IPv6, Preferred: IPv4}, nil
	case "6,4":
		return IPConfig{Versions: IPv4 | IPv6, Preferred: IPv6}, nil
	default:
		return IPConfig{}, ConfigError{Source: "--ip", Detail: "must be one of 4, 6, 4,6 or 6,4, got " + s}
	}
}

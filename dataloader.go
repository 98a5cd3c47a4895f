package masswhois

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

//go:embed data/*.txt
var defaultData embed.FS

const (
	fileDomainServers = "domain_servers.txt"
	fileServerIPs     = "server_ip.txt"
	fileServerQuery   = "server_query.txt"
	fileServerReferral = "server_referral.txt"
	fileAvailability  = "availability.txt"
	fileASNRanges     = "asn_ranges.txt"
	fileIPRanges      = "ip_rir.txt"
)

// LoadDefaultQueryDatabase builds a QueryDatabase from the data files
// embedded in the binary. It is the routing table masswhois uses when no
// --data-dir override is supplied.
func LoadDefaultQueryDatabase() (*QueryDatabase, error) {
	return loadQueryDatabase(func(name string) (io.ReadCloser, error) {
		return defaultData.Open("data/" + name)
	})
}

// LoadQueryDatabaseFromDir builds a QueryDatabase from data files on disk
// under dir, falling back to the embedded default for any file dir does
// not override.
func LoadQueryDatabaseFromDir(dir string) (*QueryDatabase, error) {
	return loadQueryDatabase(func(name string) (io.ReadCloser, error) {
		f, err := os.Open(filepath.Join(dir, name))
		if err == nil {
			return f, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
		Log.WithField("file", name).Debug("no override in data dir, using embedded default")
		return defaultData.Open("data/" + name)
	})
}

type dataOpener func(name string) (io.ReadCloser, error)

func loadQueryDatabase(open dataOpener) (*QueryDatabase, error) {
	db := NewQueryDatabase()
	var errs *multierror.Error

	errs = multierror.Append(errs, loadDomainServers(db, open))
	errs = multierror.Append(errs, loadServerIPs(db, open))
	errs = multierror.Append(errs, loadServerQueryTemplates(db, open))
	errs = multierror.Append(errs, loadServerReferrals(db, open))
	errs = multierror.Append(errs, loadAvailabilityPatterns(db, open))
	errs = multierror.Append(errs, loadASNRanges(db, open))
	errs = multierror.Append(errs, loadIPRanges(db, open))

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return db, nil
}

// scanLines opens name via open and calls fn for every non-empty,
// non-comment line, with surrounding whitespace trimmed.
func scanLines(name string, open dataOpener, fn func(line string) error) error {
	f, err := open(name)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	var errs *multierror.Error
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(line); err != nil {
			errs = multierror.Append(errs, ConfigError{Source: fmt.Sprintf("%s:%d", name, lineNo), Detail: err.Error()})
		}
	}
	if err := scanner.Err(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errs.ErrorOrNil()
}

func loadDomainServers(db *QueryDatabase, open dataOpener) error {
	return scanLines(fileDomainServers, open, func(line string) error {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return fmt.Errorf("expected \"<suffix> <server>\", got %q", line)
		}
		db.AddDomainServer(fields[0], fields[1])
		return nil
	})
}

func loadServerIPs(db *QueryDatabase, open dataOpener) error {
	return scanLines(fileServerIPs, open, func(line string) error {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fmt.Errorf("expected \"<server> <ip...>\", got %q", line)
		}
		server := fields[0]
		for _, raw := range fields[1:] {
			ip := net.ParseIP(raw)
			if ip == nil {
				return fmt.Errorf("invalid ip %q for server %q", raw, server)
			}
			db.AddServerIPs(server, ip)
		}
		return nil
	})
}

func loadServerQueryTemplates(db *QueryDatabase, open dataOpener) error {
	return scanLines(fileServerQuery, open, func(line string) error {
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return fmt.Errorf("expected \"<server> <template>\", got %q", line)
		}
		db.AddServerQueryTemplate(fields[0], fields[1])
		return nil
	})
}

func loadServerReferrals(db *QueryDatabase, open dataOpener) error {
	return scanLines(fileServerReferral, open, func(line string) error {
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return fmt.Errorf("expected \"<server> <pattern>\", got %q", line)
		}
		re, err := regexp.Compile(fields[1])
		if err != nil {
			return fmt.Errorf("compiling referral pattern for %q: %w", fields[0], err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("referral pattern for %q has no capture group", fields[0])
		}
		db.AddServerReferral(fields[0], re)
		return nil
	})
}

func loadAvailabilityPatterns(db *QueryDatabase, open dataOpener) error {
	return scanLines(fileAvailability, open, func(line string) error {
		re, err := regexp.Compile(line)
		if err != nil {
			return fmt.Errorf("compiling availability pattern: %w", err)
		}
		db.AddAvailabilityPattern(re)
		return nil
	})
}

func loadASNRanges(db *QueryDatabase, open dataOpener) error {
	return scanLines(fileASNRanges, open, func(line string) error {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return fmt.Errorf("expected \"<low> <high> <server>\", got %q", line)
		}
		low, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid low asn %q: %w", fields[0], err)
		}
		high, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid high asn %q: %w", fields[1], err)
		}
		if high < low {
			return fmt.Errorf("range %d-%d is inverted", low, high)
		}
		db.AddASNRange(uint32(low), uint32(high), fields[2])
		return nil
	})
}

func loadIPRanges(db *QueryDatabase, open dataOpener) error {
	return scanLines(fileIPRanges, open, func(line string) error {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return fmt.Errorf("expected \"<cidr> <server>\", got %q", line)
		}
		_, cidr, err := net.ParseCIDR(fields[0])
		if err != nil {
			return fmt.Errorf("invalid cidr %q: %w", fields[0], err)
		}
		db.AddIPRange(cidr, fields[1])
		return nil
	})
}

// Package registry holds the immutable set of domains, resolvers, and
// ports a run probes. Inputs are plain line-delimited files; blank lines
// and # comments are skipped.
package registry

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Target is a domain to check, with an optional port (TLS only; 0 means
// the default 443).
type Target struct {
	Domain string
	Port   uint16
}

// Resolver is a DNS server address used to perform DNS probes.
type Resolver struct {
	Address string
}

// Registry is the fixed work set for one run.
type Registry struct {
	Targets   []Target
	Resolvers []Resolver
}

// LoadTargets reads domains from a config file. Lines may be bare
// domains, host:port pairs, or full URLs; scheme and path are stripped.
// Duplicate (domain, port) pairs are dropped, first occurrence wins.
func LoadTargets(path string) ([]Target, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, fmt.Errorf("read targets %s: %w", path, err)
	}

	seen := make(map[Target]bool)
	out := make([]Target, 0, len(lines))
	for _, line := range lines {
		t, err := parseTarget(line)
		if err != nil {
			return nil, fmt.Errorf("targets %s: %w", path, err)
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

// LoadResolvers reads nameserver IPs from a config file, one per line.
func LoadResolvers(path string) ([]Resolver, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, fmt.Errorf("read resolvers %s: %w", path, err)
	}

	seen := make(map[string]bool)
	out := make([]Resolver, 0, len(lines))
	for _, line := range lines {
		if seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, Resolver{Address: line})
	}
	return out, nil
}

// DNSDomains returns the registry's domains deduplicated by name alone;
// ports do not apply to DNS probes.
func (r Registry) DNSDomains() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(r.Targets))
	for _, t := range r.Targets {
		if seen[t.Domain] {
			continue
		}
		seen[t.Domain] = true
		out = append(out, t.Domain)
	}
	return out
}

func parseTarget(line string) (Target, error) {
	host := line
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil || u.Host == "" {
			return Target{}, fmt.Errorf("invalid target %q", line)
		}
		host = u.Host
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}

	var port uint16
	if h, p, err := splitOptionalPort(host); err != nil {
		return Target{}, fmt.Errorf("invalid target %q: %w", line, err)
	} else if p != 0 {
		host, port = h, p
	}
	if host == "" {
		return Target{}, fmt.Errorf("invalid target %q", line)
	}
	return Target{Domain: strings.ToLower(host), Port: port}, nil
}

func splitOptionalPort(host string) (string, uint16, error) {
	i := strings.LastIndexByte(host, ':')
	if i < 0 {
		return host, 0, nil
	}
	n, err := strconv.ParseUint(host[i+1:], 10, 16)
	if err != nil || n == 0 {
		return "", 0, fmt.Errorf("bad port %q", host[i+1:])
	}
	return host[:i], uint16(n), nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

// Package aggregate owns the keyed result table a run produces. Probes
// never touch the table; the scheduler hands completed results here and
// merging is a pure function over them.
package aggregate

import (
	"sort"

	"github.com/ahobbs/domainwatch/internal/probe"
)

// Key identifies one table entry: (resolver, domain) for DNS results,
// (domain, port) for TLS results.
type Key struct {
	Resolver string
	Domain   string
	Port     uint16
}

// DNSKey builds the table key for a DNS probe of domain via resolver.
func DNSKey(resolver, domain string) Key {
	return Key{Resolver: resolver, Domain: domain}
}

// TLSKey builds the table key for a TLS probe of (domain, port).
// Port 0 normalizes to the default 443 so config variants collide.
func TLSKey(domain string, port uint16) Key {
	if port == 0 {
		port = 443
	}
	return Key{Domain: domain, Port: port}
}

// Table maps keys to the latest known probe result.
type Table map[Key]probe.Result

// Update is one completed probe tagged with the scheduler's monotonic
// completion sequence number.
type Update struct {
	Key    Key
	Seq    uint64
	Result probe.Result
}

// Merge returns a new table with updates applied over existing. Keys not
// named by any update keep their prior entry; duplicate keys resolve to
// the update with the highest sequence number, independent of slice
// order. Neither input is mutated and no entry is ever deleted.
func Merge(existing Table, updates []Update) Table {
	out := make(Table, len(existing)+len(updates))
	for k, v := range existing {
		out[k] = v
	}

	ordered := make([]Update, len(updates))
	copy(ordered, updates)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	for _, u := range ordered {
		out[u.Key] = u.Result
	}
	return out
}

package sink

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ahobbs/domainwatch/internal/aggregate"
	"github.com/ahobbs/domainwatch/internal/probe"
)

// On-disk record shapes. Optional fields are pointers so a failed probe
// serializes them as explicit nulls, matching the documented format.

type dnsRecord struct {
	ResolvedIP    *string        `json:"resolved_ip"`
	ResolveTimeMS *float64       `json:"resolve_time_ms"`
	Timestamp     time.Time      `json:"timestamp"`
	Error         *probe.Failure `json:"error"`
}

type tlsRecord struct {
	Valid           *bool          `json:"valid"`
	ValidFrom       *time.Time     `json:"valid_from"`
	ValidTo         *time.Time     `json:"valid_to"`
	DaysUntilExpiry *int           `json:"days_until_expiry"`
	Issuer          *string        `json:"issuer"`
	Timestamp       time.Time      `json:"timestamp"`
	Error           *probe.Failure `json:"error"`
}

func toDNSRecord(r probe.Result) dnsRecord {
	rec := dnsRecord{Timestamp: r.Timestamp, Error: r.Err}
	if r.OK() {
		ip, ms := r.ResolvedIP, r.ResolveTimeMS
		rec.ResolvedIP, rec.ResolveTimeMS = &ip, &ms
	}
	return rec
}

func fromDNSRecord(rec dnsRecord) probe.Result {
	r := probe.Result{Timestamp: rec.Timestamp, Err: rec.Error}
	if rec.ResolvedIP != nil {
		r.ResolvedIP = *rec.ResolvedIP
	}
	if rec.ResolveTimeMS != nil {
		r.ResolveTimeMS = *rec.ResolveTimeMS
	}
	return r
}

func toTLSRecord(r probe.Result) tlsRecord {
	rec := tlsRecord{Timestamp: r.Timestamp, Error: r.Err}
	if r.OK() {
		valid, from, to, days, issuer := r.Valid, r.ValidFrom, r.ValidTo, r.DaysUntilExpiry, r.Issuer
		rec.Valid, rec.ValidFrom, rec.ValidTo = &valid, &from, &to
		rec.DaysUntilExpiry, rec.Issuer = &days, &issuer
	}
	return rec
}

func fromTLSRecord(rec tlsRecord) probe.Result {
	r := probe.Result{Timestamp: rec.Timestamp, Err: rec.Error}
	if rec.Valid != nil {
		r.Valid = *rec.Valid
	}
	if rec.ValidFrom != nil {
		r.ValidFrom = *rec.ValidFrom
	}
	if rec.ValidTo != nil {
		r.ValidTo = *rec.ValidTo
	}
	if rec.DaysUntilExpiry != nil {
		r.DaysUntilExpiry = *rec.DaysUntilExpiry
	}
	if rec.Issuer != nil {
		r.Issuer = *rec.Issuer
	}
	return r
}

// tlsKeyString renders a TLS table key as the document key: bare domain
// on the default port, host:port otherwise.
func tlsKeyString(k aggregate.Key) string {
	if k.Port == 0 || k.Port == 443 {
		return k.Domain
	}
	return net.JoinHostPort(k.Domain, strconv.Itoa(int(k.Port)))
}

func parseTLSKey(s string) aggregate.Key {
	if host, portStr, err := net.SplitHostPort(s); err == nil {
		if n, err := strconv.ParseUint(portStr, 10, 16); err == nil {
			return aggregate.TLSKey(host, uint16(n))
		}
	}
	return aggregate.TLSKey(s, 443)
}

// MarshalTable renders a table as the documented JSON document:
// {resolver: {domain: record}} for DNS, {domain: record} for TLS.
// encoding/json sorts map keys, which gives the stable ordering the
// file format promises.
func MarshalTable(kind probe.Kind, table aggregate.Table) ([]byte, error) {
	switch kind {
	case probe.KindDNS:
		doc := make(map[string]map[string]dnsRecord)
		for k, r := range table {
			byDomain := doc[k.Resolver]
			if byDomain == nil {
				byDomain = make(map[string]dnsRecord)
				doc[k.Resolver] = byDomain
			}
			byDomain[k.Domain] = toDNSRecord(r)
		}
		return json.MarshalIndent(doc, "", "  ")
	case probe.KindTLS:
		doc := make(map[string]tlsRecord)
		for k, r := range table {
			doc[tlsKeyString(k)] = toTLSRecord(r)
		}
		return json.MarshalIndent(doc, "", "  ")
	}
	return nil, fmt.Errorf("unknown probe kind %q", kind)
}

// UnmarshalTable parses a document written by MarshalTable.
func UnmarshalTable(kind probe.Kind, data []byte) (aggregate.Table, error) {
	table := make(aggregate.Table)
	switch kind {
	case probe.KindDNS:
		var doc map[string]map[string]dnsRecord
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		for resolver, byDomain := range doc {
			for domain, rec := range byDomain {
				table[aggregate.DNSKey(resolver, domain)] = fromDNSRecord(rec)
			}
		}
	case probe.KindTLS:
		var doc map[string]tlsRecord
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		for key, rec := range doc {
			table[parseTLSKey(key)] = fromTLSRecord(rec)
		}
	default:
		return nil, fmt.Errorf("unknown probe kind %q", kind)
	}
	return table, nil
}

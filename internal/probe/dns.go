package probe

import (
	"context"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/miekg/dns"
)

// DNSChecker resolves a domain's A record against exactly one nameserver.
// The query is scoped to the item's resolver; there is no fallback to the
// system resolver.
type DNSChecker struct {
	Timeout time.Duration
	client  *dns.Client
}

func NewDNSChecker(timeout time.Duration) *DNSChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSChecker{
		Timeout: timeout,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
	}
}

func (c *DNSChecker) Probe(ctx context.Context, it Item) Result {
	if it.Resolver == "" {
		return fail(ErrNoResolvers, "no nameservers available")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(it.Domain), dns.TypeA)
	msg.RecursionDesired = true

	server := it.Resolver
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	resp, rtt, err := c.client.ExchangeContext(ctx, msg, server)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fail(ErrTimeout, fmt.Sprintf("DNS query timeout after %s", c.Timeout))
		}
		return fail(ErrProtocol, fmt.Sprintf("DNS exchange failed: %v", err))
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
		// fall through to answer scan
	case dns.RcodeNameError:
		return fail(ErrNameNotFound, "domain does not exist (NXDOMAIN)")
	case dns.RcodeServerFailure, dns.RcodeRefused:
		return fail(ErrNoResolvers, fmt.Sprintf("nameserver %s answered %s", it.Resolver, dns.RcodeToString[resp.Rcode]))
	default:
		return fail(ErrProtocol, fmt.Sprintf("unexpected rcode %s", dns.RcodeToString[resp.Rcode]))
	}

	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			return Result{
				ResolvedIP:    a.A.String(),
				ResolveTimeMS: roundMS(rtt),
				Timestamp:     time.Now().UTC(),
			}
		}
	}
	return fail(ErrNoAnswer, "no answer received from DNS server")
}

// roundMS converts a duration to milliseconds rounded to 2 decimal places.
func roundMS(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}

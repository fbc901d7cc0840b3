package probe

import (
	"context"
	"time"
)

// Kind selects which family of checks a run performs.
type Kind string

const (
	KindDNS Kind = "dns"
	KindTLS Kind = "tls"
)

// ErrorKind classifies a probe failure. The set is closed; anything a
// prober cannot classify maps to ErrUnknown.
type ErrorKind string

const (
	// DNS failures
	ErrTimeout      ErrorKind = "timeout"
	ErrNameNotFound ErrorKind = "name_not_found"
	ErrNoAnswer     ErrorKind = "no_answer_record"
	ErrNoResolvers  ErrorKind = "no_resolvers_available"
	ErrProtocol     ErrorKind = "protocol_error"

	// TLS failures
	ErrConnectTimeout ErrorKind = "connect_timeout"
	ErrDNSResolution  ErrorKind = "dns_resolution_failed"
	ErrHandshake      ErrorKind = "handshake_error"
	ErrConnRefused    ErrorKind = "connection_refused"

	ErrUnknown ErrorKind = "unknown"
)

// Transient reports whether a failure of this kind is plausibly caused by
// a temporary condition and therefore eligible for retry. Everything else
// is a definitive answer and must not be retried.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrTimeout, ErrConnectTimeout, ErrProtocol, ErrConnRefused:
		return true
	}
	return false
}

// Failure describes why a probe did not produce a successful result.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Result is the outcome of a single probe. Exactly one of the success
// field groups or Err is populated; Timestamp is always the probe's
// completion time.
type Result struct {
	// DNS success
	ResolvedIP    string
	ResolveTimeMS float64

	// TLS success
	Valid           bool
	ValidFrom       time.Time
	ValidTo         time.Time
	DaysUntilExpiry int
	Issuer          string

	Err       *Failure
	Timestamp time.Time
}

// OK reports whether the probe produced a successful result.
func (r Result) OK() bool { return r.Err == nil }

func fail(kind ErrorKind, msg string) Result {
	return Result{
		Err:       &Failure{Kind: kind, Message: msg},
		Timestamp: time.Now().UTC(),
	}
}

// Item is one unit of probe work. Resolver is set for DNS items, Port
// for TLS items (0 means the default, 443).
type Item struct {
	Domain   string
	Resolver string
	Port     uint16
}

// Prober performs a single check for a given work item.
type Prober interface {
	Probe(ctx context.Context, it Item) Result
}

package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ahobbs/domainwatch/internal/aggregate"
	"github.com/ahobbs/domainwatch/internal/probe"
)

// RemoteSink forwards results to a monitoring API, one POST per changed
// entry, authenticated with a bearer token. The remote system is
// authoritative, so Load returns an empty table rather than a cached
// copy.
type RemoteSink struct {
	BaseURL      string
	Token        string
	Kind         probe.Kind
	Client       *http.Client
	Logger       *zap.Logger
	MaxRetries   int
	RetryBackoff time.Duration
}

func NewRemoteSink(baseURL, token string, kind probe.Kind, logger *zap.Logger) *RemoteSink {
	return &RemoteSink{
		BaseURL:      baseURL,
		Token:        token,
		Kind:         kind,
		Client:       &http.Client{Timeout: 30 * time.Second},
		Logger:       logger,
		MaxRetries:   2,
		RetryBackoff: time.Second,
	}
}

// checkPayload is the request body for one result. Null fields are
// omitted on the wire.
type checkPayload struct {
	Resolver string `json:"resolver,omitempty"`
	Domain   string `json:"domain"`
	Port     uint16 `json:"port,omitempty"`

	ResolvedIP    string   `json:"resolved_ip,omitempty"`
	ResolveTimeMS *float64 `json:"resolve_time_ms,omitempty"`

	Valid           *bool      `json:"valid,omitempty"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidTo         *time.Time `json:"valid_to,omitempty"`
	DaysUntilExpiry *int       `json:"days_until_expiry,omitempty"`
	Issuer          string     `json:"issuer,omitempty"`

	Timestamp time.Time      `json:"timestamp"`
	Error     *probe.Failure `json:"error,omitempty"`
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *RemoteSink) Load(ctx context.Context) (aggregate.Table, error) {
	return aggregate.Table{}, nil
}

// Store posts each changed entry. Transport failures and 5xx answers are
// retried up to MaxRetries; 401/403 aborts everything with
// ErrAuthentication; an application-level non-"ok" status counts as a
// per-item failure and is not retried.
func (s *RemoteSink) Store(ctx context.Context, table aggregate.Table, changed []aggregate.Key) (Report, error) {
	var rep Report
	var errs error

	for _, key := range changed {
		result, ok := table[key]
		if !ok {
			continue
		}
		if err := s.storeOne(ctx, key, result); err != nil {
			if errors.Is(err, ErrAuthentication) {
				rep.Failed += len(changed) - rep.Written - rep.Failed
				return rep, err
			}
			rep.Failed++
			errs = multierr.Append(errs, err)
			continue
		}
		rep.Written++
	}
	return rep, errs
}

func (s *RemoteSink) storeOne(ctx context.Context, key aggregate.Key, result probe.Result) error {
	body, err := json.Marshal(s.payload(key, result))
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", key.Resolver, key.Domain, err)
	}
	url := fmt.Sprintf("%s/api/v1/checks/%s", s.BaseURL, s.Kind)

	var lastErr error
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.RetryBackoff):
			}
		}

		retry, err := s.post(ctx, url, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		s.Logger.Warn("sink_write_retry",
			zap.String("domain", key.Domain),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return lastErr
}

// post performs one write attempt. The bool reports whether the failure
// is retryable (transport error or 5xx).
func (s *RemoteSink) post(ctx context.Context, url string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Token)

	resp, err := s.Client.Do(req)
	if err != nil {
		return true, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, fmt.Errorf("%w (HTTP %d)", ErrAuthentication, resp.StatusCode)
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("post %s: HTTP %d", url, resp.StatusCode)
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("post %s: HTTP %d", url, resp.StatusCode)
	}

	var ar apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return false, fmt.Errorf("decode response from %s: %w", url, err)
	}
	if ar.Status != "ok" {
		return false, fmt.Errorf("api rejected entry: status=%s message=%s", ar.Status, ar.Message)
	}
	return false, nil
}

func (s *RemoteSink) payload(key aggregate.Key, r probe.Result) checkPayload {
	p := checkPayload{
		Resolver:  key.Resolver,
		Domain:    key.Domain,
		Port:      key.Port,
		Timestamp: r.Timestamp,
		Error:     r.Err,
	}
	if !r.OK() {
		return p
	}
	switch s.Kind {
	case probe.KindDNS:
		ms := r.ResolveTimeMS
		p.ResolvedIP, p.ResolveTimeMS = r.ResolvedIP, &ms
	case probe.KindTLS:
		valid, from, to, days := r.Valid, r.ValidFrom, r.ValidTo, r.DaysUntilExpiry
		p.Valid, p.ValidFrom, p.ValidTo = &valid, &from, &to
		p.DaysUntilExpiry, p.Issuer = &days, r.Issuer
	}
	return p
}

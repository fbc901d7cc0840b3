package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ahobbs/domainwatch/internal/probe"
	"github.com/ahobbs/domainwatch/internal/registry"
)

// Config tunes one pool run.
type Config struct {
	Concurrency  int           // simultaneous in-flight probes
	Timeout      time.Duration // per-probe network timeout
	MaxRetries   int           // extra attempts for transient failures
	RetryBackoff time.Duration // pause between attempts
	RateLimit    int           // probes per second across the pool, 0 = unlimited
	PerResolver  int           // max in-flight probes per resolver, 0 = off
}

// Outcome is one finished work item. Seq is a monotonic completion
// sequence number; merges applied in Seq order are reproducible no
// matter how workers interleave.
type Outcome struct {
	Item     probe.Item
	Seq      uint64
	Attempts int
	Result   probe.Result
}

// Report is the full yield of a run: exactly one outcome per submitted
// work item unless the run was cancelled, in which case Complete is
// false and Outcomes holds what finished in time.
type Report struct {
	Outcomes []Outcome
	Complete bool
}

// Pool executes probe work items with bounded concurrency and a
// per-item retry policy for transient failures.
type Pool struct {
	Logger  *zap.Logger
	Prober  probe.Prober
	cfg     Config
	limiter *rate.Limiter
	seq     atomic.Uint64
}

func NewPool(logger *zap.Logger, prober probe.Prober, cfg Config) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}
	return &Pool{Logger: logger, Prober: prober, cfg: cfg, limiter: limiter}
}

// BuildDNSItems expands the cross product of resolvers and domains.
func BuildDNSItems(reg registry.Registry) []probe.Item {
	domains := reg.DNSDomains()
	items := make([]probe.Item, 0, len(reg.Resolvers)*len(domains))
	for _, r := range reg.Resolvers {
		for _, d := range domains {
			items = append(items, probe.Item{Domain: d, Resolver: r.Address})
		}
	}
	return items
}

// BuildTLSItems yields one item per (domain, port) target.
func BuildTLSItems(reg registry.Registry) []probe.Item {
	items := make([]probe.Item, 0, len(reg.Targets))
	for _, t := range reg.Targets {
		items = append(items, probe.Item{Domain: t.Domain, Port: t.Port})
	}
	return items
}

// Run drains the work list through Concurrency workers and collects one
// outcome per item. On context cancellation it returns early with the
// partial set gathered so far.
func (p *Pool) Run(ctx context.Context, items []probe.Item) Report {
	itemCh := make(chan probe.Item)
	outCh := make(chan Outcome, len(items))

	var resolverSlots map[string]chan struct{}
	if p.cfg.PerResolver > 0 {
		resolverSlots = make(map[string]chan struct{})
		for _, it := range items {
			if it.Resolver != "" && resolverSlots[it.Resolver] == nil {
				resolverSlots[it.Resolver] = make(chan struct{}, p.cfg.PerResolver)
			}
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, itemCh, outCh, resolverSlots)
		}()
	}

	go func() {
		defer close(itemCh)
		for _, it := range items {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case itemCh <- it:
			}
		}
	}()

	wg.Wait()
	close(outCh)

	outcomes := make([]Outcome, 0, len(items))
	for out := range outCh {
		outcomes = append(outcomes, out)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Seq < outcomes[j].Seq })

	return Report{
		Outcomes: outcomes,
		Complete: ctx.Err() == nil && len(outcomes) == len(items),
	}
}

func (p *Pool) worker(ctx context.Context, itemCh <-chan probe.Item, outCh chan<- Outcome, resolverSlots map[string]chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case it, ok := <-itemCh:
			if !ok {
				return
			}
			if slot := resolverSlots[it.Resolver]; slot != nil {
				select {
				case <-ctx.Done():
					return
				case slot <- struct{}{}:
				}
				outCh <- p.runItem(ctx, it)
				<-slot
			} else {
				outCh <- p.runItem(ctx, it)
			}
		}
	}
}

// runItem performs up to 1+MaxRetries attempts. Only transient failure
// kinds are retried; the final attempt's result is what the item yields.
func (p *Pool) runItem(ctx context.Context, it probe.Item) Outcome {
	var res probe.Result
	attempts := 0

	for attempt := 0; ; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		res = p.Prober.Probe(pctx, it)
		cancel()
		attempts = attempt + 1

		if res.OK() || !res.Err.Kind.Transient() || attempt >= p.cfg.MaxRetries || ctx.Err() != nil {
			break
		}
		p.Logger.Debug("probe_retry",
			zap.String("domain", it.Domain),
			zap.String("resolver", it.Resolver),
			zap.String("kind", string(res.Err.Kind)),
			zap.Int("attempt", attempts),
		)
		if p.cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.cfg.RetryBackoff):
			}
		}
	}

	return Outcome{
		Item:     it,
		Seq:      p.seq.Add(1),
		Attempts: attempts,
		Result:   res,
	}
}

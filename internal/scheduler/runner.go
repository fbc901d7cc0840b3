package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ahobbs/domainwatch/internal/aggregate"
	"github.com/ahobbs/domainwatch/internal/probe"
	"github.com/ahobbs/domainwatch/internal/registry"
	"github.com/ahobbs/domainwatch/internal/sink"
)

// Summary is the user-visible account of one run.
type Summary struct {
	Kind         probe.Kind              `json:"kind"`
	Probes       int                     `json:"probes"`
	Succeeded    int                     `json:"succeeded"`
	FailedByKind map[probe.ErrorKind]int `json:"failed_by_kind,omitempty"`
	SinkWritten  int                     `json:"sink_written"`
	SinkFailed   int                     `json:"sink_failed"`
	Complete     bool                    `json:"complete"`
	FinishedAt   time.Time               `json:"finished_at"`
}

// StatusRecorder receives each run's merged table and summary; the
// status API implements it. A nil recorder is fine.
type StatusRecorder interface {
	Record(kind probe.Kind, table aggregate.Table, sum Summary)
}

// Runner drives complete check cycles: load prior results from the
// sink, fan probes out through the pool, merge, persist, summarize.
// With a non-zero Interval it keeps running each tick until cancelled,
// the way a resident monitor does.
type Runner struct {
	Logger   *zap.Logger
	Kind     probe.Kind
	Registry registry.Registry
	Pool     *Pool
	Sink     sink.Sink
	Interval time.Duration
	Deadline time.Duration // optional overall per-run deadline, 0 = none
	Status   StatusRecorder
}

// Run does an immediate pass, then one per tick. Stops when ctx is
// cancelled. Only setup and authentication errors are returned; probe
// failures land in the result table instead.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	sum, err := r.RunOnce(ctx)
	if err != nil || r.Interval == 0 {
		return sum, err
	}

	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Logger.Info("runner_stopped", zap.String("kind", string(r.Kind)))
			return sum, nil
		case <-t.C:
			if sum, err = r.RunOnce(ctx); err != nil {
				return sum, err
			}
		}
	}
}

// RunOnce executes a single complete cycle for the runner's probe kind.
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	if r.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Deadline)
		defer cancel()
	}

	table, err := r.Sink.Load(ctx)
	if err != nil {
		return Summary{Kind: r.Kind}, fmt.Errorf("load prior results: %w", err)
	}

	var items []probe.Item
	switch r.Kind {
	case probe.KindDNS:
		items = BuildDNSItems(r.Registry)
	case probe.KindTLS:
		items = BuildTLSItems(r.Registry)
	}

	rep := r.Pool.Run(ctx, items)

	updates := make([]aggregate.Update, 0, len(rep.Outcomes))
	changed := make([]aggregate.Key, 0, len(rep.Outcomes))
	sum := Summary{
		Kind:         r.Kind,
		Probes:       len(rep.Outcomes),
		FailedByKind: make(map[probe.ErrorKind]int),
		Complete:     rep.Complete,
	}
	for _, out := range rep.Outcomes {
		key := r.keyFor(out.Item)
		updates = append(updates, aggregate.Update{Key: key, Seq: out.Seq, Result: out.Result})
		changed = append(changed, key)
		if out.Result.OK() {
			sum.Succeeded++
		} else {
			sum.FailedByKind[out.Result.Err.Kind]++
		}
	}

	table = aggregate.Merge(table, updates)

	srep, storeErr := r.Sink.Store(ctx, table, changed)
	sum.SinkWritten, sum.SinkFailed = srep.Written, srep.Failed
	sum.FinishedAt = time.Now().UTC()

	if r.Status != nil {
		r.Status.Record(r.Kind, table, sum)
	}
	r.logSummary(sum)

	if errors.Is(storeErr, sink.ErrAuthentication) {
		return sum, storeErr
	}
	if storeErr != nil {
		// Transport failures were already retried and counted; the run
		// itself still completed.
		r.Logger.Warn("sink_store_error", zap.String("kind", string(r.Kind)), zap.Error(storeErr))
	}
	return sum, nil
}

func (r *Runner) keyFor(it probe.Item) aggregate.Key {
	if r.Kind == probe.KindDNS {
		return aggregate.DNSKey(it.Resolver, it.Domain)
	}
	return aggregate.TLSKey(it.Domain, it.Port)
}

func (r *Runner) logSummary(sum Summary) {
	fields := []zap.Field{
		zap.String("kind", string(sum.Kind)),
		zap.Int("probes", sum.Probes),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("sink_written", sum.SinkWritten),
		zap.Int("sink_failed", sum.SinkFailed),
		zap.Bool("complete", sum.Complete),
	}
	for kind, n := range sum.FailedByKind {
		fields = append(fields, zap.Int("failed_"+string(kind), n))
	}
	r.Logger.Info("run_complete", fields...)
}

// Package sink externalizes aggregated probe results. Implementations
// are swappable behind one interface: a JSON file on disk, or a remote
// monitoring API reached over HTTP.
package sink

import (
	"context"
	"errors"

	"github.com/ahobbs/domainwatch/internal/aggregate"
)

// ErrAuthentication marks a remote sink write rejected with 401/403.
// Further writes in the same run will also fail, so callers abort.
var ErrAuthentication = errors.New("sink authentication rejected")

// Report summarizes one Store call.
type Report struct {
	Written int
	Failed  int
}

// Sink loads the prior result table at run start and persists the merged
// table at run end.
type Sink interface {
	Load(ctx context.Context) (aggregate.Table, error)
	Store(ctx context.Context, table aggregate.Table, changed []aggregate.Key) (Report, error)
}

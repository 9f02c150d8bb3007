// Package batch looks up many waybills concurrently.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tournevent/kuaidi100/pkg/kuaidi100"
)

// Querier performs a single synchronous lookup. *kuaidi100.Service
// implements it.
type Querier interface {
	Query(ctx context.Context, req kuaidi100.QueryRequest) (kuaidi100.Logistics, error)
}

// Result is the outcome of one lookup. Exactly one of Logistics and Err is
// meaningful.
type Result struct {
	Request   kuaidi100.QueryRequest
	Logistics kuaidi100.Logistics
	Err       error
}

// Runner fans lookups out to a Querier with bounded concurrency. Each request
// is sent once; failures are reported per request and never retried.
type Runner struct {
	querier Querier
	limit   int
}

// NewRunner creates a runner issuing at most limit lookups at a time.
func NewRunner(querier Querier, limit int) *Runner {
	if limit < 1 {
		limit = 1
	}
	return &Runner{querier: querier, limit: limit}
}

// Query runs all requests and returns their results in input order. A
// failing lookup does not cancel the others.
func (r *Runner) Query(ctx context.Context, reqs []kuaidi100.QueryRequest) []Result {
	results := make([]Result, len(reqs))

	var g errgroup.Group
	g.SetLimit(r.limit)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			logistics, err := r.querier.Query(ctx, req)
			if err != nil {
				err = fmt.Errorf("%s: %w", req.WaybillNo, err)
			}
			results[i] = Result{Request: req, Logistics: logistics, Err: err}
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// Failed returns the number of results carrying an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

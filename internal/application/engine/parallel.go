package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
)

// RunParallel executes disjoint subtrees concurrently. Results are returned
// in the order of roots. The first error cancels the remaining subtrees.
// Callers are responsible for the subtrees having no data dependency.
func RunParallel(ctx context.Context, exec Executor, roots []*node.Node, ec ExecContext, limit int) ([]flow.Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	results := make([]flow.Result, len(roots))
	for i, root := range roots {
		g.Go(func() error {
			res, err := exec.Execute(gctx, root, ec)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

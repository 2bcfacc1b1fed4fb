package assets

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/codemother/codemother/pkg/workflow"
)

// Collect runs fn for every task, at most limit at a time, and concatenates
// the results in task order. A failed task contributes nothing; onErr, when
// set, is told about it and may be called concurrently. Collect itself
// never fails.
func Collect[T any](ctx context.Context, tasks []T, limit int, fn func(context.Context, T) ([]workflow.ImageResource, error), onErr func(T, error)) []workflow.ImageResource {
	if len(tasks) == 0 {
		return nil
	}
	results := make([][]workflow.ImageResource, len(tasks))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, task := range tasks {
		g.Go(func() error {
			res, err := fn(ctx, task)
			if err != nil {
				if onErr != nil {
					onErr(task, err)
				}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var out []workflow.ImageResource
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

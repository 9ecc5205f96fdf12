package parallel

import "context"

// reducePair is one adjacent pair combined during a tree-reduction round.
type reducePair[T any] struct {
	a, b T
}

// TreeReduce combines items pairwise in parallel rounds until a single
// value remains. The combine function must be associative; commutativity
// is not required since pairing preserves input order. An odd item in a
// round is carried into the next round unchanged.
//
// Returns the zero value for an empty input. The first combine error
// aborts the reduction.
func TreeReduce[T any](
	ctx context.Context,
	items []T,
	config PoolConfig,
	combine func(ctx context.Context, a, b T) (T, error),
) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, nil
	}

	pool := NewWorkerPool[reducePair[T], T](config)

	round := items
	for len(round) > 1 {
		pairs := make([]reducePair[T], 0, len(round)/2)
		for i := 0; i+1 < len(round); i += 2 {
			pairs = append(pairs, reducePair[T]{a: round[i], b: round[i+1]})
		}

		results := pool.ExecuteFunc(ctx, pairs, func(ctx context.Context, p reducePair[T]) (T, error) {
			return combine(ctx, p.a, p.b)
		})

		next := make([]T, 0, len(pairs)+1)
		for _, r := range results {
			if r.Error != nil {
				return zero, r.Error
			}
			next = append(next, r.Result)
		}
		if len(round)%2 == 1 {
			next = append(next, round[len(round)-1])
		}
		round = next
	}

	return round[0], nil
}

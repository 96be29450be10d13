package features

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/LoopProfiler/internal/audio"
)

// Span is a loop candidate's boundaries in samples.
type Span struct {
	Start int
	End   int
}

// ProgressFunc is called after each candidate completes with the number
// done so far. Calls are serialized and done is strictly increasing.
type ProgressFunc func(done, total int)

// ExtractAll extracts every span of one track on a bounded worker pool.
// Candidates share the track's decoded buffer. Cancelling ctx stops work
// before the next candidate starts; a decode failure aborts the batch.
// Results are in span order.
func (e *Extractor) ExtractAll(
	ctx context.Context,
	track *audio.Track,
	spans []Span,
	sampleRate int,
	useCache bool,
	progress ProgressFunc,
) ([]Result, error) {
	if len(spans) == 0 {
		return nil, nil
	}

	results := make([]Result, len(spans))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	var mu sync.Mutex
	done := 0

	for i, sp := range spans {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			res, err := e.Extract(gCtx, track, sp.Start, sp.End, sampleRate, useCache)
			if err != nil {
				return fmt.Errorf("candidate %d [%d, %d): %w", i, sp.Start, sp.End, err)
			}
			results[i] = res

			mu.Lock()
			done++
			if progress != nil {
				progress(done, len(spans))
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

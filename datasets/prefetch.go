package datasets

import (
	"context"
	"sync"
)

// PrefetchLoader decodes batches on a background worker so the training
// loop never waits on disk. It exposes the same iteration surface as
// DataLoader and delivers batches in order through a buffered channel.
type PrefetchLoader struct {
	inner *DataLoader
	depth int

	batches  chan prefetchResult
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumed int
	started  bool
}

type prefetchResult struct {
	batch *Batch
	err   error
}

// NewPrefetchLoader wraps a DataLoader with a prefetch pipeline holding up
// to depth decoded batches.
func NewPrefetchLoader(inner *DataLoader, depth int) *PrefetchLoader {
	if depth <= 0 {
		depth = 2
	}
	return &PrefetchLoader{
		inner: inner,
		depth: depth,
	}
}

// Len returns the number of batches in an epoch.
func (pl *PrefetchLoader) Len() int {
	return pl.inner.Len()
}

// Reset stops any running worker, reshuffles the inner loader, and starts
// prefetching the new epoch.
func (pl *PrefetchLoader) Reset() {
	pl.Stop()
	pl.inner.Reset()
	pl.consumed = 0

	ctx, cancel := context.WithCancel(context.Background())
	pl.cancel = cancel
	pl.batches = make(chan prefetchResult, pl.depth)
	pl.started = true

	pl.wg.Add(1)
	go func() {
		defer pl.wg.Done()
		defer close(pl.batches)
		for pl.inner.HasNext() {
			batch, err := pl.inner.Next()
			if batch == nil && err == nil {
				return
			}
			select {
			case pl.batches <- prefetchResult{batch: batch, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

// HasNext returns true if the current epoch has undelivered batches.
func (pl *PrefetchLoader) HasNext() bool {
	return pl.started && pl.consumed < pl.inner.Len()
}

// Next returns the next prefetched batch, or nil when the epoch is done.
func (pl *PrefetchLoader) Next() (*Batch, error) {
	if !pl.HasNext() {
		return nil, nil
	}
	result, ok := <-pl.batches
	if !ok {
		pl.consumed = pl.inner.Len()
		return nil, nil
	}
	pl.consumed++
	return result.batch, result.err
}

// Stop cancels the background worker and drains its channel.
func (pl *PrefetchLoader) Stop() {
	if !pl.started {
		return
	}
	pl.cancel()
	for range pl.batches {
	}
	pl.wg.Wait()
	pl.started = false
}

package fetchpool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/planzut/plan-sync/internal/schedule"
)

// DefaultWorkers bounds in-flight portal fetches when the caller does not
// supply a limit.
const DefaultWorkers = 10

// Kind names the entity a cache key points at.
type Kind string

const (
	KindRoom  Kind = "room"
	KindGroup Kind = "group"
)

// Key identifies one cacheable fetch target: an entity plus the exact range
// it was fetched for. Ranges are matched as a unit; a sub-range of a cached
// window is a miss.
type Key struct {
	Kind  Kind
	Name  string
	Range schedule.Range
}

// Cache is the durable record store the pool consults before fetching and
// writes fresh results into.
type Cache interface {
	Get(ctx context.Context, key Key) ([]schedule.Lesson, bool, error)
	Put(ctx context.Context, key Key, records []schedule.Lesson) error
}

// FetchFunc performs the external fetch for one key.
type FetchFunc func(ctx context.Context, key Key) ([]schedule.Lesson, error)

// Options configures one FetchAll call.
type Options struct {
	Cache   Cache
	Workers int
	// Force bypasses cache reads; every key is fetched and rewritten.
	Force bool
	// OnDone fires once per key, after that key has resolved to a cached
	// result, a fresh result, or an error. Calls are serialized.
	OnDone func(key Key, records []schedule.Lesson, err error)
}

// Result is the joined outcome of a FetchAll call. Every input key appears
// in exactly one of Records or Errs; Fetched+Skipped+Failed equals the
// number of keys.
type Result struct {
	Records map[Key][]schedule.Lesson
	Errs    map[Key]error

	Fetched   int
	Skipped   int
	Failed    int
	LastError string
}

// FetchAll resolves every key to cached records, freshly fetched records, or
// an error, with at most opts.Workers fetches in flight. A failing key never
// aborts the batch; successes are written to the cache before the call
// returns, so a repeat call with the same keys is all cache hits.
func FetchAll(ctx context.Context, keys []Key, fetch FetchFunc, opts Options) Result {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	ret := Result{
		Records: make(map[Key][]schedule.Lesson, len(keys)),
		Errs:    make(map[Key]error),
	}
	var mu sync.Mutex

	complete := func(key Key, records []schedule.Lesson, err error, fetched bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			ret.Errs[key] = err
			ret.Failed++
			ret.LastError = fmt.Sprintf("%s: %v", key.Name, err)
		case fetched:
			ret.Records[key] = records
			ret.Fetched++
		default:
			ret.Records[key] = records
			ret.Skipped++
		}
		if opts.OnDone != nil {
			opts.OnDone(key, records, err)
		}
	}

	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup

	for _, key := range keys {
		if opts.Cache != nil && !opts.Force {
			records, hit, err := opts.Cache.Get(ctx, key)
			if err != nil {
				// A broken cache must not silently degrade into a fetch
				// storm; the key fails instead.
				complete(key, nil, fmt.Errorf("cache read: %w", err), false)
				continue
			}
			if hit {
				complete(key, records, nil, false)
				continue
			}
		}

		wg.Add(1)
		go func(key Key) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				complete(key, nil, err, false)
				return
			}
			defer sem.Release(1)

			records, err := fetch(ctx, key)
			if err != nil {
				complete(key, nil, err, false)
				return
			}
			if opts.Cache != nil {
				if err := opts.Cache.Put(ctx, key, records); err != nil {
					complete(key, nil, fmt.Errorf("cache write: %w", err), false)
					return
				}
			}
			complete(key, records, err, true)
		}(key)
	}

	wg.Wait()
	return ret
}

package player

import (
	"context"
	"sync"
	"time"

	"github.com/proctorview/playback/internal/logging"
	"github.com/proctorview/playback/internal/metrics"
)

// Prefetcher warms upcoming chunks ahead of playback: the next chunk is
// fully fetched into the warm store, deeper positions get a lightweight
// prime. It is a caching side channel only and never takes part in the
// playback timeline.
type Prefetcher struct {
	mu       sync.Mutex
	fetcher  Fetcher
	depth    int
	log      *logging.Logger
	inflight map[string]bool
	done     map[string]bool
}

// NewPrefetcher creates a prefetcher warming up to depth chunks ahead
func NewPrefetcher(fetcher Fetcher, depth int, log *logging.Logger) *Prefetcher {
	if depth < 1 {
		depth = 1
	}
	return &Prefetcher{
		fetcher:  fetcher,
		depth:    depth,
		log:      log,
		inflight: make(map[string]bool),
		done:     make(map[string]bool),
	}
}

// WarmAhead schedules prefetches for the chunks after current. The first
// upcoming chunk is warmed fully, the rest primed. Already-scheduled URLs
// are skipped, so calling this from several triggers is cheap.
func (pf *Prefetcher) WarmAhead(ctx context.Context, urls []string, current int) {
	for offset := 1; offset <= pf.depth; offset++ {
		i := current + offset
		if i >= len(urls) {
			break
		}
		pf.schedule(ctx, urls[i], offset == 1)
	}
}

func (pf *Prefetcher) schedule(ctx context.Context, url string, warm bool) {
	pf.mu.Lock()
	if pf.inflight[url] || pf.done[url] {
		pf.mu.Unlock()
		return
	}
	pf.inflight[url] = true
	pf.mu.Unlock()

	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		var err error
		if warm {
			_, err = pf.fetcher.Fetch(fetchCtx, url)
			metrics.PrefetchesTotal.WithLabelValues("warm").Inc()
		} else {
			err = pf.fetcher.Prime(fetchCtx, url)
			metrics.PrefetchesTotal.WithLabelValues("prime").Inc()
		}

		pf.mu.Lock()
		delete(pf.inflight, url)
		// A warm failure is retried on the next trigger; a successful
		// prime is still re-primable once it becomes the warm target.
		if err == nil && warm {
			pf.done[url] = true
		}
		pf.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			pf.log.Debugf("Prefetch failed for %s: %v", url, err)
		}
	}()
}

// Reset forgets all prefetch bookkeeping, used when the catalog changes
func (pf *Prefetcher) Reset() {
	pf.mu.Lock()
	pf.inflight = make(map[string]bool)
	pf.done = make(map[string]bool)
	pf.mu.Unlock()
}

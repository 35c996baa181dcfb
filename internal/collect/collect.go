package collect

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/BidRadar/internal/metrics"
	"github.com/TobiSchelling/BidRadar/internal/notice"
)

// Budget bounds how much one adapter may return and crawl.
type Budget struct {
	MaxRecords int
	MaxPages   int
}

// Source is one upstream procurement feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context, b Budget) ([]notice.Notice, error)
}

// Result holds the results of a collection run.
type Result struct {
	Notices []notice.Notice
	Counts  map[string]int
	Errors  map[string]error
}

// ErrorStrings renders per-source errors in source order.
func (r *Result) ErrorStrings(order []string) []string {
	var out []string
	for _, name := range order {
		if err, ok := r.Errors[name]; ok {
			out = append(out, fmt.Sprintf("%s: %v", name, err))
		}
	}
	return out
}

// Collector fans out to every source concurrently.
type Collector struct {
	sources []Source
}

// NewCollector creates a collector over the given sources.
func NewCollector(sources ...Source) *Collector {
	return &Collector{sources: sources}
}

// Names lists the configured sources in merge order.
func (c *Collector) Names() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Collect fetches every source, isolating failures: a failing source counts
// as zero notices and its error is recorded. Results are merged in source
// order after all sources settle.
func (c *Collector) Collect(ctx context.Context, b Budget) *Result {
	r := &Result{
		Counts: make(map[string]int),
		Errors: make(map[string]error),
	}
	batches := make([]Batch, len(c.sources))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range c.sources {
		g.Go(func() error {
			name := src.Name()
			notices, err := src.Fetch(gctx, b)
			if err != nil {
				log.Printf("[%s] fetch failed: %v", name, err)
				metrics.SourceErrors.WithLabelValues(name).Inc()
				mu.Lock()
				r.Errors[name] = err
				r.Counts[name] = 0
				mu.Unlock()
				batches[i] = Batch{Source: name}
				return nil
			}
			if b.MaxRecords > 0 && len(notices) > b.MaxRecords {
				notices = notices[:b.MaxRecords]
			}
			metrics.NoticesFetched.WithLabelValues(name).Add(float64(len(notices)))
			log.Printf("[%s] fetched %d notices", name, len(notices))

			batches[i] = Batch{Source: name, Notices: notices}
			mu.Lock()
			r.Counts[name] = len(notices)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	r.Notices = Merge(batches)
	log.Printf("Collection complete: %d notices from %d sources (%d failed)", len(r.Notices), len(c.sources), len(r.Errors))
	return r
}

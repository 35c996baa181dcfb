// Package rank blends rule scores with an external relevance judgment for
// the most promising notices of a run.
package rank

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/BidRadar/internal/metrics"
	"github.com/TobiSchelling/BidRadar/internal/notice"
	"github.com/TobiSchelling/BidRadar/internal/progress"
	"github.com/TobiSchelling/BidRadar/internal/triage"
)

// Judge produces an external relevance verdict for one notice.
type Judge interface {
	Judge(ctx context.Context, n notice.Notice) (triage.Judgment, error)
}

// Enricher supplies page text for a notice with a thin description.
type Enricher interface {
	Enrich(ctx context.Context, n notice.Notice) (string, bool)
}

// Options configures a Blender.
type Options struct {
	Alpha    float64
	TopN     int
	Workers  int
	Enricher Enricher
	Progress *progress.Reporter
}

// Blender combines rule and external scores.
type Blender struct {
	judge    Judge
	enricher Enricher
	alpha    float64
	topN     int
	workers  int
	progress *progress.Reporter
}

// NewBlender creates a blender. A nil judge makes every run rules-only.
func NewBlender(judge Judge, o Options) *Blender {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Progress == nil {
		o.Progress = progress.New()
	}
	return &Blender{
		judge:    judge,
		enricher: o.Enricher,
		alpha:    o.Alpha,
		topN:     o.TopN,
		workers:  o.Workers,
		progress: o.Progress,
	}
}

// Blend sets FinalScore on every notice in place. Only the score, summary and
// rationale fields change; page text goes to the judge alone. Selected
// notices are judged concurrently; a failed judgment leaves that notice at
// its rule score and is returned in the error list. Errors never abort the
// run.
func (b *Blender) Blend(ctx context.Context, notices []notice.Notice, rulesOnly bool) []error {
	for i := range notices {
		notices[i].FinalScore = notices[i].RuleScore
		notices[i].ExternalScore = 0
		notices[i].Selected = false
	}
	if rulesOnly || b.topN <= 0 || len(notices) == 0 {
		return nil
	}
	if b.judge == nil {
		log.Printf("No relevance judge configured, keeping rule scores")
		return nil
	}

	selected := SelectTop(notices, b.topN)
	for _, i := range selected {
		notices[i].Selected = true
	}
	log.Printf("Judging %d of %d notices (alpha=%.2f, workers=%d)", len(selected), len(notices), b.alpha, b.workers)
	b.progress.Start(progress.StageJudging, len(selected))

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, i := range selected {
		g.Go(func() error {
			defer b.progress.Inc()
			n := &notices[i]
			view := *n
			if b.enricher != nil {
				if text, ok := b.enricher.Enrich(gctx, view); ok {
					view.PageText = text
				}
			}
			j, err := b.judge.Judge(gctx, view)
			if err != nil {
				metrics.Judgments.WithLabelValues("error").Inc()
				mu.Lock()
				errs = append(errs, fmt.Errorf("judging %q: %w", n.Title, err))
				mu.Unlock()
				return nil
			}
			metrics.Judgments.WithLabelValues("ok").Inc()
			n.ExternalScore = j.Score
			n.FinalScore = Combine(b.alpha, n.RuleScore, j.Score)
			n.Rationale = j.Rationale
			if j.Summary != "" {
				n.Summary = j.Summary
			}
			return nil
		})
	}
	g.Wait()
	return errs
}

// SelectTop returns the indices of the n highest rule-scored notices, ties in
// input order. Hard-excluded notices are never selected.
func SelectTop(notices []notice.Notice, n int) []int {
	idx := make([]int, 0, len(notices))
	for i, x := range notices {
		if !x.HardExcluded {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return notices[idx[a]].RuleScore > notices[idx[b]].RuleScore
	})
	if len(idx) > n {
		idx = idx[:n]
	}
	return idx
}

// Combine is alpha*rule + (1-alpha)*external rounded to one decimal.
func Combine(alpha, rule, external float64) float64 {
	return math.Round((alpha*rule+(1-alpha)*external)*10) / 10
}

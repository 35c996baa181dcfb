// Package pipeline runs one ingestion pass: collect, filter, score, blend and
// save.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/BidRadar/internal/collect"
	"github.com/TobiSchelling/BidRadar/internal/config"
	"github.com/TobiSchelling/BidRadar/internal/database"
	"github.com/TobiSchelling/BidRadar/internal/fetch"
	"github.com/TobiSchelling/BidRadar/internal/filter"
	"github.com/TobiSchelling/BidRadar/internal/llm"
	"github.com/TobiSchelling/BidRadar/internal/metrics"
	"github.com/TobiSchelling/BidRadar/internal/notice"
	"github.com/TobiSchelling/BidRadar/internal/progress"
	"github.com/TobiSchelling/BidRadar/internal/rank"
	"github.com/TobiSchelling/BidRadar/internal/relevance"
	"github.com/TobiSchelling/BidRadar/internal/triage"
)

// MaxErrors bounds the error strings returned with a Summary.
const MaxErrors = 5

// Store is the persistence surface a run writes to.
type Store interface {
	UpsertOpportunity(ctx context.Context, o database.Opportunity) (bool, error)
	CountOpportunities(ctx context.Context, q database.Query) (int, error)
	CreateRun(ctx context.Context) (string, error)
	FinishRun(ctx context.Context, r database.Run) error
}

// Options controls one run.
type Options struct {
	// Limit caps the notices taken from each source. Zero uses the
	// configured maximum.
	Limit     int
	RulesOnly bool
}

// Summary reports the outcome of a run.
type Summary struct {
	Message  string   `json:"message"`
	Ingested int      `json:"ingested"`
	Created  int      `json:"created"`
	Updated  int      `json:"updated"`
	Errors   []string `json:"errors,omitempty"`
	RunID    string   `json:"run_id,omitempty"`
}

// Parts are the collaborators of a Pipeline.
type Parts struct {
	Collector *collect.Collector
	Filter    *filter.Chain
	Scorer    *relevance.Scorer
	Blender   *rank.Blender
	Store     Store
	Progress  *progress.Reporter
	Budget    collect.Budget
	Now       func() time.Time
}

// Pipeline orchestrates an ingestion run.
type Pipeline struct {
	Parts
}

// Assemble creates a pipeline from explicit parts.
func Assemble(p Parts) *Pipeline {
	if p.Progress == nil {
		p.Progress = progress.New()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Pipeline{Parts: p}
}

// New wires a pipeline from configuration. A nil db yields a pipeline whose
// runs report the store as unavailable.
func New(ctx context.Context, cfg *config.Config, db *database.DB, prog *progress.Reporter) *Pipeline {
	if prog == nil {
		prog = progress.New()
	}
	hc := collect.NewHTTPClientFromConfig(cfg)
	snaps := collect.NewSnapshotStore(cfg.SnapshotDir())
	sources := collect.SourcesFromConfig(cfg, hc, snaps)

	summ := cfg.Summarization
	var judge rank.Judge
	provider := llm.CreateProvider(ctx, llm.Options{
		Provider:     summ.Provider,
		Model:        summ.Model,
		OllamaURL:    summ.OllamaURL,
		OpenAIModel:  summ.OpenAIModel,
		APIKeyEnv:    summ.APIKeyEnv,
		GeminiModel:  summ.GeminiModel,
		GeminiKeyEnv: summ.GeminiKeyEnv,
	})
	if provider != nil {
		judge = triage.NewJudge(provider, cfg.Vocabulary.PriorityTopics, summ.MaxTokens)
	}

	var enricher rank.Enricher
	if cfg.Blend.Enrich {
		enricher = fetch.NewEnricher(time.Duration(cfg.HTTP.TimeoutSeconds)*time.Second, cfg.HTTP.UserAgent)
	}

	v := cfg.Vocabulary
	p := Parts{
		Collector: collect.NewCollector(sources...),
		Filter:    filter.NewChain(v.Keywords, v.FocusTerms, v.CategoryCodes, v.HardExclude),
		Scorer:    relevance.NewScorer(v, cfg.Scoring),
		Blender: rank.NewBlender(judge, rank.Options{
			Alpha:    cfg.Blend.Alpha,
			TopN:     cfg.Blend.TopN,
			Workers:  cfg.Blend.Workers,
			Enricher: enricher,
			Progress: prog,
		}),
		Progress: prog,
		Budget:   collect.Budget{MaxRecords: cfg.Ingest.MaxRecords, MaxPages: cfg.Ingest.MaxPages},
	}
	if db != nil {
		p.Store = db
	}
	return Assemble(p)
}

// Ingest runs the whole pipeline once. Failures of single sources, judgments
// or writes are recorded and never abort the run.
func (p *Pipeline) Ingest(ctx context.Context, o Options) Summary {
	start := p.Now()
	defer func() { metrics.RunDuration.Observe(time.Since(start).Seconds()) }()
	defer p.Progress.Finish()

	if p.Store == nil {
		return Summary{Message: "Database unavailable; nothing ingested."}
	}

	run := database.Run{}
	if id, err := p.Store.CreateRun(ctx); err != nil {
		log.Printf("Warning: could not record run: %v", err)
	} else {
		run.ID = id
	}

	var errs errorLog

	// Step 1: Collect
	budget := p.Budget
	if o.Limit > 0 {
		budget.MaxRecords = o.Limit
	}
	p.Progress.Start(progress.StageFetching, len(p.Collector.Names()))
	log.Printf("Step 1/5: Collecting from %d sources...", len(p.Collector.Names()))
	collected := p.Collector.Collect(ctx, budget)
	errs.add(collected.ErrorStrings(p.Collector.Names())...)
	run.Fetched = len(collected.Notices)

	if len(collected.Notices) == 0 {
		existing, err := p.Store.CountOpportunities(ctx, database.Query{})
		if err != nil {
			errs.add(fmt.Sprintf("count: %v", err))
		}
		s := Summary{
			Message: fmt.Sprintf("No new items fetched; keeping existing %d rows.", existing),
			Errors:  errs.first(),
			RunID:   run.ID,
		}
		p.finishRun(ctx, run, s, errs.total)
		return s
	}

	// Step 2: Filter
	p.Progress.Start(progress.StageFilter, len(collected.Notices))
	kept, st := p.Filter.Apply(collected.Notices)
	metrics.NoticesFiltered.WithLabelValues("hard_exclude").Add(float64(st.HardExcluded))
	metrics.NoticesFiltered.WithLabelValues("category").Add(float64(st.DroppedCategory))
	metrics.NoticesFiltered.WithLabelValues("keyword").Add(float64(st.DroppedKeyword))
	log.Printf("Step 2/5: Filtered %d -> %d (hard-excluded %d, category -%d, keyword -%d)",
		st.In, st.Out, st.HardExcluded, st.DroppedCategory, st.DroppedKeyword)
	run.Kept = len(kept)

	// Step 3: Score
	today := p.Now()
	p.Progress.Start(progress.StageScoring, len(kept))
	for i := range kept {
		kept[i].RuleScore = p.Scorer.Score(kept[i], today)
		p.Progress.Inc()
	}
	log.Printf("Step 3/5: Scored %d notices", len(kept))

	// Step 4: Blend
	if o.RulesOnly {
		log.Println("Step 4/5: Rules-only run, skipping external judgment")
	} else {
		log.Println("Step 4/5: Blending external judgments...")
	}
	for _, err := range p.Blender.Blend(ctx, kept, o.RulesOnly) {
		errs.add(err.Error())
	}

	// Step 5: Save
	log.Printf("Step 5/5: Saving %d notices...", len(kept))
	p.Progress.Start(progress.StageSaving, len(kept))
	for _, n := range kept {
		created, err := p.Store.UpsertOpportunity(ctx, ToOpportunity(n))
		p.Progress.Inc()
		switch {
		case err != nil:
			metrics.Upserts.WithLabelValues("error").Inc()
			errs.add(fmt.Sprintf("save %q: %v", n.Title, err))
			continue
		case created:
			metrics.Upserts.WithLabelValues("created").Inc()
			run.Created++
		default:
			metrics.Upserts.WithLabelValues("updated").Inc()
			run.Updated++
		}
		run.Ingested++
	}

	s := Summary{
		Message:  fmt.Sprintf("Ingested %d notices.", run.Ingested),
		Ingested: run.Ingested,
		Created:  run.Created,
		Updated:  run.Updated,
		Errors:   errs.first(),
		RunID:    run.ID,
	}
	p.finishRun(ctx, run, s, errs.total)
	log.Printf("%s (%d new, %d updated, %d errors)", s.Message, s.Created, s.Updated, errs.total)
	return s
}

func (p *Pipeline) finishRun(ctx context.Context, run database.Run, s Summary, errorCount int) {
	if run.ID == "" {
		return
	}
	run.Message = s.Message
	run.ErrorCount = errorCount
	if err := p.Store.FinishRun(ctx, run); err != nil {
		log.Printf("Warning: could not finish run %s: %v", run.ID, err)
	}
}

// ToOpportunity maps a scored notice onto its stored row.
func ToOpportunity(n notice.Notice) database.Opportunity {
	category := n.Category
	if category == "" {
		category = "Opportunity"
	}
	return database.Opportunity{
		IdentityKey:   database.IdentityKey(n.Title, n.Agency, n.PostedDate),
		Title:         n.Title,
		Description:   n.Description,
		URL:           n.URL,
		Agency:        n.Agency,
		Category:      category,
		Source:        n.Source,
		CommodityCode: n.CommodityCode,
		Summary:       n.Summary,
		Rationale:     n.Rationale,
		Score:         n.FinalScore,
		RuleScore:     n.RuleScore,
		ExternalScore: n.ExternalScore,
		PostedDate:    n.PostedDate,
		DueDate:       n.DueDate,
	}
}

// errorLog counts every error and keeps the first MaxErrors messages.
type errorLog struct {
	msgs  []string
	total int
}

func (l *errorLog) add(msgs ...string) {
	for _, m := range msgs {
		l.total++
		if len(l.msgs) < MaxErrors {
			l.msgs = append(l.msgs, m)
		}
	}
}

func (l *errorLog) first() []string {
	return l.msgs
}

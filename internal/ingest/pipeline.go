package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/fundscout/fundscout/internal/logger"
	"github.com/fundscout/fundscout/internal/models"
)

// Pipeline wires the stages of one batch run: lifecycle sweep, per-funder
// scrape+match, federal client, featured selection. Stages run sequentially;
// per-funder and per-category errors accumulate in the run summary instead
// of aborting the run.
type Pipeline struct {
	store      Store
	log        logger.Logger
	registry   *Registry
	pageFetch  Fetcher
	pdfFetch   Fetcher
	linkCheck  *LinkValidator
	maintainer *Maintainer
	featured   *FeaturedSelector
	federal    *GrantsGovClient
}

func NewPipeline(store Store, log logger.Logger, registry *Registry) *Pipeline {
	return &Pipeline{
		store:      store,
		log:        log,
		registry:   registry,
		pageFetch:  NewCollyFetcher(),
		pdfFetch:   NewHTTPFetcher(DetailFetchTimeout),
		linkCheck:  NewLinkValidator(store, log),
		maintainer: NewMaintainer(store, log),
		featured:   NewFeaturedSelector(store, log),
		federal:    NewGrantsGovClient(store, log, registry.Federal.Rows),
	}
}

// RunAll executes a full ingestion run and persists its summary. Fatal only
// when the store is unreachable before any stage.
func (p *Pipeline) RunAll(ctx context.Context) (*models.RunSummary, error) {
	runID, err := p.store.BeginRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}

	started := time.Now().UTC()
	run := NewRunContext(started, rand.New(rand.NewSource(started.UnixNano())))
	summary := &models.RunSummary{RunID: runID, StartedAt: started}

	if _, _, err := p.maintainer.Sweep(ctx, run.Now); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("lifecycle: %v", err))
	}

	for _, fc := range p.registry.ActiveFunders() {
		newCount, updatedCount, err := p.ingestFunder(ctx, run, fc)
		summary.FundersChecked++
		summary.NewRecords += newCount
		summary.UpdatedRecords += updatedCount
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", fc.Slug, err))
		}
	}

	if p.registry.Federal.Enabled {
		newCount, updatedCount, errs := p.runFederal(ctx, run)
		summary.FundersChecked++
		summary.NewRecords += newCount
		summary.UpdatedRecords += updatedCount
		summary.Errors = append(summary.Errors, errs...)
	}

	if _, err := p.featured.Run(ctx, run.Now, run.Rand); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("featured: %v", err))
	}

	summary.Duration = time.Since(started)
	if err := p.store.CompleteRun(ctx, summary); err != nil {
		p.log.Error("persist run summary failed", logger.Error(err))
	}

	p.log.Info("run complete",
		logger.Int("funders", summary.FundersChecked),
		logger.Int("new", summary.NewRecords),
		logger.Int("updated", summary.UpdatedRecords),
		logger.Int("errors", len(summary.Errors)),
		logger.Duration("duration", summary.Duration))

	return summary, nil
}

// ingestFunder runs fetch, parse, supplement and match for one funder.
func (p *Pipeline) ingestFunder(ctx context.Context, run *RunContext, fc FunderConfig) (int, int, error) {
	funder := &models.FunderSource{
		Slug:          fc.Slug,
		Name:          fc.Name,
		FunderType:    funderTypeOrDefault(fc.FunderType),
		PageURL:       fc.PageURL,
		SelectorHints: fc.Selectors,
	}
	funderID, err := p.store.UpsertFunder(ctx, funder)
	if err != nil {
		return 0, 0, err
	}

	doc, err := p.fetchDocument(ctx, fc.PageURL)
	if err != nil {
		// Funder skipped; no partial data emitted.
		return 0, 0, err
	}

	parser := NewParser(fc.KeywordThreshold)
	candidates := parser.Parse(doc, fc.PageURL)
	p.log.Info("parsed funder page",
		logger.String("funder", fc.Slug),
		logger.Int("candidates", len(candidates)))

	p.supplementPDFDeadlines(ctx, run, fc.Slug, candidates)

	matcher := NewMatcher(p.store, p.log, fc.SimilarityThreshold)
	newCount, updatedCount, err := matcher.Reconcile(ctx, run, funderID, fc.Slug, candidates)
	if err != nil {
		return newCount, updatedCount, err
	}

	if err := p.store.TouchFunderChecked(ctx, funderID, run.Now); err != nil {
		p.log.Error("touch funder failed", logger.Error(err))
	}

	return newCount, updatedCount, nil
}

func (p *Pipeline) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	fetched, err := p.pageFetch.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer fetched.Body.Close()

	doc, err := goquery.NewDocumentFromReader(fetched.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return doc, nil
}

// supplementPDFDeadlines mines linked PDFs for candidates that came out of
// parsing without a normalized deadline. Failures are silent; the candidate
// simply stays date-less.
func (p *Pipeline) supplementPDFDeadlines(ctx context.Context, run *RunContext, funderSlug string, candidates []Candidate) {
	for i := range candidates {
		c := &candidates[i]
		if c.DeadlineAt != nil || !isPDFLink(c.ApplicationURL) {
			continue
		}
		deadline, err := MineDeadlineFromPDF(ctx, p.pdfFetch, c.ApplicationURL, run.Now)
		if err != nil {
			p.log.Debug("pdf deadline mining failed",
				logger.String("funder", funderSlug),
				logger.String("url", c.ApplicationURL),
				logger.Error(err))
			continue
		}
		if deadline != nil {
			c.DeadlineAt = deadline
			if c.DeadlineDisplay == "" {
				c.DeadlineDisplay = deadline.Format("January 2, 2006")
			}
		}
	}
}

func (p *Pipeline) runFederal(ctx context.Context, run *RunContext) (int, int, []string) {
	funder := &models.FunderSource{
		Slug:       p.registry.Federal.FunderSlug,
		Name:       p.registry.Federal.FunderName,
		FunderType: "Government",
	}
	funderID, err := p.store.UpsertFunder(ctx, funder)
	if err != nil {
		return 0, 0, []string{fmt.Sprintf("grants.gov funder: %v", err)}
	}

	newCount, updatedCount, errs := p.federal.Run(ctx, run, funderID, funder.Slug, p.registry.Federal.Categories)

	if err := p.store.TouchFunderChecked(ctx, funderID, run.Now); err != nil {
		p.log.Error("touch funder failed", logger.Error(err))
	}

	return newCount, updatedCount, errs
}

// ValidateLinks is the independent link-validation entry point.
func (p *Pipeline) ValidateLinks(ctx context.Context) (checked, quarantined int, err error) {
	return p.linkCheck.Sweep(ctx)
}

// RefreshFeatured re-runs only the featured selection stage.
func (p *Pipeline) RefreshFeatured(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	return p.featured.Run(ctx, now, rand.New(rand.NewSource(now.UnixNano())))
}

func funderTypeOrDefault(t string) string {
	if t == "" {
		return "Foundation"
	}
	return t
}

func isPDFLink(u string) bool {
	if u == "" {
		return false
	}
	base := strings.ToLower(path.Base(strings.SplitN(u, "?", 2)[0]))
	return strings.HasSuffix(base, ".pdf")
}

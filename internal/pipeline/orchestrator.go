package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pattadon/sitemark/internal/progress"
)

// Orchestrator sequences the pipeline for one domain: classify once,
// resolve the frontier, then fetch, render, and persist every URL. Per-URL
// failures are recorded and never abort the run; only an exhausted discovery
// fallback chain does.
type Orchestrator struct {
	classifier *DomainClassifier
	resolver   *SitemapResolver
	fetcher    PageFetcher
	renderer   Renderer
	persistor  Persistor
	native     NativeCrawler
	fetchRetry RetryPolicy
	writeRetry RetryPolicy
	logger     *zap.Logger
	progress   progress.Emitter
}

// NewOrchestrator wires the pipeline components together. native may be nil,
// in which case an exhausted discovery chain is a hard failure.
func NewOrchestrator(
	classifier *DomainClassifier,
	resolver *SitemapResolver,
	fetcher PageFetcher,
	renderer Renderer,
	persistor Persistor,
	native NativeCrawler,
	fetchRetry RetryPolicy,
	writeRetry RetryPolicy,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		classifier: classifier,
		resolver:   resolver,
		fetcher:    fetcher,
		renderer:   renderer,
		persistor:  persistor,
		native:     native,
		fetchRetry: fetchRetry,
		writeRetry: writeRetry,
		logger:     logger,
	}
}

// SetProgress attaches an optional progress emitter. Must be called before
// Run; a nil emitter disables progress events.
func (o *Orchestrator) SetProgress(em progress.Emitter) {
	o.progress = em
}

// Run harvests one domain and returns the aggregated statistics.
func (o *Orchestrator) Run(ctx context.Context, domain string) (RunStatistics, error) {
	runID := uuid.New()
	start := time.Now()
	logger := o.logger.With(zap.String("run_id", runID.String()), zap.String("domain", domain))

	o.emit(progress.Event{RunID: runID, TS: time.Now().UTC(), Stage: progress.StageRunStart, Domain: domain})

	strategy, err := o.classifier.Classify(domain)
	if err != nil {
		o.emitRunEnd(runID, domain, start, err)
		return RunStatistics{}, fmt.Errorf("classify domain: %w", err)
	}
	logger.Info("Fetch strategy selected", zap.Stringer("strategy", strategy))

	frontier, err := o.resolver.ResolveForDomain(ctx, domain)
	if errors.Is(err, ErrNoSitemapFound) {
		if o.native == nil {
			o.emitRunEnd(runID, domain, start, err)
			return RunStatistics{}, fmt.Errorf("sitemap discovery exhausted and no fallback crawler: %w", err)
		}
		logger.Info("No sitemap discovered; delegating to native crawler")
		stats, nerr := o.native.Run(ctx, domain)
		o.emitRunEnd(runID, domain, start, nerr)
		if nerr != nil {
			return stats, fmt.Errorf("native crawl: %w", nerr)
		}
		return stats, nil
	}
	if err != nil {
		o.emitRunEnd(runID, domain, start, err)
		return RunStatistics{}, fmt.Errorf("resolve sitemaps: %w", err)
	}
	logger.Info("Frontier resolved", zap.Int("urls", len(frontier)))

	var stats RunStatistics
	for _, pageURL := range frontier {
		if ctx.Err() != nil {
			logger.Warn("Run canceled", zap.Int("processed", stats.TotalURLs))
			o.emitRunEnd(runID, domain, start, ctx.Err())
			return stats, fmt.Errorf("run canceled: %w", ctx.Err())
		}
		stats.TotalURLs++
		pageStart := time.Now()
		result := o.processURL(ctx, logger, pageURL, strategy)
		if result.Success {
			stats.Succeeded++
			stats.FilesSaved++
			PagesProcessed.Inc()
		} else {
			stats.Failed++
			PagesFailed.Inc()
		}
		o.emitPage(runID, domain, result, time.Since(pageStart))
	}

	logger.Info("Run finished",
		zap.Int("total", stats.TotalURLs),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("files_saved", stats.FilesSaved),
	)
	o.emitRunEnd(runID, domain, start, nil)
	return stats, nil
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.progress != nil {
		o.progress.Emit(evt)
	}
}

func (o *Orchestrator) emitRunEnd(runID uuid.UUID, domain string, start time.Time, err error) {
	evt := progress.Event{
		RunID:  runID,
		TS:     time.Now().UTC(),
		Stage:  progress.StageRunDone,
		Domain: domain,
		Dur:    time.Since(start),
	}
	if err != nil {
		evt.Stage = progress.StageRunError
		evt.Note = err.Error()
	}
	o.emit(evt)
}

func (o *Orchestrator) emitPage(runID uuid.UUID, domain string, result ProcessingResult, dur time.Duration) {
	evt := progress.Event{
		RunID:   runID,
		TS:      time.Now().UTC(),
		Stage:   progress.StagePageDone,
		Domain:  domain,
		URL:     result.URL,
		Bytes:   result.Bytes,
		Dur:     dur,
		Outcome: progress.OutcomeFailed,
	}
	switch {
	case result.Success && result.Err != nil:
		evt.Outcome = progress.OutcomeRawHTML
	case result.Success:
		evt.Outcome = progress.OutcomeMarkdown
	case result.Err != nil:
		evt.Note = result.Err.Error()
	}
	o.emit(evt)
}

// processURL drives one URL through its state machine:
// fetch -> render -> save, with a raw-HTML fallback when rendering fails.
func (o *Orchestrator) processURL(ctx context.Context, logger *zap.Logger, pageURL string, strategy FetchStrategy) ProcessingResult {
	page, err := o.fetchWithRetry(ctx, pageURL, strategy)
	if err != nil {
		logger.Error("Fetch failed", zap.String("url", pageURL), zap.Error(err))
		return ProcessingResult{URL: pageURL, Err: err}
	}

	stem := FileNameForURL(pageURL)

	markdown, renderErr := o.renderer.RenderWithRecovery(string(page.Body), pageURL)
	if renderErr != nil {
		// Keep the raw document rather than losing the page entirely.
		logger.Warn("Render failed; persisting raw HTML",
			zap.String("url", pageURL), zap.Error(renderErr))
		RenderFallbacks.Inc()
		path, saveErr := o.saveWithRetry(ctx, stem+".html", page.Body)
		if saveErr != nil {
			logger.Error("Raw HTML fallback save failed",
				zap.String("url", pageURL), zap.Error(saveErr))
			return ProcessingResult{URL: pageURL, Err: fmt.Errorf("render fallback: %w", saveErr)}
		}
		return ProcessingResult{URL: pageURL, Success: true, OutputPath: path, Bytes: int64(len(page.Body)), Err: renderErr}
	}

	path, err := o.saveWithRetry(ctx, stem+".md", []byte(markdown))
	if err != nil {
		logger.Error("Save failed", zap.String("url", pageURL), zap.Error(err))
		return ProcessingResult{URL: pageURL, Err: err}
	}
	logger.Debug("Page saved", zap.String("url", pageURL), zap.String("path", path))
	return ProcessingResult{URL: pageURL, Success: true, OutputPath: path, Bytes: int64(len(markdown))}
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context, pageURL string, strategy FetchStrategy) (Page, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		page, err := o.fetcher.Fetch(ctx, pageURL, strategy)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !o.fetchRetry.ShouldRetry(err, attempt) {
			return Page{}, lastErr
		}
		FetchRetries.Inc()
		if err := sleepWithContext(ctx, o.fetchRetry.Backoff(attempt)); err != nil {
			return Page{}, lastErr
		}
	}
}

func (o *Orchestrator) saveWithRetry(ctx context.Context, name string, content []byte) (string, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		path, err := o.persistor.Save(ctx, name, content)
		if err == nil {
			return path, nil
		}
		lastErr = err
		if !o.writeRetry.ShouldRetry(err, attempt) {
			return "", lastErr
		}
		if err := sleepWithContext(ctx, o.writeRetry.Backoff(attempt)); err != nil {
			return "", lastErr
		}
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

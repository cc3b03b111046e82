package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"x402sync/facilitators"
)

// ───────── Run orchestration ─────────

// historySource labels sync_history rows written by this job.
const historySource = "discovery_sync"

type runStats struct {
	Fetched          int
	FilteredOut      int
	Deduped          int
	NewOrigins       int
	UpdatedOrigins   int
	NewResources     int
	UpdatedResources int
	NewAccepts       int
	TagsApplied      int
	OriginsScraped   int
	TractionUpdated  int
	Errors           int
	DurationSec      float64
}

// Engine runs the full sync pipeline:
// fetch → filter → dedupe → upsert → scrape new origins → tag →
// record history → reconcile traction. Stages run strictly in sequence;
// item-level failures are absorbed into counters and never abort the run.
type Engine struct {
	sources    []facilitators.Source
	filter     *ListingFilter
	mapper     *Mapper
	tagger     *Tagger
	scraper    MetadataScraper
	reconciler *Reconciler
	store      Store
	metrics    *Metrics
	jsonLogs   bool
}

func NewEngine(store Store, sources []facilitators.Source, scraper MetadataScraper, providers []TransferProvider, m *Metrics) *Engine {
	if scraper == nil {
		scraper = NoopScraper{}
	}
	return &Engine{
		sources:    sources,
		filter:     NewListingFilter(nil, nil),
		mapper:     NewMapper(store),
		tagger:     NewTagger(store, nil),
		scraper:    scraper,
		reconciler: NewReconciler(store, providers),
		store:      store,
		metrics:    m,
	}
}

// RunOnce executes one full sync run and returns its counters.
func (e *Engine) RunOnce(ctx context.Context) runStats {
	start := time.Now()
	var stats runStats

	// Fetching: one facilitator fully before the next.
	var raw []facilitators.Listing
	for _, src := range e.sources {
		if ctx.Err() != nil {
			break
		}
		items, fs, err := src.FetchAll(ctx)
		if err != nil {
			fmt.Printf("fetch %s: %v (kept %d items)\n", src.Name(), err, len(items))
			stats.Errors++
			e.metrics.RecordError("fetch")
		} else {
			fmt.Printf("fetch %s: %d items in %d pages\n", src.Name(), len(items), fs.Pages)
		}
		raw = append(raw, items...)
	}
	stats.Fetched = len(raw)

	// Filtering and deduplicating.
	kept, dropped := e.filter.Apply(raw)
	stats.FilteredOut = dropped
	unique := Dedupe(kept)
	stats.Deduped = len(unique)

	// Upserting, one listing fully before the next.
	type applied struct {
		listing facilitators.Listing
		result  ApplyResult
	}
	results := make([]applied, 0, len(unique))
	newOrigins := make(map[int64]string) // id -> domain

	for _, l := range unique {
		if ctx.Err() != nil {
			break
		}
		res, err := e.mapper.Apply(ctx, l)
		if err != nil {
			fmt.Printf("upsert %s: %v\n", l.Resource, err)
			stats.Errors++
			e.metrics.RecordError("item")
			continue
		}
		if res.OriginCreated {
			stats.NewOrigins++
			newOrigins[res.OriginID] = res.OriginDomain
		} else {
			stats.UpdatedOrigins++
		}
		if res.ResourceCreated {
			stats.NewResources++
		} else {
			stats.UpdatedResources++
		}
		stats.NewAccepts += res.NewAccepts
		stats.Errors += res.AcceptErrors
		results = append(results, applied{listing: l, result: res})
	}

	// Scraping metadata for origins seen for the first time.
	if len(newOrigins) > 0 {
		cached := newCachedScraper(e.scraper)
		for id, domain := range newOrigins {
			if ctx.Err() != nil {
				break
			}
			md, err := cached.ScrapeMetadata(ctx, domain)
			if err != nil {
				fmt.Printf("scrape %s: %v\n", domain, err)
				stats.Errors++
				continue
			}
			if md.Empty() {
				continue
			}
			if err := e.store.ApplySiteMetadata(ctx, id, md); err != nil {
				fmt.Printf("scrape apply %s: %v\n", domain, err)
				stats.Errors++
				continue
			}
			stats.OriginsScraped++
		}
	}

	// Tagging every upserted resource.
	for _, a := range results {
		if ctx.Err() != nil {
			break
		}
		names, err := e.tagger.Tag(ctx, a.result.ResourceID, a.listing.Resource, a.result.Description)
		stats.TagsApplied += len(names)
		if err != nil {
			stats.Errors++
			e.metrics.RecordError("item")
		}
	}

	// Recording history. Failure is swallowed: the data mutations above
	// already succeeded independently.
	rec := SyncRecord{
		RunID:            uuid.NewString(),
		Source:           historySource,
		StartedAt:        start.UTC(),
		FinishedAt:       time.Now().UTC(),
		Fetched:          stats.Fetched,
		FilteredOut:      stats.FilteredOut,
		Deduped:          stats.Deduped,
		NewOrigins:       stats.NewOrigins,
		UpdatedOrigins:   stats.UpdatedOrigins,
		NewResources:     stats.NewResources,
		UpdatedResources: stats.UpdatedResources,
		NewAccepts:       stats.NewAccepts,
		TagsApplied:      stats.TagsApplied,
		OriginsScraped:   stats.OriginsScraped,
		Errors:           stats.Errors,
	}
	if err := e.store.InsertSyncRecord(ctx, rec); err != nil {
		fmt.Printf("sync history insert: %v\n", err)
	}

	// Reconciling traction last; its own errors only add to counters.
	rstats := e.reconciler.ReconcileAll(ctx)
	stats.TractionUpdated = rstats.Updated
	stats.Errors += rstats.Errors

	stats.DurationSec = time.Since(start).Seconds()
	e.metrics.SetLastRun(stats)
	e.printSummary(stats)
	return stats
}

// Retag re-runs the auto-tagger over every stored resource (backfill mode).
// Existing tags are preserved: association writes are additive-only.
func (e *Engine) Retag(ctx context.Context) error {
	refs, err := e.store.ListResources(ctx)
	if err != nil {
		return fmt.Errorf("list resources: %w", err)
	}
	applied, errs := 0, 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		names, err := e.tagger.Tag(ctx, ref.ID, ref.Resource, ref.Description)
		applied += len(names)
		if err != nil {
			errs++
		}
	}
	fmt.Printf("retag resources=%d tags_applied=%d errors=%d\n", len(refs), applied, errs)
	return nil
}

// ReconcileTraction runs only the traction stage (backfill mode).
func (e *Engine) ReconcileTraction(ctx context.Context) {
	stats := e.reconciler.ReconcileAll(ctx)
	fmt.Printf("traction origins=%d updated=%d skipped=%d errors=%d\n",
		stats.Origins, stats.Updated, stats.Skipped, stats.Errors)
}

func (e *Engine) printSummary(stats runStats) {
	fmt.Printf(
		"sync fetched=%d filtered_out=%d deduped=%d origins_new=%d origins_updated=%d resources_new=%d resources_updated=%d accepts_new=%d tags=%d scraped=%d traction_updated=%d errors=%d duration=%0.2f\n",
		stats.Fetched, stats.FilteredOut, stats.Deduped,
		stats.NewOrigins, stats.UpdatedOrigins,
		stats.NewResources, stats.UpdatedResources,
		stats.NewAccepts, stats.TagsApplied, stats.OriginsScraped,
		stats.TractionUpdated, stats.Errors, stats.DurationSec,
	)

	if e.jsonLogs {
		type js struct {
			Event            string  `json:"event"`
			Fetched          int     `json:"fetched"`
			FilteredOut      int     `json:"filtered_out"`
			Deduped          int     `json:"deduped"`
			NewOrigins       int     `json:"origins_new"`
			UpdatedOrigins   int     `json:"origins_updated"`
			NewResources     int     `json:"resources_new"`
			UpdatedResources int     `json:"resources_updated"`
			NewAccepts       int     `json:"accepts_new"`
			TagsApplied      int     `json:"tags_applied"`
			OriginsScraped   int     `json:"origins_scraped"`
			TractionUpdated  int     `json:"traction_updated"`
			Errors           int     `json:"errors"`
			DurationSec      float64 `json:"duration_sec"`
		}
		b, _ := json.Marshal(js{
			Event:            "summary",
			Fetched:          stats.Fetched,
			FilteredOut:      stats.FilteredOut,
			Deduped:          stats.Deduped,
			NewOrigins:       stats.NewOrigins,
			UpdatedOrigins:   stats.UpdatedOrigins,
			NewResources:     stats.NewResources,
			UpdatedResources: stats.UpdatedResources,
			NewAccepts:       stats.NewAccepts,
			TagsApplied:      stats.TagsApplied,
			OriginsScraped:   stats.OriginsScraped,
			TractionUpdated:  stats.TractionUpdated,
			Errors:           stats.Errors,
			DurationSec:      stats.DurationSec,
		})
		fmt.Println(string(b))
	}
}

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402sync/facilitators"
)

type fakeSource struct {
	name  string
	items []facilitators.Listing
	err   error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchAll(context.Context) ([]facilitators.Listing, facilitators.FetchStats, error) {
	return f.items, facilitators.FetchStats{Pages: 1, Requests: 1}, f.err
}

type staticScraper struct{ md SiteMetadata }

func (s staticScraper) ScrapeMetadata(context.Context, string) (SiteMetadata, error) {
	return s.md, nil
}

func syncListing(resource, lastUpdated, description string) facilitators.Listing {
	return facilitators.Listing{
		Resource:    resource,
		Type:        "http",
		X402Version: 1,
		LastUpdated: facilitators.LooseString(lastUpdated),
		Accepts: []facilitators.Accept{{
			Scheme:            "exact",
			Network:           "base",
			Asset:             usdcAssets["base"],
			PayTo:             "0xpayee",
			MaxAmountRequired: "2000000",
			Description:       description,
		}},
	}
}

func newTestEngine(store *MemStore, sources []facilitators.Source, scraper MetadataScraper, providers []TransferProvider) *Engine {
	e := NewEngine(store, sources, scraper, providers, nil)
	e.reconciler.quiet = true
	e.reconciler.delay = 0
	return e
}

func TestRunOnceEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.EnsureSchema(ctx))

	const resource = "https://api.example.com/api/swap"
	sources := []facilitators.Source{
		&fakeSource{name: "one", items: []facilitators.Listing{
			syncListing(resource, "2024-01-01T00:00:00Z", "stale description"),
			syncListing("https://demo.vercel.app/run", "2024-01-01T00:00:00Z", "hosted throwaway"),
		}},
		&fakeSource{name: "two", items: []facilitators.Listing{
			syncListing(resource, "2024-01-02T00:00:00Z", "Token swap service"),
		}},
	}
	scraper := staticScraper{md: SiteMetadata{Title: "Example", Twitter: "@example"}}
	provider := &fakeProvider{network: "base", transfers: []Transfer{
		{From: "0xbuyer", AmountUSD: 2.10},
	}}

	e := newTestEngine(store, sources, scraper, []TransferProvider{provider})
	stats := e.RunOnce(ctx)

	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 1, stats.FilteredOut)
	assert.Equal(t, 1, stats.Deduped)
	assert.Equal(t, 1, stats.NewOrigins)
	assert.Equal(t, 1, stats.NewResources)
	assert.Equal(t, 1, stats.NewAccepts)
	assert.Equal(t, 0, stats.Errors)

	// The facilitator with the newer lastUpdated wins the merge.
	row, ok := store.ResourceByURL(resource)
	require.True(t, ok)
	assert.Equal(t, "2024-01-02T00:00:00Z", row.LastUpdated)
	assert.Equal(t, "Token swap service", row.Description)
	assert.Equal(t, 1, store.ResourceCount())

	// New origin got scraped branding.
	assert.Equal(t, 1, stats.OriginsScraped)
	md := store.SiteMetadataFor(row.OriginID)
	assert.Equal(t, "Example", md.Title)
	assert.Equal(t, "@example", md.Twitter)

	// Tags landed, including the keyword hit from the URL and description.
	refs, err := store.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Contains(t, store.TagsForResource(refs[0].ID), "trading")
	assert.Greater(t, stats.TagsApplied, 0)

	// One immutable history row with the run's counters.
	hist := store.History()
	require.Len(t, hist, 1)
	assert.NotEmpty(t, hist[0].RunID)
	assert.Equal(t, historySource, hist[0].Source)
	assert.Equal(t, stats.Fetched, hist[0].Fetched)
	assert.Equal(t, stats.NewResources, hist[0].NewResources)

	// Traction reconciled against the expected $2.00 price.
	assert.Equal(t, 1, stats.TractionUpdated)
	roll := store.TractionFor(row.OriginID)
	require.NotNil(t, roll)
	assert.Equal(t, 1, roll.TxCount)
}

func TestRunOnceKeepsPartialResultsOnSourceError(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.EnsureSchema(ctx))

	sources := []facilitators.Source{
		&fakeSource{
			name:  "flaky",
			items: []facilitators.Listing{syncListing("https://a.example.com/run", "2024-01-01T00:00:00Z", "svc a")},
			err:   assert.AnError,
		},
		&fakeSource{
			name:  "healthy",
			items: []facilitators.Listing{syncListing("https://b.example.com/run", "2024-01-01T00:00:00Z", "svc b")},
		},
	}

	e := newTestEngine(store, sources, nil, nil)
	stats := e.RunOnce(ctx)

	// The flaky facilitator's partial page still lands; the error is counted.
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 2, stats.NewResources)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 2, store.ResourceCount())
}

func TestRunOnceIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.EnsureSchema(ctx))

	sources := []facilitators.Source{
		&fakeSource{name: "one", items: []facilitators.Listing{
			syncListing("https://a.example.com/run", "2024-01-01T00:00:00Z", "svc a"),
		}},
	}

	e := newTestEngine(store, sources, nil, nil)
	first := e.RunOnce(ctx)
	second := e.RunOnce(ctx)

	assert.Equal(t, 1, first.NewResources)
	assert.Equal(t, 0, second.NewResources)
	assert.Equal(t, 1, second.UpdatedResources)
	assert.Equal(t, 0, second.NewOrigins)
	assert.Equal(t, 1, store.ResourceCount())
	assert.Len(t, store.History(), 2)
}

func TestRetagBackfillsAllResources(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.EnsureSchema(ctx))

	originID, _, err := store.UpsertOrigin(ctx, "a.example.com", "https://a.example.com")
	require.NoError(t, err)
	resID, _, err := store.UpsertResource(ctx, ResourceRow{
		OriginID:    originID,
		Resource:    "https://a.example.com/api/swap",
		Description: "Token swap service",
	})
	require.NoError(t, err)

	e := newTestEngine(store, nil, nil, nil)
	require.NoError(t, e.Retag(ctx))
	assert.Contains(t, store.TagsForResource(resID), "trading")
}

func TestMockSourceRunsOfflineEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.EnsureSchema(ctx))

	src := facilitators.NewMockSource(facilitators.MockSourceOptions{Name: "mock", Count: 8})
	e := newTestEngine(store, []facilitators.Source{src}, nil, nil)
	stats := e.RunOnce(ctx)

	assert.Equal(t, 8, stats.Fetched)
	assert.Greater(t, stats.FilteredOut, 0, "mock data includes hosting and testnet listings")
	assert.Greater(t, stats.NewResources, 0)
	assert.Equal(t, 0, stats.Errors)
}

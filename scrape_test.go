package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootDomain(t *testing.T) {
	cases := map[string]string{
		"api.example.com":            "example.com",
		"example.com":                "example.com",
		"api-dev.agents.skillful.io": "skillful.io",
		"shop.something.co.uk":       "something.co.uk",
		"deep.shop.something.com.au": "something.com.au",
		"localhost":                  "localhost",
		"":                           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, rootDomain(in), in)
	}
}

type countingScraper struct {
	calls map[string]int
}

func (c *countingScraper) ScrapeMetadata(_ context.Context, domain string) (SiteMetadata, error) {
	c.calls[domain]++
	return SiteMetadata{Title: domain}, nil
}

func TestCachedScraperSharesRootDomain(t *testing.T) {
	inner := &countingScraper{calls: make(map[string]int)}
	cached := newCachedScraper(inner)
	ctx := context.Background()

	md1, err := cached.ScrapeMetadata(ctx, "api.example.com")
	require.NoError(t, err)
	md2, err := cached.ScrapeMetadata(ctx, "agents.example.com")
	require.NoError(t, err)

	assert.Equal(t, md1, md2)
	assert.Equal(t, 1, inner.calls["example.com"], "sibling subdomains share one scrape")
}

func TestSiteMetadataEmpty(t *testing.T) {
	assert.True(t, SiteMetadata{}.Empty())
	assert.False(t, SiteMetadata{Title: "x"}.Empty())
}

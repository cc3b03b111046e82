package main

import (
	"context"
	"strings"
)

// ───────── Metadata-scrape collaborator ─────────

// SiteMetadata is the branding a scraper extracts from an origin's website.
// Empty fields mean "nothing found" and are never written over existing data.
type SiteMetadata struct {
	Title       string
	Description string
	Favicon     string
	OGImage     string
	Twitter     string
	Discord     string
	Github      string
}

func (m SiteMetadata) Empty() bool {
	return m == SiteMetadata{}
}

// MetadataScraper fetches branding for a domain. The real HTML scraper is a
// separate service; this job only calls the interface and applies the result
// additively.
type MetadataScraper interface {
	ScrapeMetadata(ctx context.Context, domain string) (SiteMetadata, error)
}

// NoopScraper keeps the pipeline total when no scraper is wired in.
type NoopScraper struct{}

func (NoopScraper) ScrapeMetadata(context.Context, string) (SiteMetadata, error) {
	return SiteMetadata{}, nil
}

// cachedScraper scrapes each root domain at most once per run, so sibling
// subdomains (api.x.io, agents.x.io) share one fetch.
type cachedScraper struct {
	inner MetadataScraper
	cache map[string]SiteMetadata
}

func newCachedScraper(inner MetadataScraper) *cachedScraper {
	return &cachedScraper{inner: inner, cache: make(map[string]SiteMetadata)}
}

func (c *cachedScraper) ScrapeMetadata(ctx context.Context, domain string) (SiteMetadata, error) {
	root := rootDomain(domain)
	if md, ok := c.cache[root]; ok {
		return md, nil
	}
	md, err := c.inner.ScrapeMetadata(ctx, root)
	if err != nil {
		return SiteMetadata{}, err
	}
	c.cache[root] = md
	return md, nil
}

// rootDomain reduces a host to its registrable domain for scraping, e.g.
// api-dev.agents.skillfulai.io -> skillfulai.io. Only a short list of
// two-label TLDs is special-cased.
func rootDomain(domain string) string {
	if domain == "" {
		return domain
	}
	lower := strings.ToLower(domain)
	for _, tld := range []string{"co.uk", "com.au", "co.nz", "co.jp", "com.br"} {
		if strings.HasSuffix(lower, "."+tld) {
			prefix := lower[:len(lower)-len(tld)-1]
			if i := strings.LastIndex(prefix, "."); i >= 0 {
				return prefix[i+1:] + "." + tld
			}
			return domain
		}
	}
	parts := strings.Split(domain, ".")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return domain
}

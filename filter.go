package main

import (
	"net/url"
	"strings"

	"x402sync/facilitators"
)

// ───────── Filter stage ─────────

// Network name fragments that mark a payment option as testnet-only.
var defaultTestnetPatterns = []string{
	"-sepolia", "-testnet", "goerli", "mumbai", "holesky", "-devnet", "testnet",
}

// Free hosting / tunnel / PaaS suffixes. Resources served from these are
// throwaway deployments, not services worth indexing.
var defaultHostingSuffixes = []string{
	"vercel.app", "railway.app", "replit.dev", "onrender.com",
	"ngrok-free.app", "ngrok-free.dev", "workers.dev", "nx.link",
	"dctx.link", "dev-mypinata.cloud", "herokuapp.com", "netlify.app",
	"pages.dev", "fly.dev", "run.app", "cloudfunctions.net",
}

// ListingFilter drops testnet payment options and hosting-platform origins.
// Pattern tables are injected so tests can substitute them.
type ListingFilter struct {
	testnetPatterns []string
	hostingSuffixes []string
}

func NewListingFilter(testnetPatterns, hostingSuffixes []string) *ListingFilter {
	if testnetPatterns == nil {
		testnetPatterns = defaultTestnetPatterns
	}
	if hostingSuffixes == nil {
		hostingSuffixes = defaultHostingSuffixes
	}
	return &ListingFilter{testnetPatterns: testnetPatterns, hostingSuffixes: hostingSuffixes}
}

// IsTestnet reports whether a network name refers to a test network.
func (f *ListingFilter) IsTestnet(network string) bool {
	n := strings.ToLower(network)
	for _, p := range f.testnetPatterns {
		if strings.Contains(n, p) {
			return true
		}
	}
	return false
}

// IsHostingDomain reports whether a host lives on a known free-hosting
// platform.
func (f *ListingFilter) IsHostingDomain(host string) bool {
	h := strings.ToLower(host)
	for _, suffix := range f.hostingSuffixes {
		if strings.HasSuffix(h, suffix) {
			return true
		}
	}
	return false
}

// Apply filters a batch of raw listings. Testnet accepts are removed from
// each listing; listings with no mainnet accepts, a hosting-platform host,
// or no parseable resource URL are dropped entirely.
func (f *ListingFilter) Apply(items []facilitators.Listing) (kept []facilitators.Listing, dropped int) {
	kept = make([]facilitators.Listing, 0, len(items))
	for _, it := range items {
		u, err := url.Parse(strings.TrimSpace(it.Resource))
		if err != nil || u.Host == "" {
			dropped++
			continue
		}
		if f.IsHostingDomain(u.Hostname()) {
			dropped++
			continue
		}
		accepts := make([]facilitators.Accept, 0, len(it.Accepts))
		for _, a := range it.Accepts {
			if f.IsTestnet(a.Network) {
				continue
			}
			accepts = append(accepts, a)
		}
		if len(accepts) == 0 {
			dropped++
			continue
		}
		it.Accepts = accepts
		kept = append(kept, it)
	}
	return kept, dropped
}

package facilitators

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Mock source (offline-safe)
// ─────────────────────────────────────────────────────────────────────────────

// MockSource produces synthetic listings for demos and unit tests. It is
// deterministic within a single process and does not make network calls.
// The synthetic set deliberately includes a testnet accept and a
// hosting-platform origin so an offline run exercises the filter stage.
type MockSource struct {
	name  string
	count int
	seed  int64
}

type MockSourceOptions struct {
	Name  string
	Count int   // listings to synthesize; default 8
	Seed  int64 // optional; 0 uses a fixed seed
}

func NewMockSource(opts MockSourceOptions) *MockSource {
	name := opts.Name
	if name == "" {
		name = "mock"
	}
	count := opts.Count
	if count <= 0 {
		count = 8
	}
	seed := opts.Seed
	if seed == 0 {
		seed = 402
	}
	return &MockSource{name: name, count: count, seed: seed}
}

func (m *MockSource) Name() string { return m.name }

func (m *MockSource) FetchAll(ctx context.Context) ([]Listing, FetchStats, error) {
	select {
	case <-ctx.Done():
		return nil, FetchStats{}, ctx.Err()
	default:
	}

	r := rand.New(rand.NewSource(m.seed ^ int64(fnv64(m.name))))

	hosts := []string{
		"api.svc-alpha.invalid",
		"x402.svc-beta.invalid",
		"agents.svc-gamma.invalid",
		"demo.vercel.app", // dropped by the hosting filter
	}
	networks := []string{"base", "solana", "polygon", "base-sepolia"}
	paths := []string{"/api/run", "/api/swap", "/api/generate", "/api/lookup"}

	out := make([]Listing, 0, m.count)
	for i := 0; i < m.count; i++ {
		host := hosts[i%len(hosts)]
		network := networks[i%len(networks)]
		amount := fmt.Sprintf("%d", (1+r.Intn(40))*50_000)

		extra, _ := json.Marshal(map[string]string{"name": "USDC"})
		listing := Listing{
			Resource:    "https://" + host + paths[i%len(paths)],
			Type:        "http",
			X402Version: 1,
			Method:      "POST",
			LastUpdated: LooseString(time.Unix(1700000000+int64(i)*3600, 0).UTC().Format(time.RFC3339)),
			Accepts: []Accept{{
				Scheme:            "exact",
				Network:           network,
				Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				PayTo:             fmt.Sprintf("0x%040x", i+1),
				MaxAmountRequired: LooseString(amount),
				MaxTimeoutSeconds: 60,
				Description:       fmt.Sprintf("Synthetic service %d (offline mock source)", i+1),
				MimeType:          "application/json",
				Extra:             extra,
			}},
		}
		out = append(out, listing)
	}
	for i := range out {
		out[i].Facilitator = m.name
	}
	return out, FetchStats{Pages: 1, Requests: 1}, nil
}

// fnv64 returns a simple 64-bit hash for deterministic mock data.
func fnv64(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

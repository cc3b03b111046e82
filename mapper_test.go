package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402sync/facilitators"
)

func newTestMapper(t *testing.T) (*Mapper, *MemStore) {
	t.Helper()
	store := NewMemStore()
	require.NoError(t, store.EnsureSchema(context.Background()))
	return NewMapper(store), store
}

func TestMapperApplyCreatesHierarchy(t *testing.T) {
	m, store := newTestMapper(t)
	ctx := context.Background()

	l := facilitators.Listing{
		Resource:    "https://api.example.com/v1/run",
		Type:        "http",
		X402Version: 1,
		Method:      "GET",
		LastUpdated: "2024-05-01T00:00:00Z",
		Accepts: []facilitators.Accept{{
			Scheme:            "exact",
			Network:           "base",
			Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			PayTo:             "0xabc",
			MaxAmountRequired: "1500000",
			Description:       "Run a job",
		}},
	}

	res, err := m.Apply(ctx, l)
	require.NoError(t, err)
	assert.True(t, res.OriginCreated)
	assert.True(t, res.ResourceCreated)
	assert.Equal(t, "api.example.com", res.OriginDomain)
	assert.Equal(t, 1, res.NewAccepts)

	row, ok := store.ResourceByURL(l.Resource)
	require.True(t, ok)
	assert.Equal(t, "/v1/run", row.Path)
	assert.Equal(t, "GET", row.Method)
	assert.Equal(t, "Run a job", row.Description)

	accepts := store.AcceptsByURL(l.Resource)
	require.Len(t, accepts, 1)
	require.NotNil(t, accepts[0].PriceUSD)
	assert.Equal(t, 1.5, *accepts[0].PriceUSD)
	assert.Equal(t, "USDC", accepts[0].AssetName)
	assert.True(t, accepts[0].Discoverable)

	// Second apply of the same listing reports updates, not creates.
	res2, err := m.Apply(ctx, l)
	require.NoError(t, err)
	assert.False(t, res2.OriginCreated)
	assert.False(t, res2.ResourceCreated)
	assert.Equal(t, 0, res2.NewAccepts)
	assert.Equal(t, 1, res2.UpdatedAccepts)
	assert.Equal(t, 1, store.ResourceCount())
	assert.Equal(t, 1, store.OriginResourceCount(res.OriginID), "count only increments on create")
}

func TestMapperApplyRejectsBadURL(t *testing.T) {
	m, _ := newTestMapper(t)

	for _, resource := range []string{"", "not a url", "/relative/path"} {
		_, err := m.Apply(context.Background(), facilitators.Listing{Resource: resource})
		assert.Error(t, err, resource)
	}
}

func TestResourceMethodFallbacks(t *testing.T) {
	assert.Equal(t, "GET", resourceMethod(facilitators.Listing{Method: "GET"}))

	// No item method: first accept's outputSchema.input.method.
	l := facilitators.Listing{
		Accepts: []facilitators.Accept{{
			OutputSchema: json.RawMessage(`{"input":{"method":"PUT"}}`),
		}},
	}
	assert.Equal(t, "PUT", resourceMethod(l))

	// Nothing anywhere: POST.
	assert.Equal(t, "POST", resourceMethod(facilitators.Listing{}))
}

func TestResourceDescriptionPrefersMetadata(t *testing.T) {
	l := facilitators.Listing{
		Metadata: &facilitators.Metadata{Description: "from metadata"},
		Accepts:  []facilitators.Accept{{Description: "from accept"}},
	}
	assert.Equal(t, "from metadata", resourceDescription(l))

	l.Metadata = nil
	assert.Equal(t, "from accept", resourceDescription(l))

	assert.Equal(t, "", resourceDescription(facilitators.Listing{}))
}

func TestPriceUSD(t *testing.T) {
	p := priceUSD("1000000")
	require.NotNil(t, p)
	assert.Equal(t, 1.0, *p)

	p = priceUSD("1500000")
	require.NotNil(t, p)
	assert.Equal(t, 1.5, *p)

	p = priceUSD("10000")
	require.NotNil(t, p)
	assert.Equal(t, 0.01, *p)

	assert.Nil(t, priceUSD(""))
	assert.Nil(t, priceUSD("0.1 USDC"))
	assert.Nil(t, priceUSD("1e6"))
}

func TestAssetName(t *testing.T) {
	// Explicit extra.name always wins.
	assert.Equal(t, "PYUSD", assetName("base", "0x1234", "PYUSD"))

	// "usdc" substring in the asset field.
	assert.Equal(t, "USDC", assetName("unknown-chain", "USDC", ""))

	// Known contract address for the network, case-insensitive.
	assert.Equal(t, "USDC", assetName("base", "0x833589FCD6EDB6E08F4C7C32D4F71B54BDA02913", ""))
	assert.Equal(t, "USDC", assetName("solana", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", ""))

	// Unknown contract stays unnamed.
	assert.Equal(t, "", assetName("base", "0x1234", ""))
}

func TestBuildAcceptRowChannelAndDiscoverable(t *testing.T) {
	row := buildAcceptRow(1, facilitators.Accept{
		Channel: "bazaar",
		Extra:   json.RawMessage(`{"channel":"ignored"}`),
	})
	assert.Equal(t, "bazaar", row.Channel)

	row = buildAcceptRow(1, facilitators.Accept{
		Extra: json.RawMessage(`{"channel":"from-extra"}`),
	})
	assert.Equal(t, "from-extra", row.Channel)

	row = buildAcceptRow(1, facilitators.Accept{
		OutputSchema: json.RawMessage(`{"input":{"discoverable":false}}`),
	})
	assert.False(t, row.Discoverable)

	row = buildAcceptRow(1, facilitators.Accept{})
	assert.True(t, row.Discoverable, "discoverable defaults to true")
}

func TestBuildResourceRowV2Fields(t *testing.T) {
	m, _ := newTestMapper(t)

	l := facilitators.Listing{
		Resource: "https://api.example.com/v1/run",
		Category: "trading",
		Tags:     []string{"swap"},
		Metadata: &facilitators.Metadata{
			Input:        json.RawMessage(`{"q":"eth"}`),
			Output:       json.RawMessage(`{"price":1}`),
			InputSchema:  json.RawMessage(`{"type":"object"}`),
			OutputSchema: json.RawMessage(`{"type":"object"}`),
			Category:     "ignored-when-item-level-set",
		},
	}

	ctx := context.Background()
	res, err := m.Apply(ctx, l)
	require.NoError(t, err)

	row, ok := m.store.(*MemStore).ResourceByURL(l.Resource)
	require.True(t, ok)
	assert.Equal(t, json.RawMessage(`{"q":"eth"}`), json.RawMessage(row.ExampleInput))
	assert.Equal(t, json.RawMessage(`{"price":1}`), json.RawMessage(row.ExampleOutput))
	assert.NotNil(t, row.InputSchemaV2)
	assert.NotNil(t, row.OutputSchemaV2)
	assert.Equal(t, "trading", row.SelfReportedCategory)
	assert.Equal(t, []string{"swap"}, row.SelfReportedTags)
	assert.True(t, res.ResourceCreated)
}

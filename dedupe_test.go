package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402sync/facilitators"
)

func TestDedupeNewerWins(t *testing.T) {
	items := []facilitators.Listing{
		{Resource: "https://a.example.com/x", LastUpdated: "2024-01-01T00:00:00Z", Facilitator: "one"},
		{Resource: "https://b.example.com/y", LastUpdated: "2024-01-01T00:00:00Z", Facilitator: "one"},
		{Resource: "https://a.example.com/x", LastUpdated: "2024-01-02T00:00:00Z", Facilitator: "two"},
	}

	out := Dedupe(items)
	require.Len(t, out, 2)
	assert.Equal(t, "two", out[0].Facilitator, "later lastUpdated replaces the earlier record in place")
	assert.Equal(t, "https://b.example.com/y", out[1].Resource)
}

func TestDedupeTieKeepsFirstSeen(t *testing.T) {
	items := []facilitators.Listing{
		{Resource: "https://a.example.com/x", LastUpdated: "2024-01-01T00:00:00Z", Facilitator: "one"},
		{Resource: "https://a.example.com/x", LastUpdated: "2024-01-01T00:00:00Z", Facilitator: "two"},
	}

	out := Dedupe(items)
	require.Len(t, out, 1)
	assert.Equal(t, "one", out[0].Facilitator)
}

func TestDedupeIdempotent(t *testing.T) {
	items := []facilitators.Listing{
		{Resource: "https://a.example.com/x", LastUpdated: "2024-03-01T00:00:00Z"},
		{Resource: "https://a.example.com/x", LastUpdated: "2024-01-01T00:00:00Z"},
		{Resource: "https://b.example.com/y"},
	}

	once := Dedupe(items)
	twice := Dedupe(once)
	assert.Equal(t, once, twice)
	assert.LessOrEqual(t, len(once), len(items))
}

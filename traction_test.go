package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidTransfer(t *testing.T) {
	expected := []float64{2.00}

	// ±10% inclusive.
	assert.True(t, IsValidTransfer(1.80, expected))
	assert.True(t, IsValidTransfer(2.00, expected))
	assert.True(t, IsValidTransfer(2.10, expected))
	assert.True(t, IsValidTransfer(2.20, expected))
	assert.False(t, IsValidTransfer(2.30, expected))
	assert.False(t, IsValidTransfer(1.79, expected))

	// Any expected price can match.
	assert.True(t, IsValidTransfer(0.95, []float64{2.00, 1.00}))

	// Non-positive expectations never match.
	assert.False(t, IsValidTransfer(0, []float64{0}))
	assert.False(t, IsValidTransfer(1.0, nil))
}

type fakeProvider struct {
	network   string
	transfers []Transfer
	err       error
	calls     int
}

func (f *fakeProvider) Network() string { return f.network }

func (f *fakeProvider) IncomingTransfers(context.Context, string) ([]Transfer, error) {
	f.calls++
	return f.transfers, f.err
}

func seedTractionOrigin(t *testing.T, store *MemStore, price float64) OriginRef {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))

	originID, _, err := store.UpsertOrigin(ctx, "api.example.com", "https://api.example.com")
	require.NoError(t, err)
	resID, _, err := store.UpsertResource(ctx, ResourceRow{
		OriginID: originID,
		Resource: "https://api.example.com/run",
	})
	require.NoError(t, err)

	row := AcceptRow{
		ResourceID: resID,
		Scheme:     "exact",
		Network:    "base",
		PayTo:      "0xpayee",
	}
	if price > 0 {
		row.PriceUSD = &price
	}
	_, err = store.UpsertAccept(ctx, row)
	require.NoError(t, err)
	return OriginRef{ID: originID, Domain: "api.example.com"}
}

func TestReconcileOriginRollsUpMatches(t *testing.T) {
	store := NewMemStore()
	origin := seedTractionOrigin(t, store, 2.00)

	provider := &fakeProvider{network: "base", transfers: []Transfer{
		{From: "0xAAA", AmountUSD: 2.10, Timestamp: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{From: "0xaaa", AmountUSD: 1.90, Timestamp: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)},
		{From: "0xbbb", AmountUSD: 2.30, Timestamp: time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)}, // outside tolerance
	}}

	r := NewReconciler(store, []TransferProvider{provider})
	r.quiet = true
	updated, errs := r.ReconcileOrigin(context.Background(), origin)
	require.True(t, updated)
	assert.Equal(t, 0, errs)

	roll := store.TractionFor(origin.ID)
	require.NotNil(t, roll)
	assert.Equal(t, 2, roll.TxCount)
	assert.InDelta(t, 4.0, roll.VolumeUSD, 1e-9)
	assert.Equal(t, 1, roll.UniqueBuyers, "buyer addresses compare case-insensitively")
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), roll.LastTransferAt)
}

func TestReconcileOriginSkipsWithoutExpectedPrices(t *testing.T) {
	store := NewMemStore()
	origin := seedTractionOrigin(t, store, 0)

	provider := &fakeProvider{network: "base", transfers: []Transfer{
		{From: "0xaaa", AmountUSD: 2.00},
	}}

	r := NewReconciler(store, []TransferProvider{provider})
	r.quiet = true
	updated, errs := r.ReconcileOrigin(context.Background(), origin)
	assert.False(t, updated)
	assert.Equal(t, 0, errs)
	assert.Equal(t, 0, provider.calls, "no provider call when there is nothing to match")
	assert.Nil(t, store.TractionFor(origin.ID))
}

func TestReconcileOriginNeverZeroesExistingRollup(t *testing.T) {
	store := NewMemStore()
	origin := seedTractionOrigin(t, store, 2.00)
	ctx := context.Background()

	existing := TractionRollup{TxCount: 5, VolumeUSD: 10, UniqueBuyers: 3}
	require.NoError(t, store.UpdateOriginTraction(ctx, origin.ID, existing))

	// Provider comes back empty: the old rollup must survive.
	r := NewReconciler(store, []TransferProvider{&fakeProvider{network: "base"}})
	r.quiet = true
	updated, errs := r.ReconcileOrigin(ctx, origin)
	assert.False(t, updated)
	assert.Equal(t, 0, errs)

	roll := store.TractionFor(origin.ID)
	require.NotNil(t, roll)
	assert.Equal(t, 5, roll.TxCount)
}

func TestReconcileAllCountsAndSkipsUnknownNetworks(t *testing.T) {
	store := NewMemStore()
	seedTractionOrigin(t, store, 2.00)

	// Only a solana provider is wired; the base payout address is skipped.
	r := NewReconciler(store, []TransferProvider{&fakeProvider{network: "solana"}})
	r.quiet = true
	r.delay = 0
	stats := r.ReconcileAll(context.Background())
	assert.Equal(t, 1, stats.Origins)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Errors)
}

func TestReconcileAllCountsProviderErrors(t *testing.T) {
	store := NewMemStore()
	seedTractionOrigin(t, store, 2.00)

	r := NewReconciler(store, []TransferProvider{&fakeProvider{
		network: "base",
		err:     assert.AnError,
	}})
	r.quiet = true
	r.delay = 0
	stats := r.ReconcileAll(context.Background())
	assert.Equal(t, 1, stats.Origins)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 1, stats.Errors)
}

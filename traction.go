package main

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ───────── Traction reconciler ─────────

// IsValidTransfer reports whether a transfer amount is within ±10%
// (inclusive) of any expected price. The tolerance filters out unrelated
// stablecoin transfers landing on the same payee address.
func IsValidTransfer(amount float64, expected []float64) bool {
	for _, p := range expected {
		if p <= 0 {
			continue
		}
		if amount >= p*0.9 && amount <= p*1.1 {
			return true
		}
	}
	return false
}

// ReconcileStats summarizes one reconciliation pass.
type ReconcileStats struct {
	Origins int
	Updated int
	Skipped int
	Errors  int
}

// Reconciler matches on-chain transfer history against each origin's
// expected payment amounts and rolls the result up onto the origin.
type Reconciler struct {
	store     Store
	providers map[string]TransferProvider
	delay     time.Duration // pacing between origins
	quiet     bool
}

func NewReconciler(store Store, providers []TransferProvider) *Reconciler {
	byNetwork := make(map[string]TransferProvider, len(providers))
	for _, p := range providers {
		byNetwork[strings.ToLower(p.Network())] = p
	}
	return &Reconciler{store: store, providers: byNetwork, delay: 250 * time.Millisecond}
}

// ReconcileOrigin processes one origin. Provider failures reduce coverage
// but never abort the origin; errs reports how many calls failed.
func (r *Reconciler) ReconcileOrigin(ctx context.Context, origin OriginRef) (updated bool, errs int) {
	prices, err := r.store.OriginExpectedPrices(ctx, origin.ID)
	if err != nil {
		r.logf("  %s: expected prices: %v", origin.Domain, err)
		return false, 1
	}
	if len(prices) == 0 {
		// Nothing to match transfers against.
		return false, 0
	}

	addrs, err := r.store.OriginPayoutAddresses(ctx, origin.ID)
	if err != nil {
		r.logf("  %s: payout addresses: %v", origin.Domain, err)
		return false, 1
	}

	roll := TractionRollup{}
	buyers := make(map[string]struct{})

	for _, pa := range addrs {
		provider, ok := r.providers[strings.ToLower(pa.Network)]
		if !ok {
			continue // no credentials for this network
		}
		transfers, err := provider.IncomingTransfers(ctx, pa.Address)
		if err != nil {
			r.logf("  %s: %s transfers for %s: %v", origin.Domain, pa.Network, shortAddr(pa.Address), err)
			errs++
			continue
		}
		for _, t := range transfers {
			if !IsValidTransfer(t.AmountUSD, prices) {
				continue
			}
			roll.TxCount++
			roll.VolumeUSD += t.AmountUSD
			buyers[strings.ToLower(t.From)] = struct{}{}
			if t.Timestamp.After(roll.LastTransferAt) {
				roll.LastTransferAt = t.Timestamp
			}
		}
	}

	// Traction is monotonic information: never overwrite an existing rollup
	// with zeros just because a provider call came back empty or failed.
	if roll.TxCount == 0 {
		return false, errs
	}
	roll.UniqueBuyers = len(buyers)
	if err := r.store.UpdateOriginTraction(ctx, origin.ID, roll); err != nil {
		r.logf("  %s: traction update: %v", origin.Domain, err)
		return false, errs + 1
	}
	return true, errs
}

// ReconcileAll walks every origin sequentially. Pacing against the indexing
// providers comes from the sequential flow itself plus a small fixed delay.
func (r *Reconciler) ReconcileAll(ctx context.Context) ReconcileStats {
	var stats ReconcileStats

	origins, err := r.store.ListOrigins(ctx)
	if err != nil {
		r.logf("traction: list origins: %v", err)
		stats.Errors++
		return stats
	}

	for _, origin := range origins {
		if ctx.Err() != nil {
			break
		}
		stats.Origins++
		updated, errs := r.ReconcileOrigin(ctx, origin)
		stats.Errors += errs
		if updated {
			stats.Updated++
		} else if errs == 0 {
			stats.Skipped++
		}
		pause(ctx, r.delay)
	}
	return stats
}

func (r *Reconciler) logf(format string, args ...any) {
	if r.quiet {
		return
	}
	fmt.Printf(format+"\n", args...)
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:10] + "..."
}

func pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"x402sync/facilitators"
)

// ───────── Upsert mapper ─────────

// USDC contract/mint addresses per network, used to infer the asset name
// when the accept does not carry one.
var usdcAssets = map[string]string{
	"base":     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	"polygon":  "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	"arbitrum": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	"solana":   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
}

// ApplyResult reports what one listing's upsert did, for downstream stages.
type ApplyResult struct {
	OriginID        int64
	OriginDomain    string
	OriginCreated   bool
	ResourceID      int64
	ResourceCreated bool
	Description     string
	NewAccepts      int
	UpdatedAccepts  int
	AcceptErrors    int
}

// Mapper maps one raw listing into the origin → resource → accept hierarchy
// and persists it idempotently.
type Mapper struct {
	store Store
}

func NewMapper(store Store) *Mapper {
	return &Mapper{store: store}
}

// Apply upserts one listing. A returned error means the whole item was
// skipped (missing/unparseable resource URL, or origin/resource write
// failure); accept-level failures are absorbed into AcceptErrors.
func (m *Mapper) Apply(ctx context.Context, l facilitators.Listing) (ApplyResult, error) {
	var res ApplyResult

	u, err := url.Parse(strings.TrimSpace(l.Resource))
	if err != nil || u.Host == "" || u.Scheme == "" {
		return res, fmt.Errorf("listing has no usable resource URL: %q", l.Resource)
	}
	domain := u.Host
	originURL := u.Scheme + "://" + u.Host

	originID, originCreated, err := m.store.UpsertOrigin(ctx, domain, originURL)
	if err != nil {
		return res, fmt.Errorf("origin upsert %s: %w", domain, err)
	}
	res.OriginID = originID
	res.OriginDomain = domain
	res.OriginCreated = originCreated

	row := m.buildResourceRow(originID, u, l)
	resourceID, resourceCreated, err := m.store.UpsertResource(ctx, row)
	if err != nil {
		return res, fmt.Errorf("resource upsert %s: %w", l.Resource, err)
	}
	res.ResourceID = resourceID
	res.ResourceCreated = resourceCreated
	res.Description = row.Description
	if resourceCreated {
		if err := m.store.IncResourceCount(ctx, originID); err != nil {
			res.AcceptErrors++
		}
	}

	for _, a := range l.Accepts {
		created, err := m.store.UpsertAccept(ctx, buildAcceptRow(resourceID, a))
		if err != nil {
			res.AcceptErrors++
			continue
		}
		if created {
			res.NewAccepts++
		} else {
			res.UpdatedAccepts++
		}
	}
	return res, nil
}

func (m *Mapper) buildResourceRow(originID int64, u *url.URL, l facilitators.Listing) ResourceRow {
	row := ResourceRow{
		OriginID:    originID,
		Resource:    l.Resource,
		Path:        u.Path,
		Type:        l.Type,
		X402Version: l.X402Version,
		Method:      resourceMethod(l),
		LastUpdated: l.LastUpdated.String(),
		Description: resourceDescription(l),

		InputSchema:      compactJSON(l.InputSchema),
		ItemOutputSchema: compactJSON(l.OutputSchema),

		SelfReportedCategory: l.SelfReportedCategory(),
		SelfReportedTags:     l.SelfReportedTags(),
	}
	if l.Metadata != nil {
		if b, err := json.Marshal(l.Metadata); err == nil {
			row.Metadata = b
		}
		row.ExampleInput = compactJSON(l.Metadata.Input)
		row.ExampleOutput = compactJSON(l.Metadata.Output)
		row.InputSchemaV2 = compactJSON(l.Metadata.InputSchema)
		row.OutputSchemaV2 = compactJSON(l.Metadata.OutputSchema)
	}
	return row
}

// resourceMethod falls back to POST: most facilitators only support
// POST-initiated payment flows and omit the field.
func resourceMethod(l facilitators.Listing) string {
	if v := strings.TrimSpace(l.Method); v != "" {
		return v
	}
	if len(l.Accepts) > 0 {
		if v := strings.TrimSpace(l.Accepts[0].InputHintsKnown().Method); v != "" {
			return v
		}
	}
	return "POST"
}

// resourceDescription prefers the item-level metadata description, then the
// first accept's description.
func resourceDescription(l facilitators.Listing) string {
	if l.Metadata != nil {
		if v := strings.TrimSpace(l.Metadata.Description); v != "" {
			return v
		}
	}
	if len(l.Accepts) > 0 {
		return strings.TrimSpace(l.Accepts[0].Description)
	}
	return ""
}

func buildAcceptRow(resourceID int64, a facilitators.Accept) AcceptRow {
	extra := a.ExtraKnown()
	hints := a.InputHintsKnown()

	channel := strings.TrimSpace(a.Channel)
	if channel == "" {
		channel = strings.TrimSpace(extra.Channel)
	}

	discoverable := true
	if hints.Discoverable != nil {
		discoverable = *hints.Discoverable
	}

	return AcceptRow{
		ResourceID:        resourceID,
		Scheme:            a.Scheme,
		Network:           a.Network,
		Asset:             a.Asset,
		AssetName:         assetName(a.Network, a.Asset, extra.Name),
		PayTo:             a.PayTo,
		MaxAmountRequired: a.MaxAmountRequired.String(),
		MaxTimeoutSeconds: a.MaxTimeoutSeconds,
		PriceUSD:          priceUSD(a.MaxAmountRequired.String()),
		OutputSchema:      compactJSON(a.OutputSchema),
		Extra:             compactJSON(a.Extra),
		MimeType:          a.MimeType,
		Channel:           channel,
		Discoverable:      discoverable,
	}
}

// assetName prefers an explicit extra.name, then infers USDC from the asset
// string or a known contract/mint address for the network.
func assetName(network, asset, explicit string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if strings.Contains(strings.ToLower(asset), "usdc") {
		return "USDC"
	}
	if contract, ok := usdcAssets[strings.ToLower(network)]; ok {
		if strings.EqualFold(asset, contract) {
			return "USDC"
		}
	}
	return ""
}

// priceUSD converts an atomic-unit amount string into USD assuming 6-decimal
// USDC. Parse failure leaves the price unset rather than failing the accept.
func priceUSD(amount string) *float64 {
	v, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 64)
	if err != nil {
		return nil
	}
	p := float64(v) / 1_000_000
	return &p
}

// compactJSON returns nil for empty or literal-null blobs so the store keeps
// previously written values instead of clobbering them.
func compactJSON(raw json.RawMessage) []byte {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return []byte(trimmed)
}

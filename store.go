package main

import (
	"context"
	"time"
)

// ───────── Store contract ─────────

// OriginRef identifies one origin row for iteration.
type OriginRef struct {
	ID     int64
	Domain string
}

// ResourceRef identifies one resource row for re-tagging.
type ResourceRef struct {
	ID          int64
	Resource    string
	Description string
}

// ResourceRow is the canonical resource record built by the upsert mapper.
// Blob fields hold opaque serialized JSON and are never parsed downstream.
type ResourceRow struct {
	OriginID    int64
	Resource    string
	Path        string
	Type        string
	X402Version int
	Method      string
	LastUpdated string
	Description string

	Metadata         []byte
	InputSchema      []byte
	ItemOutputSchema []byte

	// v2 Bazaar extension fields.
	ExampleInput         []byte
	ExampleOutput        []byte
	InputSchemaV2        []byte
	OutputSchemaV2       []byte
	SelfReportedCategory string
	SelfReportedTags     []string
}

// AcceptRow is one payment option keyed by (resource, scheme, network).
type AcceptRow struct {
	ResourceID        int64
	Scheme            string
	Network           string
	Asset             string
	AssetName         string
	PayTo             string
	MaxAmountRequired string
	MaxTimeoutSeconds int
	PriceUSD          *float64 // nil when the amount did not parse
	OutputSchema      []byte
	Extra             []byte
	MimeType          string
	Channel           string
	Discoverable      bool
}

// PayoutAddress is one (network, payee) pair used by an origin's accepts.
type PayoutAddress struct {
	Network string
	Address string
}

// TractionRollup is the aggregate on-chain signal attributed to an origin.
type TractionRollup struct {
	TxCount        int
	VolumeUSD      float64
	UniqueBuyers   int
	LastTransferAt time.Time
}

// SyncRecord is one immutable sync_history row.
type SyncRecord struct {
	RunID      string
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time

	Fetched          int
	FilteredOut      int
	Deduped          int
	NewOrigins       int
	UpdatedOrigins   int
	NewResources     int
	UpdatedResources int
	NewAccepts       int
	TagsApplied      int
	OriginsScraped   int
	Errors           int
}

// Store is the canonical persistence layer. All writes are natural-key
// upserts so overlapping scheduled runs stay safe without explicit locking.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Close()

	// UpsertOrigin inserts or finds the origin for a domain. created is true
	// only for an actual insert, which marks the origin for a first-time
	// metadata scrape.
	UpsertOrigin(ctx context.Context, domain, originURL string) (id int64, created bool, err error)
	ApplySiteMetadata(ctx context.Context, originID int64, md SiteMetadata) error
	IncResourceCount(ctx context.Context, originID int64) error

	UpsertResource(ctx context.Context, row ResourceRow) (id int64, created bool, err error)
	UpsertAccept(ctx context.Context, row AcceptRow) (created bool, err error)

	TagIDs(ctx context.Context) (map[string]int64, error)
	// AddResourceTag is additive-only: a duplicate association is a no-op.
	AddResourceTag(ctx context.Context, resourceID, tagID int64) error
	ListResources(ctx context.Context) ([]ResourceRef, error)

	ListOrigins(ctx context.Context) ([]OriginRef, error)
	OriginExpectedPrices(ctx context.Context, originID int64) ([]float64, error)
	OriginPayoutAddresses(ctx context.Context, originID int64) ([]PayoutAddress, error)
	UpdateOriginTraction(ctx context.Context, originID int64, roll TractionRollup) error

	InsertSyncRecord(ctx context.Context, rec SyncRecord) error
}

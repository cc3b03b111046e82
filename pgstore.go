package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ───────── Postgres store ─────────

// PGStore is the canonical Postgres-backed store. Every write is an upsert
// keyed by the natural uniqueness constraints, so overlapping runs resolve
// conflicts at the row level instead of through locks.
type PGStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PGStoreOptions struct {
	DSN        string
	Schema     string // default "public"
	MaxConns   int    // default 2
	ViaBouncer bool   // use simple protocol for PgBouncer txn pooling
}

func NewPGStore(ctx context.Context, opts PGStoreOptions) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("dsn parse: %w", err)
	}
	maxConns := opts.MaxConns
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)
	if opts.ViaBouncer {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	schema := strings.TrimSpace(opts.Schema)
	if schema == "" {
		schema = "public"
	}
	if !isSafeIdent(schema) {
		pool.Close()
		return nil, fmt.Errorf("unsafe schema name %q", schema)
	}
	return &PGStore{pool: pool, schema: schema}, nil
}

func (s *PGStore) Close() { s.pool.Close() }

// isSafeIdent permits only plain identifiers we can splice into DDL.
func isSafeIdent(v string) bool {
	if v == "" {
		return false
	}
	for i, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (s *PGStore) table(name string) string {
	return fmt.Sprintf("%s.%s", s.schema, name)
}

// EnsureSchema creates the schema objects if missing and seeds the fixed
// tag vocabulary. Safe to run on every start.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.origins (
    id                  BIGSERIAL PRIMARY KEY,
    domain              TEXT NOT NULL UNIQUE,
    origin              TEXT NOT NULL UNIQUE,
    resource_count      INTEGER NOT NULL DEFAULT 0,
    title               TEXT,
    description         TEXT,
    favicon             TEXT,
    og_image            TEXT,
    twitter             TEXT,
    discord             TEXT,
    github              TEXT,
    total_transactions  BIGINT,
    total_volume_usd    DOUBLE PRECISION,
    unique_buyers       INTEGER,
    last_transaction_at TIMESTAMPTZ,
    traction_updated_at TIMESTAMPTZ,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[1]s.resources (
    id                     BIGSERIAL PRIMARY KEY,
    origin_id              BIGINT NOT NULL REFERENCES %[1]s.origins(id) ON DELETE CASCADE,
    resource               TEXT NOT NULL UNIQUE,
    path                   TEXT,
    type                   TEXT,
    x402_version           INTEGER,
    method                 TEXT,
    last_updated           TEXT,
    description            TEXT,
    metadata               JSONB,
    input_schema           JSONB,
    item_output_schema     JSONB,
    example_input          JSONB,
    example_output         JSONB,
    input_schema_v2        JSONB,
    output_schema_v2       JSONB,
    self_reported_category TEXT,
    self_reported_tags     TEXT[],
    created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS resources_origin_idx ON %[1]s.resources (origin_id);

CREATE TABLE IF NOT EXISTS %[1]s.accepts (
    id                  BIGSERIAL PRIMARY KEY,
    resource_id         BIGINT NOT NULL REFERENCES %[1]s.resources(id) ON DELETE CASCADE,
    scheme              TEXT NOT NULL,
    network             TEXT NOT NULL,
    asset               TEXT,
    asset_name          TEXT,
    pay_to              TEXT,
    max_amount_required TEXT,
    max_timeout_seconds INTEGER,
    price_usd           DOUBLE PRECISION,
    output_schema       JSONB,
    extra               JSONB,
    mime_type           TEXT,
    channel             TEXT,
    discoverable        BOOLEAN NOT NULL DEFAULT TRUE,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (resource_id, scheme, network)
);
CREATE INDEX IF NOT EXISTS accepts_resource_idx ON %[1]s.accepts (resource_id);
CREATE INDEX IF NOT EXISTS accepts_pay_to_idx ON %[1]s.accepts (pay_to) WHERE pay_to IS NOT NULL AND pay_to <> '';

CREATE TABLE IF NOT EXISTS %[1]s.tags (
    id   SERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS %[1]s.resource_tags (
    resource_id BIGINT  NOT NULL REFERENCES %[1]s.resources(id) ON DELETE CASCADE,
    tag_id      INTEGER NOT NULL REFERENCES %[1]s.tags(id) ON DELETE CASCADE,
    PRIMARY KEY (resource_id, tag_id)
);

CREATE TABLE IF NOT EXISTS %[1]s.sync_history (
    id                BIGSERIAL PRIMARY KEY,
    run_id            UUID NOT NULL,
    source            TEXT NOT NULL,
    started_at        TIMESTAMPTZ NOT NULL,
    finished_at       TIMESTAMPTZ NOT NULL,
    fetched           INTEGER NOT NULL DEFAULT 0,
    filtered_out      INTEGER NOT NULL DEFAULT 0,
    deduped           INTEGER NOT NULL DEFAULT 0,
    new_origins       INTEGER NOT NULL DEFAULT 0,
    updated_origins   INTEGER NOT NULL DEFAULT 0,
    new_resources     INTEGER NOT NULL DEFAULT 0,
    updated_resources INTEGER NOT NULL DEFAULT 0,
    new_accepts       INTEGER NOT NULL DEFAULT 0,
    tags_applied      INTEGER NOT NULL DEFAULT 0,
    origins_scraped   INTEGER NOT NULL DEFAULT 0,
    errors            INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS sync_history_started_idx ON %[1]s.sync_history (started_at DESC);
`, s.schema)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	// Seed the fixed tag vocabulary.
	b := &pgx.Batch{}
	for _, name := range TagVocabulary(defaultTagRules) {
		b.Queue(`INSERT INTO `+s.table("tags")+` (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	}
	br := s.pool.SendBatch(ctx, b)
	defer br.Close()
	for range TagVocabulary(defaultTagRules) {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("seed tags: %w", err)
		}
	}
	return nil
}

// UpsertOrigin inserts or finds an origin. The insert-or-get is atomic via
// ON CONFLICT; on an upsert error it falls back to a plain lookup, which
// resolves the duplicate-key race with a concurrent run.
func (s *PGStore) UpsertOrigin(ctx context.Context, domain, originURL string) (int64, bool, error) {
	var id int64
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table("origins")+` (domain, origin)
		VALUES ($1, $2)
		ON CONFLICT (domain) DO UPDATE SET updated_at = now()
		RETURNING id, (xmax = 0)`,
		domain, originURL,
	).Scan(&id, &inserted)
	if err == nil {
		return id, inserted, nil
	}

	var fallbackID int64
	if err2 := s.pool.QueryRow(ctx,
		`SELECT id FROM `+s.table("origins")+` WHERE domain = $1`, domain,
	).Scan(&fallbackID); err2 == nil {
		return fallbackID, false, nil
	}
	return 0, false, err
}

func (s *PGStore) ApplySiteMetadata(ctx context.Context, originID int64, md SiteMetadata) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table("origins")+` SET
			title       = COALESCE(NULLIF($2, ''), title),
			description = COALESCE(NULLIF($3, ''), description),
			favicon     = COALESCE(NULLIF($4, ''), favicon),
			og_image    = COALESCE(NULLIF($5, ''), og_image),
			twitter     = COALESCE(NULLIF($6, ''), twitter),
			discord     = COALESCE(NULLIF($7, ''), discord),
			github      = COALESCE(NULLIF($8, ''), github),
			updated_at  = now()
		WHERE id = $1`,
		originID, md.Title, md.Description, md.Favicon, md.OGImage, md.Twitter, md.Discord, md.Github,
	)
	return err
}

func (s *PGStore) IncResourceCount(ctx context.Context, originID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("origins")+` SET resource_count = resource_count + 1, updated_at = now() WHERE id = $1`,
		originID,
	)
	return err
}

// UpsertResource replaces the core fields on conflict; JSON blobs only
// overwrite when the new payload actually carries them, so a facilitator
// that stopped sending metadata does not erase what another one reported.
func (s *PGStore) UpsertResource(ctx context.Context, row ResourceRow) (int64, bool, error) {
	var id int64
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table("resources")+` AS res (
			origin_id, resource, path, type, x402_version, method, last_updated, description,
			metadata, input_schema, item_output_schema,
			example_input, example_output, input_schema_v2, output_schema_v2,
			self_reported_category, self_reported_tags
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (resource) DO UPDATE SET
			path                   = EXCLUDED.path,
			type                   = EXCLUDED.type,
			x402_version           = EXCLUDED.x402_version,
			method                 = EXCLUDED.method,
			last_updated           = EXCLUDED.last_updated,
			description            = EXCLUDED.description,
			metadata               = COALESCE(EXCLUDED.metadata, res.metadata),
			input_schema           = COALESCE(EXCLUDED.input_schema, res.input_schema),
			item_output_schema     = COALESCE(EXCLUDED.item_output_schema, res.item_output_schema),
			example_input          = COALESCE(EXCLUDED.example_input, res.example_input),
			example_output         = COALESCE(EXCLUDED.example_output, res.example_output),
			input_schema_v2        = COALESCE(EXCLUDED.input_schema_v2, res.input_schema_v2),
			output_schema_v2       = COALESCE(EXCLUDED.output_schema_v2, res.output_schema_v2),
			self_reported_category = COALESCE(NULLIF(EXCLUDED.self_reported_category, ''), res.self_reported_category),
			self_reported_tags     = COALESCE(EXCLUDED.self_reported_tags, res.self_reported_tags),
			updated_at             = now()
		RETURNING id, (xmax = 0)`,
		row.OriginID, row.Resource, row.Path, row.Type, row.X402Version, row.Method,
		row.LastUpdated, row.Description,
		jsonbParam(row.Metadata), jsonbParam(row.InputSchema), jsonbParam(row.ItemOutputSchema),
		jsonbParam(row.ExampleInput), jsonbParam(row.ExampleOutput),
		jsonbParam(row.InputSchemaV2), jsonbParam(row.OutputSchemaV2),
		row.SelfReportedCategory, row.SelfReportedTags,
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, err
	}
	return id, inserted, nil
}

func (s *PGStore) UpsertAccept(ctx context.Context, row AcceptRow) (bool, error) {
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table("accepts")+` AS acc (
			resource_id, scheme, network, asset, asset_name, pay_to,
			max_amount_required, max_timeout_seconds, price_usd,
			output_schema, extra, mime_type, channel, discoverable
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (resource_id, scheme, network) DO UPDATE SET
			asset               = EXCLUDED.asset,
			asset_name          = EXCLUDED.asset_name,
			pay_to              = EXCLUDED.pay_to,
			max_amount_required = EXCLUDED.max_amount_required,
			max_timeout_seconds = EXCLUDED.max_timeout_seconds,
			price_usd           = EXCLUDED.price_usd,
			output_schema       = COALESCE(EXCLUDED.output_schema, acc.output_schema),
			extra               = COALESCE(EXCLUDED.extra, acc.extra),
			mime_type           = EXCLUDED.mime_type,
			channel             = EXCLUDED.channel,
			discoverable        = EXCLUDED.discoverable,
			updated_at          = now()
		RETURNING (xmax = 0)`,
		row.ResourceID, row.Scheme, row.Network, row.Asset, row.AssetName, row.PayTo,
		row.MaxAmountRequired, row.MaxTimeoutSeconds, row.PriceUSD,
		jsonbParam(row.OutputSchema), jsonbParam(row.Extra),
		row.MimeType, row.Channel, row.Discoverable,
	).Scan(&inserted)
	return inserted, err
}

func (s *PGStore) TagIDs(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM `+s.table("tags"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64, 16)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, rows.Err()
}

func (s *PGStore) AddResourceTag(ctx context.Context, resourceID, tagID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("resource_tags")+` (resource_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		resourceID, tagID,
	)
	return err
}

func (s *PGStore) ListResources(ctx context.Context) ([]ResourceRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, resource, COALESCE(description, '') FROM `+s.table("resources")+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResourceRef
	for rows.Next() {
		var r ResourceRef
		if err := rows.Scan(&r.ID, &r.Resource, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) ListOrigins(ctx context.Context) ([]OriginRef, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, domain FROM `+s.table("origins")+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OriginRef
	for rows.Next() {
		var o OriginRef
		if err := rows.Scan(&o.ID, &o.Domain); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PGStore) OriginExpectedPrices(ctx context.Context, originID int64) ([]float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT a.price_usd
		FROM `+s.table("accepts")+` a
		JOIN `+s.table("resources")+` r ON r.id = a.resource_id
		WHERE r.origin_id = $1 AND a.price_usd IS NOT NULL AND a.price_usd > 0`,
		originID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) OriginPayoutAddresses(ctx context.Context, originID int64) ([]PayoutAddress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT a.network, a.pay_to
		FROM `+s.table("accepts")+` a
		JOIN `+s.table("resources")+` r ON r.id = a.resource_id
		WHERE r.origin_id = $1 AND a.pay_to IS NOT NULL AND a.pay_to <> '' AND a.network <> ''`,
		originID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PayoutAddress
	for rows.Next() {
		var pa PayoutAddress
		if err := rows.Scan(&pa.Network, &pa.Address); err != nil {
			return nil, err
		}
		out = append(out, pa)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateOriginTraction(ctx context.Context, originID int64, roll TractionRollup) error {
	var lastAt *time.Time
	if !roll.LastTransferAt.IsZero() {
		t := roll.LastTransferAt
		lastAt = &t
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table("origins")+` SET
			total_transactions  = $2,
			total_volume_usd    = $3,
			unique_buyers       = $4,
			last_transaction_at = $5,
			traction_updated_at = now(),
			updated_at          = now()
		WHERE id = $1`,
		originID, roll.TxCount, roll.VolumeUSD, roll.UniqueBuyers, lastAt,
	)
	return err
}

func (s *PGStore) InsertSyncRecord(ctx context.Context, rec SyncRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table("sync_history")+` (
			run_id, source, started_at, finished_at,
			fetched, filtered_out, deduped,
			new_origins, updated_origins, new_resources, updated_resources,
			new_accepts, tags_applied, origins_scraped, errors
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		rec.RunID, rec.Source, rec.StartedAt, rec.FinishedAt,
		rec.Fetched, rec.FilteredOut, rec.Deduped,
		rec.NewOrigins, rec.UpdatedOrigins, rec.NewResources, rec.UpdatedResources,
		rec.NewAccepts, rec.TagsApplied, rec.OriginsScraped, rec.Errors,
	)
	return err
}

// jsonbParam passes a JSON blob as text (cast server-side to jsonb) and
// turns empty blobs into NULL so COALESCE keeps the stored value.
func jsonbParam(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

package main

import (
	"context"
	"sync"
)

// ───────── In-memory store (offline-safe) ─────────

// MemStore implements Store in memory with the same upsert semantics as the
// Postgres store. It backs --store memory (offline demos) and the stage
// tests; it is not meant for real deployments.
type MemStore struct {
	mu sync.Mutex

	nextID int64

	originsByDomain map[string]*memOrigin
	originsByID     map[int64]*memOrigin

	resourcesByURL map[string]*memResource
	resourcesByID  map[int64]*memResource

	tagIDs       map[string]int64
	resourceTags map[[2]int64]struct{}

	history []SyncRecord
}

type memOrigin struct {
	OriginRef
	origin        string
	resourceCount int
	meta          SiteMetadata
	traction      *TractionRollup
}

type memResource struct {
	ResourceRef
	row     ResourceRow
	accepts map[string]AcceptRow // key scheme|network
}

func NewMemStore() *MemStore {
	s := &MemStore{
		originsByDomain: make(map[string]*memOrigin),
		originsByID:     make(map[int64]*memOrigin),
		resourcesByURL:  make(map[string]*memResource),
		resourcesByID:   make(map[int64]*memResource),
		tagIDs:          make(map[string]int64),
		resourceTags:    make(map[[2]int64]struct{}),
	}
	return s
}

func (s *MemStore) EnsureSchema(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range TagVocabulary(defaultTagRules) {
		if _, ok := s.tagIDs[name]; !ok {
			s.nextID++
			s.tagIDs[name] = s.nextID
		}
	}
	return nil
}

func (s *MemStore) Close() {}

func (s *MemStore) UpsertOrigin(_ context.Context, domain, originURL string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.originsByDomain[domain]; ok {
		return o.ID, false, nil
	}
	s.nextID++
	o := &memOrigin{
		OriginRef: OriginRef{ID: s.nextID, Domain: domain},
		origin:    originURL,
	}
	s.originsByDomain[domain] = o
	s.originsByID[o.ID] = o
	return o.ID, true, nil
}

func (s *MemStore) ApplySiteMetadata(_ context.Context, originID int64, md SiteMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.originsByID[originID]
	if !ok {
		return nil
	}
	// Last-writer-wins per field, never cleared.
	apply := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	apply(&o.meta.Title, md.Title)
	apply(&o.meta.Description, md.Description)
	apply(&o.meta.Favicon, md.Favicon)
	apply(&o.meta.OGImage, md.OGImage)
	apply(&o.meta.Twitter, md.Twitter)
	apply(&o.meta.Discord, md.Discord)
	apply(&o.meta.Github, md.Github)
	return nil
}

func (s *MemStore) IncResourceCount(_ context.Context, originID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.originsByID[originID]; ok {
		o.resourceCount++
	}
	return nil
}

func (s *MemStore) UpsertResource(_ context.Context, row ResourceRow) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.resourcesByURL[row.Resource]; ok {
		// Core fields replace; blobs only overwrite when present.
		prev := r.row
		if row.Metadata == nil {
			row.Metadata = prev.Metadata
		}
		if row.InputSchema == nil {
			row.InputSchema = prev.InputSchema
		}
		if row.ItemOutputSchema == nil {
			row.ItemOutputSchema = prev.ItemOutputSchema
		}
		if row.ExampleInput == nil {
			row.ExampleInput = prev.ExampleInput
		}
		if row.ExampleOutput == nil {
			row.ExampleOutput = prev.ExampleOutput
		}
		if row.InputSchemaV2 == nil {
			row.InputSchemaV2 = prev.InputSchemaV2
		}
		if row.OutputSchemaV2 == nil {
			row.OutputSchemaV2 = prev.OutputSchemaV2
		}
		if row.SelfReportedCategory == "" {
			row.SelfReportedCategory = prev.SelfReportedCategory
		}
		if row.SelfReportedTags == nil {
			row.SelfReportedTags = prev.SelfReportedTags
		}
		row.OriginID = prev.OriginID // never reassigned
		r.row = row
		r.Description = row.Description
		return r.ID, false, nil
	}
	s.nextID++
	r := &memResource{
		ResourceRef: ResourceRef{ID: s.nextID, Resource: row.Resource, Description: row.Description},
		row:         row,
		accepts:     make(map[string]AcceptRow),
	}
	s.resourcesByURL[row.Resource] = r
	s.resourcesByID[r.ID] = r
	return r.ID, true, nil
}

func (s *MemStore) UpsertAccept(_ context.Context, row AcceptRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resourcesByID[row.ResourceID]
	if !ok {
		return false, nil
	}
	key := row.Scheme + "|" + row.Network
	_, exists := r.accepts[key]
	if exists {
		prev := r.accepts[key]
		if row.OutputSchema == nil {
			row.OutputSchema = prev.OutputSchema
		}
		if row.Extra == nil {
			row.Extra = prev.Extra
		}
	}
	r.accepts[key] = row
	return !exists, nil
}

func (s *MemStore) TagIDs(context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.tagIDs))
	for k, v := range s.tagIDs {
		out[k] = v
	}
	return out, nil
}

func (s *MemStore) AddResourceTag(_ context.Context, resourceID, tagID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resourceTags[[2]int64{resourceID, tagID}] = struct{}{}
	return nil
}

func (s *MemStore) ListResources(context.Context) ([]ResourceRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ResourceRef, 0, len(s.resourcesByID))
	for id := int64(1); id <= s.nextID; id++ {
		if r, ok := s.resourcesByID[id]; ok {
			out = append(out, r.ResourceRef)
		}
	}
	return out, nil
}

func (s *MemStore) ListOrigins(context.Context) ([]OriginRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OriginRef, 0, len(s.originsByID))
	for id := int64(1); id <= s.nextID; id++ {
		if o, ok := s.originsByID[id]; ok {
			out = append(out, o.OriginRef)
		}
	}
	return out, nil
}

func (s *MemStore) OriginExpectedPrices(_ context.Context, originID int64) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[float64]struct{})
	var out []float64
	for _, r := range s.resourcesByID {
		if r.row.OriginID != originID {
			continue
		}
		for _, a := range r.accepts {
			if a.PriceUSD == nil || *a.PriceUSD <= 0 {
				continue
			}
			if _, ok := seen[*a.PriceUSD]; ok {
				continue
			}
			seen[*a.PriceUSD] = struct{}{}
			out = append(out, *a.PriceUSD)
		}
	}
	return out, nil
}

func (s *MemStore) OriginPayoutAddresses(_ context.Context, originID int64) ([]PayoutAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[PayoutAddress]struct{})
	var out []PayoutAddress
	for _, r := range s.resourcesByID {
		if r.row.OriginID != originID {
			continue
		}
		for _, a := range r.accepts {
			if a.PayTo == "" || a.Network == "" {
				continue
			}
			pa := PayoutAddress{Network: a.Network, Address: a.PayTo}
			if _, ok := seen[pa]; ok {
				continue
			}
			seen[pa] = struct{}{}
			out = append(out, pa)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateOriginTraction(_ context.Context, originID int64, roll TractionRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.originsByID[originID]; ok {
		r := roll
		o.traction = &r
	}
	return nil
}

func (s *MemStore) InsertSyncRecord(_ context.Context, rec SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	return nil
}

// ───────── test/demo accessors ─────────

func (s *MemStore) OriginResourceCount(originID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.originsByID[originID]; ok {
		return o.resourceCount
	}
	return 0
}

func (s *MemStore) ResourceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resourcesByURL)
}

func (s *MemStore) ResourceByURL(u string) (ResourceRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.resourcesByURL[u]; ok {
		return r.row, true
	}
	return ResourceRow{}, false
}

func (s *MemStore) AcceptsByURL(u string) []AcceptRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resourcesByURL[u]
	if !ok {
		return nil
	}
	out := make([]AcceptRow, 0, len(r.accepts))
	for _, a := range r.accepts {
		out = append(out, a)
	}
	return out
}

func (s *MemStore) TagsForResource(resourceID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[int64]string, len(s.tagIDs))
	for name, id := range s.tagIDs {
		byID[id] = name
	}
	var out []string
	for key := range s.resourceTags {
		if key[0] == resourceID {
			out = append(out, byID[key[1]])
		}
	}
	return out
}

func (s *MemStore) TractionFor(originID int64) *TractionRollup {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.originsByID[originID]; ok && o.traction != nil {
		r := *o.traction
		return &r
	}
	return nil
}

func (s *MemStore) SiteMetadataFor(originID int64) SiteMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.originsByID[originID]; ok {
		return o.meta
	}
	return SiteMetadata{}
}

func (s *MemStore) History() []SyncRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SyncRecord, len(s.history))
	copy(out, s.history)
	return out
}

package main

import "x402sync/facilitators"

// ───────── Deduplicator ─────────

// Dedupe collapses listings advertised by multiple facilitators onto one
// record per resource URL. The listing with the greater raw lastUpdated
// string wins; the first-seen listing wins ties. The comparison is on the
// raw string, not a parsed instant, so it is only correct for uniformly
// formatted ISO-8601 timestamps.
func Dedupe(items []facilitators.Listing) []facilitators.Listing {
	out := make([]facilitators.Listing, 0, len(items))
	index := make(map[string]int, len(items))

	for _, it := range items {
		key := it.Resource
		if prev, ok := index[key]; ok {
			if string(it.LastUpdated) > string(out[prev].LastUpdated) {
				out[prev] = it
			}
			continue
		}
		index[key] = len(out)
		out = append(out, it)
	}
	return out
}

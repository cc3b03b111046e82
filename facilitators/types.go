// Package facilitators contains pluggable discovery sources.
//
// A source yields raw listings from one facilitator's discovery endpoint.
// The networked source speaks the x402 discovery protocol (offset/limit
// pagination); the mock source is offline-safe and deterministic for demos
// and unit tests.
package facilitators

import (
	"encoding/json"
	"strings"
)

// LooseString decodes a JSON string or bare number, preserving the raw text
// form. Facilitators disagree on whether amounts and timestamps are strings.
type LooseString string

func (s *LooseString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = LooseString(v)
		return nil
	}
	*s = LooseString(string(b))
	return nil
}

func (s LooseString) String() string { return string(s) }

// Accept is one payment option a resource is willing to accept.
type Accept struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	Asset             string          `json:"asset"`
	PayTo             string          `json:"payTo"`
	MaxAmountRequired LooseString     `json:"maxAmountRequired"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds"`
	Description       string          `json:"description"`
	MimeType          string          `json:"mimeType"`
	Channel           string          `json:"channel"`
	OutputSchema      json.RawMessage `json:"outputSchema"`
	Extra             json.RawMessage `json:"extra"`
}

// ExtraFields are the known keys inside an accept's free-form extra blob.
// Unknown keys are preserved in the raw payload, not here.
type ExtraFields struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
}

// ExtraKnown parses the known fields out of Extra. A malformed or absent
// blob yields zero values, never an error.
func (a Accept) ExtraKnown() ExtraFields {
	var ef ExtraFields
	if len(a.Extra) > 0 {
		_ = json.Unmarshal(a.Extra, &ef)
	}
	return ef
}

// InputHints are the nested input-schema fields some facilitators embed in
// an accept's outputSchema.
type InputHints struct {
	Method       string `json:"method"`
	Discoverable *bool  `json:"discoverable"`
}

// InputHintsKnown parses outputSchema.input. Malformed blobs yield zero
// values.
func (a Accept) InputHintsKnown() InputHints {
	var wrapped struct {
		Input InputHints `json:"input"`
	}
	if len(a.OutputSchema) > 0 {
		_ = json.Unmarshal(a.OutputSchema, &wrapped)
	}
	return wrapped.Input
}

// Metadata is the x402 v2 "Bazaar" discovery extension payload.
type Metadata struct {
	Input        json.RawMessage `json:"input"`
	Output       json.RawMessage `json:"output"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema"`
	Category     string          `json:"category"`
	Tags         []string        `json:"tags"`
	Description  string          `json:"description"`
}

// Listing is one raw discovery item as advertised by a facilitator.
type Listing struct {
	Resource     string          `json:"resource"`
	Type         string          `json:"type"`
	X402Version  int             `json:"x402Version"`
	Method       string          `json:"method"`
	LastUpdated  LooseString     `json:"lastUpdated"`
	Category     string          `json:"category"`
	Tags         []string        `json:"tags"`
	Metadata     *Metadata       `json:"metadata"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema"`
	Accepts      []Accept        `json:"accepts"`

	// Facilitator is set by the engine, not the wire payload.
	Facilitator string `json:"-"`
}

// SelfReportedCategory prefers the item-level field over the metadata-level
// one.
func (l Listing) SelfReportedCategory() string {
	if v := strings.TrimSpace(l.Category); v != "" {
		return v
	}
	if l.Metadata != nil {
		return strings.TrimSpace(l.Metadata.Category)
	}
	return ""
}

// SelfReportedTags prefers the item-level field over the metadata-level one.
func (l Listing) SelfReportedTags() []string {
	if len(l.Tags) > 0 {
		return l.Tags
	}
	if l.Metadata != nil {
		return l.Metadata.Tags
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"strings"
)

// ───────── Auto-tagger ─────────

// TagRule maps one category tag to the keywords that trigger it.
type TagRule struct {
	Name     string
	Keywords []string
}

// otherTag is assigned when no keyword rule matches.
const otherTag = "other"

var defaultTagRules = []TagRule{
	{Name: "ai_agent", Keywords: []string{
		"agent", "swarm", "autonomous", "workflow", "assistant", "bot",
		"eliza", "virtuals", "daydreams", "ai-agent", "aiagent",
	}},
	{Name: "llm_inference", Keywords: []string{
		"llm", "gpt", "claude", "gemini", "inference", "completion", "chat",
		"openai", "anthropic", "mistral", "llama", "generate",
	}},
	{Name: "blockchain_data", Keywords: []string{
		"onchain", "on-chain", "token-info", "dex-data", "chain-data",
		"blockchain", "transaction", "block", "address", "balance",
	}},
	{Name: "trading", Keywords: []string{
		"trade", "trading", "swap", "dex", "exchange", "market", "price",
		"order", "quote", "liquidity",
	}},
	{Name: "nft", Keywords: []string{
		"nft", "collectible", "mint", "metadata", "opensea", "collection",
	}},
	{Name: "payment", Keywords: []string{
		"payment", "pay", "transfer", "usdc", "send", "receive", "wallet",
	}},
	{Name: "social_media", Keywords: []string{
		"twitter", "social", "tweet", "post", "farcaster", "lens", "x.com",
		"analytics", "follower",
	}},
	{Name: "developer_tools", Keywords: []string{
		"sdk", "api", "developer", "tool", "utility", "webhook", "rpc",
		"endpoint", "integration",
	}},
	{Name: "content", Keywords: []string{
		"media", "image", "video", "article", "content", "generate-image",
		"text-to", "image-to",
	}},
	{Name: "security", Keywords: []string{
		"security", "risk", "compliance", "audit", "verify", "kyc", "aml",
	}},
}

// TagVocabulary returns every tag name a store must carry, sentinel included.
func TagVocabulary(rules []TagRule) []string {
	out := make([]string, 0, len(rules)+1)
	for _, r := range rules {
		out = append(out, r.Name)
	}
	return append(out, otherTag)
}

// DetectTags tests URL+description against the keyword rules, in rule order.
// No match yields the "other" sentinel.
func DetectTags(rules []TagRule, resourceURL, description string) []string {
	text := strings.ToLower(resourceURL + " " + description)
	var tags []string
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				tags = append(tags, rule.Name)
				break
			}
		}
	}
	if len(tags) == 0 {
		tags = []string{otherTag}
	}
	return tags
}

// Tagger assigns category tags by keyword match. Association writes are
// upserts, so re-running with changed rules only ever grows a resource's
// tag set.
type Tagger struct {
	rules []TagRule
	store Store
	ids   map[string]int64
}

func NewTagger(store Store, rules []TagRule) *Tagger {
	if rules == nil {
		rules = defaultTagRules
	}
	return &Tagger{rules: rules, store: store}
}

// Tag detects and persists tags for one resource, returning the applied
// names.
func (t *Tagger) Tag(ctx context.Context, resourceID int64, resourceURL, description string) ([]string, error) {
	if t.ids == nil {
		ids, err := t.store.TagIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("load tag vocabulary: %w", err)
		}
		t.ids = ids
	}

	names := DetectTags(t.rules, resourceURL, description)
	applied := make([]string, 0, len(names))
	for _, name := range names {
		id, ok := t.ids[name]
		if !ok {
			continue
		}
		if err := t.store.AddResourceTag(ctx, resourceID, id); err != nil {
			return applied, err
		}
		applied = append(applied, name)
	}
	return applied, nil
}

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectTags(t *testing.T) {
	tags := DetectTags(defaultTagRules, "https://x.com/api/swap", "Token swap service")
	assert.Contains(t, tags, "trading")

	// URL alone can trigger a rule.
	tags = DetectTags(defaultTagRules, "https://example.com/nft/mint", "")
	assert.Contains(t, tags, "nft")

	// No keyword hit yields exactly the sentinel.
	tags = DetectTags(defaultTagRules, "https://example.com/zzz", "qqq")
	assert.Equal(t, []string{"other"}, tags)

	// Matching is case-insensitive and multi-rule.
	tags = DetectTags(defaultTagRules, "https://example.com/", "LLM Agent marketplace")
	assert.Contains(t, tags, "ai_agent")
	assert.Contains(t, tags, "llm_inference")
}

func TestTagVocabularyIncludesSentinel(t *testing.T) {
	vocab := TagVocabulary(defaultTagRules)
	assert.Len(t, vocab, len(defaultTagRules)+1)
	assert.Equal(t, "other", vocab[len(vocab)-1])
}

func TestTaggerPersistsAndGrowsMonotonically(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.EnsureSchema(ctx))

	id, _, err := store.UpsertOrigin(ctx, "x.com", "https://x.com")
	require.NoError(t, err)
	resID, _, err := store.UpsertResource(ctx, ResourceRow{OriginID: id, Resource: "https://x.com/api/swap"})
	require.NoError(t, err)

	tagger := NewTagger(store, nil)
	names, err := tagger.Tag(ctx, resID, "https://x.com/api/swap", "Token swap service")
	require.NoError(t, err)
	assert.Contains(t, names, "trading")
	assert.ElementsMatch(t, names, store.TagsForResource(resID))

	// A second pass with a richer description only adds tags.
	before := store.TagsForResource(resID)
	_, err = tagger.Tag(ctx, resID, "https://x.com/api/swap", "Token swap service for NFT mints")
	require.NoError(t, err)
	after := store.TagsForResource(resID)
	for _, name := range before {
		assert.Contains(t, after, name)
	}
	assert.Contains(t, after, "nft")
}

package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{Path: filepath.Join(t.TempDir(), "semantic_memory.json")})
	require.NoError(t, err)
	return svc
}

func TestProcess_StoreThenRecall(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Process(ctx, "remember I like samosas and murmura", "S5")
	require.NoError(t, err)
	require.Equal(t, ActionStore, res.Action)
	assert.NotEmpty(t, res.Reply)
	require.NotEmpty(t, res.Facts)

	res, err = svc.Process(ctx, "what do you know about me?", "S5")
	require.NoError(t, err)
	require.Equal(t, ActionRecall, res.Action)
	assert.Contains(t, res.Reply, "samosa")
	assert.Contains(t, res.Reply, "murmura")
}

func TestProcess_StoreIsIdempotentUnderMerge(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Process(ctx, "remember I like samosas", "S1")
	require.NoError(t, err)
	_, err = svc.Process(ctx, "remember I like samosas", "S1")
	require.NoError(t, err)

	stats := svc.Stats()
	assert.Equal(t, 1, stats.TotalFacts)
}

func TestProcess_ForgetRemovesMatching(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Process(ctx, "remember I like samosas", "S1")
	require.NoError(t, err)
	_, err = svc.Process(ctx, "remember that my goal is i want to run a marathon", "S1")
	require.NoError(t, err)

	res, err := svc.Process(ctx, "forget that I like samosas", "S1")
	require.NoError(t, err)
	require.Equal(t, ActionForget, res.Action)
	require.NotEmpty(t, res.Facts)

	// The forgotten content no longer appears in the AI context.
	summary := svc.ContextForAI("S1")
	assert.NotContains(t, summary, "samosas")
	assert.Contains(t, summary, "marathon")
}

func TestProcess_NoneForOrdinaryChat(t *testing.T) {
	svc := newTestService(t)

	res, err := svc.Process(context.Background(), "how tall is the Eiffel Tower?", "S1")
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Equal(t, 0, svc.Stats().TotalFacts)
}

func TestPersistenceAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semantic_memory.json")

	svc, err := NewService(Config{Path: path})
	require.NoError(t, err)
	_, err = svc.Process(context.Background(), "remember I like green tea", "S1")
	require.NoError(t, err)

	reloaded, err := NewService(Config{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Stats().TotalFacts)
	assert.Contains(t, reloaded.ContextForAI("S1"), "green tea")
}

func TestMergePolicy_IdentityPrefersSpecific(t *testing.T) {
	svc := newTestService(t)

	a := newFact("i live in pune", CategoryIdentity, 0.6, "a", "S1")
	b := newFact("i live in pune near the river", CategoryIdentity, 0.6, "b", "S1")

	svc.mu.Lock()
	svc.upsertLocked(a)
	kept := svc.upsertLocked(b)
	svc.mu.Unlock()

	assert.Equal(t, "i live in pune near the river", kept.Content)
	assert.Equal(t, 1, len(svc.facts))

	sources, _ := kept.Metadata["source_messages"].([]any)
	assert.Len(t, sources, 2)
}

func TestGuessCategory(t *testing.T) {
	testCases := []struct {
		content  string
		expected Category
	}{
		{"i like samosas", CategoryPreferences},
		{"my name is alex", CategoryIdentity},
		{"my sister works in delhi", CategoryRelationships},
		{"i can play the violin", CategorySkills},
		{"i want to learn go", CategoryGoals},
		{"keep your answers short", CategoryStyle},
		{"the wifi password is hunter2", CategoryFacts},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, guessCategory(tc.content), "content %q", tc.content)
	}
}

func TestTokenOverlap(t *testing.T) {
	assert.InDelta(t, 1.0, tokenOverlap("i like samosas", "i like samosas"), 0.001)
	assert.InDelta(t, 1.0, tokenOverlap("samosas", "i like samosas"), 0.001)
	assert.Less(t, tokenOverlap("i like samosas", "the weather in delhi"), 0.5)
	assert.Zero(t, tokenOverlap("", "anything"))
}

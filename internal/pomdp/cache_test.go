package pomdp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey(t *testing.T) {
	key := NewCacheKey(1.04, -50, 0.99)

	assert.Equal(t, 10, key.SkillBucket, "1.04 rounds to the 1.0 bucket")
	assert.Equal(t, -50, key.Penalty)
	assert.Equal(t, 9900, key.DiscountBasis)
	assert.InDelta(t, 1.0, key.Skill(), 1e-12)
	assert.Equal(t, "dai_g10_p-50_d9900.policy.json", key.Filename())

	// Same bucket, same key: no re-solve for sub-bucket skill drift.
	assert.Equal(t, key, NewCacheKey(0.96, -50, 0.99))
	assert.NotEqual(t, key, NewCacheKey(1.16, -50, 0.99))
	assert.NotEqual(t, key, NewCacheKey(1.04, -10, 0.99))
}

func TestFileCacheRoundTrip(t *testing.T) {
	cache, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	key := NewCacheKey(1.0, -50, 0.99)
	assert.False(t, cache.Has(key))

	_, ok, err := cache.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)

	want := &Policy{
		NumStates: 3,
		Vectors: []AlphaVector{
			{Action: ActionSubmitTrue, Values: []float64{0, -50, 0}},
			{Action: ActionRequestLabel, Values: []float64{-1, -1, 0}, Masked: []bool{false, false, true}},
		},
	}
	require.NoError(t, cache.Put(key, want))
	assert.True(t, cache.Has(key))

	got, ok, err := cache.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestFileCachePutLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewFileCache(dir)
	require.NoError(t, err)

	key := NewCacheKey(1.2, -10, 0.99)
	require.NoError(t, cache.Put(key, &Policy{NumStates: 1, Vectors: []AlphaVector{{Action: ActionSubmitTrue, Values: []float64{0}}}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, key.Filename(), entries[0].Name())
	assert.False(t, strings.Contains(entries[0].Name(), ".tmp"))
}

func TestFileCacheOverwrite(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewFileCache(dir)
	require.NoError(t, err)

	key := NewCacheKey(1.0, -10, 0.99)
	require.NoError(t, cache.Put(key, &Policy{NumStates: 1, Vectors: []AlphaVector{{Values: []float64{1}}}}))
	require.NoError(t, cache.Put(key, &Policy{NumStates: 1, Vectors: []AlphaVector{{Values: []float64{2}}}}))

	got, ok, err := cache.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Vectors[0].Values[0])

	_, err = os.Stat(filepath.Join(dir, key.Filename()))
	assert.NoError(t, err)
}

func TestProviderCachesAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewFileCache(dir)
	require.NoError(t, err)

	cfg := testSolverConfig()
	cfg.MaxIterations = 5 // keep the test solve cheap

	provider := NewProvider(cache, 11, -1, 0, -10, cfg)
	first, err := provider.Policy(context.Background(), 1.02)
	require.NoError(t, err)

	// A fresh provider over the same directory must hit the disk cache.
	provider2 := NewProvider(cache, 11, -1, 0, -10, cfg)
	second, err := provider2.Policy(context.Background(), 0.98)
	require.NoError(t, err)
	assert.Equal(t, first, second, "both skills bucket to 1.0")
}

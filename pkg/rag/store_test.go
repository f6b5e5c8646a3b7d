package rag

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIndexDir(t *testing.T, full, versions []Passage) string {
	t.Helper()
	dir := t.TempDir()

	manifest := `version: 1
indexes:
  - name: manual
    kind: full
    file: manual.json
  - name: versions
    kind: versions
    file: versions.json
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644))

	fullData, err := json.Marshal(full)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manual.json"), fullData, 0o644))

	versionsData, err := json.Marshal(versions)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "versions.json"), versionsData, 0o644))

	return dir
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)

	// Mismatched lengths and zero vectors score zero.
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{1, 0, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 0}))
}

func TestLoadStoreAndRetrieve(t *testing.T) {
	full := []Passage{
		{ID: "a", Content: "warping audio clips", Embedding: []float64{1, 0, 0}},
		{ID: "b", Content: "sidechain compression", Embedding: []float64{0, 1, 0}},
		{ID: "c", Content: "warp markers in detail", Embedding: []float64{0.9, 0.1, 0}},
	}
	versions := []Passage{
		{ID: "v1", Content: "feature added in version 11", Edition: "Suite", Embedding: []float64{1, 0, 0}},
		{ID: "v2", Content: "removed in version 12", Edition: "Lite", Embedding: []float64{0, 0, 1}},
		{ID: "v3", Content: "unchanged across versions", Embedding: []float64{0.5, 0.5, 0}},
	}

	store, err := LoadStore(writeIndexDir(t, full, versions), 0.0)
	require.NoError(t, err)
	assert.Equal(t, 3, store.FullIndexSize())
	assert.Equal(t, 3, store.VersionsIndexSize())

	result := store.Retrieve([]float64{1, 0, 0}, 2)

	require.Len(t, result.Full, 2)
	assert.Equal(t, "a", result.Full[0].ID)
	assert.Equal(t, "c", result.Full[1].ID)

	// Versions index always yields at most VersionsTopK passages.
	require.Len(t, result.Versions, VersionsTopK)
	assert.Equal(t, "v1", result.Versions[0].ID)
}

func TestRetrieveMinScoreFilter(t *testing.T) {
	full := []Passage{
		{ID: "close", Content: "relevant", Embedding: []float64{1, 0}},
		{ID: "far", Content: "irrelevant", Embedding: []float64{0, 1}},
	}

	store, err := LoadStore(writeIndexDir(t, full, nil), 0.5)
	require.NoError(t, err)

	result := store.Retrieve([]float64{1, 0}, 5)
	require.Len(t, result.Full, 1)
	assert.Equal(t, "close", result.Full[0].ID)
}

func TestLoadStoreMissingIndexFile(t *testing.T) {
	dir := t.TempDir()
	manifest := `version: 1
indexes:
  - name: manual
    kind: full
    file: does-not-exist.json
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644))

	store, err := LoadStore(dir, 0.0)
	require.NoError(t, err)
	assert.Equal(t, 0, store.FullIndexSize())
	assert.Empty(t, store.Retrieve([]float64{1}, 3).Full)
}

func TestLoadStoreMissingManifest(t *testing.T) {
	_, err := LoadStore(t.TempDir(), 0.0)
	assert.Error(t, err)
}

func TestHashEmbedderDeterministicAndNormalized(t *testing.T) {
	embedder := NewHashEmbedder(64)

	a, err := embedder.Embed(context.Background(), "Warp Markers in Live")
	require.NoError(t, err)
	b, err := embedder.Embed(context.Background(), "warp markers in live")
	require.NoError(t, err)

	// Case-insensitive and deterministic.
	assert.Equal(t, a, b)

	var magnitude float64
	for _, v := range a {
		magnitude += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(magnitude), 1e-9)
}

func TestHashEmbedderEmptyText(t *testing.T) {
	embedder := NewHashEmbedder(16)
	v, err := embedder.Embed(context.Background(), "   ")
	require.NoError(t, err)
	require.Len(t, v, 16)
	for _, x := range v {
		assert.Equal(t, 0.0, x)
	}
}

func TestHashEmbedderSimilarTextScoresHigher(t *testing.T) {
	embedder := NewHashEmbedder(256)

	query, err := embedder.Embed(context.Background(), "how do I warp an audio clip")
	require.NoError(t, err)
	near, err := embedder.Embed(context.Background(), "warp an audio clip using warp markers")
	require.NoError(t, err)
	far, err := embedder.Embed(context.Background(), "configure midi controller mappings")
	require.NoError(t, err)

	assert.Greater(t, CosineSimilarity(query, near), CosineSimilarity(query, far))
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, assert.AnError
}

func TestFallbackEmbedder(t *testing.T) {
	fallback := NewFallbackEmbedder(failingEmbedder{}, NewHashEmbedder(32))

	v, err := fallback.Embed(context.Background(), "some query")
	require.NoError(t, err)
	assert.Len(t, v, 32)
}

func TestBuildContext(t *testing.T) {
	passages := []Passage{
		{ID: "a", Content: "First manual passage about warping.", Metadata: map[string]string{"title": "Warping", "page": "112", "chapter": "9"}},
		{ID: "b", Content: "Second manual passage about clips."},
	}

	text := BuildContext(passages, 1000)
	assert.Contains(t, text, "[Section: Warping, Page: 112, Chapter: 9]")
	assert.Contains(t, text, "First manual passage about warping.")
	assert.Contains(t, text, "\n\n---\n\n")
	assert.Contains(t, text, "Second manual passage about clips.")
}

func TestBuildContextRespectsBudget(t *testing.T) {
	passages := []Passage{
		{ID: "a", Content: "short passage"},
		{ID: "b", Content: "this longer passage should not fit in the remaining budget at all"},
	}

	text := BuildContext(passages, 8)
	assert.Contains(t, text, "short passage")
	assert.NotContains(t, text, "longer passage")
}

func TestBuildContextEmpty(t *testing.T) {
	assert.Equal(t, "", BuildContext(nil, 100))
}

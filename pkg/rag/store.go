// Package rag provides documentation retrieval over precomputed embedding indexes.
// Passages are scored with cosine similarity in a linear scan, which is plenty
// for manual-sized corpora.
package rag

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"guidance/pkg/logx"
)

// Index kinds recognized in the manifest.
const (
	KindFull     = "full"     // the full product manual
	KindVersions = "versions" // edition and version compatibility notes
)

// VersionsTopK is the number of version compatibility passages retrieved per query.
const VersionsTopK = 2

// Passage is a documentation chunk with its precomputed embedding.
type Passage struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Edition   string            `json:"edition,omitempty"`
	Embedding []float64         `json:"embedding"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Manifest describes the embedding index files that make up a store.
type Manifest struct {
	Version int `yaml:"version"`
	Indexes []struct {
		Name string `yaml:"name"`
		Kind string `yaml:"kind"`
		File string `yaml:"file"`
	} `yaml:"indexes"`
}

// Result holds retrieved passages split by index kind.
type Result struct {
	Full     []Passage
	Versions []Passage
}

// Store holds the loaded embedding indexes.
type Store struct {
	fullIndex     []Passage
	versionsIndex []Passage
	minScore      float64
	logger        *logx.Logger
}

// NewStore builds a store directly from passage slices.
func NewStore(full, versions []Passage, minScore float64) *Store {
	return &Store{
		fullIndex:     full,
		versionsIndex: versions,
		minScore:      minScore,
		logger:        logx.NewLogger("rag"),
	}
}

// LoadStore reads the manifest at dir/manifest.yaml and loads the listed
// passage files. Missing index files are logged and skipped so the server can
// start in a degraded mode.
func LoadStore(dir string, minScore float64) (*Store, error) {
	logger := logx.NewLogger("rag")

	manifestPath := filepath.Join(dir, "manifest.yaml")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read index manifest %s: %w", manifestPath, err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse index manifest %s: %w", manifestPath, err)
	}

	s := &Store{
		minScore: minScore,
		logger:   logger,
	}

	for _, idx := range manifest.Indexes {
		path := filepath.Join(dir, idx.File)
		passages, err := loadPassages(path)
		if err != nil {
			logger.Warn("Skipping index %s: %v", idx.Name, err)
			continue
		}

		switch idx.Kind {
		case KindFull:
			s.fullIndex = append(s.fullIndex, passages...)
		case KindVersions:
			s.versionsIndex = append(s.versionsIndex, passages...)
		default:
			logger.Warn("Unknown index kind %q for %s, skipping", idx.Kind, idx.Name)
			continue
		}

		logger.Info("Loaded %d passages from %s", len(passages), idx.File)
	}

	if len(s.fullIndex) == 0 {
		logger.Warn("No manual passages loaded, retrieval will return empty results")
	}

	return s, nil
}

// loadPassages reads a JSON array of passages from disk.
func loadPassages(path string) ([]Passage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read passage file: %w", err)
	}

	var passages []Passage
	if err := json.Unmarshal(raw, &passages); err != nil {
		return nil, fmt.Errorf("failed to parse passage file %s: %w", path, err)
	}

	return passages, nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}

	if magA == 0 || magB == 0 {
		return 0.0
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// topMatches returns the topK highest scoring passages above the minimum score.
func (s *Store) topMatches(passages []Passage, queryEmbedding []float64, topK int) []Passage {
	type scored struct {
		passage Passage
		score   float64
	}

	candidates := make([]scored, 0, len(passages))
	for i := range passages {
		score := CosineSimilarity(queryEmbedding, passages[i].Embedding)
		if score < s.minScore {
			continue
		}
		candidates = append(candidates, scored{passage: passages[i], score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	result := make([]Passage, 0, len(candidates))
	for i := range candidates {
		result = append(result, candidates[i].passage)
	}
	return result
}

// Retrieve returns the topK manual passages and a fixed number of version
// compatibility passages for the query embedding.
func (s *Store) Retrieve(queryEmbedding []float64, topK int) Result {
	return Result{
		Full:     s.topMatches(s.fullIndex, queryEmbedding, topK),
		Versions: s.topMatches(s.versionsIndex, queryEmbedding, VersionsTopK),
	}
}

// FullIndexSize returns the number of manual passages loaded.
func (s *Store) FullIndexSize() int {
	return len(s.fullIndex)
}

// VersionsIndexSize returns the number of version compatibility passages loaded.
func (s *Store) VersionsIndexSize() int {
	return len(s.versionsIndex)
}

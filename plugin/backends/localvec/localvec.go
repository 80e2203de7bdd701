// Package localvec is a file-backed vector store with brute-force cosine
// search. It is the default vector_db backend for single-process runs.
package localvec

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/plugin"
)

const (
	defaultThreshold = 1.0
	defaultNResults  = 10
	storeFileName    = "vector_store.json"
)

func init() {
	plugin.Register(config.CategoryVectorDB, "localvec", newStore)
}

type record struct {
	ObjID     string    `json:"obj_id"`
	Embedding []float64 `json:"embedding"`
	Repos     []string  `json:"repos,omitempty"`
	Type      string    `json:"type,omitempty"`
	Locations []string  `json:"locations,omitempty"`
}

// Store holds one record list per collection and persists the whole store
// as a JSON file under the storage root.
type Store struct {
	path string

	mu          sync.RWMutex
	Collections map[string][]record `json:"collections"`
}

func newStore(args plugin.Args, deps plugin.Deps) (any, error) {
	s := &Store{Collections: map[string][]record{}}
	if deps.StorageRoot != "" {
		s.path = filepath.Join(deps.StorageRoot, storeFileName)
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return plugin.NewBackendError("localvec", "failed to read store: %v", err)
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return plugin.NewBackendError("localvec", "corrupt store %s: %v", s.path, err)
	}
	return nil
}

// persist is called with the lock held.
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return plugin.NewBackendError("localvec", "failed to marshal store: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return plugin.NewBackendError("localvec", "failed to create store dir: %v", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return plugin.NewBackendError("localvec", "failed to write store: %v", err)
	}
	return nil
}

// Insert adds one record per index. Duplicate (collection, obj_id,
// embedding) inserts are allowed; retrieval dedupes by obj_id.
func (s *Store) Insert(_ context.Context, collection string, indices []core.Index, objID string, repoFilters []string, typeFilter string, locationFilters []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, idx := range indices {
		s.Collections[collection] = append(s.Collections[collection], record{
			ObjID:     objID,
			Embedding: idx.Embedding,
			Repos:     repoFilters,
			Type:      typeFilter,
			Locations: locationFilters,
		})
	}
	return s.persist()
}

// Query returns obj_ids whose cosine distance to the embedding is below the
// threshold, closest first, deduped, capped at n_results.
func (s *Store) Query(_ context.Context, collection string, embedding []float64, repoFilters, typeFilters, locationFilters []string, args plugin.QueryArgs) ([]string, error) {
	threshold := args.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	limit := args.NResults
	if limit == 0 {
		limit = defaultNResults
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type hit struct {
		objID    string
		distance float64
	}
	var hits []hit
	for _, rec := range s.Collections[collection] {
		if !matchesAny(rec.Repos, repoFilters) {
			continue
		}
		if len(typeFilters) > 0 && !contains(typeFilters, rec.Type) {
			continue
		}
		if len(locationFilters) > 0 && !matchesAny(rec.Locations, locationFilters) {
			continue
		}
		d, ok := cosineDistance(embedding, rec.Embedding)
		if !ok || d >= threshold {
			continue
		}
		hits = append(hits, hit{objID: rec.ObjID, distance: d})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })

	seen := map[string]bool{}
	var out []string
	for _, h := range hits {
		if seen[h.objID] {
			continue
		}
		seen[h.objID] = true
		out = append(out, h.objID)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func matchesAny(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if contains(have, w) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// cosineDistance is 1 - cosine similarity. Mismatched dimensionality or a
// zero vector yields no result.
func cosineDistance(a, b []float64) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), true
}

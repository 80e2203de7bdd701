// Package repository provides typed persistence over the document-store
// plugin. Every repository follows the same pattern: saves write straight
// through to the backend, batch loads go through a bounded per-repository
// LRU cache that only reads populate.
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/engramic/engramic-go/plugin"
)

const defaultCacheSize = 1024

// store is the shared backend access layer under the typed repositories.
type store struct {
	db    plugin.DB
	table plugin.Table
	cache *lru.Cache[string, map[string]any]
}

func newStore(db plugin.DB, table plugin.Table, cacheSize int) (*store, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, map[string]any](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache for %s: %w", table, err)
	}
	return &store{db: db, table: table, cache: cache}, nil
}

// save writes documents through to the backend. The cache is not populated
// and not invalidated; single-process operation never reads a stale entry
// because ids are immutable once written.
func (s *store) save(ctx context.Context, docs ...map[string]any) error {
	return s.db.InsertDocuments(ctx, s.table, docs)
}

// load fetches one document, bypassing the cache.
func (s *store) load(ctx context.Context, id string) (map[string]any, error) {
	docs, err := s.db.Fetch(ctx, s.table, []string{id}, nil)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// loadBatch returns cached entries plus backend fetches for the misses.
// Fetched documents populate the cache. Missing ids are silently absent
// from the result; set semantics, input order not guaranteed.
func (s *store) loadBatch(ctx context.Context, ids []string) ([]map[string]any, error) {
	var out []map[string]any
	var misses []string
	seen := map[string]bool{}

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if doc, ok := s.cache.Get(id); ok {
			out = append(out, doc)
			continue
		}
		misses = append(misses, id)
	}

	if len(misses) > 0 {
		fetched, err := s.db.Fetch(ctx, s.table, misses, nil)
		if err != nil {
			return nil, err
		}
		for _, doc := range fetched {
			if id, ok := doc["id"].(string); ok {
				s.cache.Add(id, doc)
			}
			out = append(out, doc)
		}
	}
	return out, nil
}

// toDocument maps an entity to its free-form document form.
func toDocument(entity any) (map[string]any, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to map entity to document: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to map entity to document: %w", err)
	}
	return doc, nil
}

// fromDocument maps a document back to a typed entity.
func fromDocument[T any](doc map[string]any) (T, error) {
	var entity T
	raw, err := json.Marshal(doc)
	if err != nil {
		return entity, fmt.Errorf("failed to decode document: %w", err)
	}
	if err := json.Unmarshal(raw, &entity); err != nil {
		return entity, fmt.Errorf("failed to decode document: %w", err)
	}
	return entity, nil
}

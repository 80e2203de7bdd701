// Package mock provides replay backends for every plugin category. Each
// call returns the next recording captured for its (usage, method) slot, so
// a recorded run replays deterministically without network access.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/plugin"
)

func init() {
	plugin.Register(config.CategoryLLM, "mock", newLLM)
	plugin.Register(config.CategoryEmbedding, "mock", newEmbedding)
	plugin.Register(config.CategoryVectorDB, "mock", newVectorDB)
	plugin.Register(config.CategoryDB, "mock", newDB)
}

func collector(deps plugin.Deps) (*plugin.Collector, error) {
	if deps.Collector == nil {
		return nil, plugin.NewLoadError("mock backend requires a collector with loaded recordings")
	}
	return deps.Collector, nil
}

// LLM replays recorded completions.
type LLM struct {
	collector *plugin.Collector
}

func newLLM(args plugin.Args, deps plugin.Deps) (any, error) {
	c, err := collector(deps)
	if err != nil {
		return nil, err
	}
	return &LLM{collector: c}, nil
}

func (l *LLM) Submit(_ context.Context, _ string, _ map[string]string, args plugin.Args) (string, error) {
	rec, err := l.collector.NextReplay(args.String("usage", "default"), "submit")
	if err != nil {
		return "", err
	}
	return rec.Response, nil
}

func (l *LLM) SubmitStreaming(_ context.Context, _ string, args plugin.Args, sink plugin.StreamSink) (string, error) {
	rec, err := l.collector.NextReplay(args.String("usage", "default"), "submit_streaming")
	if err != nil {
		return "", err
	}
	if sink != nil {
		if err := sink.Send(core.StreamPacket{Text: rec.Response}); err != nil {
			return "", plugin.NewBackendError("mock", "stream sink failed: %v", err)
		}
		if err := sink.Send(core.StreamPacket{IsTerminal: true}); err != nil {
			return "", plugin.NewBackendError("mock", "stream sink failed: %v", err)
		}
	}
	return rec.Response, nil
}

// Embedding replays recorded embedding batches.
type Embedding struct {
	collector *plugin.Collector
}

func newEmbedding(args plugin.Args, deps plugin.Deps) (any, error) {
	c, err := collector(deps)
	if err != nil {
		return nil, err
	}
	return &Embedding{collector: c}, nil
}

func (e *Embedding) GenEmbed(_ context.Context, inputs []string, args plugin.Args) ([][]float64, error) {
	rec, err := e.collector.NextReplay(args.String("usage", "default"), "gen_embed")
	if err != nil {
		return nil, err
	}
	if len(rec.Embeddings) != len(inputs) {
		return nil, plugin.NewBackendError("mock", "recorded embedding count mismatch: want %d, got %d", len(inputs), len(rec.Embeddings))
	}
	return rec.Embeddings, nil
}

// VectorDB replays recorded query results; inserts are accepted and
// discarded.
type VectorDB struct {
	collector *plugin.Collector
}

func newVectorDB(args plugin.Args, deps plugin.Deps) (any, error) {
	c, err := collector(deps)
	if err != nil {
		return nil, err
	}
	return &VectorDB{collector: c}, nil
}

func (v *VectorDB) Insert(_ context.Context, _ string, _ []core.Index, _ string, _ []string, _ string, _ []string) error {
	return nil
}

func (v *VectorDB) Query(_ context.Context, collection string, _ []float64, _, _, _ []string, _ plugin.QueryArgs) ([]string, error) {
	rec, err := v.collector.NextReplay("query_"+collection, "query")
	if err != nil {
		return nil, err
	}
	return rec.IDs, nil
}

// DB is an in-memory document store for mock runs. Nothing persists.
type DB struct {
	mu     sync.RWMutex
	tables map[plugin.Table]map[string]map[string]any
}

func newDB(args plugin.Args, deps plugin.Deps) (any, error) {
	return &DB{tables: map[plugin.Table]map[string]map[string]any{}}, nil
}

func (d *DB) Connect(_ context.Context) error { return nil }
func (d *DB) Close() error                    { return nil }

func (d *DB) Fetch(_ context.Context, table plugin.Table, ids []string, _ plugin.Args) ([]map[string]any, error) {
	if !plugin.KnownTable(table) {
		return nil, plugin.NewBackendError("mock", "unknown table: %s", table)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	docs := d.tables[table]
	var out []map[string]any
	if len(ids) == 0 {
		for _, doc := range docs {
			out = append(out, doc)
		}
		return out, nil
	}
	for _, id := range ids {
		if doc, ok := docs[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (d *DB) InsertDocuments(_ context.Context, table plugin.Table, docs []map[string]any) error {
	if !plugin.KnownTable(table) {
		return plugin.NewBackendError("mock", "unknown table: %s", table)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tables[table] == nil {
		d.tables[table] = map[string]map[string]any{}
	}
	for _, doc := range docs {
		id, ok := doc["id"].(string)
		if !ok || id == "" {
			return fmt.Errorf("document in table %s has no id", table)
		}
		d.tables[table][id] = doc
	}
	return nil
}

// Package filedb is a JSON-file document store, one file per table under
// the storage root. It is the default db backend for single-process runs.
package filedb

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/plugin"
)

func init() {
	plugin.Register(config.CategoryDB, "filedb", newDB)
}

// DB keeps every table in memory and writes the table file through on each
// insert. Documents are free-form maps keyed by their id field.
type DB struct {
	root string

	mu     sync.RWMutex
	tables map[plugin.Table]map[string]map[string]any
	open   bool
}

func newDB(args plugin.Args, deps plugin.Deps) (any, error) {
	root := deps.StorageRoot
	if root == "" {
		root = "local_storage"
	}
	return &DB{
		root:   filepath.Join(root, "db"),
		tables: map[plugin.Table]map[string]map[string]any{},
	}, nil
}

func (d *DB) tablePath(table plugin.Table) string {
	return filepath.Join(d.root, string(table)+".json")
}

// Connect loads every table file that exists.
func (d *DB) Connect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return plugin.NewBackendError("filedb", "failed to create db dir: %v", err)
	}

	for table := range map[plugin.Table]bool{
		plugin.TableEngram:      true,
		plugin.TableMeta:        true,
		plugin.TableObservation: true,
		plugin.TableHistory:     true,
		plugin.TableDocument:    true,
		plugin.TableProcess:     true,
	} {
		raw, err := os.ReadFile(d.tablePath(table))
		if os.IsNotExist(err) {
			d.tables[table] = map[string]map[string]any{}
			continue
		}
		if err != nil {
			return plugin.NewBackendError("filedb", "failed to read table %s: %v", table, err)
		}
		docs := map[string]map[string]any{}
		if err := json.Unmarshal(raw, &docs); err != nil {
			return plugin.NewBackendError("filedb", "corrupt table %s: %v", table, err)
		}
		d.tables[table] = docs
	}
	d.open = true
	return nil
}

// Close drops the in-memory tables. Data is already on disk.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables = map[plugin.Table]map[string]map[string]any{}
	d.open = false
	return nil
}

// Fetch returns the documents with the given ids, skipping misses. An empty
// id list returns the whole table.
func (d *DB) Fetch(_ context.Context, table plugin.Table, ids []string, args plugin.Args) ([]map[string]any, error) {
	if !plugin.KnownTable(table) {
		return nil, plugin.NewBackendError("filedb", "unknown table: %s", table)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.open {
		return nil, plugin.NewBackendError("filedb", "db is not connected")
	}

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

	if limit := args.Int("history_limit", 0); limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// InsertDocuments upserts documents by id and writes the table through.
func (d *DB) InsertDocuments(_ context.Context, table plugin.Table, docs []map[string]any) error {
	if !plugin.KnownTable(table) {
		return plugin.NewBackendError("filedb", "unknown table: %s", table)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return plugin.NewBackendError("filedb", "db is not connected")
	}

	for _, doc := range docs {
		id, ok := doc["id"].(string)
		if !ok || id == "" {
			return plugin.NewBackendError("filedb", "document in table %s has no id", table)
		}
		if d.tables[table] == nil {
			d.tables[table] = map[string]map[string]any{}
		}
		d.tables[table][id] = doc
	}

	raw, err := json.Marshal(d.tables[table])
	if err != nil {
		return plugin.NewBackendError("filedb", "failed to marshal table %s: %v", table, err)
	}
	if err := os.WriteFile(d.tablePath(table), raw, 0o644); err != nil {
		return plugin.NewBackendError("filedb", "failed to write table %s: %v", table, err)
	}
	return nil
}

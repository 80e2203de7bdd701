package repository

import (
	"context"
	"sort"

	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/plugin"
)

// Engrams persists engram records.
type Engrams struct {
	store *store
}

// NewEngrams creates the engram repository.
func NewEngrams(db plugin.DB, cacheSize int) (*Engrams, error) {
	s, err := newStore(db, plugin.TableEngram, cacheSize)
	if err != nil {
		return nil, err
	}
	return &Engrams{store: s}, nil
}

func (r *Engrams) Save(ctx context.Context, engram *core.Engram) error {
	doc, err := toDocument(engram)
	if err != nil {
		return err
	}
	return r.store.save(ctx, doc)
}

func (r *Engrams) Load(ctx context.Context, id string) (*core.Engram, error) {
	doc, err := r.store.load(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	engram, err := fromDocument[core.Engram](doc)
	if err != nil {
		return nil, err
	}
	return &engram, nil
}

// LoadBatch fetches engrams through the LRU cache.
func (r *Engrams) LoadBatch(ctx context.Context, ids []string) ([]core.Engram, error) {
	docs, err := r.store.loadBatch(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]core.Engram, 0, len(docs))
	for _, doc := range docs {
		engram, err := fromDocument[core.Engram](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, engram)
	}
	return out, nil
}

// Metas persists meta records.
type Metas struct {
	store *store
}

// NewMetas creates the meta repository.
func NewMetas(db plugin.DB, cacheSize int) (*Metas, error) {
	s, err := newStore(db, plugin.TableMeta, cacheSize)
	if err != nil {
		return nil, err
	}
	return &Metas{store: s}, nil
}

func (r *Metas) Save(ctx context.Context, meta *core.Meta) error {
	doc, err := toDocument(meta)
	if err != nil {
		return err
	}
	return r.store.save(ctx, doc)
}

func (r *Metas) Load(ctx context.Context, id string) (*core.Meta, error) {
	doc, err := r.store.load(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	meta, err := fromDocument[core.Meta](doc)
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func (r *Metas) LoadBatch(ctx context.Context, ids []string) ([]core.Meta, error) {
	docs, err := r.store.loadBatch(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]core.Meta, 0, len(docs))
	for _, doc := range docs {
		meta, err := fromDocument[core.Meta](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

// History persists responses so later prompts can be answered with
// conversational context.
type History struct {
	store *store
}

// NewHistory creates the history repository.
func NewHistory(db plugin.DB, cacheSize int) (*History, error) {
	s, err := newStore(db, plugin.TableHistory, cacheSize)
	if err != nil {
		return nil, err
	}
	return &History{store: s}, nil
}

func (r *History) Save(ctx context.Context, response *core.Response) error {
	doc, err := toDocument(response)
	if err != nil {
		return err
	}
	return r.store.save(ctx, doc)
}

// FetchRecent returns up to limit of the most recent responses, oldest
// first. The limit rides the untyped args channel because it is a
// backend-specific override, not pipeline state.
func (r *History) FetchRecent(ctx context.Context, limit int) ([]core.Response, error) {
	args := plugin.Args{}
	if limit > 0 {
		args["history_limit"] = limit
	}
	docs, err := r.store.db.Fetch(ctx, plugin.TableHistory, nil, args)
	if err != nil {
		return nil, err
	}

	out := make([]core.Response, 0, len(docs))
	for _, doc := range docs {
		resp, err := fromDocument[core.Response](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Documents persists scanned file nodes.
type Documents struct {
	store *store
}

// NewDocuments creates the document repository.
func NewDocuments(db plugin.DB, cacheSize int) (*Documents, error) {
	s, err := newStore(db, plugin.TableDocument, cacheSize)
	if err != nil {
		return nil, err
	}
	return &Documents{store: s}, nil
}

func (r *Documents) Save(ctx context.Context, node *core.FileNode) error {
	doc, err := toDocument(node)
	if err != nil {
		return err
	}
	return r.store.save(ctx, doc)
}

func (r *Documents) Load(ctx context.Context, id string) (*core.FileNode, error) {
	doc, err := r.store.load(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	node, err := fromDocument[core.FileNode](doc)
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// Processes persists multi-pass workflow state.
type Processes struct {
	store *store
}

// NewProcesses creates the process repository.
func NewProcesses(db plugin.DB, cacheSize int) (*Processes, error) {
	s, err := newStore(db, plugin.TableProcess, cacheSize)
	if err != nil {
		return nil, err
	}
	return &Processes{store: s}, nil
}

func (r *Processes) Save(ctx context.Context, process *core.Process) error {
	doc, err := toDocument(process)
	if err != nil {
		return err
	}
	return r.store.save(ctx, doc)
}

func (r *Processes) Load(ctx context.Context, id string) (*core.Process, error) {
	doc, err := r.store.load(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	process, err := fromDocument[core.Process](doc)
	if err != nil {
		return nil, err
	}
	return &process, nil
}

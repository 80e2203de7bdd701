// Package plugin binds profile-selected backends to the four plugin
// categories: llm, embedding, vector_db, and db. Backends register
// themselves by name; the manager resolves (category, usage) slots through
// the active profile.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
)

// Table names the document-store tables. The set is closed.
type Table string

const (
	TableEngram      Table = "engram"
	TableMeta        Table = "meta"
	TableObservation Table = "observation"
	TableHistory     Table = "history"
	TableDocument    Table = "document"
	TableProcess     Table = "process"
)

var knownTables = map[Table]bool{
	TableEngram:      true,
	TableMeta:        true,
	TableObservation: true,
	TableHistory:     true,
	TableDocument:    true,
	TableProcess:     true,
}

// KnownTable reports whether the table belongs to the closed set.
func KnownTable(t Table) bool { return knownTables[t] }

// Vector store collections.
const (
	CollectionMain = "main"
	CollectionMeta = "meta"
)

// QueryArgs tunes a vector query.
type QueryArgs struct {
	Threshold float64
	NResults  int
}

// StreamSink receives streamed completion fragments.
type StreamSink interface {
	Send(packet core.StreamPacket) error
}

// LLM is the language-model contract. Implementations must strip code-fence
// wrappers from TOML responses.
type LLM interface {
	Submit(ctx context.Context, prompt string, schema map[string]string, args Args) (string, error)
	SubmitStreaming(ctx context.Context, prompt string, args Args, sink StreamSink) (string, error)
}

// Embedding generates one vector per input string, order preserved.
type Embedding interface {
	GenEmbed(ctx context.Context, inputs []string, args Args) ([][]float64, error)
}

// VectorDB is the vector-store contract. Distance metric is cosine; query
// results closer than the threshold are returned.
type VectorDB interface {
	Insert(ctx context.Context, collection string, indices []core.Index, objID string, repoFilters []string, typeFilter string, locationFilters []string) error
	Query(ctx context.Context, collection string, embedding []float64, repoFilters, typeFilters, locationFilters []string, args QueryArgs) ([]string, error)
}

// DB is the document-store contract. Documents are free-form maps with a
// required id field.
type DB interface {
	Connect(ctx context.Context) error
	Close() error
	Fetch(ctx context.Context, table Table, ids []string, args Args) ([]map[string]any, error)
	InsertDocuments(ctx context.Context, table Table, docs []map[string]any) error
}

// Deps is what a backend factory may need beyond its profile args.
type Deps struct {
	Logger      *slog.Logger
	StorageRoot string
	// Collector records calls when mock data generation is on, and serves
	// recorded responses to the mock backends.
	Collector *Collector
}

// Factory instantiates a backend from its profile args. The returned value
// must implement the interface of its category.
type Factory func(args Args, deps Deps) (any, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]map[string]Factory{}
)

// Register adds a backend factory under (category, name). Called from
// backend package init functions.
func Register(category, name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if registry[category] == nil {
		registry[category] = map[string]Factory{}
	}
	if _, exists := registry[category][name]; exists {
		panic(fmt.Sprintf("plugin backend registered twice: %s/%s", category, name))
	}
	registry[category][name] = factory
}

// Handle is one resolved plugin slot: a backend instance plus the free-form
// args from the profile entry that selected it.
type Handle struct {
	Category string
	Usage    string
	Backend  string
	Args     Args

	impl any
}

// LLM returns the handle's backend as an LLM.
func (h *Handle) LLM() (LLM, error) {
	llm, ok := h.impl.(LLM)
	if !ok {
		return nil, NewLoadError("backend %s does not implement llm", h.Backend)
	}
	return llm, nil
}

// Embedding returns the handle's backend as an Embedding.
func (h *Handle) Embedding() (Embedding, error) {
	emb, ok := h.impl.(Embedding)
	if !ok {
		return nil, NewLoadError("backend %s does not implement embedding", h.Backend)
	}
	return emb, nil
}

// VectorDB returns the handle's backend as a VectorDB.
func (h *Handle) VectorDB() (VectorDB, error) {
	vdb, ok := h.impl.(VectorDB)
	if !ok {
		return nil, NewLoadError("backend %s does not implement vector_db", h.Backend)
	}
	return vdb, nil
}

// DB returns the handle's backend as a DB.
func (h *Handle) DB() (DB, error) {
	db, ok := h.impl.(DB)
	if !ok {
		return nil, NewLoadError("backend %s does not implement db", h.Backend)
	}
	return db, nil
}

// Manager resolves plugin slots through the active profile and caches the
// instantiated backends per (category, usage).
type Manager struct {
	logger  *slog.Logger
	profile *config.Profile
	deps    Deps

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewManager binds a resolved profile to the registry.
func NewManager(logger *slog.Logger, profile *config.Profile, deps Deps) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	deps.Logger = logger
	return &Manager{
		logger:  logger.With("component", "plugin"),
		profile: profile,
		deps:    deps,
		handles: map[string]*Handle{},
	}
}

// Get resolves a (category, usage) slot. Unknown usages fall back to the
// profile's "default" entry for the category.
func (m *Manager) Get(category, usage string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := category + "/" + usage
	if h, ok := m.handles[key]; ok {
		return h, nil
	}

	entry, err := m.profile.Entry(category, usage)
	if err != nil {
		entry, err = m.profile.Entry(category, "default")
		if err != nil {
			return nil, NewLoadError("no profile entry for %s.%s: %v", category, usage, err)
		}
	}

	name, ok := entry["name"].(string)
	if !ok || name == "" {
		return nil, NewLoadError("profile entry %s.%s has no backend name", category, usage)
	}

	registryMu.RLock()
	factory := registry[category][name]
	registryMu.RUnlock()
	if factory == nil {
		return nil, NewLoadError("no backend registered for %s/%s", category, name)
	}

	args := Args{}
	for k, v := range entry {
		if k == "name" {
			continue
		}
		args[k] = v
	}
	// The usage slot rides along so backends can key mock recordings.
	args["usage"] = usage

	deps := m.deps
	deps.Logger = m.logger.With("backend", name, "usage", usage)
	impl, err := factory(args, deps)
	if err != nil {
		return nil, NewLoadError("failed to instantiate %s/%s: %v", category, name, err)
	}

	h := &Handle{
		Category: category,
		Usage:    usage,
		Backend:  name,
		Args:     args,
		impl:     impl,
	}
	m.handles[key] = h
	m.logger.Debug("plugin bound", "category", category, "usage", usage, "backend", name)
	return h, nil
}

// Close shuts down every instantiated db backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, h := range m.handles {
		if db, ok := h.impl.(DB); ok {
			if err := db.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

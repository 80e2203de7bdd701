package codify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/plugin"
	_ "github.com/engramic/engramic-go/plugin/backends/mock"
	"github.com/engramic/engramic-go/repository"
)

type memDB struct {
	mu     sync.Mutex
	tables map[plugin.Table]map[string]map[string]any
}

func newMemDB() *memDB {
	return &memDB{tables: map[plugin.Table]map[string]map[string]any{}}
}

func (m *memDB) Connect(ctx context.Context) error { return nil }
func (m *memDB) Close() error                      { return nil }

func (m *memDB) Fetch(ctx context.Context, table plugin.Table, ids []string, args plugin.Args) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, id := range ids {
		if doc, ok := m.tables[table][id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *memDB) InsertDocuments(ctx context.Context, table plugin.Table, docs []map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tables[table] == nil {
		m.tables[table] = map[string]map[string]any{}
	}
	for _, doc := range docs {
		m.tables[table][doc["id"].(string)] = doc
	}
	return nil
}

func mockProfile() *config.Profile {
	entry := func() map[string]any { return map[string]any{"name": "mock"} }
	return &config.Profile{
		Name: "mock",
		Entries: map[string]map[string]map[string]any{
			config.CategoryLLM:       {"default": entry()},
			config.CategoryEmbedding: {"default": entry()},
			config.CategoryVectorDB:  {"default": entry()},
			config.CategoryDB:        {"default": entry()},
		},
	}
}

type fixture struct {
	svc       *Service
	bus       *bus.InProc
	engrams   *repository.Engrams
	metas     *repository.Metas
	collector *plugin.Collector

	mu       sync.Mutex
	observed []core.Observation
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := newMemDB()

	engrams, err := repository.NewEngrams(db, 8)
	require.NoError(t, err)
	metas, err := repository.NewMetas(db, 8)
	require.NoError(t, err)
	observations, err := repository.NewObservations(db, 8)
	require.NoError(t, err)

	b := bus.NewInProc(nil)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(time.Second) })

	executor := exec.New(nil)
	require.NoError(t, executor.Start(context.Background()))
	t.Cleanup(func() { _ = executor.Stop(time.Second) })

	c := plugin.NewCollector(true)
	plugins := plugin.NewManager(nil, mockProfile(), plugin.Deps{Collector: c})

	f := &fixture{
		svc:       New(nil, b, executor, plugins, engrams, metas, observations),
		bus:       b,
		engrams:   engrams,
		metas:     metas,
		collector: c,
	}
	require.NoError(t, f.svc.InitAsync(context.Background()))

	require.NoError(t, b.Subscribe(bus.TopicObservationComplete, func(_ context.Context, data []byte) {
		var obs core.Observation
		if err := bus.Decode(data, &obs); err != nil {
			return
		}
		f.mu.Lock()
		f.observed = append(f.observed, obs)
		f.mu.Unlock()
	}))
	return f
}

func (f *fixture) observations() []core.Observation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Observation(nil), f.observed...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func (f *fixture) seedSources(t *testing.T) core.Response {
	t.Helper()
	ctx := context.Background()

	meta := core.Meta{ID: "m-src", Type: core.MetaTypeDocument}
	require.NoError(t, f.metas.Save(ctx, &meta))
	engram := core.Engram{
		ID:             "e-src",
		Content:        "Tides follow the moon.",
		IsNativeSource: true,
		MetaIDs:        []string{"m-src"},
	}
	require.NoError(t, f.engrams.Save(ctx, &engram))

	response := core.NewResponse(
		"Tides are caused by lunar gravity.",
		core.RetrieveResult{EngramIDArray: []string{"e-src"}},
		"why do tides happen",
		core.PromptAnalysis{},
		"gpt-test",
	)
	response.TrackingID = "t1"
	response.TrainingMode = true
	return response
}

const validObservationTOML = `
[meta]
summary_full = "Lunar gravity drives the tides."
keywords = ["tides", "moon"]

[[engram]]
content = "Lunar gravity is the dominant cause of ocean tides."
is_native_source = true
`

func TestValidateCodifiesObservation(t *testing.T) {
	f := setup(t)
	response := f.seedSources(t)
	f.collector.Record("codify_validate", "submit", plugin.Recording{Response: validObservationTOML})

	require.NoError(t, f.svc.Validate(context.Background(), &response))

	waitFor(t, func() bool { return len(f.observations()) == 1 })
	obs := f.observations()[0]

	assert.Equal(t, "t1", obs.TrackingID)
	assert.Equal(t, response.ID, obs.ParentID)
	assert.Equal(t, "Lunar gravity drives the tides.", obs.Meta.SummaryFull.Text)
	assert.Equal(t, []string{"tides", "moon"}, obs.Meta.Keywords)
	assert.Equal(t, []string{response.Hash}, obs.Meta.SourceIDs)
	assert.Equal(t, []string{"llm://gpt-test"}, obs.Meta.Locations)

	require.Len(t, obs.EngramList, 1)
	engram := obs.EngramList[0]
	assert.Equal(t, "Lunar gravity is the dominant cause of ocean tides.", engram.Content)
	assert.True(t, engram.IsNativeSource)
	assert.NotEmpty(t, engram.ID)
	assert.Equal(t, []string{response.Hash}, engram.SourceIDs)
	assert.Equal(t, []string{"llm://gpt-test"}, engram.Locations)
	assert.Equal(t, []string{obs.Meta.ID}, engram.MetaIDs)
	assert.NotZero(t, engram.CreatedDate)
}

func TestNotMemorableEndsQuietly(t *testing.T) {
	f := setup(t)
	response := f.seedSources(t)
	f.collector.Record("codify_validate", "submit", plugin.Recording{
		Response: "[not_memorable]\nreason = \"conversational filler\"\n",
	})

	require.NoError(t, f.svc.Validate(context.Background(), &response))

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.observations())
}

func TestInvalidTOMLIsValidationError(t *testing.T) {
	f := setup(t)
	response := f.seedSources(t)
	f.collector.Record("codify_validate", "submit", plugin.Recording{
		Response: "not = [valid toml",
	})

	err := f.svc.Validate(context.Background(), &response)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestDerivedEngramRequiresProvenance(t *testing.T) {
	f := setup(t)
	response := f.seedSources(t)
	f.collector.Record("codify_validate", "submit", plugin.Recording{
		Response: "[[engram]]\ncontent = \"derived claim\"\nis_native_source = false\n",
	})

	err := f.svc.Validate(context.Background(), &response)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestNonTrainingResponseIsIgnored(t *testing.T) {
	f := setup(t)
	response := f.seedSources(t)
	response.TrainingMode = false
	// No recording loaded: reaching the LLM would fail the test with a
	// replay miss instead of staying quiet.

	require.NoError(t, f.bus.Publish(context.Background(), bus.TopicMainPromptComplete, response))

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, f.observations())
}

func TestMergeCandidatesFiltersByThreshold(t *testing.T) {
	engrams := []core.Engram{
		{ID: "low", Accuracy: 2, RelevancyScore: 4},
		{ID: "keep", Accuracy: 3, RelevancyScore: 3},
		{ID: "high", Accuracy: 4, RelevancyScore: 4},
	}

	out := MergeCandidates(engrams, DefaultAccuracyThreshold, DefaultRelevancyThreshold)
	require.Len(t, out, 2)
	assert.Equal(t, "keep", out[0].ID)
	assert.Equal(t, "high", out[1].ID)
}

package response

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
	if len(ids) == 0 {
		for _, doc := range m.tables[table] {
			out = append(out, doc)
		}
		return out, nil
	}
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
	history   *repository.History
	collector *plugin.Collector

	mu        sync.Mutex
	packets   []bus.ResponseMessage
	responses []core.Response
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := newMemDB()

	engrams, err := repository.NewEngrams(db, 8)
	require.NoError(t, err)
	history, err := repository.NewHistory(db, 8)
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
		svc:       New(nil, b, executor, plugins, engrams, history, 3),
		bus:       b,
		engrams:   engrams,
		history:   history,
		collector: c,
	}
	require.NoError(t, f.svc.InitAsync(context.Background()))

	require.NoError(t, b.Subscribe(bus.TopicResponseSubmitMessage, func(_ context.Context, data []byte) {
		var msg bus.ResponseMessage
		if err := bus.Decode(data, &msg); err != nil {
			return
		}
		f.mu.Lock()
		f.packets = append(f.packets, msg)
		f.mu.Unlock()
	}))
	require.NoError(t, b.Subscribe(bus.TopicMainPromptComplete, func(_ context.Context, data []byte) {
		var resp core.Response
		if err := bus.Decode(data, &resp); err != nil {
			return
		}
		f.mu.Lock()
		f.responses = append(f.responses, resp)
		f.mu.Unlock()
	}))
	return f
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

func retrieveMsg(t *testing.T, engramIDs []string, opts ...core.PromptOption) *bus.RetrieveComplete {
	t.Helper()
	prompt, err := core.NewPrompt("why do tides happen", opts...)
	require.NoError(t, err)
	return &bus.RetrieveComplete{
		AskID:  "ask-1",
		Prompt: *prompt,
		Analysis: core.PromptAnalysis{
			ResponseLength: "medium",
			UserPromptType: "question",
		},
		RetrieveResult: core.RetrieveResult{
			AskID:         "ask-1",
			EngramIDArray: engramIDs,
		},
	}
}

func TestGenerateStreamsAndPublishesResponse(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	engram := core.Engram{ID: "e1", Content: "Tides follow the moon.", IsNativeSource: true}
	require.NoError(t, f.engrams.Save(ctx, &engram))

	f.collector.Record("response_main", "submit_streaming", plugin.Recording{
		Response: "Tides are caused by lunar gravity.",
	})

	msg := retrieveMsg(t, []string{"e1"}, core.WithTrackingID("t1"), core.WithTrainingMode(true))
	require.NoError(t, f.svc.Generate(ctx, msg))

	waitFor(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.responses) == 1 && len(f.packets) == 2
	})

	f.mu.Lock()
	defer f.mu.Unlock()

	// One content fragment, then the terminal marker, all tagged with the
	// prompt's tracking id.
	assert.Equal(t, "Tides are caused by lunar gravity.", f.packets[0].Packet.Text)
	assert.False(t, f.packets[0].Packet.IsTerminal)
	assert.True(t, f.packets[1].Packet.IsTerminal)
	for _, p := range f.packets {
		assert.Equal(t, "t1", p.TrackingID)
	}

	resp := f.responses[0]
	assert.Equal(t, "Tides are caused by lunar gravity.", resp.Response)
	assert.Equal(t, "why do tides happen", resp.PromptStr)
	assert.Equal(t, core.HashText("Tides are caused by lunar gravity."), resp.Hash)
	assert.Equal(t, "t1", resp.TrackingID)
	assert.True(t, resp.TrainingMode)
	assert.Equal(t, []string{"e1"}, resp.RetrieveResult.EngramIDArray)
	assert.Equal(t, "medium", resp.Analysis.ResponseLength)
}

func TestGenerateIncludesHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Seed a prior exchange; FetchRecent must not fail the parallel fetch.
	prior := core.NewResponse("Earlier answer.", core.RetrieveResult{}, "earlier question", core.PromptAnalysis{}, "m")
	require.NoError(t, f.history.Save(ctx, &prior))

	f.collector.Record("response_main", "submit_streaming", plugin.Recording{
		Response: "A follow-up answer.",
	})

	require.NoError(t, f.svc.Generate(ctx, retrieveMsg(t, nil)))

	waitFor(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.responses) == 1
	})
}

func TestRetrieveCompleteTriggersGeneration(t *testing.T) {
	f := setup(t)
	f.collector.Record("response_main", "submit_streaming", plugin.Recording{
		Response: "Answer via the bus.",
	})

	require.NoError(t, f.bus.Publish(context.Background(), bus.TopicRetrieveComplete, retrieveMsg(t, nil)))

	waitFor(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.responses) == 1
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "Answer via the bus.", f.responses[0].Response)
}

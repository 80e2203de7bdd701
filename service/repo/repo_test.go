package repo

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/plugin"
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

func writeRepoDir(t *testing.T, root, dir, marker string, files ...string) {
	t.Helper()
	repoPath := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(repoPath, 0o755))
	if marker != "" {
		require.NoError(t, os.WriteFile(filepath.Join(repoPath, ".repo"), []byte(marker), 0o644))
	}
	for _, name := range files {
		full := filepath.Join(repoPath, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("content"), 0o644))
	}
}

type collector struct {
	mu         sync.Mutex
	repos      []bus.RepoSubmitIDs
	submitted  []bus.SubmitDocument
	treeNodes  int
	scanPasses int
}

func setup(t *testing.T, root string) (*Service, *collector) {
	t.Helper()
	b := bus.NewInProc(nil)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(time.Second) })

	executor := exec.New(nil)
	require.NoError(t, executor.Start(context.Background()))
	t.Cleanup(func() { _ = executor.Stop(time.Second) })

	documents, err := repository.NewDocuments(newMemDB(), 8)
	require.NoError(t, err)

	c := &collector{}
	require.NoError(t, b.Subscribe(bus.TopicRepoSubmitIDs, func(_ context.Context, data []byte) {
		var msg bus.RepoSubmitIDs
		_ = bus.Decode(data, &msg)
		c.mu.Lock()
		c.repos = append(c.repos, msg)
		c.mu.Unlock()
	}))
	require.NoError(t, b.Subscribe(bus.TopicSubmitDocument, func(_ context.Context, data []byte) {
		var msg bus.SubmitDocument
		_ = bus.Decode(data, &msg)
		c.mu.Lock()
		c.submitted = append(c.submitted, msg)
		c.mu.Unlock()
	}))
	require.NoError(t, b.Subscribe(bus.TopicRepoTreeUpdated, func(_ context.Context, data []byte) {
		var msg bus.RepoTreeUpdated
		_ = bus.Decode(data, &msg)
		c.mu.Lock()
		c.treeNodes += len(msg.Nodes)
		c.mu.Unlock()
	}))
	require.NoError(t, b.Subscribe(bus.TopicRepoDirectoryScanned, func(_ context.Context, data []byte) {
		c.mu.Lock()
		c.scanPasses++
		c.mu.Unlock()
	}))

	s := New(nil, b, executor, documents, config.RepoConfig{
		Root:   root,
		Ignore: []string{"**/.*", "**/.*/**"},
	})
	require.NoError(t, s.InitAsync(context.Background()))
	return s, c
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

func TestDiscoverSkipsMarkersWithoutID(t *testing.T) {
	root := t.TempDir()
	writeRepoDir(t, root, "physics", "[repository]\nid = \"repo-physics\"\nname = \"Physics\"\n", "notes.txt")
	writeRepoDir(t, root, "broken", "[repository]\nname = \"No ID\"\n", "ignored.txt")
	writeRepoDir(t, root, "reserved", "[repository]\nid = \"null\"\n", "ignored.txt")

	s, c := setup(t, root)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(time.Second) })

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.repos) == 1 && c.scanPasses == 1
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.repos[0].Repos, 1)
	assert.Equal(t, "repo-physics", c.repos[0].Repos[0].RepoID)
	assert.Equal(t, "Physics", c.repos[0].Repos[0].Name)
}

func TestScanSubmitsFilesOnceWithStableIDs(t *testing.T) {
	root := t.TempDir()
	writeRepoDir(t, root, "docs", "[repository]\nid = \"repo-docs\"\n",
		"guide.html", filepath.Join("chapters", "one.html"))

	s, c := setup(t, root)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Stop(time.Second) })

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.submitted) == 2
	})

	c.mu.Lock()
	firstIDs := map[string]bool{}
	for _, msg := range c.submitted {
		assert.Equal(t, "repo-docs", msg.Node.RepoID)
		assert.Equal(t, msg.Node.SourceID(), msg.Node.ID)
		firstIDs[msg.Node.ID] = true
	}
	c.mu.Unlock()
	require.Len(t, firstIDs, 2)

	// A second pass announces the tree again but enqueues nothing new.
	require.NoError(t, s.scanRepo(ctx, "docs"))
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.scanPasses == 2
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.submitted, 2)
}

func TestScanIgnoresDotEntries(t *testing.T) {
	root := t.TempDir()
	writeRepoDir(t, root, "docs", "[repository]\nid = \"repo-docs\"\n",
		"visible.txt", filepath.Join(".cache", "hidden.txt"))

	s, c := setup(t, root)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(time.Second) })

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.scanPasses == 1
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.submitted, 1)
	assert.Equal(t, "visible.txt", c.submitted[0].Node.FileName)
	// The tree holds the visible file only; dot entries never surface.
	assert.Equal(t, 1, c.treeNodes)
}

func TestWatcherSubmitsNewFiles(t *testing.T) {
	root := t.TempDir()
	writeRepoDir(t, root, "docs", "[repository]\nid = \"repo-docs\"\n", "first.txt")

	s, c := setup(t, root)
	s.cfg.Watch = true
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(time.Second) })

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.submitted) == 1
	})

	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "second.txt"), []byte("new"), 0o644))

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.submitted) == 2
	})
}

package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic-go/config"
)

func testProfile(t *testing.T) *config.Profile {
	t.Helper()
	profiles, err := config.ParseProfiles([]byte(`
version = 1.0

[test]
  [test.llm.default]
  name = "fake"
  model = "tiny"
  [test.llm.codify_validate]
  name = "fake"
  model = "big"
`))
	require.NoError(t, err)
	p, err := profiles.Resolve("test")
	require.NoError(t, err)
	return p
}

type fakeBackend struct {
	args Args
}

func init() {
	Register(config.CategoryLLM, "fake", func(args Args, deps Deps) (any, error) {
		return &fakeBackend{args: args}, nil
	})
}

func TestManagerResolvesAndCaches(t *testing.T) {
	m := NewManager(nil, testProfile(t), Deps{})

	h1, err := m.Get(config.CategoryLLM, "codify_validate")
	require.NoError(t, err)
	assert.Equal(t, "fake", h1.Backend)
	assert.Equal(t, "big", h1.Args.String("model", ""))
	assert.Equal(t, "codify_validate", h1.Args.String("usage", ""))

	h2, err := m.Get(config.CategoryLLM, "codify_validate")
	require.NoError(t, err)
	assert.Same(t, h1, h2, "handles are cached per slot")
}

func TestManagerFallsBackToDefaultUsage(t *testing.T) {
	m := NewManager(nil, testProfile(t), Deps{})

	h, err := m.Get(config.CategoryLLM, "never_configured")
	require.NoError(t, err)
	assert.Equal(t, "tiny", h.Args.String("model", ""))
}

func TestManagerUnknownBackend(t *testing.T) {
	profiles, err := config.ParseProfiles([]byte(`
version = 1.0
[p]
  [p.llm.default]
  name = "does_not_exist"
`))
	require.NoError(t, err)
	p, err := profiles.Resolve("p")
	require.NoError(t, err)

	m := NewManager(nil, p, Deps{})
	_, err = m.Get(config.CategoryLLM, "default")
	require.Error(t, err)
	assert.True(t, IsLoadError(err))
}

func TestHandleTypeMismatch(t *testing.T) {
	m := NewManager(nil, testProfile(t), Deps{})
	h, err := m.Get(config.CategoryLLM, "default")
	require.NoError(t, err)

	_, err = h.VectorDB()
	require.Error(t, err)
	assert.True(t, IsLoadError(err))
}

func TestArgsGetters(t *testing.T) {
	args := Args{"s": "v", "i": int64(7), "f": 2.5, "b": true}

	assert.Equal(t, "v", args.String("s", "d"))
	assert.Equal(t, "d", args.String("missing", "d"))
	assert.Equal(t, 7, args.Int("i", 0))
	assert.Equal(t, 2, args.Int("f", 0), "float args truncate")
	assert.Equal(t, 2.5, args.Float("f", 0))
	assert.Equal(t, 7.0, args.Float("i", 0))
	assert.True(t, args.Bool("b", false))
}

func TestCollectorRecordReplayRoundTrip(t *testing.T) {
	rec := NewCollector(true)
	rec.Record("retrieve_gen_index", "submit", Recording{Response: "first"})
	rec.Record("retrieve_gen_index", "submit", Recording{Response: "second"})
	rec.Record("embed_default", "gen_embed", Recording{Embeddings: [][]float64{{0.1, 0.2}}})

	dir := t.TempDir()
	require.NoError(t, rec.Flush(dir))

	replay := NewCollector(false)
	require.NoError(t, replay.LoadFile(filepath.Join(dir, MockDataFileName)))

	r1, err := replay.NextReplay("retrieve_gen_index", "submit")
	require.NoError(t, err)
	assert.Equal(t, "first", r1.Response)

	r2, err := replay.NextReplay("retrieve_gen_index", "submit")
	require.NoError(t, err)
	assert.Equal(t, "second", r2.Response)

	_, err = replay.NextReplay("retrieve_gen_index", "submit")
	require.Error(t, err, "replay past the recording fails")

	e, err := replay.NextReplay("embed_default", "gen_embed")
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.1, 0.2}}, e.Embeddings)
}

func TestCollectorResetReplay(t *testing.T) {
	c := NewCollector(true)
	c.Record("u", "submit", Recording{Response: "x"})
	c.recording = false

	_, err := c.NextReplay("u", "submit")
	require.NoError(t, err)
	_, err = c.NextReplay("u", "submit")
	require.Error(t, err)

	c.ResetReplay()
	r, err := c.NextReplay("u", "submit")
	require.NoError(t, err)
	assert.Equal(t, "x", r.Response)
}

func TestCollectorLoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	empty := t.TempDir()

	rec := NewCollector(true)
	rec.Record("u", "submit", Recording{Response: "hello"})
	require.NoError(t, rec.Flush(dir))

	c := NewCollector(false)
	path, err := c.LoadFromPaths([]string{empty, dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, MockDataFileName), path)

	r, err := c.NextReplay("u", "submit")
	require.NoError(t, err)
	assert.Equal(t, "hello", r.Response)

	missing := NewCollector(false)
	path, err = missing.LoadFromPaths([]string{empty})
	require.NoError(t, err)
	assert.Empty(t, path)

	_ = os.Remove(filepath.Join(dir, MockDataFileName))
}

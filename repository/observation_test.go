package repository

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramic/engramic-go/core"
)

const validObservationTOML = `
[meta]
keywords = ["quantum", "networking"]
summary_full = "A short article about quantum networking."

[[engram]]
content = "Entanglement distribution is the core primitive."
is_native_source = false
locations = ["llm://gpt-4o"]
source_ids = ["abc"]
meta_ids = ["m1"]
accuracy = 3
relevancy = 4

[[engram]]
content = "Repeaters extend range by entanglement swapping."
is_native_source = true
`

func decodeTOML(t *testing.T, raw string) map[string]any {
	t.Helper()
	dict := map[string]any{}
	require.NoError(t, toml.Unmarshal([]byte(raw), &dict))
	return dict
}

func testObservations(t *testing.T) *Observations {
	t.Helper()
	repo, err := NewObservations(newMemDB(), 0)
	require.NoError(t, err)
	return repo
}

func TestValidateTOMLDictAccepts(t *testing.T) {
	repo := testObservations(t)
	require.NoError(t, repo.ValidateTOMLDict(decodeTOML(t, validObservationTOML)))
}

func TestValidateTOMLDictShapeViolations(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"engram not a list", "engram = 3"},
		{"missing content", "[[engram]]\nis_native_source = true"},
		{"missing is_native_source", "[[engram]]\ncontent = \"x\""},
		{"derived without source_ids", `
[[engram]]
content = "x"
is_native_source = false
locations = ["l"]
meta_ids = ["m"]
accuracy = 3
relevancy = 3
`},
		{"derived with non-integer accuracy", `
[[engram]]
content = "x"
is_native_source = false
locations = ["l"]
source_ids = ["s"]
meta_ids = ["m"]
accuracy = "high"
relevancy = 3
`},
	}

	repo := testObservations(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.ValidateTOMLDict(decodeTOML(t, tt.toml))
			require.Error(t, err)
			assert.True(t, core.IsValidation(err))
		})
	}
}

func TestNormalizeTOMLDictFillsProvenance(t *testing.T) {
	repo := testObservations(t)
	response := core.NewResponse("the answer", core.RetrieveResult{}, "q", core.PromptAnalysis{}, "gpt-4o")

	dict := repo.NormalizeTOMLDict(decodeTOML(t, `
[meta]
summary_full = "summary"

[[engram]]
content = "a derived fact"
is_native_source = false
locations = ["llm://gpt-4o"]
source_ids = ["pre-set"]
meta_ids = ["m-existing"]
accuracy = 3
relevancy = 3

[[engram]]
content = "a native fact"
is_native_source = true
`), &response)

	meta := dict["meta"].(map[string]any)
	assert.NotEmpty(t, meta["id"])
	assert.Equal(t, []any{response.Hash}, meta["source_ids"])
	assert.Equal(t, []any{"llm://gpt-4o"}, meta["locations"])
	assert.Equal(t, map[string]any{"text": "summary"}, meta["summary_full"])

	engrams, ok := asTableList(dict["engram"])
	require.True(t, ok)
	require.Len(t, engrams, 2)

	derived := engrams[0]
	assert.Equal(t, []any{"pre-set"}, derived["source_ids"], "pre-set provenance is kept")
	assert.NotEmpty(t, derived["id"])
	assert.NotNil(t, derived["created_date"])

	native := engrams[1]
	assert.Equal(t, []any{response.Hash}, native["source_ids"])
	assert.Equal(t, []any{"llm://" + response.Model}, native["locations"])
	assert.Equal(t, []any{meta["id"]}, native["meta_ids"])
}

func TestLoadTOMLDictBuildsObservation(t *testing.T) {
	repo := testObservations(t)
	response := core.NewResponse("the answer", core.RetrieveResult{}, "q", core.PromptAnalysis{}, "gpt-4o")

	dict := decodeTOML(t, validObservationTOML)
	require.NoError(t, repo.ValidateTOMLDict(dict))
	dict = repo.NormalizeTOMLDict(dict, &response)

	obs, err := repo.LoadTOMLDict(dict)
	require.NoError(t, err)
	require.NotNil(t, obs)

	assert.NotEmpty(t, obs.ID)
	assert.Equal(t, []string{"quantum", "networking"}, obs.Meta.Keywords)
	assert.Equal(t, "A short article about quantum networking.", obs.Meta.SummaryFull.Text)
	require.Len(t, obs.EngramList, 2)
	assert.False(t, obs.EngramList[0].IsNativeSource)
	assert.True(t, obs.EngramList[1].IsNativeSource)
	assert.NotEmpty(t, obs.EngramList[1].ID)
}

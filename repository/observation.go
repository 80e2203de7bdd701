package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/plugin"
)

// Observations persists observation records and owns the TOML-shaped
// payload handling for LLM-produced observations.
type Observations struct {
	store *store
}

// NewObservations creates the observation repository.
func NewObservations(db plugin.DB, cacheSize int) (*Observations, error) {
	s, err := newStore(db, plugin.TableObservation, cacheSize)
	if err != nil {
		return nil, err
	}
	return &Observations{store: s}, nil
}

func (r *Observations) Save(ctx context.Context, obs *core.Observation) error {
	doc, err := toDocument(obs)
	if err != nil {
		return err
	}
	return r.store.save(ctx, doc)
}

func (r *Observations) Load(ctx context.Context, id string) (*core.Observation, error) {
	doc, err := r.store.load(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	obs, err := fromDocument[core.Observation](doc)
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// ValidateTOMLDict enforces the shape of an LLM-produced observation
// payload before it is normalized. Derived engrams carry provenance and
// scoring fields that native engrams may omit.
func (r *Observations) ValidateTOMLDict(dict map[string]any) error {
	engrams, ok := asTableList(dict["engram"])
	if !ok {
		return core.NewValidationError("engram must be a list of tables")
	}

	for i, engram := range engrams {
		content, ok := engram["content"].(string)
		if !ok || content == "" {
			return core.NewValidationError("engram %d is missing content", i)
		}
		isNative, ok := engram["is_native_source"].(bool)
		if !ok {
			return core.NewValidationError("engram %d is missing is_native_source", i)
		}
		if isNative {
			continue
		}

		for _, field := range []string{"locations", "source_ids", "meta_ids"} {
			if !isList(engram[field]) {
				return core.NewValidationError("derived engram %d requires %s as a list", i, field)
			}
		}
		for _, field := range []string{"accuracy", "relevancy"} {
			if !isInteger(engram[field]) {
				return core.NewValidationError("derived engram %d requires integer %s", i, field)
			}
		}
	}
	return nil
}

// NormalizeTOMLDict fills payload defaults against the response the
// observation came from: ids, timestamps, and the provenance triple
// (source = response hash, location = llm://model, meta_id).
func (r *Observations) NormalizeTOMLDict(dict map[string]any, response *core.Response) map[string]any {
	meta, ok := dict["meta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		dict["meta"] = meta
	}

	metaID, ok := meta["id"].(string)
	if !ok || metaID == "" {
		metaID = uuid.NewString()
		meta["id"] = metaID
	}
	if !isList(meta["source_ids"]) {
		meta["source_ids"] = []any{response.Hash}
	}
	if !isList(meta["locations"]) {
		meta["locations"] = []any{"llm://" + response.Model}
	}
	if _, ok := meta["type"].(string); !ok {
		meta["type"] = string(core.MetaTypePrompt)
	}

	// The LLM writes summary_full as a bare string; it becomes an index
	// with no embedding yet.
	switch v := meta["summary_full"].(type) {
	case string:
		meta["summary_full"] = map[string]any{"text": v}
	case map[string]any:
	default:
		meta["summary_full"] = map[string]any{"text": ""}
	}

	engrams, _ := asTableList(dict["engram"])
	now := core.NowUnix()
	for _, engram := range engrams {
		if id, ok := engram["id"].(string); !ok || id == "" {
			engram["id"] = uuid.NewString()
		}
		if !isInteger(engram["created_date"]) {
			engram["created_date"] = now
		}
		if !isList(engram["source_ids"]) {
			engram["source_ids"] = []any{response.Hash}
		}
		if !isList(engram["locations"]) {
			engram["locations"] = []any{"llm://" + response.Model}
		}
		if !isList(engram["meta_ids"]) {
			engram["meta_ids"] = []any{metaID}
		}
	}
	return dict
}

// LoadTOMLDict builds an Observation from a validated, normalized payload.
func (r *Observations) LoadTOMLDict(dict map[string]any) (*core.Observation, error) {
	raw, err := json.Marshal(dict)
	if err != nil {
		return nil, core.NewValidationError("failed to encode observation payload: %v", err)
	}

	var payload struct {
		Meta    core.Meta     `json:"meta"`
		Engrams []core.Engram `json:"engram"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, core.NewValidationError("observation payload does not match the schema: %v", err)
	}

	obs := core.NewObservation(payload.Meta, payload.Engrams)
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return &obs, nil
}

// asTableList accepts both decoder representations of an array of tables.
func asTableList(v any) ([]map[string]any, bool) {
	switch list := v.(type) {
	case []map[string]any:
		return list, true
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			table, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, table)
		}
		return out, true
	default:
		return nil, false
	}
}

func isList(v any) bool {
	switch v.(type) {
	case []any, []string, []map[string]any:
		return true
	default:
		return false
	}
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int64, float64:
		// TOML integers decode as int64; JSON round-trips land on float64.
		return true
	default:
		return false
	}
}

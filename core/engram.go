// Package core defines the data model of the memory engine: engrams, metas,
// observations, prompts, responses, and the supporting value types that flow
// across the message bus.
package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Engram is the atomic unit of memory: a short text with contextual keys and
// one or more vector indices used for semantic lookup.
type Engram struct {
	ID             string            `json:"id" toml:"id"`
	Locations      []string          `json:"locations" toml:"locations"`
	SourceIDs      []string          `json:"source_ids" toml:"source_ids"`
	Content        string            `json:"content" toml:"content"`
	IsNativeSource bool              `json:"is_native_source" toml:"is_native_source"`
	Context        map[string]string `json:"context,omitempty" toml:"context,omitempty"`
	Indices        []Index           `json:"indices,omitempty" toml:"indices,omitempty"`
	MetaIDs        []string          `json:"meta_ids,omitempty" toml:"meta_ids,omitempty"`
	LibraryIDs     []string          `json:"library_ids,omitempty" toml:"library_ids,omitempty"`
	Accuracy       int               `json:"accuracy" toml:"accuracy"`
	RelevancyScore int               `json:"relevancy" toml:"relevancy"`
	CreatedDate    int64             `json:"created_date" toml:"created_date"`
}

// Validate checks the construction invariants of an engram.
func (e *Engram) Validate() error {
	if e.Content == "" {
		return NewValidationError("engram %s has empty content", e.ID)
	}
	if e.Accuracy < 0 || e.Accuracy > 4 {
		return NewValidationError("engram %s accuracy %d out of range 0-4", e.ID, e.Accuracy)
	}
	if e.RelevancyScore < 0 || e.RelevancyScore > 4 {
		return NewValidationError("engram %s relevancy %d out of range 0-4", e.ID, e.RelevancyScore)
	}
	return nil
}

// Render returns the engram as a structured fragment suitable for inclusion
// in an LLM prompt.
func (e *Engram) Render() string {
	var b strings.Builder

	if e.IsNativeSource {
		b.WriteString("This data is an original source.\n\n")
	}

	b.WriteString("<meta>\n")
	if len(e.Locations) > 0 {
		b.WriteString("Source: " + strings.Join(e.Locations, ",\n    ") + "\n")
	}
	b.WriteString("</meta>\n\n")

	if len(e.Context) > 0 {
		b.WriteString("<context>\n")
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "    %s: %s\n", k, e.Context[k])
		}
		b.WriteString("</context>\n\n")
	}

	b.WriteString("<content>")
	b.WriteString(strings.TrimSpace(e.Content))
	b.WriteString("</content>")

	return b.String()
}

// GenerateTOML renders the engram as one [[engram]] table body for a
// .engram seed file.
func (e *Engram) GenerateTOML() (string, error) {
	lines := []string{
		fmt.Sprintf("id = %q", e.ID),
		fmt.Sprintf("content = %q", e.Content),
		fmt.Sprintf("is_native_source = %t", e.IsNativeSource),
		"locations = " + tomlStringList(e.Locations),
		"source_ids = " + tomlStringList(e.SourceIDs),
	}

	if len(e.MetaIDs) > 0 {
		lines = append(lines, "meta_ids = "+tomlStringList(e.MetaIDs))
	}
	if len(e.LibraryIDs) > 0 {
		lines = append(lines, "library_ids = "+tomlStringList(e.LibraryIDs))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s = %q", k, e.Context[k]))
		}
		lines = append(lines, "context = { "+strings.Join(pairs, ", ")+" }")
	}

	for _, idx := range e.Indices {
		if idx.Text == "" {
			return "", NewValidationError("engram %s has an index with empty text", e.ID)
		}
		lines = append(lines,
			"[[indices]]",
			fmt.Sprintf("text = %q", idx.Text),
			fmt.Sprintf("embedding = %q", fmt.Sprint(idx.Embedding)),
		)
	}

	return strings.Join(lines, "\n"), nil
}

// NowUnix returns the current time as a unix timestamp, the representation
// used for created_date fields.
func NowUnix() int64 {
	return time.Now().Unix()
}

func tomlStringList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

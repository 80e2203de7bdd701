package core

import (
	"fmt"
	"strings"
)

// MetaType distinguishes metas produced from document scans from metas
// produced out of validated answers.
type MetaType string

const (
	MetaTypeDocument MetaType = "document"
	MetaTypePrompt   MetaType = "prompt"
)

// Meta summarizes a group of engrams from a single source or answer. Its
// summary_full index is embedded and inserted into the meta vector collection
// for coarse retrieval.
type Meta struct {
	ID             string   `json:"id" toml:"id"`
	Type           MetaType `json:"type" toml:"type"`
	Locations      []string `json:"locations" toml:"locations"`
	SourceIDs      []string `json:"source_ids" toml:"source_ids"`
	Keywords       []string `json:"keywords" toml:"keywords"`
	SummaryInitial string   `json:"summary_initial,omitempty" toml:"summary_initial,omitempty"`
	SummaryFull    Index    `json:"summary_full" toml:"summary_full"`
	ParentID       string   `json:"parent_id,omitempty" toml:"parent_id,omitempty"`
	RepoIDs        []string `json:"repo_ids,omitempty" toml:"repo_ids,omitempty"`
}

// Render returns the meta as a prompt fragment.
func (m *Meta) Render() string {
	var b strings.Builder
	b.WriteString("<meta_summary>\n")
	if len(m.Locations) > 0 {
		fmt.Fprintf(&b, "Source: %s\n", strings.Join(m.Locations, ", "))
	}
	if len(m.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(m.Keywords, ", "))
	}
	if m.SummaryFull.Text != "" {
		b.WriteString(m.SummaryFull.Text)
		b.WriteString("\n")
	} else if m.SummaryInitial != "" {
		b.WriteString(m.SummaryInitial)
		b.WriteString("\n")
	}
	b.WriteString("</meta_summary>")
	return b.String()
}


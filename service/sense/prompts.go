package sense

import (
	"strings"

	"github.com/engramic/engramic-go/core"
)

func renderInitialScanPrompt(node *core.FileNode) string {
	var b strings.Builder
	b.WriteString("These are the opening pages of the document at ")
	b.WriteString(node.FilePath())
	b.WriteString(". Identify what this document is: subject, audience, title, format, type, table of contents if visible, a short initial summary, author, date, and version. Leave unknown fields empty.")
	return b.String()
}

// renderScanPrompt asks for the page annotated with the fixed tag
// vocabulary the chunker descends.
func renderScanPrompt() string {
	return "Transcribe this page. Annotate the structure with these tags and no others: " +
		"<section>, <h1>, <h3>, <engram>, <p>, <img>, <page>, <header>, <chapter>, <title>. " +
		"Wrap headings in the matching heading tag and every paragraph in <p>. Describe images inside <img>."
}

func renderFullSummaryPrompt(node *core.FileNode, initial *initialScan, engrams []core.Engram) string {
	var b strings.Builder
	b.WriteString("Write a full summary of the document at ")
	b.WriteString(node.FilePath())
	b.WriteString(" from the extracted passages below, and list its keywords.\n\n")

	if initial != nil && initial.SummaryInitial != "" {
		b.WriteString("<initial_summary>\n")
		b.WriteString(initial.SummaryInitial)
		b.WriteString("\n</initial_summary>\n\n")
	}

	for i := range engrams {
		b.WriteString("<passage>\n")
		b.WriteString(engrams[i].Content)
		b.WriteString("\n</passage>\n")
	}
	return b.String()
}

package consolidate

import (
	"strings"

	"github.com/engramic/engramic-go/core"
)

func renderSummaryPrompt(obs *core.Observation) string {
	var b strings.Builder
	b.WriteString("Summarize the following memories as a single paragraph covering what this material is about, and list its keywords.\n\n")
	for i := range obs.EngramList {
		b.WriteString("<memory>\n")
		b.WriteString(obs.EngramList[i].Content)
		b.WriteString("\n</memory>\n")
	}
	return b.String()
}

func renderGenIndexPrompt(engram *core.Engram) string {
	var b strings.Builder
	b.WriteString("Generate lookup phrases under which the following memory should be found. Each phrase is 5 to 8 words, concrete, and phrased the way someone would ask about it.\n\n")
	b.WriteString(engram.Render())
	return b.String()
}

package codify

import (
	"strings"

	"github.com/engramic/engramic-go/core"
)

// renderValidatePrompt asks the model to extract memorable facts from the
// answer, scored for relevancy and accuracy against the provided sources.
func renderValidatePrompt(response *core.Response, sources []core.Engram, metas []core.Meta) string {
	var b strings.Builder

	b.WriteString("Extract the memorable facts from the article below. ")
	b.WriteString("Score each fact for relevancy to the user's question and accuracy against the provided sources, 0 (worst) to 4 (best).\n\n")
	b.WriteString("Respond in TOML. Write one [meta] table with keywords and summary_full, and one [[engram]] table per fact with content, is_native_source = false, accuracy, and relevancy. ")
	b.WriteString("If nothing in the article is worth remembering, respond with a single [not_memorable] table instead.\n\n")

	if len(metas) > 0 {
		b.WriteString("<source_summaries>\n")
		for i := range metas {
			b.WriteString(metas[i].Render())
			b.WriteString("\n")
		}
		b.WriteString("</source_summaries>\n\n")
	}

	if len(sources) > 0 {
		b.WriteString("<sources>\n")
		for i := range sources {
			b.WriteString(sources[i].Render())
			b.WriteString("\n\n")
		}
		b.WriteString("</sources>\n\n")
	}

	b.WriteString("<user_question>\n")
	b.WriteString(response.PromptStr)
	b.WriteString("\n</user_question>\n\n")

	b.WriteString("<article>\n")
	b.WriteString(response.Response)
	b.WriteString("\n</article>")
	return b.String()
}

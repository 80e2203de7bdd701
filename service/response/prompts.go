package response

import (
	"strings"

	"github.com/engramic/engramic-go/core"
)

// renderMainPrompt assembles the answer prompt: working memory, retrieved
// engrams, recent history, and the response-shape guidance from analysis.
func renderMainPrompt(prompt *core.Prompt, analysis core.PromptAnalysis, dir core.ConversationDirection, engrams []core.Engram, history []core.Response) string {
	var b strings.Builder

	b.WriteString("You are a memory-augmented assistant. Answer the user's prompt using the retrieved memories below. Prefer memory content over general knowledge; when the memories do not cover the question, say so.\n\n")

	if dir.UserIntent != "" {
		b.WriteString("<working_memory>\n")
		b.WriteString("The user's intent: ")
		b.WriteString(dir.UserIntent)
		b.WriteString("\n</working_memory>\n\n")
	}

	if len(history) > 0 {
		b.WriteString("<conversation_history>\n")
		for i := range history {
			b.WriteString("User: ")
			b.WriteString(history[i].PromptStr)
			b.WriteString("\nAssistant: ")
			b.WriteString(history[i].Response)
			b.WriteString("\n")
		}
		b.WriteString("</conversation_history>\n\n")
	}

	if len(engrams) > 0 {
		b.WriteString("<memories>\n")
		for i := range engrams {
			b.WriteString(engrams[i].Render())
			b.WriteString("\n\n")
		}
		b.WriteString("</memories>\n")
	}

	if analysis.ThinkingSteps != "" {
		b.WriteString("<approach>\n")
		b.WriteString(analysis.ThinkingSteps)
		b.WriteString("\n</approach>\n\n")
	}
	if analysis.ResponseLength != "" {
		b.WriteString("Expected response length: ")
		b.WriteString(analysis.ResponseLength)
		b.WriteString("\n\n")
	}

	b.WriteString("<user_prompt>\n")
	b.WriteString(prompt.PromptStr)
	b.WriteString("\n</user_prompt>")
	return b.String()
}

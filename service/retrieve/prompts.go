package retrieve

import (
	"strings"

	"github.com/engramic/engramic-go/core"
)

func directionPrompt(prompt *core.Prompt) string {
	var b strings.Builder
	b.WriteString("Read the user's prompt and determine the direction of the conversation.\n")
	b.WriteString("State the user's intent in one sentence and decide whether answering requires research into stored memory.\n\n")
	b.WriteString("<user_prompt>\n")
	b.WriteString(prompt.PromptStr)
	b.WriteString("\n</user_prompt>")
	return b.String()
}

func analyzePrompt(prompt *core.Prompt, metas []core.Meta) string {
	var b strings.Builder
	b.WriteString("Analyze the user's prompt. Classify the prompt type, the expected response length, and outline the thinking steps a good answer would follow.\n\n")
	writeMetaHints(&b, metas)
	b.WriteString("<user_prompt>\n")
	b.WriteString(prompt.PromptStr)
	b.WriteString("\n</user_prompt>")
	return b.String()
}

func genIndexPrompt(prompt *core.Prompt, metas []core.Meta, dir *direction) string {
	var b strings.Builder
	b.WriteString("Generate lookup phrases for a semantic memory search. Each phrase is 5 to 8 words, concrete, and close to how source material would state the fact.\n\n")
	if dir.UserIntent != "" {
		b.WriteString("<user_intent>\n")
		b.WriteString(dir.UserIntent)
		b.WriteString("\n</user_intent>\n\n")
	}
	writeMetaHints(&b, metas)
	b.WriteString("<user_prompt>\n")
	b.WriteString(prompt.PromptStr)
	b.WriteString("\n</user_prompt>")
	return b.String()
}

// writeMetaHints renders the candidate metas so the model knows what domains
// the memory actually covers.
func writeMetaHints(b *strings.Builder, metas []core.Meta) {
	if len(metas) == 0 {
		return
	}
	b.WriteString("The memory store contains material on the following subjects:\n\n")
	for i := range metas {
		b.WriteString(metas[i].Render())
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

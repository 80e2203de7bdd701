package openai

import (
	"encoding/base64"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "hello", "hello"},
		{"bare fence", "```\n[[engram]]\nid = \"x\"\n```", "[[engram]]\nid = \"x\""},
		{"language tag fence", "```toml\nid = \"x\"\n```", "id = \"x\""},
		{"surrounding whitespace", "  ```json\n{}\n```  ", "{}"},
		{"no closing fence", "```toml\nid = \"x\"", "id = \"x\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.in))
		})
	}
}

func TestUserMessageWithoutImages(t *testing.T) {
	msg := userMessage("describe this", nil)
	assert.Equal(t, "describe this", msg.Content)
	assert.Empty(t, msg.MultiContent)
}

func TestUserMessageAttachesEncodedPages(t *testing.T) {
	page := base64.StdEncoding.EncodeToString([]byte("fake png bytes"))
	msg := userMessage("transcribe", []string{page})

	require.Len(t, msg.MultiContent, 2)
	assert.Equal(t, goopenai.ChatMessagePartTypeText, msg.MultiContent[0].Type)
	assert.Equal(t, goopenai.ChatMessagePartTypeImageURL, msg.MultiContent[1].Type)
	assert.Equal(t, "data:image/png;base64,"+page, msg.MultiContent[1].ImageURL.URL)
}

func TestUserMessageFallsBackToTextPages(t *testing.T) {
	msg := userMessage("transcribe", []string{"plain page text with spaces"})

	require.Len(t, msg.MultiContent, 2)
	assert.Equal(t, goopenai.ChatMessagePartTypeText, msg.MultiContent[1].Type)
	assert.Equal(t, "plain page text with spaces", msg.MultiContent[1].Text)
}

// Package openai provides the OpenAI llm and embedding backends.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/plugin"
)

const (
	defaultModel          = "gpt-4o"
	defaultEmbeddingModel = string(goopenai.SmallEmbedding3)
)

func init() {
	plugin.Register(config.CategoryLLM, "openai", newLLM)
	plugin.Register(config.CategoryEmbedding, "openai", newEmbedding)
}

func newClient() (*goopenai.Client, error) {
	apiKey := os.Getenv(config.EnvOpenAIKey)
	if apiKey == "" {
		return nil, plugin.NewLoadError("%s is not set", config.EnvOpenAIKey)
	}
	return goopenai.NewClient(apiKey), nil
}

// LLM submits chat completions, optionally constrained by a JSON schema.
type LLM struct {
	client    *goopenai.Client
	model     string
	collector *plugin.Collector
	usage     string
}

func newLLM(args plugin.Args, deps plugin.Deps) (any, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	return &LLM{
		client:    client,
		model:     args.String("model", defaultModel),
		collector: deps.Collector,
	}, nil
}

// Submit runs one completion. When a schema is given the model is asked for
// a JSON object with those fields and the raw JSON text is returned.
func (l *LLM) Submit(ctx context.Context, prompt string, schema map[string]string, args plugin.Args) (string, error) {
	model := args.String("model", l.model)

	req := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: []goopenai.ChatCompletionMessage{userMessage(prompt, args.Strings("images"))},
	}

	if len(schema) > 0 {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
		req.Messages = append([]goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: schemaInstruction(schema)},
		}, req.Messages...)
	}

	resp, err := l.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", plugin.NewBackendError("openai", "completion failed: %v", err)
	}
	if len(resp.Choices) == 0 {
		return "", plugin.NewBackendError("openai", "completion returned no choices")
	}

	out := StripCodeFences(resp.Choices[0].Message.Content)
	if l.collector != nil {
		l.collector.Record(args.String("usage", "default"), "submit", plugin.Recording{Response: out})
	}
	return out, nil
}

// SubmitStreaming streams a completion to the sink and returns the full
// accumulated text.
func (l *LLM) SubmitStreaming(ctx context.Context, prompt string, args plugin.Args, sink plugin.StreamSink) (string, error) {
	model := args.String("model", l.model)

	stream, err := l.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model: model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		return "", plugin.NewBackendError("openai", "stream failed: %v", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", plugin.NewBackendError("openai", "stream recv failed: %v", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		full.WriteString(text)
		if sink != nil {
			if err := sink.Send(core.StreamPacket{Text: text}); err != nil {
				return "", plugin.NewBackendError("openai", "stream sink failed: %v", err)
			}
		}
	}

	if sink != nil {
		if err := sink.Send(core.StreamPacket{IsTerminal: true}); err != nil {
			return "", plugin.NewBackendError("openai", "stream sink failed: %v", err)
		}
	}

	out := full.String()
	if l.collector != nil {
		l.collector.Record(args.String("usage", "default"), "submit_streaming", plugin.Recording{Response: out})
	}
	return out, nil
}

// userMessage builds the user turn. Page payloads from the sense stage ride
// args["images"]: encoded PNGs become image parts, anything else (the plain
// text fallback rasterizer) is appended as text.
func userMessage(prompt string, images []string) goopenai.ChatCompletionMessage {
	if len(images) == 0 {
		return goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt}
	}

	parts := []goopenai.ChatMessagePart{
		{Type: goopenai.ChatMessagePartTypeText, Text: prompt},
	}
	for _, img := range images {
		if url, ok := imageURL(img); ok {
			parts = append(parts, goopenai.ChatMessagePart{
				Type:     goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{URL: url},
			})
		} else {
			parts = append(parts, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeText, Text: img,
			})
		}
	}
	return goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, MultiContent: parts}
}

func imageURL(payload string) (string, bool) {
	if strings.HasPrefix(payload, "data:image/") ||
		strings.HasPrefix(payload, "http://") || strings.HasPrefix(payload, "https://") {
		return payload, true
	}
	if payload != "" && !strings.ContainsAny(payload, " \t\n") {
		if _, err := base64.StdEncoding.DecodeString(payload); err == nil {
			return "data:image/png;base64," + payload, true
		}
	}
	return "", false
}

func schemaInstruction(schema map[string]string) string {
	fields, _ := json.Marshal(schema)
	return "Respond with a single JSON object containing exactly these fields and types: " + string(fields)
}

// StripCodeFences removes a surrounding markdown code fence, if present.
// Models wrap TOML and JSON answers in fences often enough that every
// structured decode goes through this.
func StripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	// Drop the opening fence (with optional language tag) and a closing fence.
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Embedding generates embeddings via the OpenAI embeddings API.
type Embedding struct {
	client    *goopenai.Client
	model     string
	collector *plugin.Collector
}

func newEmbedding(args plugin.Args, deps plugin.Deps) (any, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	return &Embedding{
		client:    client,
		model:     args.String("model", defaultEmbeddingModel),
		collector: deps.Collector,
	}, nil
}

// GenEmbed returns one vector per input, order preserved.
func (e *Embedding) GenEmbed(ctx context.Context, inputs []string, args plugin.Args) ([][]float64, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Model: goopenai.EmbeddingModel(args.String("model", e.model)),
		Input: inputs,
	})
	if err != nil {
		return nil, plugin.NewBackendError("openai", "embedding failed: %v", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, plugin.NewBackendError("openai", "embedding count mismatch: want %d, got %d", len(inputs), len(resp.Data))
	}

	out := make([][]float64, len(inputs))
	for _, item := range resp.Data {
		vec := make([]float64, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float64(v)
		}
		out[item.Index] = vec
	}

	if e.collector != nil {
		e.collector.Record(args.String("usage", "default"), "gen_embed", plugin.Recording{Embeddings: out})
	}
	return out, nil
}

package sense

import (
	"regexp"
	"strings"
)

// DefaultMaxChunkSize is the character budget for one engram chunk.
const DefaultMaxChunkSize = 1200

// Chunk is one leaf piece of an annotated document, carrying the heading
// text of every enclosing tag.
type Chunk struct {
	Content string
	Context map[string]string
}

// splitTags is the hierarchy the chunker descends: a chunk that is still
// too large after splitting on one tag is split again on the next.
var splitTags = []string{"section", "h1", "h3"}

var tagPatterns = func() map[string]*regexp.Regexp {
	patterns := map[string]*regexp.Regexp{}
	for _, tag := range splitTags {
		patterns[tag] = regexp.MustCompile(`(?s)<` + tag + `>(.*?)</` + tag + `>`)
	}
	return patterns
}()

// Chunker recursively splits scan output into engram-sized pieces.
type Chunker struct {
	MaxChunkSize int
}

// NewChunker creates a chunker. A non-positive size uses the default.
func NewChunker(maxChunkSize int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &Chunker{MaxChunkSize: maxChunkSize}
}

// Chunk splits annotated text until every piece fits the budget. Heading
// text from the tags passed on the way down becomes the chunk's context.
func (c *Chunker) Chunk(annotated string) []Chunk {
	return c.split(annotated, 0, map[string]string{})
}

func (c *Chunker) split(text string, level int, context map[string]string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if len(text) <= c.MaxChunkSize {
		return []Chunk{{Content: text, Context: copyContext(context)}}
	}
	if level >= len(splitTags) {
		return c.splitParagraphs(text, context)
	}

	tag := splitTags[level]
	pattern := tagPatterns[tag]
	matches := pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return c.split(text, level+1, context)
	}

	var chunks []Chunk

	// Content before the first heading inherits the parent context.
	if lead := text[:matches[0][0]]; strings.TrimSpace(lead) != "" {
		chunks = append(chunks, c.split(lead, level+1, context)...)
	}

	for i, m := range matches {
		heading := strings.TrimSpace(text[m[2]:m[3]])
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := text[m[1]:end]

		childContext := copyContext(context)
		childContext[tag] = heading
		chunks = append(chunks, c.split(body, level+1, childContext)...)
	}
	return chunks
}

// splitParagraphs is the last resort below the tag hierarchy: accumulate
// paragraph blocks up to the budget, hard-splitting any single oversized
// block.
func (c *Chunker) splitParagraphs(text string, context map[string]string) []Chunk {
	blocks := strings.Split(text, "\n\n")
	var chunks []Chunk
	var current strings.Builder

	flush := func() {
		if content := strings.TrimSpace(current.String()); content != "" {
			chunks = append(chunks, Chunk{Content: content, Context: copyContext(context)})
		}
		current.Reset()
	}

	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		if len(block) > c.MaxChunkSize {
			flush()
			for start := 0; start < len(block); start += c.MaxChunkSize {
				end := start + c.MaxChunkSize
				if end > len(block) {
					end = len(block)
				}
				chunks = append(chunks, Chunk{Content: block[start:end], Context: copyContext(context)})
			}
			continue
		}

		if current.Len() > 0 && current.Len()+len(block)+2 > c.MaxChunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(block)
	}
	flush()
	return chunks
}

func copyContext(context map[string]string) map[string]string {
	if len(context) == 0 {
		return nil
	}
	out := make(map[string]string, len(context))
	for k, v := range context {
		out[k] = v
	}
	return out
}

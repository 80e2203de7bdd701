package sense

import (
	"context"
	"os"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-shiori/go-readability"

	"github.com/engramic/engramic-go/core"
)

// scanHTML is the no-rasterizer path for web content: extract the readable
// article, convert it to markdown, and rewrite the heading structure into
// the scan tag vocabulary so the chunker can descend it.
func (s *Service) scanHTML(ctx context.Context, node *core.FileNode, fullPath string) (string, *initialScan, error) {
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return "", nil, core.NewValidationError("failed to read %s: %v", node.FilePath(), err)
	}

	article, err := readability.FromReader(strings.NewReader(string(raw)), nil)
	if err != nil {
		return "", nil, core.NewValidationError("failed to extract article from %s: %v", node.FilePath(), err)
	}

	markdown, err := md.NewConverter("", true, nil).ConvertString(article.Content)
	if err != nil {
		return "", nil, core.NewValidationError("failed to convert %s to markdown: %v", node.FilePath(), err)
	}
	if strings.TrimSpace(markdown) == "" {
		return "", nil, core.NewValidationError("document %s has no readable content", node.FilePath())
	}

	initial := &initialScan{
		DocumentTitle:  article.Title,
		Author:         article.Byline,
		SummaryInitial: article.Excerpt,
		Format:         "html",
	}
	return annotateMarkdown(article.Title, markdown), initial, nil
}

// annotateMarkdown rewrites markdown headings into scan tags: #/## become
// h1, deeper headings become h3.
func annotateMarkdown(title, markdown string) string {
	var b strings.Builder
	if title != "" {
		b.WriteString("<title>")
		b.WriteString(title)
		b.WriteString("</title>\n")
	}

	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "### "):
			b.WriteString("<h3>")
			b.WriteString(strings.TrimPrefix(trimmed, "### "))
			b.WriteString("</h3>\n")
		case strings.HasPrefix(trimmed, "## "):
			b.WriteString("<h1>")
			b.WriteString(strings.TrimPrefix(trimmed, "## "))
			b.WriteString("</h1>\n")
		case strings.HasPrefix(trimmed, "# "):
			b.WriteString("<h1>")
			b.WriteString(strings.TrimPrefix(trimmed, "# "))
			b.WriteString("</h1>\n")
		default:
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

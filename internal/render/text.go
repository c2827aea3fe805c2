package render

import (
	"bytes"
	"html"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

// Text converts a text-kind file into HTML for the html buffer. Markdown is
// rendered; everything else is shown preformatted.
func Text(name, content string) string {
	if strings.EqualFold(filepath.Ext(name), ".md") {
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(content), &buf); err == nil {
			return buf.String()
		}
	}
	return "<pre>" + html.EscapeString(content) + "</pre>"
}

package assistant

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/livetemplate/codepane/internal/vfs"
)

var systemPrompts = map[vfs.FileKind]string{
	vfs.KindHTML: `You are a code generator. Output only clean HTML, with no explanation, introduction or commentary.
Requirements:
- Use semantic HTML5 elements
- Include the responsive viewport meta tag
- Provide a complete document structure
- Add only the inline styles that are necessary
- Do not wrap the answer in markdown code fences

Output the HTML directly, starting with <!DOCTYPE html> and ending with </html>.`,

	vfs.KindCSS: `You are a CSS generator. Output only clean CSS, with no explanation, introduction or commentary.
Requirements:
- Use modern CSS3 features
- Prefer Flexbox or Grid for layout
- Include responsive rules
- Add transitions and animations where they fit
- Do not wrap the answer in markdown code fences

Output the CSS directly, starting with a selector.`,

	vfs.KindJavaScript: `You are a JavaScript generator. Output only clean JavaScript, with no explanation, introduction or commentary.
Requirements:
- Use modern ES2015+ syntax
- Include DOM manipulation and event handling
- Use async/await for asynchronous work
- Handle errors
- Keep the code modular
- Do not wrap the answer in markdown code fences

Output the JavaScript directly and assume the HTML elements already exist.`,
}

// KindForFolder returns the kind generated for a target folder. Folders
// without a code kind generate HTML.
func KindForFolder(folder vfs.FolderID) vfs.FileKind {
	switch folder {
	case vfs.FolderCSS:
		return vfs.KindCSS
	case vfs.FolderJavaScript:
		return vfs.KindJavaScript
	default:
		return vfs.KindHTML
	}
}

// SystemPrompt returns the instructions sent for a kind.
func SystemPrompt(kind vfs.FileKind) string {
	if p, ok := systemPrompts[kind]; ok {
		return p
	}
	return systemPrompts[vfs.KindHTML]
}

var (
	politePattern  = regexp.MustCompile(`(?i)\b(please|kindly|could you|can you|would you|help me|i want to|i want|i need|i'd like)\b[,]?`)
	chattyPattern  = regexp.MustCompile(`(?i)\b(explain|explanation|describe|introduction|walk me through)\b`)
	spacesPattern  = regexp.MustCompile(`[ \t]+`)
	minPromptRunes = 5
)

// OptimizePrompt strips politeness and words that invite the model to add
// prose around the code.
func OptimizePrompt(prompt string) string {
	optimized := politePattern.ReplaceAllString(prompt, "")
	optimized = chattyPattern.ReplaceAllString(optimized, "")
	optimized = strings.TrimSpace(spacesPattern.ReplaceAllString(optimized, " "))
	if len([]rune(optimized)) < minPromptRunes {
		optimized = strings.TrimSpace(optimized + " implementation")
	}
	return optimized
}

var (
	fencePattern        = regexp.MustCompile("```[\\w-]*\\n?")
	inlineCodePattern   = regexp.MustCompile("`([^`\\n]+)`")
	bulletPattern       = regexp.MustCompile(`(?m)^[ \t]*[*+-][ \t]+`)
	orderedPattern      = regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+`)
	htmlCommentPattern  = regexp.MustCompile(`<!--[\s\S]*?-->`)
	blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	lineCommentPattern  = regexp.MustCompile(`(?m)^[ \t]*//.*$`)
	entityReplacer      = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")
)

// CleanCode strips markdown wrapping and comments from a model answer and
// drops blank lines.
func CleanCode(code string, kind vfs.FileKind) string {
	if strings.TrimSpace(code) == "" {
		return ""
	}

	cleaned := fencePattern.ReplaceAllString(code, "")
	cleaned = inlineCodePattern.ReplaceAllString(cleaned, "$1")
	cleaned = bulletPattern.ReplaceAllString(cleaned, "")
	cleaned = orderedPattern.ReplaceAllString(cleaned, "")

	switch kind {
	case vfs.KindHTML:
		cleaned = htmlCommentPattern.ReplaceAllString(cleaned, "")
		cleaned = entityReplacer.Replace(cleaned)
	case vfs.KindCSS:
		cleaned = blockCommentPattern.ReplaceAllString(cleaned, "")
		cleaned = entityReplacer.Replace(cleaned)
	case vfs.KindJavaScript:
		cleaned = blockCommentPattern.ReplaceAllString(cleaned, "")
		cleaned = lineCommentPattern.ReplaceAllString(cleaned, "")
	}

	lines := strings.Split(cleaned, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// FileName returns the name for a generated file: ai_<kind>_<id>.<ext>.
func FileName(kind vfs.FileKind, now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("ai_%s_%d_%s.%s", kind, now.UnixMilli(), id, kind.Extension())
}

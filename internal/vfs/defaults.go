package vfs

import (
	"embed"
	"fmt"
)

//go:embed defaults
var defaultsFS embed.FS

type defaultFile struct {
	folder FolderID
	name   string
}

// defaultLayout is the built-in project, in display order.
var defaultLayout = []defaultFile{
	{FolderHTML, "clock.html"},
	{FolderHTML, "index.html"},
	{FolderCSS, "clock.css"},
	{FolderCSS, "style.css"},
	{FolderJavaScript, "clock.js"},
	{FolderJavaScript, "script.js"},
	{FolderAssets, "data.json"},
	{FolderAssets, "data.csv"},
}

func mustDefault(name string) string {
	data, err := defaultsFS.ReadFile("defaults/" + name)
	if err != nil {
		panic(fmt.Sprintf("vfs: missing embedded default %s: %v", name, err))
	}
	return string(data)
}

// DefaultFiles returns a fresh copy of the built-in file set.
func DefaultFiles() map[FolderID][]FileRecord {
	out := make(map[FolderID][]FileRecord, len(Folders))
	for _, f := range Folders {
		out[f] = []FileRecord{}
	}
	for _, d := range defaultLayout {
		kind := KindForName(d.name)
		out[d.folder] = append(out[d.folder], FileRecord{
			Name:    d.name,
			Kind:    kind,
			Icon:    kind.Icon(),
			Content: mustDefault(d.name),
		})
	}
	return out
}

// NewDefaultStore returns a store seeded with the built-in file set.
func NewDefaultStore() *Store {
	s := NewStore()
	s.Restore(DefaultFiles())
	return s
}

// DefaultBuffers returns the editor contents used when nothing was saved.
func DefaultBuffers() map[BufferKind]string {
	return map[BufferKind]string{
		BufferHTML:       mustDefault("index.html"),
		BufferCSS:        mustDefault("style.css"),
		BufferJavaScript: mustDefault("script.js"),
		BufferData:       mustDefault("data.csv"),
	}
}

func newHTMLTemplate(name string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s</title>
    <link rel="stylesheet" href="style.css">
</head>
<body>
    <h1>%s</h1>
    <script src="script.js"></script>
</body>
</html>
`, name, name)
}

func newCSSTemplate(name string) string {
	return fmt.Sprintf(`/* %s */

body {
    font-family: Arial, sans-serif;
    margin: 0;
    padding: 20px;
}
`, name)
}

func newJSTemplate(name string) string {
	return fmt.Sprintf(`// %s

console.log('%s loaded');
`, name, name)
}

func newJSONTemplate(string) string {
	return `{
  "items": []
}
`
}

func newCSVTemplate(string) string {
	return "name,value\n"
}

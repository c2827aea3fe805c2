package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindForName(t *testing.T) {
	tests := []struct {
		name     string
		expected FileKind
	}{
		{"index.html", KindHTML},
		{"page.HTM", KindHTML},
		{"style.css", KindCSS},
		{"app.js", KindJavaScript},
		{"data.json", KindJSON},
		{"data.csv", KindCSV},
		{"logo.png", KindImage},
		{"photo.jpeg", KindImage},
		{"icon.svg", KindImage},
		{"notes.md", KindText},
		{"feed.xml", KindText},
		{"README", KindText},
		{"archive.tar.gz", KindText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindForName(tt.name))
		})
	}
}

func TestKindDispatch(t *testing.T) {
	tests := []struct {
		kind   FileKind
		folder FolderID
		buffer BufferKind
	}{
		{KindHTML, FolderHTML, BufferHTML},
		{KindCSS, FolderCSS, BufferCSS},
		{KindJavaScript, FolderJavaScript, BufferJavaScript},
		{KindJSON, FolderAssets, BufferData},
		{KindCSV, FolderAssets, BufferData},
		{KindImage, FolderAssets, BufferNone},
		{KindText, FolderAssets, BufferHTML},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.folder, tt.kind.Folder())
			assert.Equal(t, tt.buffer, tt.kind.Buffer())
			assert.NotEmpty(t, tt.kind.Icon())
		})
	}
}

func TestDefaultContentTemplates(t *testing.T) {
	assert.Contains(t, KindHTML.DefaultContent("page.html"), "<title>page.html</title>")
	assert.Contains(t, KindCSS.DefaultContent("a.css"), "/* a.css */")
	assert.Contains(t, KindJavaScript.DefaultContent("a.js"), "// a.js")
	assert.Equal(t, "name,value\n", KindCSV.DefaultContent("d.csv"))
	assert.Empty(t, KindImage.DefaultContent("x.png"))
}

func TestParseHelpers(t *testing.T) {
	f, err := ParseFolder(" Assets ")
	assert.NoError(t, err)
	assert.Equal(t, FolderAssets, f)

	_, err = ParseFolder("images")
	assert.Error(t, err)

	b, err := ParseBuffer("js")
	assert.NoError(t, err)
	assert.Equal(t, BufferJavaScript, b)

	_, err = ParseBuffer("python")
	assert.Error(t, err)

	k, err := ParseKind("CSV")
	assert.NoError(t, err)
	assert.Equal(t, KindCSV, k)

	assert.Equal(t, FolderAssets, BufferFolder(BufferData))
	assert.Equal(t, BufferCSS, FolderBuffer(FolderCSS))
}

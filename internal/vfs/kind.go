// Package vfs implements the in-memory virtual file tree that backs the editor:
// four fixed folders, each holding an ordered list of file records.
package vfs

import (
	"fmt"
	"path"
	"strings"
)

// FolderID identifies one of the fixed content folders.
type FolderID string

const (
	FolderHTML       FolderID = "html"
	FolderCSS        FolderID = "css"
	FolderJavaScript FolderID = "javascript"
	FolderAssets     FolderID = "assets"
)

// Folders lists every folder in display order.
var Folders = []FolderID{FolderHTML, FolderCSS, FolderJavaScript, FolderAssets}

// Valid reports whether f is one of the fixed folders.
func (f FolderID) Valid() bool {
	switch f {
	case FolderHTML, FolderCSS, FolderJavaScript, FolderAssets:
		return true
	}
	return false
}

// ParseFolder converts a string to a FolderID.
func ParseFolder(s string) (FolderID, error) {
	f := FolderID(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("unknown folder %q", s)
	}
	return f, nil
}

// FileKind is the content type of a file record.
type FileKind string

const (
	KindHTML       FileKind = "html"
	KindCSS        FileKind = "css"
	KindJavaScript FileKind = "javascript"
	KindJSON       FileKind = "json"
	KindCSV        FileKind = "csv"
	KindImage      FileKind = "image"
	KindText       FileKind = "text"
)

// BufferKind names one of the editor buffers.
type BufferKind string

const (
	BufferHTML       BufferKind = "html"
	BufferCSS        BufferKind = "css"
	BufferJavaScript BufferKind = "javascript"
	BufferData       BufferKind = "data"
	// BufferNone is used for kinds that never load into an editor.
	BufferNone BufferKind = ""
)

// Buffers lists every editor buffer.
var Buffers = []BufferKind{BufferHTML, BufferCSS, BufferJavaScript, BufferData}

// ParseBuffer converts a string to a BufferKind. "js" is accepted as an alias.
func ParseBuffer(s string) (BufferKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "html":
		return BufferHTML, nil
	case "css":
		return BufferCSS, nil
	case "javascript", "js":
		return BufferJavaScript, nil
	case "data":
		return BufferData, nil
	}
	return BufferNone, fmt.Errorf("unknown buffer %q", s)
}

// KindInfo is the single dispatch entry for a file kind.
type KindInfo struct {
	Folder     FolderID
	Buffer     BufferKind
	Icon       string
	Extensions []string
	// DefaultContent produces the template used for a freshly created file.
	DefaultContent func(name string) string
}

var kinds = map[FileKind]KindInfo{
	KindHTML: {
		Folder:         FolderHTML,
		Buffer:         BufferHTML,
		Icon:           "fab fa-html5",
		Extensions:     []string{"html", "htm"},
		DefaultContent: newHTMLTemplate,
	},
	KindCSS: {
		Folder:         FolderCSS,
		Buffer:         BufferCSS,
		Icon:           "fab fa-css3-alt",
		Extensions:     []string{"css"},
		DefaultContent: newCSSTemplate,
	},
	KindJavaScript: {
		Folder:         FolderJavaScript,
		Buffer:         BufferJavaScript,
		Icon:           "fab fa-js",
		Extensions:     []string{"js", "javascript"},
		DefaultContent: newJSTemplate,
	},
	KindJSON: {
		Folder:         FolderAssets,
		Buffer:         BufferData,
		Icon:           "fas fa-code",
		Extensions:     []string{"json"},
		DefaultContent: newJSONTemplate,
	},
	KindCSV: {
		Folder:         FolderAssets,
		Buffer:         BufferData,
		Icon:           "fas fa-file-csv",
		Extensions:     []string{"csv"},
		DefaultContent: newCSVTemplate,
	},
	KindImage: {
		Folder:         FolderAssets,
		Buffer:         BufferNone,
		Icon:           "fas fa-image",
		Extensions:     []string{"png", "jpg", "jpeg", "gif", "svg"},
		DefaultContent: func(string) string { return "" },
	},
	KindText: {
		Folder:         FolderAssets,
		Buffer:         BufferHTML,
		Icon:           "fas fa-file-alt",
		Extensions:     []string{"txt", "md", "xml"},
		DefaultContent: func(string) string { return "" },
	},
}

// Info returns the dispatch entry for k. Unknown kinds resolve to text.
func (k FileKind) Info() KindInfo {
	if info, ok := kinds[k]; ok {
		return info
	}
	return kinds[KindText]
}

// Valid reports whether k is a known kind.
func (k FileKind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Folder returns the folder files of this kind live in.
func (k FileKind) Folder() FolderID { return k.Info().Folder }

// Buffer returns the editor buffer files of this kind load into.
func (k FileKind) Buffer() BufferKind { return k.Info().Buffer }

// Icon returns the icon class shown in the explorer.
func (k FileKind) Icon() string { return k.Info().Icon }

// DefaultContent returns the new-file template for name.
func (k FileKind) DefaultContent(name string) string { return k.Info().DefaultContent(name) }

// ParseKind converts a string to a FileKind.
func ParseKind(s string) (FileKind, error) {
	k := FileKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown file kind %q", s)
	}
	return k, nil
}

// KindForName detects the kind from the file extension. Unknown extensions are text.
func KindForName(name string) FileKind {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ext == "" {
		return KindText
	}
	for kind, info := range kinds {
		for _, e := range info.Extensions {
			if e == ext {
				return kind
			}
		}
	}
	return KindText
}

// Extension returns the canonical extension for a kind, without the dot.
func (k FileKind) Extension() string {
	return k.Info().Extensions[0]
}

// BufferFolder returns the folder whose files load into buffer b.
func BufferFolder(b BufferKind) FolderID {
	switch b {
	case BufferHTML:
		return FolderHTML
	case BufferCSS:
		return FolderCSS
	case BufferJavaScript:
		return FolderJavaScript
	case BufferData:
		return FolderAssets
	}
	return ""
}

// FolderBuffer returns the buffer shown when folder f is activated.
func FolderBuffer(f FolderID) BufferKind {
	switch f {
	case FolderHTML:
		return BufferHTML
	case FolderCSS:
		return BufferCSS
	case FolderJavaScript:
		return BufferJavaScript
	case FolderAssets:
		return BufferData
	}
	return BufferNone
}

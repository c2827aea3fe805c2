// Package export projects a workspace snapshot into downloadable artifacts:
// a single self-contained HTML file and a zip of the whole project.
package export

import (
	"archive/zip"
	"bytes"
	"embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/livetemplate/codepane/internal/persist"
	"github.com/livetemplate/codepane/internal/render"
	"github.com/livetemplate/codepane/internal/vfs"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// DefaultTitle is the document title of exported pages.
const DefaultTitle = "codepane project"

type pageView struct {
	Title    string
	HTML     string
	CSS      string
	JS       string
	DataJSON string
}

type folderView struct {
	Name  string
	Count int
	Size  string
}

type readmeView struct {
	Title      string
	Folders    []folderView
	ExportedAt string
	FileCount  int
	TotalSize  string
}

func newPageView(snap *persist.Snapshot) pageView {
	view := pageView{Title: DefaultTitle, HTML: snap.HTML, CSS: snap.CSS, JS: snap.JS}
	// Unparsable data is left out; the page still works without appData.
	if data, err := render.ParseData(snap.Data); err == nil && data != nil {
		if b, err := json.Marshal(data); err == nil {
			view.DataJSON = string(b)
		}
	}
	return view
}

// BundleName is the download name of a single-file export.
func BundleName(now time.Time) string {
	return fmt.Sprintf("codepane-export-%d.html", now.UnixMilli())
}

// ZipName is the download name of a project archive.
func ZipName(now time.Time) string {
	return fmt.Sprintf("codepane-project-%d.zip", now.UnixMilli())
}

// Bundle writes one HTML document with the CSS and JS inlined.
func Bundle(w io.Writer, snap *persist.Snapshot) error {
	return templates.ExecuteTemplate(w, "bundle.html.tmpl", newPageView(snap))
}

// Zip writes the project archive. Everything lives under one root directory:
// index.html, style.css, script.js and README.md built from the buffers, plus
// each non-empty folder mirrored file by file. Images are stored decoded.
func Zip(w io.Writer, snap *persist.Snapshot, now time.Time) error {
	root := strings.TrimSuffix(ZipName(now), ".zip") + "/"
	zw := zip.NewWriter(w)

	var index bytes.Buffer
	if err := templates.ExecuteTemplate(&index, "index.html.tmpl", newPageView(snap)); err != nil {
		return fmt.Errorf("render index.html: %w", err)
	}

	readme := readmeView{Title: DefaultTitle, ExportedAt: now.Format("2006-01-02 15:04:05 MST")}
	var total uint64
	for _, folder := range vfs.Folders {
		files := snap.FileSystem.Files[folder]
		if len(files) == 0 {
			continue
		}
		var size uint64
		for _, rec := range files {
			size += uint64(rec.SizeBytes())
		}
		total += size
		readme.FileCount += len(files)
		readme.Folders = append(readme.Folders, folderView{
			Name:  string(folder),
			Count: len(files),
			Size:  humanize.Bytes(size),
		})
	}
	readme.TotalSize = humanize.Bytes(total)

	var readmeBuf bytes.Buffer
	if err := templates.ExecuteTemplate(&readmeBuf, "readme.md.tmpl", readme); err != nil {
		return fmt.Errorf("render README.md: %w", err)
	}

	entries := []struct {
		name string
		data []byte
	}{
		{"index.html", index.Bytes()},
		{"style.css", []byte(snap.CSS)},
		{"script.js", []byte(snap.JS)},
		{"README.md", readmeBuf.Bytes()},
	}
	for _, e := range entries {
		if err := writeEntry(zw, root+e.name, e.data, now); err != nil {
			return err
		}
	}

	for _, folder := range vfs.Folders {
		for _, rec := range snap.FileSystem.Files[folder] {
			if rec.Content == "" {
				continue
			}
			if err := writeEntry(zw, root+string(folder)+"/"+rec.Name, fileBytes(rec), now); err != nil {
				return err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish zip: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, name string, data []byte, now time.Time) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: now,
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// fileBytes returns the bytes written for a record. Base64 image data URIs
// are decoded; anything else is written as stored.
func fileBytes(rec vfs.FileRecord) []byte {
	if rec.Kind == vfs.KindImage && strings.HasPrefix(rec.Content, "data:") {
		if i := strings.Index(rec.Content, ";base64,"); i >= 0 {
			if b, err := base64.StdEncoding.DecodeString(rec.Content[i+len(";base64,"):]); err == nil {
				return b
			}
		}
	}
	return []byte(rec.Content)
}

package workspace

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/livetemplate/codepane/internal/assistant"
	"github.com/livetemplate/codepane/internal/console"
	"github.com/livetemplate/codepane/internal/vfs"
)

// Upload is a file received from the client or read from disk.
type Upload struct {
	Name string
	Data []byte
}

// UploadOptions controls how name clashes are handled.
type UploadOptions struct {
	// Overwrite replaces existing files instead of applying the conflict
	// policy.
	Overwrite bool
	// NoSelect skips opening the last imported file.
	NoSelect bool
}

// DataURI encodes an image as a data URI.
func DataURI(name string, data []byte) string {
	return "data:" + imageMIME(name) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func imageMIME(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	switch ext {
	case "jpg":
		ext = "jpeg"
	case "svg":
		ext = "svg+xml"
	}
	return "image/" + ext
}

// Import adds files to the folders of their kinds. Images are stored as data
// URIs. Unless opts.NoSelect is set the last file is opened.
func (w *Workspace) Import(ctx context.Context, files []Upload, opts UploadOptions) ([]vfs.FileRecord, error) {
	var out []vfs.FileRecord
	err := w.do(ctx, func() error {
		decide := func(vfs.FileRecord) bool { return opts.Overwrite }
		var last *vfs.FileRecord
		for _, f := range files {
			name := path.Base(strings.ReplaceAll(f.Name, "\\", "/"))
			kind := vfs.KindForName(name)
			content := strings.ToValidUTF8(string(f.Data), "�")
			if kind == vfs.KindImage {
				content = DataURI(name, f.Data)
			}

			rec, err := w.store.Upsert(kind.Folder(), name, kind, content, decide)
			if err != nil {
				w.logLine(console.LevelError, fmt.Sprintf("Import of %s failed: %v", name, err))
				return err
			}
			out = append(out, rec)
			last = &out[len(out)-1]
			w.logLine(console.LevelInfo, fmt.Sprintf("Imported %s into %s", rec.Name, kind.Folder()))
		}

		if last == nil {
			return nil
		}
		if opts.NoSelect {
			w.notifyState()
			w.scheduleSave()
			return nil
		}
		return w.selectFile(last.Kind.Folder(), last.Name, "import")
	})
	return out, err
}

// InsertImage appends an <img> for an image file to the html buffer.
func (w *Workspace) InsertImage(ctx context.Context, name string) error {
	return w.do(ctx, func() error {
		rec, ok := w.store.Get(vfs.FolderAssets, name)
		if !ok || rec.Kind != vfs.KindImage {
			err := &vfs.FileError{Op: "insert image", Folder: vfs.FolderAssets, Name: name, Err: vfs.ErrNotFound}
			w.logLine(console.LevelError, err.Error())
			return err
		}

		tag := fmt.Sprintf(`<img src="%s" alt="%s">`, rec.Content, html.EscapeString(rec.Name))
		current := w.buffers.Get(vfs.BufferHTML)
		if current != "" && !strings.HasSuffix(current, "\n") {
			current += "\n"
		}

		w.checkpoint()
		if _, err := w.buffers.Set(vfs.BufferHTML, current+tag+"\n"); err != nil {
			return err
		}
		w.checkpoint()
		w.renderTimer.Cancel()
		w.notifyBuffers()
		_, err := w.runRender("insert")
		w.scheduleSave()
		return err
	})
}

// Generate asks the assistant for code and adds the answer as a new file in
// the target folder, which is then opened. The request runs outside the loop
// so edits keep flowing while it is in flight.
func (w *Workspace) Generate(ctx context.Context, req assistant.Request) (vfs.FileRecord, error) {
	if w.generator == nil {
		return vfs.FileRecord{}, assistant.ErrDisabled
	}
	if req.Folder == "" {
		if err := w.do(ctx, func() error {
			req.Folder = w.cursor.ActiveFolder()
			return nil
		}); err != nil {
			return vfs.FileRecord{}, err
		}
	}

	res, err := w.generator.Generate(ctx, req)
	if err != nil {
		_ = w.do(ctx, func() error {
			w.logLine(console.LevelError, "Assistant: "+err.Error())
			return nil
		})
		return vfs.FileRecord{}, err
	}

	var rec vfs.FileRecord
	err = w.do(ctx, func() error {
		var err error
		rec, err = w.store.Upsert(res.Folder, res.Name, res.Kind, res.Code, nil)
		if err != nil {
			w.logLine(console.LevelError, "Assistant: "+err.Error())
			return err
		}
		source := "generated"
		if res.Cached {
			source = "reused a cached answer for"
		}
		w.logLine(console.LevelInfo, fmt.Sprintf("Assistant %s %s", source, rec.Name))
		w.log.Info("assistant file added", zap.String("file", rec.Name), zap.Bool("cached", res.Cached))
		return w.selectFile(res.Folder, rec.Name, "assistant")
	})
	return rec, err
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/livetemplate/codepane/internal/assistant"
	"github.com/livetemplate/codepane/internal/export"
	"github.com/livetemplate/codepane/internal/history"
	"github.com/livetemplate/codepane/internal/persist"
	"github.com/livetemplate/codepane/internal/render"
	"github.com/livetemplate/codepane/internal/vfs"
	"github.com/livetemplate/codepane/internal/workspace"
)

// maxRequestBodySize limits the size of JSON request bodies (4MB)
const maxRequestBodySize = 4 << 20

// maxUploadSize limits one multipart upload (32MB)
const maxUploadSize = 32 << 20

type createFileRequest struct {
	Name    string       `json:"name"`
	Kind    vfs.FileKind `json:"type,omitempty"`
	Content string       `json:"content,omitempty"`
}

type contentRequest struct {
	Content string `json:"content"`
}

type selectRequest struct {
	Folder string `json:"folder"`
	Name   string `json:"name"`
}

type folderRequest struct {
	Folder string `json:"folder"`
}

type bufferRequest struct {
	Value string `json:"value"`
}

type imageRequest struct {
	Name string `json:"name"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Folder string `json:"folder"`
}

// registerAPI mounts the /api routes on mux.
func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/buffers", s.handleBuffers)
	mux.HandleFunc("PUT /api/buffers/{kind}", s.handleEditBuffer)
	mux.HandleFunc("GET /api/logs", s.handleLogs)

	mux.HandleFunc("GET /api/folders/{folder}", s.handleListFiles)
	mux.HandleFunc("POST /api/folders/{folder}/files", s.handleCreateFile)
	mux.HandleFunc("GET /api/folders/{folder}/files/{name}", s.handleGetFile)
	mux.HandleFunc("PUT /api/folders/{folder}/files/{name}", s.handleUpdateFile)
	mux.HandleFunc("DELETE /api/folders/{folder}/files/{name}", s.handleDeleteFile)

	mux.HandleFunc("POST /api/select", s.handleSelect)
	mux.HandleFunc("POST /api/folder", s.handleSwitchFolder)
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("POST /api/save", s.handleSave)
	mux.HandleFunc("POST /api/clear", s.command(s.ws.Clear))
	mux.HandleFunc("POST /api/undo", s.command(s.ws.Undo))
	mux.HandleFunc("POST /api/delete", s.command(s.ws.SmartDelete))

	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/images/insert", s.handleInsertImage)
	mux.HandleFunc("POST /api/assistant/generate", s.handleGenerate)

	mux.HandleFunc("GET /api/data/preview", s.handleDataPreview)
	mux.HandleFunc("GET /api/export/html", s.handleExportHTML)
	mux.HandleFunc("GET /api/export/zip", s.handleExportZip)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.ws.State(r.Context())
	if err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleBuffers(w http.ResponseWriter, r *http.Request) {
	buffers, err := s.ws.Buffers(r.Context())
	if err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buffers)
}

func (s *Server) handleEditBuffer(w http.ResponseWriter, r *http.Request) {
	kind, err := vfs.ParseBuffer(r.PathValue("kind"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req bufferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.ws.Edit(r.Context(), kind, req.Value); err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.ws.Logs(r.Context())
	if err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": logs, "count": len(logs)})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	folder, ok := pathFolder(w, r)
	if !ok {
		return
	}
	files, err := s.ws.Files(r.Context(), folder)
	if err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": files, "count": len(files)})
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	folder, ok := pathFolder(w, r)
	if !ok {
		return
	}
	var req createFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := s.ws.CreateFile(r.Context(), folder, req.Name, req.Kind, req.Content)
	if err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	folder, ok := pathFolder(w, r)
	if !ok {
		return
	}
	rec, err := s.ws.File(r.Context(), folder, r.PathValue("name"))
	if err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateFile(w http.ResponseWriter, r *http.Request) {
	folder, ok := pathFolder(w, r)
	if !ok {
		return
	}
	var req contentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.ws.UpdateFile(r.Context(), folder, r.PathValue("name"), req.Content); err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	folder, ok := pathFolder(w, r)
	if !ok {
		return
	}
	if err := s.ws.DeleteFile(r.Context(), folder, r.PathValue("name")); err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	folder, err := vfs.ParseFolder(req.Folder)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ws.Select(r.Context(), folder, req.Name); err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	s.handleState(w, r)
}

func (s *Server) handleSwitchFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	folder, err := vfs.ParseFolder(req.Folder)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ws.SwitchFolder(r.Context(), folder); err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	s.handleState(w, r)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	doc, err := s.ws.Run(r.Context())
	if err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"generation": doc.Generation,
		"builtAt":    doc.BuiltAt,
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.ws.Save(r.Context(), "save"); err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	s.handleState(w, r)
}

// command adapts a no-argument workspace command to a handler that answers
// with the resulting state.
func (s *Server) command(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			s.writeWorkspaceError(w, err)
			return
		}
		s.handleState(w, r)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var uploads []workspace.Upload
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "unreadable upload: "+fh.Filename)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "unreadable upload: "+fh.Filename)
				return
			}
			uploads = append(uploads, workspace.Upload{Name: fh.Filename, Data: data})
		}
	}
	if len(uploads) == 0 {
		writeJSONError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	opts := workspace.UploadOptions{Overwrite: r.FormValue("overwrite") == "true"}
	recs, err := s.ws.Import(r.Context(), uploads, opts)
	if err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"data": recs, "count": len(recs)})
}

func (s *Server) handleInsertImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.ws.InsertImage(r.Context(), req.Name); err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	folder, err := vfs.ParseFolder(req.Folder)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.ws.Generate(r.Context(), assistant.Request{Prompt: req.Prompt, Folder: folder})
	if err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleDataPreview(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ws.DataPreview(r.Context())
	if err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) exportSnapshot(w http.ResponseWriter, r *http.Request) (*persist.Snapshot, bool) {
	snap, err := s.ws.Snapshot(r.Context())
	if err != nil {
		s.writeWorkspaceError(w, err)
		return nil, false
	}
	return snap, true
}

func (s *Server) handleExportHTML(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.exportSnapshot(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.BundleName(s.now())+`"`)
	if err := export.Bundle(w, snap); err != nil {
		s.log.Error("html export failed", zap.Error(err))
	}
}

func (s *Server) handleExportZip(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.exportSnapshot(w, r)
	if !ok {
		return
	}
	now := s.now()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.ZipName(now)+`"`)
	if err := export.Zip(w, snap, now); err != nil {
		s.log.Error("zip export failed", zap.Error(err))
	}
}

func pathFolder(w http.ResponseWriter, r *http.Request) (vfs.FolderID, bool) {
	folder, err := vfs.ParseFolder(r.PathValue("folder"))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return folder, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// statusFor maps workspace errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vfs.ErrDuplicateName),
		errors.Is(err, history.ErrNothingToUndo),
		errors.Is(err, assistant.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, vfs.ErrInvalidName),
		errors.Is(err, assistant.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.Is(err, render.ErrDataParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, assistant.ErrDisabled),
		errors.Is(err, assistant.ErrCircuitOpen),
		errors.Is(err, workspace.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var apiErr *assistant.APIError
	var modelErr *assistant.ModelError
	if errors.As(err, &apiErr) || errors.As(err, &modelErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeWorkspaceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSONError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

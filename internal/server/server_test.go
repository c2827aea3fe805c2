package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/livetemplate/codepane/internal/config"
	"github.com/livetemplate/codepane/internal/persist"
	"github.com/livetemplate/codepane/internal/workspace"
)

var fixedNow = time.UnixMilli(1700000000000)

// newTestServer returns a server backed by an in-memory workspace.
func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	ws := workspace.New(workspace.Options{
		Gateway:     persist.NewGateway(persist.NewMemorySlot(), zap.NewNop()),
		RenderDelay: time.Hour,
		SaveDelay:   time.Hour,
		Logger:      zap.NewNop(),
	})
	ws.Start()
	require.NoError(t, ws.Load(context.Background()))

	srv := New(Options{Config: cfg, Workspace: ws, Logger: zap.NewNop(), Now: func() time.Time { return fixedNow }})
	t.Cleanup(func() {
		_ = srv.Close()
		_ = ws.Close(context.Background())
	})
	return srv
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) workspace.StateView {
	t.Helper()
	var state workspace.StateView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	return state
}

func TestServeIDE(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "GET", "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "codepane.js")

	w = do(t, srv, "GET", "/assets/codepane.js", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, "GET", "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStateListsDefaultProject(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "GET", "/api/state", nil)
	require.Equal(t, http.StatusOK, w.Code)

	state := decodeState(t, w)
	assert.Equal(t, "html", string(state.ActiveFolder))
	assert.NotEmpty(t, state.Folders["html"])
	assert.NotEmpty(t, state.Folders["assets"])
}

func TestFileLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "POST", "/api/folders/css/files", map[string]string{"name": "theme.css"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, srv, "POST", "/api/folders/css/files", map[string]string{"name": "THEME.css"})
	assert.Equal(t, http.StatusConflict, w.Code, "names are unique ignoring case")

	w = do(t, srv, "POST", "/api/folders/css/files", map[string]string{"name": "bad/name.css"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "PUT", "/api/folders/css/files/theme.css", map[string]string{"content": "p { margin: 0 }"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, "GET", "/api/folders/css/files/theme.css", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "p { margin: 0 }")

	w = do(t, srv, "DELETE", "/api/folders/css/files/theme.css", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, "GET", "/api/folders/css/files/theme.css", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnknownFolder(t *testing.T) {
	srv := newTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, do(t, srv, "GET", "/api/folders/images", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, "POST", "/api/folder", map[string]string{"folder": "images"}).Code)
}

func TestSelectLoadsBuffer(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "POST", "/api/select", map[string]string{"folder": "css", "name": "style.css"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	state := decodeState(t, w)
	require.NotNil(t, state.Selected)
	assert.Equal(t, "style.css", state.Selected.Name)
	assert.Equal(t, "css", string(state.ActiveBuffer))

	w = do(t, srv, "POST", "/api/select", map[string]string{"folder": "css", "name": "missing.css"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunAndPreview(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "PUT", "/api/buffers/html", map[string]string{"value": "<h1 id=marker>Hi</h1>"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, "PUT", "/api/buffers/sass", map[string]string{"value": ""}).Code)

	w = do(t, srv, "POST", "/api/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run struct {
		Generation string `json:"generation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	require.NotEmpty(t, run.Generation)

	w = do(t, srv, "GET", "/preview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, run.Generation, w.Header().Get("X-Codepane-Generation"))
	assert.Contains(t, w.Body.String(), "<h1 id=marker>Hi</h1>")
}

func TestPreviewRendersOnFirstRequest(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "GET", "/preview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Codepane-Generation"))
	assert.Contains(t, w.Body.String(), "<!DOCTYPE html>")
}

func TestUndoWithEmptyHistory(t *testing.T) {
	srv := newTestServer(t, nil)

	assert.Equal(t, http.StatusConflict, do(t, srv, "POST", "/api/undo", nil).Code)
}

func TestUndoRestoresBuffer(t *testing.T) {
	srv := newTestServer(t, nil)

	htmlValue := func() string {
		var buffers map[string]struct {
			Value string `json:"value"`
		}
		w := do(t, srv, "GET", "/api/buffers", nil)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &buffers))
		return buffers["html"].Value
	}

	before := htmlValue()
	require.NotEmpty(t, before)
	require.Equal(t, http.StatusOK, do(t, srv, "POST", "/api/clear", nil).Code)
	assert.Empty(t, htmlValue())

	require.Equal(t, http.StatusOK, do(t, srv, "POST", "/api/undo", nil).Code)
	assert.Equal(t, before, htmlValue())
}

func TestSave(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "POST", "/api/save", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, workspace.StatusSaved, decodeState(t, w).SaveStatus)
}

func TestUpload(t *testing.T) {
	srv := newTestServer(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("files", "notes.css")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("body { color: teal }"))
	fw, err = mw.CreateFormFile("files", "pixel.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, srv, "GET", "/api/folders/css/files/notes.css", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, srv, "GET", "/api/folders/assets/files/pixel.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "data:image/png;base64,")

	w = do(t, srv, "POST", "/api/images/insert", map[string]string{"name": "pixel.png"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, do(t, srv, "GET", "/api/buffers", nil).Body.String(), "data:image/png;base64,")

	assert.Equal(t, http.StatusNotFound, do(t, srv, "POST", "/api/images/insert", map[string]string{"name": "none.png"}).Code)
}

func TestUploadRequiresFiles(t *testing.T) {
	srv := newTestServer(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("overwrite", "true"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDataPreview(t *testing.T) {
	srv := newTestServer(t, nil)

	require.Equal(t, http.StatusOK, do(t, srv, "PUT", "/api/buffers/data", map[string]string{"value": "name,age\nAda,36\nAlan,41\n"}).Code)
	w := do(t, srv, "GET", "/api/data/preview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["name","age"]`, mustField(t, w, "columns"))
	assert.Equal(t, "2", mustField(t, w, "rows"))

	require.Equal(t, http.StatusOK, do(t, srv, "PUT", "/api/buffers/data", map[string]string{"value": `{"a": [1,`}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, srv, "GET", "/api/data/preview", nil).Code)
}

func mustField(t *testing.T, w *httptest.ResponseRecorder, key string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return string(m[key])
}

func TestAssistantDisabled(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "POST", "/api/assistant/generate", map[string]string{"prompt": "a button", "folder": "html"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestExportHTML(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "GET", "/api/export/html", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "codepane-export-1700000000000.html")
	assert.Contains(t, w.Body.String(), "<style>")
}

func TestExportZip(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "GET", "/api/export/zip", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	root := "codepane-project-1700000000000/"
	assert.Contains(t, names, root+"index.html")
	assert.Contains(t, names, root+"README.md")
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv, "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, w.Body.String())

	do(t, srv, "GET", "/api/state", nil)
	w = do(t, srv, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "codepane_")
}

func TestAPIKeyGuardsAPIOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Auth = &config.AuthConfig{APIKey: "secret"}
	srv := newTestServer(t, cfg)

	assert.Equal(t, http.StatusUnauthorized, do(t, srv, "GET", "/api/state", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, srv, "GET", "/", nil).Code)

	req := httptest.NewRequest("GET", "/api/state", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJSONErrors(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("POST", "/api/select", strings.NewReader("{"))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid JSON body"}`, w.Body.String())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(workspace.ErrClosed))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}

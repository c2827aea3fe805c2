package export

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/codepane/internal/persist"
	"github.com/livetemplate/codepane/internal/vfs"
)

func sampleSnapshot() *persist.Snapshot {
	store := vfs.NewStore()
	_, _ = store.Create(vfs.FolderHTML, "index.html", vfs.KindHTML, "<h1>Hi</h1>")
	_, _ = store.Create(vfs.FolderCSS, "style.css", vfs.KindCSS, "h1 { color: red; }")
	_, _ = store.Create(vfs.FolderAssets, "dot.png", vfs.KindImage, "data:image/png;base64,iVBORw==")
	_, _ = store.Create(vfs.FolderAssets, "empty.txt", vfs.KindText, "")

	return persist.Capture(persist.State{
		Buffers: map[vfs.BufferKind]string{
			vfs.BufferHTML:       "<h1>Hi</h1>",
			vfs.BufferCSS:        "h1 { color: red; }",
			vfs.BufferJavaScript: "console.log(appData.length);",
			vfs.BufferData:       "name,value\nX,1",
		},
		ActiveFolder: vfs.FolderHTML,
		Folders:      store.Snapshot(),
	})
}

func TestBundle(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Bundle(&buf, sampleSnapshot()))
	out := buf.String()

	assert.Contains(t, out, "<style>\nh1 { color: red; }\n    </style>")
	assert.Contains(t, out, "<h1>Hi</h1>")
	assert.Contains(t, out, `window.appData = [{"name":"X","value":1}];`)
	assert.Contains(t, out, "console.log(appData.length);")
	assert.NotContains(t, out, `href="style.css"`)
}

func TestBundleSkipsBadData(t *testing.T) {
	snap := sampleSnapshot()
	snap.Data = "not json {"

	var buf bytes.Buffer
	require.NoError(t, Bundle(&buf, snap))
	assert.NotContains(t, buf.String(), "window.appData")
}

func TestZip(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	var buf bytes.Buffer
	require.NoError(t, Zip(&buf, sampleSnapshot(), now))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		files[f.Name] = data
	}

	root := "codepane-project-1700000000000/"
	for _, name := range []string{"index.html", "style.css", "script.js", "README.md", "html/index.html", "css/style.css", "assets/dot.png"} {
		assert.Contains(t, files, root+name)
	}
	assert.NotContains(t, files, root+"assets/empty.txt", "empty files are skipped")
	assert.NotContains(t, files, root+"javascript/", "empty folders are skipped")

	assert.Contains(t, string(files[root+"index.html"]), `<link rel="stylesheet" href="style.css">`)
	assert.Contains(t, string(files[root+"index.html"]), `<script src="script.js"></script>`)
	assert.Equal(t, "h1 { color: red; }", string(files[root+"style.css"]))
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, files[root+"assets/dot.png"])

	readme := string(files[root+"README.md"])
	assert.Contains(t, readme, "`assets/` - 2 file(s)")
	assert.Contains(t, readme, "Files: 4")
}

func TestNames(t *testing.T) {
	now := time.UnixMilli(42)
	assert.Equal(t, "codepane-export-42.html", BundleName(now))
	assert.Equal(t, "codepane-project-42.zip", ZipName(now))
}

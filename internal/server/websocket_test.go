package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireNotice struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads notices until one of the wanted type arrives.
func next(t *testing.T, conn *websocket.Conn, typ string) wireNotice {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var n wireNotice
		require.NoError(t, conn.ReadJSON(&n), "waiting for %q", typ)
		if n.Type == typ {
			return n
		}
	}
}

func TestWebSocketReplayOnConnect(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var got []wireNotice
	for len(got) < 3 {
		var n wireNotice
		require.NoError(t, conn.ReadJSON(&n))
		got = append(got, n)
	}
	assert.Equal(t, "hello", got[0].Type)
	assert.Equal(t, "state", got[1].Type)
	assert.Equal(t, "buffers", got[2].Type)

	var hello HelloData
	require.NoError(t, json.Unmarshal(got[0].Data, &hello))
	assert.NotEmpty(t, hello.ClientID)
	assert.False(t, hello.Assistant)

	dial(t, ts)
	assert.Eventually(t, func() bool { return srv.Hub().Clients() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketEditThenRun(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts)
	next(t, conn, "buffers")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "edit", Buffer: "html", Value: "<p>from socket</p>"}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "run"}))

	for {
		n := next(t, conn, "preview")
		if strings.Contains(string(n.Data), "from socket") {
			break
		}
	}
}

func TestWebSocketCommandErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts)
	next(t, conn, "buffers")

	tests := []struct {
		msg     ClientMessage
		command string
	}{
		{ClientMessage{Type: "teleport"}, "teleport"},
		{ClientMessage{Type: "edit", Buffer: "sass"}, "edit"},
		{ClientMessage{Type: "select", Folder: "css", Name: "missing.css"}, "select"},
	}
	for _, tt := range tests {
		require.NoError(t, conn.WriteJSON(tt.msg))
		var data ErrorData
		require.NoError(t, json.Unmarshal(next(t, conn, "error").Data, &data))
		assert.Equal(t, tt.command, data.Command)
		assert.NotEmpty(t, data.Error)
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	var data ErrorData
	require.NoError(t, json.Unmarshal(next(t, conn, "error").Data, &data))
	assert.Equal(t, "invalid JSON message", data.Error)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.test"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts)
	next(t, conn, "buffers")

	srv.Hub().Close()
	assert.Equal(t, 0, srv.Hub().Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

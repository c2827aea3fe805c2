package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/livetemplate/codepane/internal/vfs"
)

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:    endpoint,
		APIKey:      "test-key",
		Model:       "test-model",
		Temperature: 0.3,
		MaxTokens:   100,
		Timeout:     5 * time.Second,
		CacheSize:   50,
		Retry: RetryConfig{
			MaxRetries: 2,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
			Multiplier: 2,
		},
		Circuit: CircuitBreakerConfig{
			FailureThreshold: 100,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
			FailureWindow:    time.Minute,
		},
	}
}

func completion(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return body
}

func TestGenerate(t *testing.T) {
	var calls atomic.Int32
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write(completion("```css\n/* card */\n.card {\n  color: red;\n}\n```"))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())
	res, err := c.Generate(context.Background(), Request{Prompt: "Please make a red card", Folder: vfs.FolderCSS})
	require.NoError(t, err)

	assert.Equal(t, ".card {\n  color: red;\n}", res.Code)
	assert.Equal(t, vfs.KindCSS, res.Kind)
	assert.Equal(t, vfs.FolderCSS, res.Folder)
	assert.False(t, res.Cached)
	assert.Regexp(t, regexp.MustCompile(`^ai_css_\d+_[0-9a-f]{8}\.css$`), res.Name)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "make a red card", got.Messages[1].Content)
	assert.Equal(t, 100, got.MaxTokens)

	// Second identical prompt is served from the cache.
	res, err = c.Generate(context.Background(), Request{Prompt: "Please make a red card", Folder: vfs.FolderCSS})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateValidation(t *testing.T) {
	c := New(testConfig("http://127.0.0.1:1"), nil)
	_, err := c.Generate(context.Background(), Request{Prompt: "   "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	cfg := testConfig("http://127.0.0.1:1")
	cfg.APIKey = ""
	c = New(cfg, nil)
	assert.False(t, c.Enabled())
	_, err = c.Generate(context.Background(), Request{Prompt: "a button"})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestGenerateBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.Write(completion("<p>hi</p>"))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil)
	done := make(chan error, 1)
	go func() {
		_, err := c.Generate(context.Background(), Request{Prompt: "a paragraph", Folder: vfs.FolderHTML})
		done <- err
	}()

	<-entered
	assert.True(t, c.Busy())
	_, err := c.Generate(context.Background(), Request{Prompt: "another", Folder: vfs.FolderHTML})
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, c.Busy())
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write(completion("console.log('ok');"))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil)
	res, err := c.Generate(context.Background(), Request{Prompt: "log ok", Folder: vfs.FolderJavaScript})
	require.NoError(t, err)
	assert.Equal(t, "console.log('ok');", res.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil)
	_, err := c.Generate(context.Background(), Request{Prompt: "a header", Folder: vfs.FolderHTML})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"model not found"}}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil)
	_, err := c.Generate(context.Background(), Request{Prompt: "a header", Folder: vfs.FolderHTML})
	var modelErr *ModelError
	require.True(t, errors.As(err, &modelErr))
	assert.Contains(t, err.Error(), "model not found")
}

func TestGenerateEmptyAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(completion("```\n```"))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil)
	_, err := c.Generate(context.Background(), Request{Prompt: "nothing", Folder: vfs.FolderHTML})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestKindForFolder(t *testing.T) {
	assert.Equal(t, vfs.KindHTML, KindForFolder(vfs.FolderHTML))
	assert.Equal(t, vfs.KindCSS, KindForFolder(vfs.FolderCSS))
	assert.Equal(t, vfs.KindJavaScript, KindForFolder(vfs.FolderJavaScript))
	assert.Equal(t, vfs.KindHTML, KindForFolder(vfs.FolderAssets))
}

func TestOptimizePrompt(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Please make a login form", "make a login form"},
		{"Could you build a navbar and explain it", "build a navbar and it"},
		{"  a   grid  ", "a grid"},
		{"please", "implementation"},
		{"tab", "tab implementation"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, OptimizePrompt(tt.in))
		})
	}
}

func TestCleanCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		kind vfs.FileKind
		want string
	}{
		{
			name: "html fences comments and entities",
			code: "Here you go:\n```html\n<!-- main -->\n<div>&lt;b&gt;</div>\n```",
			kind: vfs.KindHTML,
			want: "Here you go:\n<div><b></div>",
		},
		{
			name: "css block comments",
			code: "/* reset */\nbody {\n  margin: 0;\n}\n\n",
			kind: vfs.KindCSS,
			want: "body {\n  margin: 0;\n}",
		},
		{
			name: "js comments keep urls",
			code: "// setup\nconst url = 'http://x.test';\n/* note */\nrun(url);",
			kind: vfs.KindJavaScript,
			want: "const url = 'http://x.test';\nrun(url);",
		},
		{
			name: "lists and inline code",
			code: "1. use `flex`\n- keep it",
			kind: vfs.KindCSS,
			want: "use flex\nkeep it",
		},
		{
			name: "css vendor prefixes survive",
			code: "a {\n  -webkit-appearance: none;\n}",
			kind: vfs.KindCSS,
			want: "a {\n  -webkit-appearance: none;\n}",
		},
		{name: "blank", code: "  \n ", kind: vfs.KindHTML, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanCode(tt.code, tt.kind))
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(&APIError{StatusCode: 500}))
	assert.True(t, isRetryableError(&APIError{StatusCode: 429}))
	assert.False(t, isRetryableError(&APIError{StatusCode: 400}))
	assert.False(t, isRetryableError(&ModelError{Message: "x"}))
	assert.False(t, isRetryableError(ErrBusy))
	assert.True(t, isRetryableError(errors.New("dial tcp: connection refused")))
	assert.False(t, isRetryableError(nil))
}

func TestCalculateDelay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	for attempt, base := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond} {
		d := calculateDelay(attempt, cfg)
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.8))
		assert.LessOrEqual(t, d, time.Duration(float64(base)*1.2))
	}
	assert.LessOrEqual(t, calculateDelay(10, cfg), time.Duration(float64(time.Second)*1.2))
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		FailureWindow:    time.Minute,
	}, nil)
	cb.now = func() time.Time { return now }

	assert.Equal(t, CircuitClosed, cb.State())
	cb.Record(&APIError{StatusCode: 400})
	cb.Record(&APIError{StatusCode: 400})
	assert.Equal(t, CircuitClosed, cb.State(), "client errors do not trip the breaker")

	cb.Record(&APIError{StatusCode: 502})
	cb.Record(&APIError{StatusCode: 502})
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.Record(nil)
	assert.Equal(t, CircuitClosed, cb.State())

	cb.Record(&APIError{StatusCode: 502})
	cb.Record(&APIError{StatusCode: 502})
	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestGenerateCircuitOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retry.MaxRetries = 0
	cfg.Circuit.FailureThreshold = 1
	c := New(cfg, nil)

	_, err := c.Generate(context.Background(), Request{Prompt: "first", Folder: vfs.FolderHTML})
	require.Error(t, err)
	_, err = c.Generate(context.Background(), Request{Prompt: "second", Folder: vfs.FolderHTML})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

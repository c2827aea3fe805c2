// Package assistant generates code files from a natural-language prompt
// through an OpenAI-compatible chat completions endpoint.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/livetemplate/codepane/internal/cache"
	"github.com/livetemplate/codepane/internal/metrics"
	"github.com/livetemplate/codepane/internal/vfs"
)

const maxResponseSize = 2 * 1024 * 1024

// Config configures the completion client.
type Config struct {
	Endpoint          string
	APIKey            string
	Model             string
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
	CacheSize         int
	CacheTTL          time.Duration
	RequestsPerMinute int
	Retry             RetryConfig
	Circuit           CircuitBreakerConfig
}

// DefaultConfig returns the settings used when nothing is configured. The
// API key is read from OPENAI_API_KEY.
func DefaultConfig() Config {
	return Config{
		Endpoint:          "https://api.openai.com/v1/chat/completions",
		APIKey:            os.Getenv("OPENAI_API_KEY"),
		Model:             "gpt-4o-mini",
		Temperature:       0.3,
		MaxTokens:         3000,
		Timeout:           30 * time.Second,
		CacheSize:         50,
		RequestsPerMinute: 20,
		Retry:             DefaultRetryConfig(),
		Circuit:           DefaultCircuitBreakerConfig(),
	}
}

// Request asks for code to be generated into a folder.
type Request struct {
	Prompt string
	Folder vfs.FolderID
}

// Result is generated code ready to be added to the file store.
type Result struct {
	Code   string
	Kind   vfs.FileKind
	Folder vfs.FolderID
	Name   string
	Cached bool
}

// Client sends one generation at a time. A second Generate while the first
// is running fails with ErrBusy.
type Client struct {
	cfg     Config
	http    *http.Client
	cache   *cache.MemoryCache[string]
	limiter *rate.Limiter
	breaker *CircuitBreaker
	busy    atomic.Bool
	log     *zap.Logger
	now     func() time.Time
}

// New creates a client. Zero fields in cfg take their DefaultConfig values,
// except Endpoint and APIKey.
func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = def.Retry
	}
	if cfg.Circuit == (CircuitBreakerConfig{}) {
		cfg.Circuit = def.Circuit
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		cache:   cache.NewMemoryCache[string](cfg.CacheSize, cfg.CacheTTL),
		limiter: rate.NewLimiter(limit, 1),
		breaker: NewCircuitBreaker(cfg.Circuit, log),
		log:     log,
		now:     time.Now,
	}
}

// Enabled reports whether an endpoint and API key are configured.
func (c *Client) Enabled() bool {
	return c.cfg.Endpoint != "" && c.cfg.APIKey != ""
}

// Busy reports whether a generation is in flight.
func (c *Client) Busy() bool {
	return c.busy.Load()
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Generate produces code for req. Identical prompts for the same folder are
// answered from the cache.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.busy.Store(false)

	kind := KindForFolder(req.Folder)
	key := string(kind.Folder()) + "_" + prompt

	if code, ok := c.cache.Get(key); ok {
		c.log.Debug("assistant cache hit", zap.String("kind", string(kind)))
		return c.result(code, kind, true), nil
	}

	start := time.Now()
	code, err := c.complete(ctx, kind, OptimizePrompt(prompt))
	metrics.RecordAssistantRequest(time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, code)
	c.log.Info("assistant generated code",
		zap.String("kind", string(kind)),
		zap.Int("bytes", len(code)),
		zap.Duration("duration", time.Since(start)),
	)
	return c.result(code, kind, false), nil
}

func (c *Client) result(code string, kind vfs.FileKind, cached bool) *Result {
	return &Result{
		Code:   code,
		Kind:   kind,
		Folder: kind.Folder(),
		Name:   FileName(kind, c.now()),
		Cached: cached,
	}
}

func (c *Client) complete(ctx context.Context, kind vfs.FileKind, prompt string) (string, error) {
	if !c.breaker.Allow() {
		return "", ErrCircuitOpen
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	code, err := withRetry(ctx, c.log, c.cfg.Retry, func(ctx context.Context) (string, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		return c.doComplete(ctx, kind, prompt)
	})
	c.breaker.Record(err)
	return code, err
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) doComplete(ctx context.Context, kind vfs.FileKind, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt(kind)},
			{Role: "user", Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("assistant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       strings.TrimSpace(string(msg)),
		}
	}

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return "", &ModelError{Type: out.Error.Type, Message: out.Error.Message}
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	code := CleanCode(out.Choices[0].Message.Content, kind)
	if code == "" {
		return "", ErrEmptyResponse
	}
	return code, nil
}

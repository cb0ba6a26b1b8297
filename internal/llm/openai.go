package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vrsandeep/extract-go/internal/models"
)

// OpenAIConfig configures the chat/completions client.
type OpenAIConfig struct {
	APIKey      string // falls back to OPENAI_API_KEY
	BaseURL     string // default https://api.openai.com/v1
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAIClient is an Extractor backed by any OpenAI-compatible endpoint.
type OpenAIClient struct {
	cfg  OpenAIConfig
	http *http.Client
	log  *zap.Logger
}

// NewOpenAIClient fills in defaults and builds the client.
func NewOpenAIClient(cfg OpenAIConfig, log *zap.Logger) *OpenAIClient {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAIClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// Extract sends one chunk to the model and parses its reply.
func (c *OpenAIClient) Extract(ctx context.Context, req ChunkRequest) (models.ChunkResult, error) {
	rid := uuid.New().String()
	start := time.Now()
	log := c.log.With(
		zap.String("req_id", rid),
		zap.String("file", req.FileName),
		zap.Int("chunk", req.ChunkIndex),
	)
	log.Debug("llm.extract.start", zap.String("model", c.cfg.Model), zap.Int("text_len", len(req.Text)))

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "user", "content": BuildPrompt(req)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		log.Warn("llm.extract.http_error", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return models.ChunkResult{}, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return models.ChunkResult{}, transient("decode openai response: %v", err)
	}
	if len(cc.Choices) == 0 {
		return models.ChunkResult{}, transient("no choices in openai response")
	}

	result, err := ParseResponse(cc.Choices[0].Message.Content)
	if err != nil {
		log.Warn("llm.extract.parse_failed", zap.Error(err))
		return models.ChunkResult{}, err
	}
	if len(req.Schema) > 0 {
		if err := ValidateData(req.Schema, result.Data); err != nil {
			log.Warn("llm.extract.schema_validation_failed", zap.Error(err))
			return models.ChunkResult{}, transient("%v", err)
		}
	}

	log.Info("llm.extract.ok",
		zap.Int("fields", len(result.Data)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (c *OpenAIClient) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, transient("openai request timed out: %v", err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transient("openai http error: %v", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("openai response body close error", zap.Error(err))
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transient("read openai response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, transient("openai status %d: %s", resp.StatusCode, truncate(raw, 200))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, truncate(raw, 200))
	}
	return raw, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

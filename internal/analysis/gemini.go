package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	// DefaultGeminiEndpoint はGemini APIのデフォルトエンドポイント。
	DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com"
	// DefaultGeminiModel はデフォルトのモデル名。
	DefaultGeminiModel = "gemini-flash-latest"

	// maxResponseSize は応答ボディの読み取り上限（1MB）。
	maxResponseSize = 1 << 20
)

// GeminiClient はGemini APIのgenerateContentを呼び出すAnalyzer。
type GeminiClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
	model      string
	apiKey     string
}

// GeminiConfig はGeminiClientの設定。
type GeminiConfig struct {
	APIKey   string
	Model    string
	Endpoint string
}

// NewGeminiClient はGeminiClientを生成する。httpClientにはSSRF防止付きクライアントを渡す。
func NewGeminiClient(httpClient *http.Client, logger *slog.Logger, cfg GeminiConfig) *GeminiClient {
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGeminiEndpoint
	}
	return &GeminiClient{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Analyze は指示文を送信し、最初の候補のテキストを連結して返す。
func (c *GeminiClient) Analyze(ctx context.Context, level int) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: Prompt(level)}}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.endpoint, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("User-Agent", "Glucotrack/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("analysis request failed", slog.String("error", err.Error()))
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.logger.Error("analysis response is not valid JSON",
			slog.Int("http_status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		c.logger.Error("analysis service returned error status",
			slog.Int("http_status", resp.StatusCode),
			slog.String("message", msg),
		)
		return "", fmt.Errorf("analysis service returned status %d: %s", resp.StatusCode, msg)
	}

	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("analysis service returned no candidates")
	}
	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

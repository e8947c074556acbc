package drivers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/reasoner"
)

// Defaults for OpenAI-compatible backends.
const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4.1-mini"
	DefaultAPIKeyEnv   = "OPENAI_API_KEY"
	DefaultMaxTokens   = 4000
	DefaultTemperature = 0.2
)

const errorBodyLimit = 512

func init() {
	reasoner.RegisterDriver(model.BackendHTTP, NewHTTP)
}

// HTTPDriver talks to an OpenAI-compatible chat completions endpoint.
type HTTPDriver struct {
	name    string
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTP builds an HTTP driver. The API key is read from the backend's
// api_key_env variable at construction; a missing key is an error so the
// backend is reported unavailable up front.
func NewHTTP(name string, cfg model.BackendConfig) (reasoner.Driver, error) {
	envName := cfg.APIKeyEnv
	if envName == "" {
		envName = DefaultAPIKeyEnv
	}
	key := os.Getenv(envName)
	if key == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", envName)
	}
	d := &HTTPDriver{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  key,
		client:  &http.Client{},
		logger:  slog.Default().With("backend", name),
	}
	if d.baseURL == "" {
		d.baseURL = DefaultBaseURL
	}
	if d.model == "" {
		d.model = DefaultModel
	}
	return d, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Execute sends one chat completion request. Per-task model preferences
// override the backend's model, token limit and temperature.
func (d *HTTPDriver) Execute(ctx context.Context, task model.ReasonerTask, ec reasoner.ExecContext) (*model.ReasonerResult, error) {
	p := reasoner.Prepare(task, ec, d.logger)
	req := chatRequest{
		Model: d.model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		MaxTokens:      DefaultMaxTokens,
		Temperature:    DefaultTemperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	prefs := task.ModelPrefs
	if prefs.Model != "" {
		req.Model = prefs.Model
	}
	if prefs.MaxTokens > 0 {
		req.MaxTokens = prefs.MaxTokens
	}
	if prefs.Temperature != nil {
		req.Temperature = *prefs.Temperature
	}

	content, err := d.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return reasoner.ParseResult(content), nil
}

func (d *HTTPDriver) complete(ctx context.Context, body chatRequest) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fault.Wrap(fault.BackendTimeout, ctx.Err(), "backend %s", d.name)
		}
		return "", fault.Wrap(fault.BackendExecutionFailed, err, "backend %s request", d.name)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.Wrap(fault.BackendExecutionFailed, err, "backend %s: reading response", d.name)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(raw)
		if len(msg) > errorBodyLimit {
			msg = msg[:errorBodyLimit]
		}
		return "", fault.New(fault.BackendExecutionFailed, "backend %s: HTTP %d: %s", d.name, resp.StatusCode, strings.TrimSpace(msg))
	}

	// A body that is not a chat completion is handed on as-is; the parser
	// turns it into a fallback result carrying the raw text.
	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		d.logger.Warn("undecodable chat response", "err", err)
		return string(raw), nil
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == "" {
		d.logger.Warn("chat response has no content")
		return string(raw), nil
	}
	return cr.Choices[0].Message.Content, nil
}

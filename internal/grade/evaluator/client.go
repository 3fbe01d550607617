// Package evaluator obtains a qualitative review of a solution from an
// OpenAI-compatible chat completions endpoint.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"judgeflow/internal/grade/model"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	serviceName       = "evaluator"
	defaultTimeout    = 30 * time.Second
	defaultModel      = "gpt-4o-mini"
	maxErrorBodyBytes = 512
)

// Config holds evaluator client settings.
type Config struct {
	BaseURL     string        `yaml:"baseURL"`
	APIKey      string        `yaml:"apiKey"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
}

// Client makes exactly one request per Evaluate call and never retries.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	http        *http.Client
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, hc *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("evaluator baseURL is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:     base,
		apiKey:      cfg.APIKey,
		model:       model,
		temperature: cfg.Temperature,
		http:        hc,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Evaluate returns EvaluatorUnavailable when the service cannot be reached and
// EvaluationParseFailed when the reply holds no usable JSON.
func (c *Client) Evaluate(ctx context.Context, req Request) (*model.Evaluation, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(req)},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "encode evaluation request failed")
	}

	content, err := c.complete(ctx, body)
	if err != nil {
		return nil, err
	}
	eval, err := ParseEvaluation(content)
	if err != nil {
		logger.Warn(ctx, "evaluation response not parseable",
			zap.Bool("code_only", req.CodeOnly()),
			zap.Int("response_len", len(content)),
		)
		return nil, err
	}
	return eval, nil
}

func (c *Client) complete(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.InternalServerError, "build evaluation request failed")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", appErr.ServiceError(appErr.EvaluatorUnavailable, serviceName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", appErr.ServiceError(appErr.EvaluatorUnavailable, serviceName,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", appErr.ServiceError(appErr.EvaluatorUnavailable, serviceName, fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", appErr.ServiceError(appErr.EvaluatorUnavailable, serviceName, fmt.Errorf("%s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", appErr.New(appErr.EvaluationParseFailed).WithMessage("evaluation response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

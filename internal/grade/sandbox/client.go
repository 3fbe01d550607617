// Package sandbox wraps a Judge0-compatible execution service behind a synchronous call.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"
	"judgeflow/pkg/utils/poll"

	"github.com/zeromicro/go-zero/core/breaker"
	"go.uber.org/zap"
)

const (
	serviceName           = "sandbox"
	defaultRequestTimeout = 10 * time.Second
	defaultCPUSeconds     = 2
	defaultMemoryKB       = 128 * 1024
	maxErrorBodyBytes     = 512
	resultFields          = "token,stdout,stderr,compile_output,status,time,memory"
)

// Config holds sandbox client settings.
type Config struct {
	BaseURL        string         `yaml:"baseURL"`
	APIKey         string         `yaml:"apiKey"`
	APIHost        string         `yaml:"apiHost"`
	RequestTimeout time.Duration  `yaml:"requestTimeout"`
	Poll           poll.Config    `yaml:"poll"`
	CPUSeconds     float64        `yaml:"cpuSeconds"`
	MemoryKB       int            `yaml:"memoryKB"`
	Languages      map[string]int `yaml:"languages"`
	DisableBreaker bool           `yaml:"disableBreaker"`
}

// Limits bounds one execution.
type Limits struct {
	CPUSeconds float64
	MemoryKB   int
}

// ExecuteRequest describes one program run.
type ExecuteRequest struct {
	SourceCode string
	Language   string
	Stdin      string
	// Limits falls back to the client defaults when zero.
	Limits Limits
}

// Observer receives one callback per finished execution.
type Observer interface {
	ObserveExecution(language string, status OutcomeStatus, attempts int, elapsed time.Duration)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithObserver registers an execution observer.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// Client talks to the sandbox submissions API.
type Client struct {
	baseURL   string
	apiKey    string
	apiHost   string
	poll      poll.Config
	limits    Limits
	languages *LanguageTable
	http      *http.Client
	brk       breaker.Breaker
	observer  Observer
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("sandbox baseURL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid sandbox baseURL: %w", err)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	limits := Limits{CPUSeconds: cfg.CPUSeconds, MemoryKB: cfg.MemoryKB}
	if limits.CPUSeconds <= 0 {
		limits.CPUSeconds = defaultCPUSeconds
	}
	if limits.MemoryKB <= 0 {
		limits.MemoryKB = defaultMemoryKB
	}

	c := &Client{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		apiHost:   cfg.APIHost,
		poll:      cfg.Poll.WithDefaults(),
		limits:    limits,
		languages: NewLanguageTable(cfg.Languages),
		http:      &http.Client{Timeout: timeout},
	}
	if !cfg.DisableBreaker {
		c.brk = breaker.NewBreaker(breaker.WithName(serviceName))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Supports reports whether language has a sandbox mapping.
func (c *Client) Supports(language string) bool {
	_, ok := c.languages.Lookup(language)
	return ok
}

// Execute submits the program, then polls until a terminal status or the attempt bound.
// Transport failures, non-2xx responses and an open breaker yield SandboxUnavailable.
// Running out of attempts is not an error: the outcome has status OutcomeTimeout.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (*Outcome, error) {
	languageID, ok := c.languages.Lookup(req.Language)
	if !ok {
		return nil, appErr.New(appErr.LanguageNotSupported).
			WithMessage(fmt.Sprintf("language %q is not supported", req.Language)).
			WithDetail("language", req.Language)
	}
	limits := req.Limits
	if limits.CPUSeconds <= 0 {
		limits.CPUSeconds = c.limits.CPUSeconds
	}
	if limits.MemoryKB <= 0 {
		limits.MemoryKB = c.limits.MemoryKB
	}

	start := time.Now()
	token, err := c.submit(ctx, req, languageID, limits)
	if err != nil {
		return nil, err
	}

	outcome, attempts, err := poll.Until(ctx, c.poll, func(ctx context.Context, attempt int) (*Outcome, bool, error) {
		res, err := c.fetch(ctx, token)
		if err != nil {
			return nil, false, err
		}
		return res, !isPending(res.StatusID), nil
	})
	switch {
	case errors.Is(err, poll.ErrExhausted):
		logger.Warn(ctx, "sandbox poll exhausted",
			zap.String("token", token),
			zap.Int("attempts", attempts),
		)
		outcome = &Outcome{
			Token:       token,
			Status:      OutcomeTimeout,
			Description: fmt.Sprintf("execution did not finish after %d polls", attempts),
		}
	case err != nil:
		return nil, c.classifyErr(ctx, err)
	}
	outcome.Token = token
	outcome.PollAttempts = attempts

	if c.observer != nil {
		c.observer.ObserveExecution(req.Language, outcome.Status, attempts, time.Since(start))
	}
	return outcome, nil
}

type submitRequest struct {
	SourceCode   string  `json:"source_code"`
	LanguageID   int     `json:"language_id"`
	Stdin        string  `json:"stdin"`
	CPUTimeLimit float64 `json:"cpu_time_limit"`
	MemoryLimit  int     `json:"memory_limit"`
}

type submitResponse struct {
	Token string `json:"token"`
}

func (c *Client) submit(ctx context.Context, req ExecuteRequest, languageID int, limits Limits) (string, error) {
	body, err := json.Marshal(submitRequest{
		SourceCode:   req.SourceCode,
		LanguageID:   languageID,
		Stdin:        req.Stdin,
		CPUTimeLimit: limits.CPUSeconds,
		MemoryLimit:  limits.MemoryKB,
	})
	if err != nil {
		return "", appErr.Wrapf(err, appErr.InternalServerError, "encode sandbox request failed")
	}

	var resp submitResponse
	endpoint := c.baseURL + "/submissions?base64_encoded=false&wait=false"
	if err := c.call(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return "", appErr.ServiceError(appErr.SandboxUnavailable, serviceName, errors.New("no token issued"))
	}
	return resp.Token, nil
}

type resultResponse struct {
	Token         string  `json:"token"`
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Time          seconds `json:"time"`
	Memory        *int64  `json:"memory"`
	Status        struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
}

func (c *Client) fetch(ctx context.Context, token string) (*Outcome, error) {
	endpoint := fmt.Sprintf("%s/submissions/%s?base64_encoded=false&fields=%s", c.baseURL, url.PathEscape(token), resultFields)
	var resp resultResponse
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	out := &Outcome{
		StatusID:      resp.Status.ID,
		Description:   resp.Status.Description,
		Stdout:        deref(resp.Stdout),
		Stderr:        deref(resp.Stderr),
		CompileOutput: deref(resp.CompileOutput),
		TimeMs:        resp.Time.Millis(),
	}
	if resp.Memory != nil {
		out.MemoryKB = *resp.Memory
	}
	if !isPending(out.StatusID) {
		out.Status = classify(out.StatusID)
	}
	return out, nil
}

// call runs one HTTP exchange through the breaker.
func (c *Client) call(ctx context.Context, method, endpoint string, body []byte, out interface{}) error {
	do := func() error {
		return c.doHTTP(ctx, method, endpoint, body, out)
	}
	if c.brk == nil {
		return c.classifyErr(ctx, do())
	}
	err := c.brk.DoWithAcceptable(do, func(err error) bool {
		return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	})
	if errors.Is(err, breaker.ErrServiceUnavailable) {
		return appErr.ServiceError(appErr.SandboxUnavailable, serviceName, err)
	}
	return c.classifyErr(ctx, err)
}

func (c *Client) classifyErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return appErr.Wrapf(ctxErr, appErr.Timeout, "sandbox call interrupted: %v", ctxErr)
	}
	if _, ok := err.(*appErr.Error); ok {
		return err
	}
	return appErr.ServiceError(appErr.SandboxUnavailable, serviceName, err)
}

func (c *Client) doHTTP(ctx context.Context, method, endpoint string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.apiKey)
	}
	if c.apiHost != "" {
		req.Header.Set("X-RapidAPI-Host", c.apiHost)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("sandbox returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode sandbox response failed: %w", err)
	}
	return nil
}

// seconds decodes Judge0's "time" field, which arrives as a string or a number.
type seconds struct {
	value float64
}

func (s *seconds) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		s.value = 0
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid time value %q: %w", raw, err)
	}
	s.value = v
	return nil
}

func (s seconds) Millis() int64 {
	return int64(s.value*1000 + 0.5)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

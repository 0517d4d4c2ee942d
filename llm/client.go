// Package llm talks to an OpenAI-compatible chat completion endpoint with
// retries, linear backoff and call spacing.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ariebrainware/tcm-diagnosis/calllog"
	"github.com/ariebrainware/tcm-diagnosis/prompt"
)

const (
	ServiceName = "DeepSeek"

	DefaultAPIURL      = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel       = "deepseek/deepseek-chat"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = time.Second
	DefaultTimeout     = 30 * time.Second
	DefaultReferer     = "http://localhost"
	DefaultTitle       = "中医智能问诊系统"

	gatewayHost     = "openrouter.ai"
	maxResponseBody = 4 << 20
	connectionPing  = `请回复"连接成功"`
)

type Config struct {
	APIKey      string
	APIURL      string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	// Referer and Title are sent as attribution headers to the gateway.
	Referer string
	Title   string
	// SystemPrompt overrides prompt.SystemInstruction when set.
	SystemPrompt string
}

func (c Config) withDefaults() Config {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Referer == "" {
		c.Referer = DefaultReferer
	}
	if c.Title == "" {
		c.Title = DefaultTitle
	}
	return c
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Reply is a successful completion.
type Reply struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Recorder receives every attempt and the terminal failure of a call.
type Recorder interface {
	Record(ctx context.Context, a calllog.CallAttempt)
	RecordError(ctx context.Context, service string, err error, details map[string]any)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, calllog.CallAttempt)                {}
func (nopRecorder) RecordError(context.Context, string, error, map[string]any) {}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *RateLimiter
	recorder   Recorder
	log        zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// NewClient returns a client using limiter for call spacing. A nil limiter
// gets a private one with DefaultMinInterval; a nil recorder drops attempts.
func NewClient(cfg Config, limiter *RateLimiter, recorder Recorder, logger zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	if limiter == nil {
		limiter = NewRateLimiter(DefaultMinInterval)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		recorder:   recorder,
		log:        logger.With().Str("component", "llm").Logger(),
		sleep:      sleepContext,
		newID:      uuid.NewString,
	}
}

// Send asks the model to diagnose userPrompt. Failed attempts are retried up
// to MaxRetries times in total, sleeping RetryDelay × n before attempt n+1.
// The last error is returned once attempts run out.
func (c *Client) Send(ctx context.Context, userPrompt string) (*Reply, error) {
	system := c.cfg.SystemPrompt
	if system == "" {
		system = prompt.SystemInstruction()
	}
	return c.complete(ctx, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userPrompt},
	})
}

// TestConnection sends a one-line message and reports whether it succeeded.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.complete(ctx, []Message{{Role: "user", Content: connectionPing}})
	return err
}

func (c *Client) complete(ctx context.Context, messages []Message) (*Reply, error) {
	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	requestID := c.newID()
	logger := c.log.With().Str("request_id", requestID).Logger()

	var lastErr error
	attempts := 0
	for n := 1; n <= c.cfg.MaxRetries; n++ {
		if n > 1 {
			delay := c.cfg.RetryDelay * time.Duration(n-1)
			if err := c.sleep(ctx, delay); err != nil {
				lastErr = fmt.Errorf("%w: %v", ErrTransport, err)
				break
			}
		}

		attempts = n
		reply, err := c.attempt(ctx, requestID, n, body, payload)
		if err == nil {
			logger.Debug().Int("attempt", n).Msg("completion succeeded")
			return reply, nil
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", n).Int("max_retries", c.cfg.MaxRetries).Msg("completion attempt failed")

		if ctx.Err() != nil {
			break
		}
	}

	c.recorder.RecordError(ctx, ServiceName, lastErr, map[string]any{
		"request_id": requestID,
		"retries":    attempts,
		"messages":   messages,
	})
	logger.Error().Err(lastErr).Int("attempts", attempts).Msg("completion failed")
	return nil, fmt.Errorf("completion failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, requestID string, n int, body chatRequest, payload []byte) (*Reply, error) {
	headers := c.headers()
	record := calllog.CallAttempt{
		RequestID: requestID,
		Service:   ServiceName,
		Attempt:   n,
		Request: map[string]any{
			"url":         c.cfg.APIURL,
			"headers":     headerMap(headers),
			"model":       body.Model,
			"messages":    body.Messages,
			"temperature": body.Temperature,
			"max_tokens":  body.MaxTokens,
		},
		StartedAt: time.Now(),
	}

	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		record.Err = fmt.Errorf("%w: %v", ErrTransport, err)
		c.recorder.Record(ctx, record)
		return nil, record.Err
	}

	reply, logged, err := c.do(ctx, headers, payload)
	release()

	record.Duration = time.Since(record.StartedAt)
	record.Response = logged
	record.Err = err
	record.Success = err == nil
	c.recorder.Record(ctx, record)
	return reply, err
}

// do performs a single POST. The second return value is what gets written to
// the audit log as the response.
func (c *Client) do(ctx context.Context, headers http.Header, payload []byte) (*Reply, any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header = headers

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading body: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Code: resp.StatusCode, Message: providerMessage(data, resp.StatusCode)}
		return nil, map[string]any{"status": resp.StatusCode, "body": decodeLoose(data)}, serr
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, map[string]any{"body": string(data)}, fmt.Errorf("%w: invalid JSON response: %v", ErrMalformedResponse, err)
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == nil {
		return nil, decodeLoose(data), fmt.Errorf("%w: unexpected response format", ErrMalformedResponse)
	}

	reply := &Reply{Content: *cr.Choices[0].Message.Content, Usage: cr.Usage}
	return reply, reply, nil
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if isGateway(c.cfg.APIURL) {
		h.Set("HTTP-Referer", c.cfg.Referer)
		h.Set("X-Title", c.cfg.Title)
	}
	return h
}

func isGateway(apiURL string) bool {
	u, err := url.Parse(apiURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == gatewayHost || strings.HasSuffix(host, "."+gatewayHost)
}

func headerMap(h http.Header) map[string]any {
	m := make(map[string]any, len(h))
	for k := range h {
		m[k] = h.Get(k)
	}
	return m
}

func providerMessage(data []byte, code int) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return fmt.Sprintf("HTTP %d error", code)
}

func decodeLoose(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}

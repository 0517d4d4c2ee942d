package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariebrainware/tcm-diagnosis/calllog"
)

type fakeRecorder struct {
	mu       sync.Mutex
	attempts []calllog.CallAttempt
	errors   []error
	details  []map[string]any
}

func (r *fakeRecorder) Record(_ context.Context, a calllog.CallAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

func (r *fakeRecorder) RecordError(_ context.Context, _ string, err error, details map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
	r.details = append(r.details, details)
}

func newTestClient(t *testing.T, url string, cfg Config) (*Client, *fakeRecorder, *[]time.Duration) {
	t.Helper()
	cfg.APIURL = url
	if cfg.APIKey == "" {
		cfg.APIKey = "sk-test"
	}
	rec := &fakeRecorder{}
	c := NewClient(cfg, NewRateLimiter(0), rec, zerolog.Nop())
	c.newID = func() string { return "req-test" }

	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return c, rec, &sleeps
}

const okBody = `{"choices":[{"message":{"role":"assistant","content":"诊断结果：感冒"}}],"usage":{"prompt_tokens":12,"completion_tokens":8,"total_tokens":20}}`

func TestSend_Success(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("X-Title"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c, rec, sleeps := newTestClient(t, srv.URL, Config{})
	reply, err := c.Send(context.Background(), "## 主诉\n头痛\n")
	require.NoError(t, err)

	assert.Equal(t, "诊断结果：感冒", reply.Content)
	require.NotNil(t, reply.Usage)
	assert.Equal(t, 20, reply.Usage.TotalTokens)

	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, DefaultTemperature, got.Temperature)
	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "辩证分析：")
	assert.Equal(t, Message{Role: "user", Content: "## 主诉\n头痛\n"}, got.Messages[1])

	assert.Empty(t, *sleeps)
	require.Len(t, rec.attempts, 1)
	assert.True(t, rec.attempts[0].Success)
	assert.Equal(t, 1, rec.attempts[0].Attempt)
	assert.Equal(t, "req-test", rec.attempts[0].RequestID)
	assert.Equal(t, ServiceName, rec.attempts[0].Service)
	assert.Empty(t, rec.errors)
}

func TestSend_RetryBound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	c, rec, sleeps := newTestClient(t, srv.URL, Config{RetryDelay: time.Second})
	reply, err := c.Send(context.Background(), "prompt")

	assert.Nil(t, reply)
	assert.ErrorIs(t, err, ErrStatus)
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusServiceUnavailable, serr.Code)
	assert.Equal(t, "overloaded", serr.Message)

	assert.Equal(t, int32(DefaultMaxRetries), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)

	require.Len(t, rec.attempts, 3)
	for i, a := range rec.attempts {
		assert.False(t, a.Success)
		assert.Equal(t, i+1, a.Attempt)
	}
	require.Len(t, rec.errors, 1)
	assert.Equal(t, 3, rec.details[0]["retries"])
	assert.NotNil(t, rec.details[0]["messages"])
}

func TestSend_ElapsedCoversBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{APIURL: srv.URL, MaxRetries: 3, RetryDelay: 20 * time.Millisecond}, NewRateLimiter(0), nil, zerolog.Nop())

	start := time.Now()
	_, err := c.Send(context.Background(), "prompt")
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Contains(t, err.Error(), "HTTP 500 error")
}

func TestSend_RecoversOnRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			_, _ = w.Write([]byte(`not json`))
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c, rec, sleeps := newTestClient(t, srv.URL, Config{RetryDelay: time.Second})
	reply, err := c.Send(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "诊断结果：感冒", reply.Content)

	assert.Equal(t, []time.Duration{time.Second}, *sleeps)
	require.Len(t, rec.attempts, 2)
	assert.ErrorIs(t, rec.attempts[0].Err, ErrMalformedResponse)
	assert.True(t, rec.attempts[1].Success)
	assert.Empty(t, rec.errors)
}

func TestSend_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `<html>`},
		{"no choices", `{"choices":[]}`},
		{"no content", `{"choices":[{"message":{"role":"assistant"}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _, _ := newTestClient(t, srv.URL, Config{MaxRetries: 1})
			_, err := c.Send(context.Background(), "prompt")
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestSend_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, rec, _ := newTestClient(t, url, Config{MaxRetries: 2})
	_, err := c.Send(context.Background(), "prompt")

	assert.ErrorIs(t, err, ErrTransport)
	assert.Len(t, rec.attempts, 2)
}

func TestSend_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL, Config{MaxRetries: 1, Timeout: 30 * time.Millisecond})

	start := time.Now()
	_, err := c.Send(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrTransport)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestSend_StopsWhenContextCancelledDuringBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, rec, _ := newTestClient(t, srv.URL, Config{})
	c.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	_, err := c.Send(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Len(t, rec.errors, 1)
}

func TestTestConnection(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"连接成功"}}]}`))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL, Config{})
	require.NoError(t, c.TestConnection(context.Background()))
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestHeaders_Gateway(t *testing.T) {
	c := NewClient(Config{APIKey: "k", Referer: "https://clinic.example"}, nil, nil, zerolog.Nop())
	h := c.headers()
	assert.Equal(t, "https://clinic.example", h.Get("HTTP-Referer"))
	assert.Equal(t, DefaultTitle, h.Get("X-Title"))

	direct := NewClient(Config{APIKey: "k", APIURL: "https://api.deepseek.com/v1/chat/completions"}, nil, nil, zerolog.Nop())
	assert.Empty(t, direct.headers().Get("HTTP-Referer"))
}

func TestProviderMessage(t *testing.T) {
	assert.Equal(t, "bad key", providerMessage([]byte(`{"error":{"message":"bad key"}}`), 401))
	assert.Equal(t, "HTTP 401 error", providerMessage([]byte(`{}`), 401))
	assert.Equal(t, "HTTP 502 error", providerMessage([]byte(`bad gateway`), 502))
}

package endpoint_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ariebrainware/tcm-diagnosis/calllog"
	"github.com/ariebrainware/tcm-diagnosis/consultation"
	"github.com/ariebrainware/tcm-diagnosis/endpoint"
	"github.com/ariebrainware/tcm-diagnosis/llm"
	"github.com/ariebrainware/tcm-diagnosis/middleware"
	"github.com/ariebrainware/tcm-diagnosis/util"
)

const providerReply = `辩证分析：肝郁气滞，脾失健运。
治疗原则：疏肝健脾。
诊断结果：胃脘痛（肝郁脾虚证）
医嘱建议：调畅情志。
注意事项：忌生冷。
预后评估：良好。
方剂名称：逍遥散
药物组成：柴胡10g，当归10g，白芍15g
用法用量：每日一剂
煎服方法：水煎服
禁忌：孕妇慎用`

// fakeProvider stands in for the chat completions API.
type fakeProvider struct {
	server *httptest.Server
	calls  int32
	fail   atomic.Bool
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&p.calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if p.fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream overloaded"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []interface{}{
				map[string]interface{}{"message": map[string]interface{}{"role": "assistant", "content": providerReply}},
			},
			"usage": map[string]interface{}{"prompt_tokens": 120, "completion_tokens": 80, "total_tokens": 200},
		})
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) callCount() int {
	return int(atomic.LoadInt32(&p.calls))
}

type testApp struct {
	router   *gin.Engine
	db       *gorm.DB
	provider *fakeProvider
	services *middleware.Services
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	dsn := fmt.Sprintf("file:endpoint_%s_%d?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store := consultation.NewStore(db)
	require.NoError(t, store.AutoMigrate())

	provider := newFakeProvider(t)
	calls := calllog.New(calllog.Options{Dir: t.TempDir(), Enabled: true, Logger: zerolog.Nop()})
	client := llm.NewClient(llm.Config{
		APIKey:     "sk-test",
		APIURL:     provider.server.URL,
		MaxRetries: 1,
	}, llm.NewRateLimiter(0), calls, zerolog.Nop())

	signer := util.NewReportSigner("test-secret-123", time.Hour)
	services := &middleware.Services{
		Consultations: consultation.NewService(store, client, nil, signer, zerolog.Nop()),
		CallLog:       calls,
		AI:            client,
		Reports:       signer,
	}

	r := gin.New()
	r.Use(middleware.ServicesMiddleware(services))
	endpoint.RegisterRoutes(r, middleware.RateLimiter(middleware.RateLimitConfig{Logger: zerolog.Nop()}))

	return &testApp{router: r, db: db, provider: provider, services: services}
}

func (a *testApp) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, util.APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var resp util.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

// dataMap returns resp.Data as a JSON object.
func dataMap(t *testing.T, resp util.APIResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func (a *testApp) createConsultation(t *testing.T) uint {
	t.Helper()
	w, resp := a.do(t, http.MethodPost, "/consultation", map[string]interface{}{
		"patient_name":    "张三",
		"age":             45,
		"gender":          "男",
		"chief_complaint": "反复胃脘胀痛三月",
		"tongue_body":     "淡红",
		"pulse":           "弦",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return uint(dataMap(t, resp)["ID"].(float64))
}

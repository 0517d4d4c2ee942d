package consultation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ariebrainware/tcm-diagnosis/llm"
	"github.com/ariebrainware/tcm-diagnosis/model"
)

const sampleReply = `辩证分析：肝郁气滞，脾失健运。
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

func setupTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb_%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := NewStore(db).AutoMigrate(); err != nil {
		t.Fatalf("failed to auto-migrate: %v", err)
	}
	return db
}

type fakeDiagnoser struct {
	mu      sync.Mutex
	calls   int32
	prompts []string
	replies []string
	errs    []error
	// block, when set, is waited on inside Send after started is closed.
	started chan struct{}
	block   chan struct{}
}

func (f *fakeDiagnoser) Send(ctx context.Context, userPrompt string) (*llm.Reply, error) {
	n := int(atomic.AddInt32(&f.calls, 1)) - 1
	f.mu.Lock()
	f.prompts = append(f.prompts, userPrompt)
	f.mu.Unlock()

	if f.block != nil {
		close(f.started)
		<-f.block
	}
	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}
	reply := sampleReply
	if n < len(f.replies) {
		reply = f.replies[n]
	}
	return &llm.Reply{Content: reply}, nil
}

func (f *fakeDiagnoser) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

type fakeLinker struct{}

func (fakeLinker) ReportURL(id uint) (string, error) {
	return fmt.Sprintf("/consultation/%d/report?token=signed", id), nil
}

func newTestService(t *testing.T, name string, ai Diagnoser) (*Service, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t, name)
	return NewService(NewStore(db), ai, nil, fakeLinker{}, zerolog.Nop()), db
}

func createConsultation(t *testing.T, svc *Service) *model.Consultation {
	t.Helper()
	c, err := svc.Create(context.Background(), model.IntakeRecord{
		PatientName:    "张三",
		Age:            45,
		ChiefComplaint: "胃脘胀痛",
		TongueBody:     "淡红",
		Pulse:          "弦",
	})
	if err != nil {
		t.Fatalf("failed to create consultation: %v", err)
	}
	return c
}

func countRows(t *testing.T, db *gorm.DB, m interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(m).Count(&n).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

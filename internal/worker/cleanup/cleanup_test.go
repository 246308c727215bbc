package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeResult はsql.Resultのモック。
type fakeResult struct {
	rowsAffected int64
	err          error
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, r.err }

// execCall はExecContextの呼び出し記録。
type execCall struct {
	query string
	args  []interface{}
}

// mockExecutor はExecutorインターフェースのモック。
// テストではPostgreSQLを使わず、SQLクエリの内容と引数を検証する。
type mockExecutor struct {
	mu     sync.Mutex
	calls  []execCall
	execFn func(query string) (sql.Result, error)
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, execCall{query: query, args: args})
	m.mu.Unlock()
	if m.execFn != nil {
		return m.execFn(query)
	}
	return &fakeResult{}, nil
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockMetrics は削除件数の記録を保持するメトリクスのモック。
type mockMetrics struct {
	deleted map[string]int64
}

func (m *mockMetrics) RecordHTTPRequest(int, time.Duration) {}
func (m *mockMetrics) RecordLogin(string) {}
func (m *mockMetrics) RecordTaskOperation(string) {}
func (m *mockMetrics) RecordCleanupDeleted(kind string, count int64) {
	if m.deleted == nil {
		m.deleted = make(map[string]int64)
	}
	m.deleted[kind] += count
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// rowsByTable はクエリ対象テーブルごとに削除件数を返すexecFnを生成する。
func rowsByTable(sessions, states int64) func(query string) (sql.Result, error) {
	return func(query string) (sql.Result, error) {
		if strings.Contains(query, "FROM sessions") {
			return &fakeResult{rowsAffected: sessions}, nil
		}
		return &fakeResult{rowsAffected: states}, nil
	}
}

func TestCleanupJob_Run_DeletesExpiredRowsFromBothTables(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{execFn: rowsByTable(3, 7)}
	collector := &mockMetrics{}

	job := NewCleanupJob(mock, newTestLogger(&buf), collector)
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return cutoff }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if len(mock.calls) != 2 {
		t.Fatalf("ExecContext 呼び出し回数 = %d, want 2", len(mock.calls))
	}
	wantTables := []string{"DELETE FROM sessions", "DELETE FROM oauth_states"}
	for i, want := range wantTables {
		call := mock.calls[i]
		if !strings.Contains(call.query, want) {
			t.Errorf("クエリ[%d]に %q が含まれていない: %s", i, want, call.query)
		}
		if !strings.Contains(call.query, "expires_at <") {
			t.Errorf("クエリ[%d]に expires_at 条件が含まれていない: %s", i, call.query)
		}
		if len(call.args) != 1 || call.args[0] != cutoff {
			t.Errorf("引数[%d] = %v, want [%v]", i, call.args, cutoff)
		}
	}

	if collector.deleted[KindSessions] != 3 || collector.deleted[KindOAuthStates] != 7 {
		t.Errorf("記録された削除件数 = %v", collector.deleted)
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{execFn: rowsByTable(40, 2)}

	job := NewCleanupJob(mock, newTestLogger(&buf), nil)
	_ = job.Run(context.Background())

	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["msg"] == "クリーンアップジョブが完了しました" && entry["deleted_count"] == float64(42) {
			found = true
		}
	}
	if !found {
		t.Errorf("ログに deleted_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_ContinuesAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{
		execFn: func(query string) (sql.Result, error) {
			if strings.Contains(query, "FROM sessions") {
				return nil, sql.ErrConnDone
			}
			return &fakeResult{rowsAffected: 5}, nil
		},
	}
	collector := &mockMetrics{}

	job := NewCleanupJob(mock, newTestLogger(&buf), collector)
	err := job.Run(context.Background())

	if !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("err = %v, want wrapping sql.ErrConnDone", err)
	}
	if len(mock.calls) != 2 {
		t.Errorf("一方の失敗後も残りを実行すること: calls = %d", len(mock.calls))
	}
	if collector.deleted[KindOAuthStates] != 5 {
		t.Errorf("成功した削除は記録されること: %v", collector.deleted)
	}
	if _, ok := collector.deleted[KindSessions]; ok {
		t.Error("失敗した削除は記録しないこと")
	}
}

func TestCleanupJob_Run_RowsAffectedError(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{
		execFn: func(query string) (sql.Result, error) {
			return &fakeResult{err: errors.New("driver does not support")}, nil
		},
	}

	job := NewCleanupJob(mock, newTestLogger(&buf), nil)
	if err := job.Run(context.Background()); err == nil {
		t.Error("RowsAffected の失敗はエラーになること")
	}
}

func TestCleanupJob_Run_Idempotent(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{}

	job := NewCleanupJob(mock, newTestLogger(&buf), nil)
	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("run %d: 削除対象がなくてもエラーにならないこと: %v", i, err)
		}
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	mock := &mockExecutor{}
	job := NewCleanupJob(mock, slog.New(slog.NewJSONHandler(io.Discard, nil)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mock.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mock.callCount() < 2 {
		t.Fatalf("起動直後に1回実行されること: calls = %d", mock.callCount())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("コンテキストのキャンセルで停止すること")
	}
}

package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/todoman/internal/model"
)

// recordingCollector はHTTPリクエストの記録だけを保持するメトリクスのモック。
type recordingCollector struct {
	mu       sync.Mutex
	statuses []int
}

func (c *recordingCollector) RecordHTTPRequest(statusCode int, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, statusCode)
}

func (c *recordingCollector) RecordLogin(string) {}
func (c *recordingCollector) RecordTaskOperation(string) {}
func (c *recordingCollector) RecordCleanupDeleted(string, int64) {}

// TestRecoveryMiddleware_PanicReturns500 はpanicが500に変換されることを検証する。
func TestRecoveryMiddleware_PanicReturns500(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	for _, path := range []string{"/tasks", "/api/me"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		if w.Result().StatusCode != http.StatusInternalServerError {
			t.Errorf("%s: status = %d, want %d", path, w.Result().StatusCode, http.StatusInternalServerError)
		}
		if strings.Contains(w.Body.String(), "boom") {
			t.Errorf("%s: panic value must not leak into response: %q", path, w.Body.String())
		}
	}
}

// TestSecurityHeadersMiddleware_SetsHeaders はセキュリティヘッダーが付与されることを検証する。
func TestSecurityHeadersMiddleware_SetsHeaders(t *testing.T) {
	handler := NewSecurityHeadersMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Content-Security-Policy": contentSecurityPolicy,
	}
	for header, value := range want {
		if got := w.Result().Header.Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

// TestMetricsMiddleware_RecordsStatus はステータスコードが記録されることを検証する。
func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	collector := &recordingCollector{}
	handler := NewMetricsMiddleware(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/tasks", http.StatusSeeOther)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/tasks", nil))

	if len(collector.statuses) != 1 || collector.statuses[0] != http.StatusSeeOther {
		t.Errorf("recorded statuses = %v, want [303]", collector.statuses)
	}
}

// TestMiddlewareChain_FullStack はRecovery -> Logging -> Metrics -> RequireUser の順で
// 認証済みリクエストが通り、ログとメトリクスが記録されることを検証する。
func TestMiddlewareChain_FullStack(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	collector := &recordingCollector{}
	resolver := tokenResolver("chain-token", &model.User{ID: 55})

	var capturedID int64
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		capturedID = user.ID
		w.WriteHeader(http.StatusOK)
	})

	handler := NewRecoveryMiddleware()(
		NewLoggingMiddleware(logger)(
			NewMetricsMiddleware(collector)(
				NewRequireUserMiddleware(resolver)(final))))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "chain-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedID != 55 {
		t.Errorf("user id = %d, want 55", capturedID)
	}
	if !strings.Contains(buf.String(), `"user_id":55`) {
		t.Errorf("log should contain user_id: %s", buf.String())
	}
	if len(collector.statuses) != 1 || collector.statuses[0] != http.StatusOK {
		t.Errorf("recorded statuses = %v, want [200]", collector.statuses)
	}
}

// TestMiddlewareChain_NoSession_RedirectsWithoutCallingHandler は
// セッションがない場合にハンドラーが呼ばれずリダイレクトされることを検証する。
func TestMiddlewareChain_NoSession_RedirectsWithoutCallingHandler(t *testing.T) {
	csrf := NewCSRFMiddleware(CSRFConfig{})
	requireUser := NewRequireUserMiddleware(&mockUserResolver{})

	handler := requireUser(csrf(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})))

	req := httptest.NewRequest(http.MethodPost, "/tasks", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusSeeOther)
	}
}

// TestBodyLimitMiddleware_RejectsOversizedForm は上限を超えたフォームが読み取れないことを検証する。
func TestBodyLimitMiddleware_RejectsOversizedForm(t *testing.T) {
	var parseErr error
	handler := NewBodyLimitMiddleware(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parseErr = r.ParseForm()
	}))

	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader("title="+strings.Repeat("a", 64)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if parseErr == nil {
		t.Error("expected ParseForm to fail for oversized body")
	}
}

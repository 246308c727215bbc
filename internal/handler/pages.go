package handler

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/hitoshi/todoman/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページテンプレート名
const (
	pageLogin = "login"
	pageTasks = "tasks"
	pageError = "error"
)

// maxFlashLength はクエリで受け取るエラーメッセージの最大文字数。
const maxFlashLength = 200

// pages は起動時に一度だけパースするページテンプレートの集合。
var pages = mustParsePages(pageLogin, pageTasks, pageError)

func mustParsePages(names ...string) map[string]*template.Template {
	parsed := make(map[string]*template.Template, len(names))
	for _, name := range names {
		parsed[name] = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"))
	}
	return parsed
}

// tasksPageData はタスク一覧ページの表示データ。
type tasksPageData struct {
	User           *model.User
	Tasks          []*model.Task
	Remaining      int
	CSRFToken      string
	Error          string
	TitleMax       int
	DescriptionMax int
}

// errorPageData はエラーページの表示データ。
type errorPageData struct {
	Title   string
	Message string
	Action  string
}

// renderPage はテンプレートをバッファに描画してからレスポンスに書き込む。
// 描画に失敗した場合は途中までのHTMLを返さず500にする。
func renderPage(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := pages[name]
	if !ok {
		slog.Error("unknown page template", slog.String("page", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// renderErrorPage はエラーページを描画する。
func renderErrorPage(w http.ResponseWriter, status int, data errorPageData) {
	if data.Title == "" {
		data.Title = http.StatusText(status)
	}
	renderPage(w, status, pageError, data)
}

// renderInternalErrorPage は内部エラーの汎用ページを描画する。詳細はログのみに記録する。
func renderInternalErrorPage(w http.ResponseWriter) {
	apiErr := model.NewInternalError()
	renderErrorPage(w, http.StatusInternalServerError, errorPageData{
		Title:   "エラー",
		Message: apiErr.Message,
		Action:  apiErr.Action,
	})
}

// truncateFlash はクエリから受け取ったメッセージを表示用に切り詰める。
func truncateFlash(s string) string {
	if utf8.RuneCountInString(s) <= maxFlashLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxFlashLength])
}

package handler

import (
	"net/http"

	"github.com/hitoshi/todoman/internal/middleware"
)

// CookieConfig はセッション関連Cookieの属性設定。
type CookieConfig struct {
	Domain        string
	Secure        bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// setSessionCookie は署名付きセッショントークンをHttpOnly Cookieに設定する。
func setSessionCookie(w http.ResponseWriter, config CookieConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   config.SessionMaxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieを削除する。
func clearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// setStateCookie はログイン開始時のstateをブラウザに結び付ける。
// プロバイダーからのトップレベル遷移で送られるようSameSite=Laxにする。
func setStateCookie(w http.ResponseWriter, config CookieConfig, state string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.StateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearStateCookie はstate Cookieを削除する。
func clearStateCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionToken はリクエストのセッションCookieの値を返す。
func sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

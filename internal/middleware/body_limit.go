package middleware

import "net/http"

// NewBodyLimitMiddleware はリクエストボディの読み取りをmaxBytesまでに制限するミドルウェアを返す。
// 上限を超えた読み取りはエラーになり、フォームの値は空として扱われる。
func NewBodyLimitMiddleware(maxBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

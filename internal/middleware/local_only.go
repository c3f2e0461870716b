package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
)

// SecretHeader: заголовок, которым вызов не с loopback подтверждает право на мост.
const SecretHeader = "X-Bridge-Secret"

// LocalOnly разрешает запрос только с loopback-адреса или при X-Bridge-Secret == secret.
// Мост отдаёт токен-зависимые данные, поэтому заголовки прокси не учитываются.
func LocalOnly(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(secret)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			if isLoopback(r.RemoteAddr) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		})
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/messenger-client/internal/logger"
)

// RequestLog логирует каждый запрос: method, path, статус и время выполнения (асинхронно).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)
		defer func() {
			label := "http " + r.Method + " " + r.URL.Path + " " + strconv.Itoa(rw.status)
			if id := GetRequestID(r.Context()); id != "" {
				label += " [" + id + "]"
			}
			logger.LogDuration(label, start)
		}()
		next.ServeHTTP(rw, r)
	})
}

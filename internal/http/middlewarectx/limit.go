// Package middlewarectx промежуточные обработчики HTTP-сервера.
package middlewarectx

import (
	"net/http"

	"golang.org/x/time/rate"
)

// NewRateLimiter ограничивает общий поток запросов к серверу. Запросы сверх
// лимита получают 429.
func NewRateLimiter(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

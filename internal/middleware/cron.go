package middleware

import (
	"net/http"
	"strings"

	"creditledger/internal/auth"
)

// CronSecret guards scheduler endpoints with a shared secret sent either as a
// bearer token or in X-Cron-Secret. An empty hash disables the endpoint.
func CronSecret(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				http.Error(w, "cron endpoint disabled", http.StatusServiceUnavailable)
				return
			}
			secret := r.Header.Get("X-Cron-Secret")
			if secret == "" {
				header := r.Header.Get("Authorization")
				if strings.HasPrefix(header, "Bearer ") {
					secret = strings.TrimPrefix(header, "Bearer ")
				}
			}
			if err := auth.CheckSecret(hash, secret); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

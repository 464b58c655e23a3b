package httpx

import (
	"net/http"

	"github.com/aussiebroadwan/stsession/pkg/slogx"
)

// APIKeyHeader carries the shared secret between backends and the authority.
const APIKeyHeader = "api-key"

// RequireAPIKey rejects requests whose api-key header does not satisfy check.
// A nil check lets everything through, which is how an authority without a
// configured key behaves.
func RequireAPIKey(check func(key string) bool) Middleware {
	return func(next http.Handler) http.Handler {
		if check == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" || !check(key) {
				slogx.FromContext(r.Context()).Warn("api key rejected", "present", key != "")
				WriteStatus(w, http.StatusUnauthorized, "INVALID_API_KEY", "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ServiceToken returns middleware that requires the shared service token,
// sent either as X-Service-Token or as an "Authorization: Bearer" header.
// An empty token disables the check (dev mode).
func ServiceToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(presented(r)), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="upload"`)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presented(r *http.Request) string {
	if t := r.Header.Get("X-Service-Token"); t != "" {
		return t
	}
	scheme, cred, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(cred)
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`)) //nolint:errcheck
}

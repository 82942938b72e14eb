package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// tokenSources are tried in order. The query parameter exists for browser
// websocket clients, which cannot set headers.
var tokenSources = []func(*http.Request) string{
	func(r *http.Request) string {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	},
	func(r *http.Request) string { return strings.TrimSpace(r.Header.Get("X-API-Key")) },
	func(r *http.Request) string { return r.URL.Query().Get("api_key") },
}

// Auth rejects requests that do not carry apiKey. An empty apiKey disables
// the check.
func Auth(apiKey string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			for _, src := range tokenSources {
				if token = src(r); token != "" {
					break
				}
			}
			switch {
			case token == "":
				unauthorized(w, "missing api key")
			case subtle.ConstantTimeCompare([]byte(token), want) != 1:
				unauthorized(w, "invalid api key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="flasharb"`)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

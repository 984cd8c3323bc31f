package api

import (
	"net/http"
	"net/url"
)

// OriginGuard builds a middleware that rejects state-changing requests
// whose Origin (or Referer, for older browsers) matches neither the
// request host nor one of the configured cross-origin frontends. Requests
// without either header pass: those come from non-browser clients that
// carry the token header instead of a cookie.
func OriginGuard(allowedOrigins []string) func(http.HandlerFunc) http.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			source := r.Header.Get("Origin")
			if source == "" {
				source = r.Header.Get("Referer")
			}
			if source != "" {
				u, err := url.Parse(source)
				if err != nil || (u.Host != r.Host && !allowed[u.Scheme+"://"+u.Host]) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
			}
			next(w, r)
		}
	}
}

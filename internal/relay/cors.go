package relay

import (
	"net/http"
	"net/url"
	"strings"
)

// allowedOrigin reports whether an Origin may hit the relay from a browser:
// hosted extension frames, the extension asset CDN, and localhost for
// development.
func allowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.HasSuffix(u.Host, ".ext-twitch.tv") {
		return true
	}
	if u.Host == "extension-files.twitch.tv" {
		return true
	}
	return u.Hostname() == "localhost"
}

// withCORS decorates next with the allow-list headers and answers preflights.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowedOrigin(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Ingest-Token")
			h.Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

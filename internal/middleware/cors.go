package middleware

import "net/http"

// The generation API surface only uses these verbs; PUT/PATCH never appear on
// any route, so preflights do not advertise them.
const (
	corsAllowMethods = "GET, POST, DELETE, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, X-Request-ID"
	corsMaxAge       = "600"
)

// CORS admits the configured browser origins. The allow list is exact-match;
// an empty list disables cross-origin access entirely.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allow := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allow[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" {
				w.Header().Add("Vary", "Origin")
				if _, ok := allow[origin]; ok {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Credentials", "true")
					if r.Method == http.MethodOptions {
						h.Set("Access-Control-Allow-Methods", corsAllowMethods)
						h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
						h.Set("Access-Control-Max-Age", corsMaxAge)
					}
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

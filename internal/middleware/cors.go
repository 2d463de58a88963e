// Package middleware holds the HTTP middleware the chat API mounts in
// front of chi's stock chain.
package middleware

import "net/http"

// CORS lets the storefront chat widget call the API from the browser.
// In production the widget ships on the shop's own origin; development
// runs off localhost, so a "*" entry opens things up.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed, explicit := originAllowed(allowedOrigins, origin)

			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Set("Access-Control-Max-Age", "300")
				// Credentials only for origins listed by name. Pairing
				// Allow-Credentials with a wildcard-echoed origin
				// enables CSRF.
				if explicit {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// originAllowed reports whether origin may call the API and whether it
// matched an explicit entry rather than the wildcard.
func originAllowed(allowedOrigins []string, origin string) (allowed, explicit bool) {
	if origin == "" {
		return false, false
	}
	for _, o := range allowedOrigins {
		switch o {
		case origin:
			return true, true
		case "*":
			allowed = true
		}
	}
	return allowed, false
}

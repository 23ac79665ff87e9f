package middleware

import (
	"net/http"

	"riskstream/pkg/crypto"
)

// BasicAuth защищает служебные endpoints (/metrics)
//
// creds == nil - защита отключена.
func BasicAuth(creds *crypto.Credentials, realm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if creds == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !creds.Check(user, pass) {
				w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// AdminTokenHeader carries the operator token for admin routes.
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth compares the X-Admin-Token header against a bcrypt hash. With an
// empty hash every admin request is refused.
func AdminAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				http.Error(w, `{"error":"admin access disabled"}`, http.StatusForbidden)
				return
			}
			token := r.Header.Get(AdminTokenHeader)
			if token == "" {
				http.Error(w, `{"error":"missing admin token"}`, http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
				http.Error(w, `{"error":"invalid admin token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

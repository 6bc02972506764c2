package middleware

import (
	"net/http"
	"strings"

	"github.com/templui/healthsync/internal/ctxkeys"
	"github.com/templui/healthsync/internal/service"
)

// AuthMiddleware resolves the caller from a bearer token or the auth cookie
// and adds the user to the context. Requests without credentials continue
// anonymously.
func AuthMiddleware(authService *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, fromCookie := credentials(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := authService.VerifyJWT(token)
			if err != nil {
				if fromCookie {
					authService.ClearJWTCookie(w)
				}
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctxkeys.WithUser(r.Context(), user)))
		})
	}
}

func credentials(r *http.Request) (token string, fromCookie bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t), false
		}
	}
	if cookie, err := r.Cookie(service.AuthCookie); err == nil {
		return cookie.Value, true
	}
	return "", false
}

// RequireAuth rejects anonymous requests with a JSON 401.
func RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ctxkeys.User(r.Context()) == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	}
}

package middleware

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"

	"vanish-chat/internal/auth"
	"vanish-chat/internal/errs"
	"vanish-chat/internal/models"
	"vanish-chat/internal/repository"
)

type contextKey string

const UserKey contextKey = "user"

func getIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return strings.Split(forwarded, ",")[0]
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
		return host
	}
	return host
}

// UserFrom pulls the authenticated user placed on the context by
// Authenticate. The second return is false on unauthenticated paths.
func UserFrom(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserKey).(*models.User)
	return user, ok
}

func Authenticate(tokens *auth.Manager, users repository.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			currentIP := getIP(r)

			token := bearerToken(r)
			if token == "" {
				cookie, err := r.Cookie("access_token")
				if err != nil {
					http.Error(w, "Authentication required", http.StatusUnauthorized)
					return
				}
				token = cookie.Value
			}

			claims, err := tokens.ValidateToken(token)
			if err != nil {
				log.Printf("[AUTH] Invalid token from %s: %v", currentIP, err)
				http.Error(w, "Session expired or invalid", http.StatusUnauthorized)
				return
			}

			user, err := users.GetUserByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, errs.ErrNotFound) {
					log.Printf("[AUTH] Token valid but user no longer exists: %s", claims.UserID)
					http.Error(w, "User account not found", http.StatusUnauthorized)
					return
				}
				log.Printf("[ERROR] Middleware DB lookup failed: %v", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			if user.IsBanned {
				log.Printf("[AUTH] Banned user %s attempted access from %s", user.ID, currentIP)
				http.Error(w, "Account suspended", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

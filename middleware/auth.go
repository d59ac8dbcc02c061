package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"go-ecommerce-auth/models"
	"go-ecommerce-auth/store"
	"go-ecommerce-auth/utils"
)

// Key type for context
type contextKey string

const UserContextKey = contextKey("user")

// AccessVerifier validates access tokens.
type AccessVerifier interface {
	VerifyAccess(token string) (string, error)
}

// UserFinder loads users by id without their password hash.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// Auth holds the session middlewares.
type Auth struct {
	tokens    AccessVerifier
	users     UserFinder
	responder *utils.Responder
	logger    *slog.Logger
}

func NewAuth(tokens AccessVerifier, users UserFinder, responder *utils.Responder, logger *slog.Logger) *Auth {
	return &Auth{tokens: tokens, users: users, responder: responder, logger: logger}
}

// Protect requires a valid access token cookie and attaches the matching
// user to the request context.
func (a *Auth) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := utils.CookieValue(r, utils.AccessCookie)
		if token == "" {
			a.responder.Error(w, r, utils.Unauthorized("Not authorized, no token.", nil))
			return
		}

		userID, err := a.tokens.VerifyAccess(token)
		if err != nil {
			a.logger.DebugContext(r.Context(), "access token rejected", slog.Any("error", err))
			a.responder.Error(w, r, utils.Unauthorized("Not authorized, invalid token.", err))
			return
		}

		user, err := a.users.FindByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				a.responder.Error(w, r, utils.Unauthorized("Not authorized, user not found", err))
				return
			}
			a.responder.Error(w, r, err)
			return
		}

		sanitized := user.Sanitized()
		ctx := context.WithValue(r.Context(), UserContextKey, &sanitized)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnly ensures that the user has admin privileges
func (a *Auth) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok || user.Role != models.RoleAdmin {
			a.responder.Error(w, r, utils.Forbidden("Not authorized as an admin."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// VerifiedOnly requires a user whose email has been verified.
func (a *Auth) VerifiedOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok || !user.Verified() {
			a.responder.Error(w, r, utils.Forbidden("Not authorized, User not verified."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromContext returns the user attached by Protect.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok && user != nil
}

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"go-ecommerce-auth/utils"
)

// Limiter records attempts per key.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// RateLimit rejects requests once the client IP spent its attempt budget
// for the route. A nil limiter disables the check. Backend failures are
// logged and the request is let through.
func RateLimit(limiter Limiter, route string, responder *utils.Responder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := limiter.Allow(r.Context(), route+":"+clientIP(r))
			switch {
			case err == nil:
			case errors.Is(err, utils.ErrRateLimited):
				responder.Error(w, r, utils.TooManyRequests())
				return
			default:
				logger.WarnContext(r.Context(), "rate limiter unavailable", slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

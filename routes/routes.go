package routes

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"go-ecommerce-auth/controllers"
	"go-ecommerce-auth/middleware"
	"go-ecommerce-auth/utils"
)

// Deps carries what the route table wires together.
type Deps struct {
	Auth        *controllers.AuthController
	Users       *controllers.UserController
	Session     *middleware.Auth
	Responder   *utils.Responder
	Limiter     middleware.Limiter
	Logger      *slog.Logger
	HealthCheck func(r *http.Request) error
}

// RegisterRoutes sets up all the routes for the application. Logging wraps
// Recovery so a recovered panic still produces its request log line.
func RegisterRoutes(router *mux.Router, d Deps) {
	router.Use(
		middleware.RequestID,
		middleware.Logging(d.Logger),
		middleware.Recovery(d.Logger, d.Responder),
	)

	h := d.Responder.Handle
	limit := func(route string) func(http.Handler) http.Handler {
		return middleware.RateLimit(d.Limiter, route, d.Responder, d.Logger)
	}
	protect := d.Session.Protect

	router.NotFoundHandler = d.Responder.NotFoundHandler()
	router.MethodNotAllowedHandler = d.Responder.MethodNotAllowedHandler()

	router.Handle("/health", h(func(w http.ResponseWriter, r *http.Request) error {
		if d.HealthCheck != nil {
			if err := d.HealthCheck(r); err != nil {
				return utils.Internal("database unavailable", err)
			}
		}
		d.Responder.JSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
		return nil
	})).Methods(http.MethodGet)

	api := router.PathPrefix("/api/auth").Subrouter()

	// Public routes
	api.Handle("/register", limit("register")(h(d.Auth.Register))).Methods(http.MethodPost)
	api.Handle("/login", limit("login")(h(d.Auth.Login))).Methods(http.MethodPost)

	// Protected routes
	api.Handle("/getUser", protect(h(d.Auth.GetUser))).Methods(http.MethodGet)
	api.Handle("/logout", protect(h(d.Auth.Logout))).Methods(http.MethodGet)
	api.Handle("/generateOtpCode", protect(limit("otp")(h(d.Auth.GenerateOtpCode)))).Methods(http.MethodPost)
	api.Handle("/verificationAccount", protect(limit("verify")(h(d.Auth.VerificationAccount)))).Methods(http.MethodPost)
	api.Handle("/refreshToken", protect(h(d.Auth.RefreshToken))).Methods(http.MethodPost)
	api.Handle("/changePassword", protect(limit("password")(h(d.Auth.ChangePassword)))).Methods(http.MethodPost)

	// Gated routes
	api.Handle("/allUser", protect(d.Session.AdminOnly(h(d.Users.AllUsers)))).Methods(http.MethodGet)
	api.Handle("/haveVerified", protect(d.Session.VerifiedOnly(h(d.Users.HaveVerified)))).Methods(http.MethodGet)
}

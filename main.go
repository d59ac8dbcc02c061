package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"go-ecommerce-auth/config"
	"go-ecommerce-auth/controllers"
	"go-ecommerce-auth/middleware"
	"go-ecommerce-auth/routes"
	"go-ecommerce-auth/services"
	"go-ecommerce-auth/store"
	"go-ecommerce-auth/utils"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to MongoDB
	client, err := store.ConnectDB(ctx, cfg.MongoURI)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Error("mongo disconnect failed", slog.Any("error", err))
		}
	}()
	db := client.Database(cfg.MongoDatabase)
	if err := store.EnsureIndexes(ctx, db); err != nil {
		return err
	}

	tokens, err := utils.NewTokenService(utils.TokenConfig{
		AccessSecret:  []byte(cfg.JWTSecret),
		RefreshSecret: []byte(cfg.JWTRefreshSecret),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})
	if err != nil {
		return err
	}

	dispatcher := utils.NewMailDispatcher(newMailer(cfg, logger), logger, 30*time.Second)
	defer dispatcher.Wait()

	var limiter middleware.Limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter = utils.NewAttemptLimiter(rdb, "auth", cfg.RateLimitAttempts, cfg.RateLimitWindow)
		logger.Info("attempt limiting enabled", slog.Int("attempts", cfg.RateLimitAttempts), slog.Duration("window", cfg.RateLimitWindow))
	}

	responder := utils.NewResponder(logger, cfg.IsProduction())
	users := store.NewUserStore(db)
	otp := services.NewOtpService(store.NewOtpStore(db), cfg.OtpTTL)
	cookies := utils.CookieConfig{
		Secure:     cfg.IsProduction(),
		AccessTTL:  cfg.AccessCookieTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}

	// Initialize controllers
	authController := controllers.NewAuthController(users, otp, tokens, dispatcher, cookies, responder, logger)
	userController := controllers.NewUserController(users, responder)

	// Set up the router
	router := mux.NewRouter()
	routes.RegisterRoutes(router, routes.Deps{
		Auth:        authController,
		Users:       userController,
		Session:     middleware.NewAuth(tokens, users, responder, logger),
		Responder:   responder,
		Limiter:     limiter,
		Logger:      logger,
		HealthCheck: pingMongo(client),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server is running", slog.String("port", cfg.Port), slog.String("env", cfg.AppEnv))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newMailer(cfg *config.Config, logger *slog.Logger) utils.Mailer {
	switch cfg.MailProvider {
	case config.MailProviderPostmark:
		return utils.NewPostmarkMailer(cfg.PostmarkAPIToken, cfg.EmailSender)
	case config.MailProviderSendgrid:
		return utils.NewSendgridMailer(cfg.SendgridAPIKey, cfg.EmailSender)
	default:
		return utils.NewLogMailer(logger)
	}
}

func pingMongo(client *mongo.Client) func(r *http.Request) error {
	return func(r *http.Request) error {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		return client.Ping(ctx, readpref.Primary())
	}
}

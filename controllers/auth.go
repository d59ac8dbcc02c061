package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-ecommerce-auth/middleware"
	"go-ecommerce-auth/models"
	"go-ecommerce-auth/store"
	"go-ecommerce-auth/utils"
)

// UserStore is the credential store used by the controllers.
type UserStore interface {
	Create(ctx context.Context, in store.NewUser) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	FindByEmail(ctx context.Context, email string, withPassword bool) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByRefreshToken(ctx context.Context, token string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	SetRefreshToken(ctx context.Context, id primitive.ObjectID, token string) error
	RotateRefreshToken(ctx context.Context, id primitive.ObjectID, current, next string) error
	SetVerified(ctx context.Context, id primitive.ObjectID, at time.Time) error
	UpdatePassword(ctx context.Context, id primitive.ObjectID, plain string) error
}

// OtpIssuer generates and checks verification codes.
type OtpIssuer interface {
	Generate(ctx context.Context, userID primitive.ObjectID) (*models.OtpCode, error)
	Verify(ctx context.Context, userID primitive.ObjectID, code string) error
	TTL() time.Duration
}

// TokenIssuer mints and checks session tokens.
type TokenIssuer interface {
	IssueAccessToken(userID string) (string, error)
	IssueRefreshToken(userID string) (string, error)
	VerifyRefresh(token string) (string, error)
}

// MailSender hands emails to the mail transport.
type MailSender interface {
	Dispatch(ctx context.Context, email utils.Email)
}

// AuthController coordinates registration, login and session flows.
type AuthController struct {
	Users     UserStore
	Otp       OtpIssuer
	Tokens    TokenIssuer
	Mail      MailSender
	Cookies   utils.CookieConfig
	Responder *utils.Responder
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewAuthController creates an AuthController using the wall clock.
func NewAuthController(users UserStore, otp OtpIssuer, tokens TokenIssuer, mail MailSender,
	cookies utils.CookieConfig, responder *utils.Responder, logger *slog.Logger) *AuthController {
	return &AuthController{
		Users:     users,
		Otp:       otp,
		Tokens:    tokens,
		Mail:      mail,
		Cookies:   cookies,
		Responder: responder,
		Logger:    logger,
		Now:       time.Now,
	}
}

type registerRequest struct {
	Username  string           `json:"username"`
	Email     string           `json:"email"`
	Password  string           `json:"password"`
	Phone     string           `json:"phone"`
	Addresses []models.Address `json:"addresses"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Otp string `json:"otp"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type sessionResponse struct {
	Success     bool        `json:"success"`
	AccessToken string      `json:"accessToken"`
	User        models.User `json:"user"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Register handles POST /register.
func (ac *AuthController) Register(w http.ResponseWriter, r *http.Request) error {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Email) == "" ||
		req.Password == "" || strings.TrimSpace(req.Phone) == "" {
		return utils.ValidationError("Please provide all required fields: username, email, password, and phone.")
	}

	ctx := r.Context()
	exists, err := ac.Users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return err
	}
	if exists {
		return utils.DuplicateError("User with this email already exists.", store.ErrDuplicate)
	}

	user, err := ac.Users.Create(ctx, store.NewUser{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		Phone:     req.Phone,
		Addresses: req.Addresses,
	})
	if err != nil {
		return err
	}
	ac.Logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID.Hex()),
		slog.String("role", string(user.Role)))

	if err := ac.sendOtp(ctx, user, false); err != nil {
		return err
	}

	return ac.startSession(w, r, user, http.StatusCreated)
}

// Login handles POST /login.
func (ac *AuthController) Login(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return utils.ValidationError("Please provide both email and password.")
	}

	ctx := r.Context()
	user, err := ac.Users.FindByEmail(ctx, req.Email, true)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		utils.VerifyPassword(req.Password, "")
		ac.Logger.InfoContext(ctx, "login rejected", slog.String("reason", "unknown email"))
		return utils.CredentialError()
	}

	if !utils.VerifyPassword(req.Password, user.Password) {
		ac.Logger.InfoContext(ctx, "login rejected",
			slog.String("reason", "wrong password"),
			slog.String("user_id", user.ID.Hex()))
		return utils.CredentialError()
	}

	return ac.startSession(w, r, user, http.StatusOK)
}

// GetUser handles GET /getUser.
func (ac *AuthController) GetUser(w http.ResponseWriter, r *http.Request) error {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return utils.NotFound("User not found.")
	}
	ac.Responder.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user,
	})
	return nil
}

// Logout handles GET /logout. It clears the cookies and the stored refresh
// token; repeating it is harmless.
func (ac *AuthController) Logout(w http.ResponseWriter, r *http.Request) error {
	ac.Cookies.ClearAuthCookies(w)

	if user, ok := middleware.UserFromContext(r.Context()); ok {
		err := ac.Users.SetRefreshToken(r.Context(), user.ID, "")
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	ac.Responder.JSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out successfully."})
	return nil
}

// GenerateOtpCode handles POST /generateOtpCode.
func (ac *AuthController) GenerateOtpCode(w http.ResponseWriter, r *http.Request) error {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return utils.Unauthorized("Not authorized, user not found", nil)
	}

	if err := ac.sendOtp(r.Context(), user, true); err != nil {
		return err
	}

	ac.Responder.JSON(w, http.StatusOK, messageResponse{Success: true, Message: "OTP Code successfully generated and sent."})
	return nil
}

// VerificationAccount handles POST /verificationAccount.
func (ac *AuthController) VerificationAccount(w http.ResponseWriter, r *http.Request) error {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return utils.Unauthorized("Not authorized, user not found", nil)
	}

	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	code := strings.TrimSpace(req.Otp)
	if code == "" {
		return utils.ValidationError("Please provide otp code.")
	}

	ctx := r.Context()
	if err := ac.Otp.Verify(ctx, user.ID, code); err != nil {
		return err
	}
	if err := ac.Users.SetVerified(ctx, user.ID, ac.Now()); err != nil {
		return err
	}
	ac.Logger.InfoContext(ctx, "user verified", slog.String("user_id", user.ID.Hex()))

	ac.Responder.JSON(w, http.StatusOK, messageResponse{Success: true, Message: "User successfully verified."})
	return nil
}

// RefreshToken handles POST /refreshToken. The presented refresh token must
// be the one stored for the user; it is replaced by a new one atomically.
func (ac *AuthController) RefreshToken(w http.ResponseWriter, r *http.Request) error {
	current := utils.CookieValue(r, utils.RefreshCookie)
	if current == "" {
		return utils.Unauthorized("Refresh token not found.", nil)
	}

	ctx := r.Context()
	user, err := ac.Users.FindByRefreshToken(ctx, current)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.Unauthorized("Invalid Refresh Token.", err)
		}
		return err
	}

	subject, err := ac.Tokens.VerifyRefresh(current)
	if err != nil {
		return utils.Unauthorized("Invalid Refresh Token.", err)
	}
	if subject != user.ID.Hex() {
		return utils.Unauthorized("Invalid Refresh Token.", errors.New("token subject does not match holder"))
	}
	if authed, ok := middleware.UserFromContext(ctx); ok && authed.ID != user.ID {
		return utils.Unauthorized("Invalid Refresh Token.", errors.New("token belongs to another user"))
	}

	access, refresh, err := ac.issuePair(user.ID.Hex())
	if err != nil {
		return err
	}
	if err := ac.Users.RotateRefreshToken(ctx, user.ID, current, refresh); err != nil {
		if errors.Is(err, store.ErrStaleToken) {
			return utils.Unauthorized("Invalid Refresh Token.", err)
		}
		return err
	}

	ac.writeSession(w, user, http.StatusOK, access, refresh)
	return nil
}

// ChangePassword handles POST /changePassword. Other sessions are revoked
// and the caller receives a fresh token pair.
func (ac *AuthController) ChangePassword(w http.ResponseWriter, r *http.Request) error {
	authed, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return utils.Unauthorized("Not authorized, user not found", nil)
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return utils.ValidationError("Please provide both currentPassword and newPassword.")
	}

	ctx := r.Context()
	user, err := ac.Users.FindByEmail(ctx, authed.Email, true)
	if err != nil {
		return err
	}
	if !utils.VerifyPassword(req.CurrentPassword, user.Password) {
		return utils.CredentialError()
	}
	if err := ac.Users.UpdatePassword(ctx, user.ID, req.NewPassword); err != nil {
		return err
	}
	ac.Logger.InfoContext(ctx, "password changed", slog.String("user_id", user.ID.Hex()))

	return ac.startSession(w, r, user, http.StatusOK)
}

func (ac *AuthController) sendOtp(ctx context.Context, user *models.User, regenerated bool) error {
	otp, err := ac.Otp.Generate(ctx, user.ID)
	if err != nil {
		return err
	}
	email, err := utils.OtpEmail(user.Email, user.Username, otp.Otp, ac.Otp.TTL(), regenerated)
	if err != nil {
		return err
	}
	ac.Mail.Dispatch(ctx, email)
	return nil
}

func (ac *AuthController) issuePair(userID string) (string, string, error) {
	access, err := ac.Tokens.IssueAccessToken(userID)
	if err != nil {
		return "", "", err
	}
	refresh, err := ac.Tokens.IssueRefreshToken(userID)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// startSession issues a token pair, stores the refresh token (replacing any
// previous one) and writes the session response.
func (ac *AuthController) startSession(w http.ResponseWriter, r *http.Request, user *models.User, status int) error {
	access, refresh, err := ac.issuePair(user.ID.Hex())
	if err != nil {
		return err
	}
	if err := ac.Users.SetRefreshToken(r.Context(), user.ID, refresh); err != nil {
		return err
	}
	ac.writeSession(w, user, status, access, refresh)
	return nil
}

func (ac *AuthController) writeSession(w http.ResponseWriter, user *models.User, status int, access, refresh string) {
	ac.Cookies.SetAuthCookies(w, ac.Now(), access, refresh)
	ac.Responder.JSON(w, status, sessionResponse{
		Success:     true,
		AccessToken: access,
		User:        user.Sanitized(),
	})
}

const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into v. An empty body leaves v zeroed.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return utils.ValidationError("Invalid request body.")
	}
	return nil
}

package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-ecommerce-auth/controllers"
	"go-ecommerce-auth/middleware"
	"go-ecommerce-auth/services"
	"go-ecommerce-auth/store/storetest"
	"go-ecommerce-auth/utils"
)

type testApp struct {
	router     *mux.Router
	users      *storetest.Users
	otps       *storetest.Otps
	mailer     *storetest.Mailer
	dispatcher *utils.MailDispatcher
}

func newTestApp(t *testing.T, limiter middleware.Limiter) *testApp {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens, err := utils.NewTokenService(utils.TokenConfig{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	app := &testApp{
		users:  storetest.NewUsers(),
		otps:   storetest.NewOtps(),
		mailer: &storetest.Mailer{},
	}
	app.dispatcher = utils.NewMailDispatcher(app.mailer, logger, time.Second)
	t.Cleanup(app.dispatcher.Wait)

	responder := utils.NewResponder(logger, true)
	cookies := utils.CookieConfig{AccessTTL: time.Hour, RefreshTTL: 7 * 24 * time.Hour}
	otp := services.NewOtpService(app.otps, 5*time.Minute)

	app.router = mux.NewRouter()
	RegisterRoutes(app.router, Deps{
		Auth:      controllers.NewAuthController(app.users, otp, tokens, app.dispatcher, cookies, responder, logger),
		Users:     controllers.NewUserController(app.users, responder),
		Session:   middleware.NewAuth(tokens, app.users, responder, logger),
		Responder: responder,
		Limiter:   limiter,
		Logger:    logger,
	})
	return app
}

// session holds the cookies a browser would send back.
type session struct {
	access  string
	refresh string
}

func (s *session) absorb(res *http.Response) {
	for _, c := range res.Cookies() {
		switch c.Name {
		case utils.AccessCookie:
			s.access = c.Value
		case utils.RefreshCookie:
			s.refresh = c.Value
		}
	}
}

type response struct {
	status int
	body   map[string]any
}

func (r response) message() string {
	msg, _ := r.body["message"].(string)
	return msg
}

func (app *testApp) do(t *testing.T, s *session, method, path string, payload any) response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "192.0.2.10:40000"
	if s != nil {
		if s.access != "" {
			req.AddCookie(&http.Cookie{Name: utils.AccessCookie, Value: s.access})
		}
		if s.refresh != "" {
			req.AddCookie(&http.Cookie{Name: utils.RefreshCookie, Value: s.refresh})
		}
	}

	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	res := rec.Result()
	if s != nil {
		s.absorb(res)
	}
	out := response{status: rec.Code}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.body), rec.Body.String())
	}
	return out
}

func registration(name string) map[string]any {
	return map[string]any{
		"username": name,
		"email":    name + "@x.com",
		"password": "secret1",
		"phone":    "555-0100",
	}
}

func (app *testApp) register(t *testing.T, name string) (*session, response) {
	t.Helper()
	s := &session{}
	res := app.do(t, s, http.MethodPost, "/api/auth/register", registration(name))
	return s, res
}

func userField(t *testing.T, res response) map[string]any {
	t.Helper()
	user, ok := res.body["user"].(map[string]any)
	require.True(t, ok, "response has no user object: %v", res.body)
	return user
}

func userID(t *testing.T, res response) primitive.ObjectID {
	t.Helper()
	id, err := primitive.ObjectIDFromHex(userField(t, res)["id"].(string))
	require.NoError(t, err)
	return id
}

func TestRegister(t *testing.T) {
	app := newTestApp(t, nil)

	s, res := app.register(t, "alice")
	require.Equal(t, http.StatusCreated, res.status, res.body)
	assert.Equal(t, true, res.body["success"])
	assert.NotEmpty(t, res.body["accessToken"])
	assert.NotEmpty(t, s.access)
	assert.NotEmpty(t, s.refresh)

	user := userField(t, res)
	assert.Equal(t, "admin", user["role"])
	assert.Equal(t, "alice@x.com", user["email"])
	assert.NotContains(t, user, "password")
	assert.NotContains(t, user, "refreshToken")

	stored, ok := app.users.Get(userID(t, res))
	require.True(t, ok)
	assert.NotEqual(t, "secret1", stored.Password)
	assert.True(t, utils.VerifyPassword("secret1", stored.Password))
	assert.Equal(t, s.refresh, stored.RefreshToken)

	_, res = app.register(t, "bob")
	require.Equal(t, http.StatusCreated, res.status)
	assert.Equal(t, "user", userField(t, res)["role"])

	app.dispatcher.Wait()
	emails := app.mailer.Emails()
	require.Len(t, emails, 2)
	assert.Equal(t, "Success Generate OTP Code", emails[0].Subject)
}

func TestRegister_Rejections(t *testing.T) {
	app := newTestApp(t, nil)
	_, res := app.register(t, "alice")
	require.Equal(t, http.StatusCreated, res.status)

	tests := []struct {
		name    string
		payload map[string]any
		msg     string
	}{
		{
			name:    "missing phone",
			payload: map[string]any{"username": "bob", "email": "bob@x.com", "password": "secret1"},
			msg:     "Please provide all required fields: username, email, password, and phone.",
		},
		{
			name:    "duplicate email differently cased",
			payload: map[string]any{"username": "alice2", "email": "ALICE@x.com", "password": "secret1", "phone": "1"},
			msg:     "User with this email already exists.",
		},
		{
			name:    "duplicate username",
			payload: map[string]any{"username": "alice", "email": "other@x.com", "password": "secret1", "phone": "1"},
			msg:     "User with this username already exists.",
		},
		{
			name:    "short password",
			payload: map[string]any{"username": "carol", "email": "carol@x.com", "password": "123", "phone": "1"},
			msg:     "Password must be at least 6 characters long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := app.do(t, &session{}, http.MethodPost, "/api/auth/register", tt.payload)
			assert.Equal(t, http.StatusBadRequest, res.status)
			assert.Equal(t, tt.msg, res.message())
		})
	}
}

func TestRegister_ConcurrentSameEmail(t *testing.T) {
	app := newTestApp(t, nil)

	const n = 8
	statuses := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			b, _ := json.Marshal(registration("racer"))
			app.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(b)))
			statuses <- rec.Code
		}()
	}
	wg.Wait()
	close(statuses)

	created := 0
	for code := range statuses {
		if code == http.StatusCreated {
			created++
		} else {
			assert.Equal(t, http.StatusBadRequest, code)
		}
	}
	assert.Equal(t, 1, created)
}

func TestLogin(t *testing.T) {
	app := newTestApp(t, nil)
	_, res := app.register(t, "alice")
	require.Equal(t, http.StatusCreated, res.status)

	s := &session{}
	res = app.do(t, s, http.MethodPost, "/api/auth/login", map[string]any{"email": "alice@x.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, res.status)
	assert.NotEmpty(t, res.body["accessToken"])
	assert.NotContains(t, userField(t, res), "password")
	assert.NotEmpty(t, s.access)

	wrong := app.do(t, &session{}, http.MethodPost, "/api/auth/login", map[string]any{"email": "alice@x.com", "password": "nope123"})
	unknown := app.do(t, &session{}, http.MethodPost, "/api/auth/login", map[string]any{"email": "ghost@x.com", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, wrong.status)
	assert.Equal(t, wrong.status, unknown.status)
	assert.Equal(t, "Invalid email or password.", wrong.message())
	assert.Equal(t, wrong.message(), unknown.message())

	missing := app.do(t, &session{}, http.MethodPost, "/api/auth/login", map[string]any{"email": "alice@x.com"})
	assert.Equal(t, http.StatusBadRequest, missing.status)
	assert.Equal(t, "Please provide both email and password.", missing.message())
}

func TestGetUserAndLogout(t *testing.T) {
	app := newTestApp(t, nil)
	s, res := app.register(t, "alice")
	require.Equal(t, http.StatusCreated, res.status)
	id := userID(t, res)

	res = app.do(t, s, http.MethodGet, "/api/auth/getUser", nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "alice", userField(t, res)["username"])

	old := *s
	res = app.do(t, s, http.MethodGet, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "Logged out successfully.", res.message())
	assert.Empty(t, s.access)
	assert.Empty(t, s.refresh)

	stored, _ := app.users.Get(id)
	assert.Empty(t, stored.RefreshToken)

	res = app.do(t, s, http.MethodGet, "/api/auth/getUser", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, "Not authorized, no token.", res.message())

	replay := old
	res = app.do(t, &replay, http.MethodPost, "/api/auth/refreshToken", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, "Invalid Refresh Token.", res.message())
}

func TestLogout_Twice(t *testing.T) {
	app := newTestApp(t, nil)
	s, res := app.register(t, "alice")
	require.Equal(t, http.StatusCreated, res.status)
	id := userID(t, res)
	kept := *s

	res = app.do(t, s, http.MethodGet, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, res.status)

	again := kept
	res = app.do(t, &again, http.MethodGet, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "Logged out successfully.", res.message())
	assert.Empty(t, again.access)
	assert.Empty(t, again.refresh)

	stored, ok := app.users.Get(id)
	require.True(t, ok)
	assert.Empty(t, stored.RefreshToken)
}

func TestRefreshToken_Rotation(t *testing.T) {
	app := newTestApp(t, nil)
	s, res := app.register(t, "alice")
	require.Equal(t, http.StatusCreated, res.status)
	id := userID(t, res)

	first := *s
	res = app.do(t, s, http.MethodPost, "/api/auth/refreshToken", nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.NotEmpty(t, res.body["accessToken"])
	assert.NotEqual(t, first.refresh, s.refresh)

	stored, _ := app.users.Get(id)
	assert.Equal(t, s.refresh, stored.RefreshToken)

	replay := first
	replay.access = s.access
	res = app.do(t, &replay, http.MethodPost, "/api/auth/refreshToken", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, "Invalid Refresh Token.", res.message())

	res = app.do(t, s, http.MethodPost, "/api/auth/refreshToken", nil)
	assert.Equal(t, http.StatusOK, res.status)
}

func TestRefreshToken_OtherUsersToken(t *testing.T) {
	app := newTestApp(t, nil)
	alice, res := app.register(t, "alice")
	require.Equal(t, http.StatusCreated, res.status)
	bob, res := app.register(t, "bob")
	require.Equal(t, http.StatusCreated, res.status)

	mixed := &session{access: alice.access, refresh: bob.refresh}
	res = app.do(t, mixed, http.MethodPost, "/api/auth/refreshToken", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, "Invalid Refresh Token.", res.message())

	missing := &session{access: alice.access}
	res = app.do(t, missing, http.MethodPost, "/api/auth/refreshToken", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, "Refresh token not found.", res.message())
}

func TestVerificationFlow(t *testing.T) {
	app := newTestApp(t, nil)
	s, res := app.register(t, "alice")
	require.Equal(t, http.StatusCreated, res.status)
	id := userID(t, res)

	res = app.do(t, s, http.MethodGet, "/api/auth/haveVerified", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, "Not authorized, User not verified.", res.message())

	app.dispatcher.Wait()
	firstCode, err := app.otps.Code(id)
	require.NoError(t, err)

	res = app.do(t, s, http.MethodPost, "/api/auth/generateOtpCode", nil)
	require.Equal(t, http.StatusOK, res.status)
	app.dispatcher.Wait()
	emails := app.mailer.Emails()
	require.Len(t, emails, 2)
	assert.Equal(t, "Success Regenerate Otp Code", emails[1].Subject)

	code, err := app.otps.Code(id)
	require.NoError(t, err)
	assert.Contains(t, emails[1].HTML, code)

	if firstCode != code {
		res = app.do(t, s, http.MethodPost, "/api/auth/verificationAccount", map[string]any{"otp": firstCode})
		assert.Equal(t, http.StatusBadRequest, res.status)
		assert.Equal(t, "Invalid OTP code.", res.message())
	}

	res = app.do(t, s, http.MethodPost, "/api/auth/verificationAccount", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "Please provide otp code.", res.message())

	res = app.do(t, s, http.MethodPost, "/api/auth/verificationAccount", map[string]any{"otp": code})
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "User successfully verified.", res.message())

	stored, _ := app.users.Get(id)
	assert.True(t, stored.IsVerified)
	assert.NotNil(t, stored.EmailVerifiedAt)

	res = app.do(t, s, http.MethodGet, "/api/auth/haveVerified", nil)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "User has been verified.", res.message())
}

func TestAllUsers(t *testing.T) {
	app := newTestApp(t, nil)
	admin, res := app.register(t, "alice")
	require.Equal(t, http.StatusCreated, res.status)
	bob, res := app.register(t, "bob")
	require.Equal(t, http.StatusCreated, res.status)

	res = app.do(t, &session{}, http.MethodGet, "/api/auth/allUser", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = app.do(t, bob, http.MethodGet, "/api/auth/allUser", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, "Not authorized as an admin.", res.message())

	res = app.do(t, admin, http.MethodGet, "/api/auth/allUser", nil)
	require.Equal(t, http.StatusOK, res.status)
	data, ok := res.body["data"].([]any)
	require.True(t, ok)
	require.Len(t, data, 2)
	for _, item := range data {
		u := item.(map[string]any)
		assert.NotContains(t, u, "password")
		assert.NotContains(t, u, "refreshToken")
	}
}

func TestChangePassword(t *testing.T) {
	app := newTestApp(t, nil)
	s, res := app.register(t, "alice")
	require.Equal(t, http.StatusCreated, res.status)
	before := *s

	res = app.do(t, s, http.MethodPost, "/api/auth/changePassword", map[string]any{"currentPassword": "wrong1", "newPassword": "secret2"})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "Invalid email or password.", res.message())

	res = app.do(t, s, http.MethodPost, "/api/auth/changePassword", map[string]any{"currentPassword": "secret1", "newPassword": "secret2"})
	require.Equal(t, http.StatusOK, res.status)
	assert.NotEqual(t, before.refresh, s.refresh)

	res = app.do(t, &session{}, http.MethodPost, "/api/auth/login", map[string]any{"email": "alice@x.com", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, res.status)
	res = app.do(t, &session{}, http.MethodPost, "/api/auth/login", map[string]any{"email": "alice@x.com", "password": "secret2"})
	assert.Equal(t, http.StatusOK, res.status)
}

func TestNotFoundAndHealth(t *testing.T) {
	app := newTestApp(t, nil)

	res := app.do(t, nil, http.MethodGet, "/api/auth/nope", nil)
	assert.Equal(t, http.StatusNotFound, res.status)
	assert.Equal(t, "Not Found - /api/auth/nope", res.message())
	assert.Equal(t, false, res.body["success"])

	res = app.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, res.status)
}

func TestPanicStillLogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	responder := utils.NewResponder(logger, true)

	router := mux.NewRouter()
	RegisterRoutes(router, Deps{
		Auth:      &controllers.AuthController{},
		Users:     &controllers.UserController{},
		Session:   middleware.NewAuth(nil, nil, responder, logger),
		Responder: responder,
		Logger:    logger,
	})
	router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	logs := buf.String()
	assert.Contains(t, logs, "panic recovered")
	assert.Contains(t, logs, `"msg":"HTTP request"`)
	assert.Contains(t, logs, `"status":500`)
}

func TestLoginRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	app := newTestApp(t, utils.NewAttemptLimiter(rdb, "auth", 3, time.Minute))
	creds := map[string]any{"email": "ghost@x.com", "password": "secret1"}

	for i := 0; i < 3; i++ {
		res := app.do(t, &session{}, http.MethodPost, "/api/auth/login", creds)
		require.Equal(t, http.StatusBadRequest, res.status)
	}
	res := app.do(t, &session{}, http.MethodPost, "/api/auth/login", creds)
	assert.Equal(t, http.StatusTooManyRequests, res.status)
}

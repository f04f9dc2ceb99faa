package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ruraledu/backend/internal/auth"
	"github.com/ruraledu/backend/internal/config"
	"github.com/ruraledu/backend/internal/domain/user"
	"github.com/ruraledu/backend/internal/http/handlers"
	"github.com/ruraledu/backend/internal/http/middlewares"
	"github.com/ruraledu/backend/internal/repo/postgres"
	"github.com/ruraledu/backend/internal/security"
)

// Make sure Gin does not spam the console during the test

func init() {
	gin.SetMode(gin.TestMode)
}

// Fake repository implementation of the handlers.UserReader / UserWriter
// interfaces

type fakeUsersRepo struct {
	getByEmailFn func(ctx context.Context, email string) (user.User, error)
	getByIDFn    func(ctx context.Context, id string) (user.User, error)
	createFn     func(ctx context.Context, email, passwordHash, fullName, role string, dateOfBirth *time.Time) (user.User, error)
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	if f.getByEmailFn != nil {
		return f.getByEmailFn(ctx, email)
	}

	return user.User{}, postgres.ErrUserNotFound
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}

	return user.User{}, postgres.ErrUserNotFound
}

func (f *fakeUsersRepo) Create(ctx context.Context, email, passwordHash, fullName, role string, dateOfBirth *time.Time) (user.User, error) {
	if f.createFn != nil {
		return f.createFn(ctx, email, passwordHash, fullName, role, dateOfBirth)
	}

	now := time.Now().UTC()

	return user.User{
		ID:           "u-1",
		Email:        email,
		PasswordHash: passwordHash,
		FullName:     fullName,
		Role:         role,
		DateOfBirth:  dateOfBirth,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func testConfig(transport string) config.Config {
	return config.Config{
		Env:                 "test",
		JWTSecret:           "test-secret-key",
		JWTAccessTTLMinutes: 60,
		TokenTransport:      transport,
		SessionCookieName:   "session_token",
	}
}

func newAuthRouter(repo *fakeUsersRepo, cfg config.Config) (*gin.Engine, *auth.Manager) {
	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL())

	h := handlers.NewAuthHandler(repo, repo, jwtManager, cfg, nil)
	m := middlewares.NewAuthMiddleware(jwtManager, cfg)

	r := gin.New()
	r.POST("/api/auth/signup", h.SignUp)
	r.POST("/api/auth/login", h.Login)
	r.GET("/api/auth/me", m.RequireAuth(), h.Me)
	r.POST("/api/auth/logout", h.Logout)

	return r, jwtManager
}

func doJSON(r http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return w
}

type userEnvelope struct {
	Success bool `json:"success"`
	User    struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		FullName string `json:"fullName"`
		Role     string `json:"role"`
	} `json:"user"`
	Token   string `json:"token"`
	Message string `json:"message"`
}

// Signup tests

func TestSignUpHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		createFn   func(ctx context.Context, email, passwordHash, fullName, role string, dateOfBirth *time.Time) (user.User, error)
		wantStatus int
		wantRole   string
	}{
		{
			name:       "creates learner by default",
			body:       `{"email":"a@b.com","password":"secret123"}`,
			wantStatus: http.StatusCreated,
			wantRole:   user.RoleLearner,
		},
		{
			name:       "honours an explicit role",
			body:       `{"email":"t@b.com","password":"secret123","fullName":"Tess Teacher","role":"TEACHER","dateOfBirth":"1990-04-01"}`,
			wantStatus: http.StatusCreated,
			wantRole:   user.RoleTeacher,
		},
		{
			name:       "missing email",
			body:       `{"password":"secret123"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing password",
			body:       `{"email":"a@b.com"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed email",
			body:       `{"email":"not-an-email","password":"secret123"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "admin role cannot be self-assigned",
			body:       `{"email":"a@b.com","password":"secret123","role":"ADMIN"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "duplicate email yields conflict",
			body: `{"email":"dup@b.com","password":"secret123"}`,
			createFn: func(ctx context.Context, email, passwordHash, fullName, role string, dateOfBirth *time.Time) (user.User, error) {
				return user.User{}, postgres.ErrEmailAlreadyUsed
			},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeUsersRepo{createFn: tt.createFn}
			r, _ := newAuthRouter(repo, testConfig(config.TransportBearer))

			w := doJSON(r, http.MethodPost, "/api/auth/signup", tt.body, nil)

			if w.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}

			if tt.wantStatus != http.StatusCreated {
				return
			}

			var resp userEnvelope
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v body=%s", err, w.Body.String())
			}

			if !resp.Success || resp.User.ID == "" {
				t.Fatalf("expected a created user, got %s", w.Body.String())
			}

			if resp.User.Role != tt.wantRole {
				t.Fatalf("role mismatch: got %q want %q", resp.User.Role, tt.wantRole)
			}
		})
	}
}

func TestSignUpNeverLeaksPasswordHash(t *testing.T) {
	repo := &fakeUsersRepo{}
	r, _ := newAuthRouter(repo, testConfig(config.TransportBearer))

	w := doJSON(r, http.MethodPost, "/api/auth/signup", `{"email":"a@b.com","password":"secret123"}`, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	body := w.Body.String()

	if strings.Contains(body, "password") || strings.Contains(body, "$2a$") || strings.Contains(body, "$2b$") {
		t.Fatalf("response leaked password material: %s", body)
	}
}

// Login tests

func seededRepo(t *testing.T, email, password string) *fakeUsersRepo {
	t.Helper()

	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	stored := user.User{
		ID:           "u-42",
		Email:        email,
		PasswordHash: hash,
		Role:         user.RoleLearner,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	return &fakeUsersRepo{
		getByEmailFn: func(ctx context.Context, e string) (user.User, error) {
			if e == email {
				return stored, nil
			}
			return user.User{}, postgres.ErrUserNotFound
		},
		getByIDFn: func(ctx context.Context, id string) (user.User, error) {
			if id == stored.ID {
				return stored, nil
			}
			return user.User{}, postgres.ErrUserNotFound
		},
	}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	repo := seededRepo(t, "a@b.com", "secret123")
	r, jwtManager := newAuthRouter(repo, testConfig(config.TransportBearer))

	w := doJSON(r, http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"secret123"}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp userEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Token == "" {
		t.Fatalf("expected a token in the body, got %s", w.Body.String())
	}

	claims, err := jwtManager.VerifySessionToken(resp.Token)
	if err != nil {
		t.Fatalf("issued token did not verify: %v", err)
	}

	if claims.UserID != "u-42" || claims.Email != "a@b.com" || claims.Role != user.RoleLearner {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginDoesNotRevealWhichCredentialFailed(t *testing.T) {
	repo := seededRepo(t, "a@b.com", "secret123")
	r, _ := newAuthRouter(repo, testConfig(config.TransportBearer))

	wrongPassword := doJSON(r, http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"wrong-pass"}`, nil)
	unknownEmail := doJSON(r, http.MethodPost, "/api/auth/login", `{"email":"ghost@b.com","password":"secret123"}`, nil)

	if wrongPassword.Code != http.StatusUnauthorized || unknownEmail.Code != http.StatusUnauthorized {
		t.Fatalf("got statuses %d and %d, want both %d", wrongPassword.Code, unknownEmail.Code, http.StatusUnauthorized)
	}

	if wrongPassword.Body.String() != unknownEmail.Body.String() {
		t.Fatalf("responses differ between wrong password and unknown email:\n%s\n%s",
			wrongPassword.Body.String(), unknownEmail.Body.String())
	}
}

func TestLoginMissingFields(t *testing.T) {
	repo := seededRepo(t, "a@b.com", "secret123")
	r, _ := newAuthRouter(repo, testConfig(config.TransportBearer))

	w := doJSON(r, http.MethodPost, "/api/auth/login", `{"email":"a@b.com"}`, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestLoginCookieTransport(t *testing.T) {
	repo := seededRepo(t, "a@b.com", "secret123")
	r, _ := newAuthRouter(repo, testConfig(config.TransportCookie))

	w := doJSON(r, http.MethodPost, "/api/auth/login", `{"email":"a@b.com","password":"secret123"}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp userEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Token != "" {
		t.Fatalf("cookie transport must not also return a body token")
	}

	var session *http.Cookie

	for _, c := range w.Result().Cookies() {
		if c.Name == "session_token" {
			session = c
		}
	}

	if session == nil {
		t.Fatalf("session_token cookie not set")
	}

	if !session.HttpOnly {
		t.Fatalf("session cookie must be HttpOnly")
	}

	if session.Value == "" {
		t.Fatalf("session cookie is empty")
	}
}

// "who am I" tests

func TestMeReturnsCurrentUser(t *testing.T) {
	repo := seededRepo(t, "a@b.com", "secret123")
	r, jwtManager := newAuthRouter(repo, testConfig(config.TransportBearer))

	token, err := jwtManager.GenerateSessionToken("u-42", "a@b.com", user.RoleLearner)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	w := doJSON(r, http.MethodGet, "/api/auth/me", "", header)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp userEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.User.ID != "u-42" || resp.User.Email != "a@b.com" {
		t.Fatalf("unexpected identity: %+v", resp.User)
	}
}

func TestMeRejectsBadTokens(t *testing.T) {
	repo := seededRepo(t, "a@b.com", "secret123")
	cfg := testConfig(config.TransportBearer)
	r, _ := newAuthRouter(repo, cfg)

	expiredManager := auth.NewManager(cfg.JWTSecret, -time.Minute)
	expired, err := expiredManager.GenerateSessionToken("u-42", "a@b.com", user.RoleLearner)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	foreignManager := auth.NewManager("some-other-secret", time.Hour)
	forged, err := foreignManager.GenerateSessionToken("u-42", "a@b.com", user.RoleLearner)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not a bearer header", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not.a.jwt"},
		{name: "expired token", header: "Bearer " + expired},
		{name: "wrong signing key", header: "Bearer " + forged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.header != "" {
				header.Set("Authorization", tt.header)
			}

			w := doJSON(r, http.MethodGet, "/api/auth/me", "", header)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusUnauthorized, w.Body.String())
			}
		})
	}
}

func TestMeUserDeletedAfterIssue(t *testing.T) {
	// token verifies fine but the account is gone
	repo := &fakeUsersRepo{}
	r, jwtManager := newAuthRouter(repo, testConfig(config.TransportBearer))

	token, err := jwtManager.GenerateSessionToken("u-gone", "gone@b.com", user.RoleLearner)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	w := doJSON(r, http.MethodGet, "/api/auth/me", "", header)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusNotFound, w.Body.String())
	}
}

func TestMeReadsTokenFromCookie(t *testing.T) {
	repo := seededRepo(t, "a@b.com", "secret123")
	cfg := testConfig(config.TransportCookie)
	r, jwtManager := newAuthRouter(repo, cfg)

	token, err := jwtManager.GenerateSessionToken("u-42", "a@b.com", user.RoleLearner)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_token", Value: token})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}
}

// Logout tests

func TestLogoutAlwaysAcknowledges(t *testing.T) {
	repo := &fakeUsersRepo{}
	r, _ := newAuthRouter(repo, testConfig(config.TransportBearer))

	w := doJSON(r, http.MethodPost, "/api/auth/logout", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusOK)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	repo := &fakeUsersRepo{}
	r, _ := newAuthRouter(repo, testConfig(config.TransportCookie))

	w := doJSON(r, http.MethodPost, "/api/auth/logout", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusOK)
	}

	var cleared bool

	for _, c := range w.Result().Cookies() {
		if c.Name == "session_token" && c.MaxAge < 0 {
			cleared = true
		}
	}

	if !cleared {
		t.Fatalf("expected the session cookie to be cleared, cookies=%v", w.Result().Cookies())
	}
}

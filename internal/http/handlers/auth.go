package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ruraledu/backend/internal/auth"
	"github.com/ruraledu/backend/internal/config"
	"github.com/ruraledu/backend/internal/domain/user"
	"github.com/ruraledu/backend/internal/http/middlewares"
	"github.com/ruraledu/backend/internal/observability"
	"github.com/ruraledu/backend/internal/repo/postgres"
	"github.com/ruraledu/backend/internal/security"
)

type UserReader interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
}

type UserWriter interface {
	Create(ctx context.Context, email, passwordHash, fullName, role string, dateOfBirth *time.Time) (user.User, error)
}

type AuthHandler struct {
	users      UserReader
	userWriter UserWriter
	jwt        *auth.Manager
	cfg        config.Config
	prom       *observability.Prom
}

func NewAuthHandler(users UserReader, userWriter UserWriter, jwtManager *auth.Manager, cfg config.Config, prom *observability.Prom) *AuthHandler {
	return &AuthHandler{
		users:      users,
		userWriter: userWriter,
		jwt:        jwtManager,
		cfg:        cfg,
		prom:       prom,
	}
}

type SignUpRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	FullName    string `json:"fullName" binding:"omitempty,max=120"`
	Role        string `json:"role" binding:"omitempty,oneof=LEARNER TEACHER PARENT"`
	DateOfBirth string `json:"dateOfBirth" binding:"omitempty,datetime=2006-01-02"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) SignUp(ctx *gin.Context) {
	var req SignUpRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	role := req.Role

	if role == "" {
		role = user.RoleLearner
	}

	var dateOfBirth *time.Time

	if req.DateOfBirth != "" {
		// format already validated by the binding tag
		dob, _ := time.Parse("2006-01-02", req.DateOfBirth)
		dateOfBirth = &dob
	}

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		h.countAuth("signup", "error")
		RespondInternal(ctx, "Could not create user")
		return
	}

	u, err := h.userWriter.Create(cctx, req.Email, hash, req.FullName, role, dateOfBirth)

	if err != nil {
		if errors.Is(err, postgres.ErrEmailAlreadyUsed) {
			h.countAuth("signup", "rejected")
			RespondConflict(ctx, "email_taken", "User already exists.")
			return
		}

		h.logErr(ctx, "signup failed", err)
		h.countAuth("signup", "error")
		RespondInternal(ctx, "Could not create user")
		return
	}

	h.countAuth("signup", "ok")

	ctx.JSON(http.StatusCreated, gin.H{
		"success": true,
		"user":    u,
	})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}
	// short timeout for DB lookup
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	foundUser, err := h.users.GetByEmail(cctx, req.Email)

	if err != nil {
		if !errors.Is(err, postgres.ErrUserNotFound) {
			h.logErr(ctx, "login lookup failed", err)
			h.countAuth("login", "error")
			RespondInternal(ctx, "Could not log in")
			return
		}

		// same answer as a wrong password, no account enumeration
		h.countAuth("login", "rejected")
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		h.countAuth("login", "rejected")
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	token, err := h.jwt.GenerateSessionToken(foundUser.ID, foundUser.Email, foundUser.Role)

	if err != nil {
		h.logErr(ctx, "token signing failed", err)
		h.countAuth("login", "error")
		RespondInternal(ctx, "Could not create session")
		return
	}

	h.countAuth("login", "ok")

	if h.cfg.TokenTransport == config.TransportCookie {
		h.setSessionCookie(ctx, token)

		ctx.JSON(http.StatusOK, gin.H{
			"success": true,
			"user":    foundUser,
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    foundUser,
		"token":   token,
	})
}

// Me resolves the caller from the verified token. The user is re-read from
// the store, claims are only trusted for the id.
func (h *AuthHandler) Me(ctx *gin.Context) {
	id, ok := middlewares.UserIDFromContext(ctx)

	if !ok || id == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	u, err := h.users.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			RespondNotFound(ctx, "User no longer exists.")
			return
		}

		h.logErr(ctx, "me lookup failed", err)
		RespondInternal(ctx, "Could not load user")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    u,
	})
}

// Logout has nothing to revoke server-side, sessions are stateless. In
// cookie transport the cookie is cleared so browsers drop the token.
func (h *AuthHandler) Logout(ctx *gin.Context) {
	if h.cfg.TokenTransport == config.TransportCookie {
		h.clearSessionCookie(ctx)
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logged out.",
	})
}

// Helper functions

func (h *AuthHandler) setSessionCookie(ctx *gin.Context, token string) {
	secure := h.cfg.Env == "prod"

	ctx.SetSameSite(http.SameSiteStrictMode)

	ctx.SetCookie(
		h.cfg.SessionCookieName,
		token,
		int(h.cfg.AccessTTL().Seconds()),
		"/",
		"",
		secure,
		true, // HttpOnly.
	)
}

func (h *AuthHandler) clearSessionCookie(ctx *gin.Context) {
	secure := h.cfg.Env == "prod"
	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(
		h.cfg.SessionCookieName,
		"",
		-1,
		"/",
		"",
		secure,
		true,
	)
}

func (h *AuthHandler) countAuth(op, result string) {
	if h.prom == nil {
		return
	}

	h.prom.AuthAttempts.WithLabelValues(op, result).Inc()
}

func (h *AuthHandler) logErr(ctx *gin.Context, msg string, err error) {
	// internal detail stays in the logs, the response only carries a
	// generic message
	slog.Default().ErrorContext(ctx.Request.Context(), msg, "err", err, "request_id", requestIDFrom(ctx))
}

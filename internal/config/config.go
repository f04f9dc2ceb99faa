package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	TransportBearer = "bearer"
	TransportCookie = "cookie"
)

type Config struct {
	Env   string
	Port  int
	DBURL string

	// Token signing. JWTSecret has no default on purpose: a known
	// fallback secret would make every deployment forgeable.
	JWTSecret           string
	JWTAccessTTLMinutes int

	// bearer or cookie. Both carry the same token, this only decides where
	// login puts it and where the middleware reads it from.
	TokenTransport    string
	SessionCookieName string

	AdminEmail    string
	AdminPassword string
	AdminName     string
	AdminRole     string

	RedisAddr     string
	RedisPassword string

	OTLPEndpoint   string
	AllowedOrigins []string

	AuthRateLimit  int
	AuthRateWindow time.Duration
}

func Load() (Config, error) {
	env := getEnv("APP_ENV", "dev")

	if env == "dev" {
		// best effort, a missing .env is fine
		_ = godotenv.Load()
	}

	secret := os.Getenv("JWT_SECRET")

	if secret == "" {
		return Config{}, errors.New("JWT_SECRET must be set")
	}

	transport := getEnv("AUTH_TOKEN_TRANSPORT", TransportBearer)

	if transport != TransportBearer && transport != TransportCookie {
		return Config{}, fmt.Errorf("AUTH_TOKEN_TRANSPORT must be %q or %q, got %q", TransportBearer, TransportCookie, transport)
	}

	cfg := Config{
		Env:   env,
		Port:  getEnvInt("PORT", 8080),
		DBURL: buildDBURL(),

		JWTSecret:           secret,
		JWTAccessTTLMinutes: getEnvInt("JWT_ACCESS_TTL_MINUTES", 60),

		TokenTransport:    transport,
		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "session_token"),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminName:     getEnv("ADMIN_NAME", "RuralEdu Admin"),
		AdminRole:     getEnv("ADMIN_ROLE", "ADMIN"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AllowedOrigins: splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),

		AuthRateLimit:  getEnvInt("AUTH_RATE_LIMIT", 10),
		AuthRateWindow: time.Duration(getEnvInt("AUTH_RATE_WINDOW_SECONDS", 60)) * time.Second,
	}

	return cfg, nil
}

func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.JWTAccessTTLMinutes) * time.Minute
}

func buildDBURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "ruraledu")
	pass := getEnv("DB_PASSWORD", "ruraledu")
	name := getEnv("DB_NAME", "ruraledu")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			return fallback
		}

		return num
	}
	return fallback
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)

		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

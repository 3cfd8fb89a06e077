// Package auth issues and checks admin dashboard sessions.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"interactionlog/internal/logger"
	"interactionlog/internal/middleware"
)

const issuer = "interactionlog"

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired session")
	ErrNotConfigured      = errors.New("admin access is not configured")
)

// Claims represents the JWT claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Session is returned by a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config holds the single admin account.
type Config struct {
	Username     string
	PasswordHash string
	Secret       string
	TTL          time.Duration
	Now          func() time.Time
}

// Authenticator checks admin credentials and signs HS256 session tokens.
type Authenticator struct {
	username     string
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

func New(cfg Config) *Authenticator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	return &Authenticator{
		username:     cfg.Username,
		passwordHash: []byte(cfg.PasswordHash),
		secret:       []byte(cfg.Secret),
		ttl:          cfg.TTL,
		now:          cfg.Now,
	}
}

// Configured reports whether logins can succeed at all.
func (a *Authenticator) Configured() bool {
	return a != nil && a.username != "" && len(a.passwordHash) > 0 && len(a.secret) > 0
}

// Login checks the credentials and returns a signed session.
func (a *Authenticator) Login(username, password string) (Session, error) {
	if !a.Configured() {
		return Session{}, ErrNotConfigured
	}

	// The hash is always compared so a wrong username costs the same time.
	hashErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	if hashErr != nil || !userOK {
		return Session{}, ErrInvalidCredentials
	}

	now := a.now()
	expires := now.Add(a.ttl)
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign session: %w", err)
	}
	return Session{Token: signed, ExpiresAt: expires.UTC().Truncate(time.Second)}, nil
}

// Verify parses a session token and returns its claims.
func (a *Authenticator) Verify(tokenString string) (*Claims, error) {
	if !a.Configured() {
		return nil, ErrNotConfigured
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Username != a.username {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer session.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Configured() {
			middleware.WriteAPIError(w, r, http.StatusServiceUnavailable, middleware.CodeConfiguration,
				ErrNotConfigured.Error(), nil)
			return
		}

		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			middleware.WriteAPIError(w, r, http.StatusUnauthorized, middleware.CodeUnauthorized,
				"Authorization required", nil)
			return
		}

		claims, err := a.Verify(tokenString)
		if err != nil {
			logger.LogWarn("Rejected admin token from %s: %v", logger.GetClientIP(r), err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin", error="invalid_token"`)
			middleware.WriteAPIError(w, r, http.StatusUnauthorized, middleware.CodeUnauthorized,
				ErrInvalidToken.Error(), nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(middleware.WithSubject(r.Context(), claims.Username)))
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler handles POST /api/admin/login.
func (a *Authenticator) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, middleware.CodeBadRequest, err.Error(), nil)
		return
	}

	session, err := a.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, ErrNotConfigured):
		middleware.WriteAPIError(w, r, http.StatusServiceUnavailable, middleware.CodeConfiguration, err.Error(), nil)
		return
	case errors.Is(err, ErrInvalidCredentials):
		logger.LogWarn("Failed admin login for %q from %s", req.Username, logger.GetClientIP(r))
		middleware.WriteAPIError(w, r, http.StatusUnauthorized, middleware.CodeUnauthorized, err.Error(), nil)
		return
	case err != nil:
		middleware.WriteError(w, r, err)
		return
	}

	logger.LogInfo("Admin %s logged in from %s", req.Username, logger.GetClientIP(r))
	middleware.WriteAPISuccess(w, r, session)
}

// HashPassword returns a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Package auth checks the signed session that accompanies every folio API call.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionIssuer = "folio-auth"
	bearerPrefix         = "Bearer "
)

var (
	// ErrValidatorConfig reports a validator built without a signing secret or cookie name.
	ErrValidatorConfig = errors.New("auth: incomplete session validator configuration")
	// ErrNoSession reports a request that carries neither a bearer token nor a session cookie.
	ErrNoSession = errors.New("auth: no session presented")
	// ErrSessionRejected reports a token that is malformed, foreign or has no identity.
	ErrSessionRejected = errors.New("auth: session rejected")
	// ErrSessionExpired reports a well formed token past its expiry.
	ErrSessionExpired = errors.New("auth: session expired")
)

// SessionClaims is the token payload. UserID may carry a provider prefix ("google:123").
type SessionClaims struct {
	UserID          string `json:"user_id"`
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	jwt.RegisteredClaims
}

// Identity is the account handle of the session: the user id claim, else the registered subject.
func (c SessionClaims) Identity() string {
	if id := strings.TrimSpace(c.UserID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Subject)
}

type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	// Leeway tolerates clock skew between the issuer and this service.
	Leeway time.Duration
	Clock  func() time.Time
}

// SessionValidator verifies folio session tokens signed with a shared HS256 secret.
type SessionValidator struct {
	secret     []byte
	cookieName string
	parser     *jwt.Parser
}

// NewSessionValidator requires a secret and cookie name. Issuer defaults to folio-auth.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	cookieName := strings.TrimSpace(cfg.CookieName)
	if len(cfg.SigningSecret) == 0 || cookieName == "" {
		return nil, ErrValidatorConfig
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultSessionIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionValidator{
		secret:     append([]byte(nil), cfg.SigningSecret...),
		cookieName: cookieName,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(cfg.Leeway),
			jwt.WithTimeFunc(clock),
		),
	}, nil
}

func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken returns the claims of a signed, unexpired folio session.
func (v *SessionValidator) ValidateToken(raw string) (SessionClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SessionClaims{}, ErrNoSession
	}
	var claims SessionClaims
	if _, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrSessionExpired
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrSessionRejected, err)
	}
	if claims.Identity() == "" {
		return SessionClaims{}, fmt.Errorf("%w: token names no user", ErrSessionRejected)
	}
	return claims, nil
}

// ValidateRequest reads the Authorization bearer token, falling back to the session cookie.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrNoSession
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return v.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
	}
	if cookie, err := r.Cookie(v.cookieName); err == nil {
		return v.ValidateToken(cookie.Value)
	}
	return SessionClaims{}, ErrNoSession
}

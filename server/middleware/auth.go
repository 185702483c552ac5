package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/kbukum/runflow/errors"
)

// ContextSubject is the gin context key holding the token subject.
const ContextSubject = "subject"

// AuthConfig configures bearer token authentication. Authentication is off
// when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer    string `yaml:"issuer" mapstructure:"issuer"`
}

// Enabled reports whether tokens are required.
func (c AuthConfig) Enabled() bool { return c.JWTSecret != "" }

// Claims are the token claims accepted by the API.
type Claims struct {
	gojwt.RegisteredClaims
}

// TokenValidator validates a raw token and returns its claims.
type TokenValidator func(token string) (*Claims, error)

// HS256Validator verifies HMAC-SHA256 tokens signed with secret. When issuer
// is set the iss claim must match.
func HS256Validator(secret, issuer string) TokenValidator {
	opts := []gojwt.ParserOption{gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, gojwt.WithIssuer(issuer))
	}
	key := []byte(secret)
	return func(raw string) (*Claims, error) {
		claims := &Claims{}
		token, err := gojwt.ParseWithClaims(raw, claims, func(t *gojwt.Token) (interface{}, error) {
			if t.Method.Alg() != gojwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return key, nil
		}, opts...)
		if err != nil {
			return nil, err
		}
		if !token.Valid {
			return nil, fmt.Errorf("invalid token")
		}
		return claims, nil
	}
}

// SignHS256 issues a token for subject valid for ttl.
func SignHS256(secret, issuer, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{RegisteredClaims: gojwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
	}}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Auth rejects requests without a valid bearer token. The token subject is
// stored under ContextSubject.
func Auth(validate TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, errors.Unauthorized("Authorization header required."))
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abort(c, errors.Unauthorized("Invalid authorization header format."))
			return
		}
		claims, err := validate(strings.TrimSpace(token))
		if err != nil {
			abort(c, errors.InvalidToken().WithCause(err))
			return
		}
		c.Set(ContextSubject, claims.Subject)
		c.Next()
	}
}

func abort(c *gin.Context, err *errors.AppError) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(err.HTTPStatus, err.ToResponse())
}

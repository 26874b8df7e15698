package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/aitalentmarketplace/gateway/internal/apierror"
	"github.com/aitalentmarketplace/gateway/internal/config"
)

// Identity is the verified caller of one request. Never persisted;
// its lifetime is the request it was derived for.
type Identity struct {
	ID        string
	Email     string
	Role      string
	RequestID string
}

// Claims is the expected JWT payload.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenAuthenticator verifies bearer credentials and produces caller
// identities tagged with a fresh correlation id.
type TokenAuthenticator struct {
	secret        []byte
	issuer        string
	audience      string
	algorithm     string
	tokenLifetime time.Duration
	parser        *jwt.Parser
	logger        *slog.Logger
}

func NewTokenAuthenticator(cfg config.JWTConfig, logger *slog.Logger) *TokenAuthenticator {
	return &TokenAuthenticator{
		secret:        []byte(cfg.Secret),
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		algorithm:     cfg.Algorithm,
		tokenLifetime: cfg.TokenLifetime.Std(),
		parser:        jwt.NewParser(jwt.WithValidMethods([]string{cfg.Algorithm})),
		logger:        logger,
	}
}

// Authenticate verifies the Authorization header and returns the caller
// identity. All failures map to AUTHENTICATION_ERROR.
func (a *TokenAuthenticator) Authenticate(authorizationHeader string) (*Identity, error) {
	rawToken, ok := extractBearerToken(authorizationHeader)
	if !ok {
		return nil, apierror.Authentication("Authentication required")
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, a.classifyTokenError(err, claims)
	}

	if a.issuer != "" && claims.Issuer != a.issuer {
		return nil, apierror.Authentication(fmt.Sprintf("Invalid token issuer: %s", claims.Issuer))
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, true) {
		return nil, apierror.Authentication("Invalid token audience")
	}

	identity := &Identity{
		ID:        claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		RequestID: uuid.NewString(),
	}

	a.logger.Debug("Token verified",
		"request_id", identity.RequestID,
		"user_id", identity.ID,
		"role", identity.Role,
	)

	return identity, nil
}

// classifyTokenError maps jwt verification failures onto the gateway's
// error taxonomy. Expired tokens report their expiry so clients can tell
// a stale session from a forged one.
func (a *TokenAuthenticator) classifyTokenError(err error, claims *Claims) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		expiredAt := "unknown"
		if claims.ExpiresAt != nil {
			expiredAt = claims.ExpiresAt.Time.UTC().Format(time.RFC3339)
		}
		return apierror.Authentication(fmt.Sprintf(
			"Token expired at %s (token lifetime: %s). Please log in again.",
			expiredAt, a.tokenLifetime,
		))

	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return apierror.Authentication(fmt.Sprintf("Invalid token: %v", err))

	default:
		return apierror.AuthenticationWrap("Authentication failed", err)
	}
}

// extractBearerToken pulls the raw token out of "Bearer <token>".
func extractBearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", false
	}
	return token, true
}

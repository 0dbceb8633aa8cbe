package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
)

var (
	// ErrInvalidToken indicates the bearer token failed verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrKeyIDMissing indicates the token header carries no kid.
	ErrKeyIDMissing = errors.New("jwt: missing key identifier")
)

// CallerClaims are the claims the identity directory issues for end users.
type CallerClaims struct {
	UserID string `json:"uid"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier resolves RS256 bearer tokens to callers.
type TokenVerifier struct {
	keys     KeyProvider
	issuer   string
	audience string
	now      func() time.Time
}

// NewTokenVerifier constructs a verifier. Empty issuer or audience disables that check.
func NewTokenVerifier(keys KeyProvider, issuer, audience string) *TokenVerifier {
	return &TokenVerifier{
		keys:     keys,
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
		now:      time.Now,
	}
}

// WithClock overrides the clock used for expiry checks.
func (v *TokenVerifier) WithClock(clock func() time.Time) *TokenVerifier {
	if clock != nil {
		v.now = clock
	}
	return v
}

// ResolveCaller verifies the token and returns the caller it names.
func (v *TokenVerifier) ResolveCaller(_ context.Context, token string) (domain.Caller, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Caller{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &CallerClaims{}
	_, err := jwt.ParseWithClaims(token, claims, v.keyFunc, opts...)
	if err != nil {
		return domain.Caller{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return domain.Caller{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return domain.Caller{UserID: userID, DisplayName: strings.TrimSpace(claims.Name)}, nil
}

func (v *TokenVerifier) keyFunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if strings.TrimSpace(kid) == "" {
		return nil, ErrKeyIDMissing
	}
	return v.keys.GetVerificationKey(kid)
}

var _ port.IdentityProvider = (*TokenVerifier)(nil)

package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/clinic-engine/core"
)

// Claims carried by bearer tokens. The subject is the identity id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier verifies HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
	Now    func() time.Time
}

// NewTokenVerifier creates a verifier for secret. An empty issuer skips
// the issuer check.
func NewTokenVerifier(secret []byte, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: secret, issuer: issuer, Now: time.Now}
}

// Verify checks signature and expiry and returns the claims.
//
// Expired tokens fail with ReasonTokenExpired, any other rejected token
// with ReasonInvalidToken; both are *core.AuthenticationError. Anything
// else is an internal failure.
func (v *TokenVerifier) Verify(raw string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, errors.New("token verifier: signing secret not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.Now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, &core.AuthenticationError{Reason: core.ReasonTokenExpired}
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return nil, &core.AuthenticationError{Reason: core.ReasonInvalidToken}
	default:
		return nil, fmt.Errorf("verify token: %w", err)
	}

	if claims.Subject == "" {
		return nil, &core.AuthenticationError{Reason: core.ReasonInvalidToken}
	}
	return claims, nil
}

// Issue signs a token for subject. Used by the dev CLI and tests; real
// issuance lives with the credential service.
func (v *TokenVerifier) Issue(subject, role string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("token verifier: signing secret not configured")
	}
	now := v.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nickerso/physiome-coko/internal/config"
	"github.com/nickerso/physiome-coko/internal/domain"
)

// JWTManager issues and validates the signed bearer tokens that carry an
// identity between requests.
type JWTManager struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
}

// NewJWTManager creates a JWT manager from the auth configuration.
// The secret must be at least 32 characters for HS256 security.
func NewJWTManager(cfg config.AuthConfig) *JWTManager {
	return &JWTManager{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.JWTIssuer,
		accessTTL: cfg.AccessTokenTTL,
	}
}

// identityClaims extends standard JWT claims with the identity attributes
// the resolvers need.
type identityClaims struct {
	jwt.RegisteredClaims
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified,omitempty"`
	DisplayName   string   `json:"name,omitempty"`
	Groups        []string `json:"groups,omitempty"`
}

// GenerateToken creates a signed HS256 JWT for the identity.
func (m *JWTManager) GenerateToken(identity *domain.Identity) (string, error) {
	now := time.Now()
	claims := identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID.String(),
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
		DisplayName:   identity.DisplayName,
		Groups:        identity.Groups,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ValidateToken verifies the signature, issuer and expiry of a token and
// reconstructs the identity it carries.
func (m *JWTManager) ValidateToken(_ context.Context, token string) (*domain.Identity, error) {
	claims := &identityClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token is not valid: %w", domain.ErrAuthorization)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("token subject: %w", err)
	}

	return &domain.Identity{
		ID:            id,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		DisplayName:   claims.DisplayName,
		Groups:        claims.Groups,
	}, nil
}

// ABOUTME: JWT participant tokens: HS256 signing with identity and room claims
// ABOUTME: Verification pins the signing method and reports expiry separately

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrMissingClaim  = errors.New("missing required claim")
	ErrMissingSecret = errors.New("jwt secret is required")
	ErrWrongRoom     = errors.New("token is for a different room")
)

// Claims are the verified contents of a participant token.
type Claims struct {
	Identity  string
	Room      string
	ExpiresAt time.Time
}

type roomClaims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

// JWTVerifier signs and verifies participant tokens.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier creates a verifier for secret.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	return &JWTVerifier{secret: secret, now: time.Now}, nil
}

// Generate mints a token admitting identity to room for ttl.
func (v *JWTVerifier) Generate(identity, room string, ttl time.Duration) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if room == "" {
		return "", fmt.Errorf("%w: room", ErrMissingClaim)
	}

	now := v.now()
	claims := roomClaims{
		Room: room,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify validates tokenString and returns its claims.
func (v *JWTVerifier) Verify(tokenString string) (Claims, error) {
	var claims roomClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.Room == "" {
		return Claims{}, fmt.Errorf("%w: room", ErrMissingClaim)
	}

	out := Claims{Identity: claims.Subject, Room: claims.Room}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

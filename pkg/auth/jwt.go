package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrEmptySubject  = errors.New("subject cannot be empty")
	ErrShortSecret   = errors.New("secret must be at least 32 characters")
)

// MinSecretLength is the shortest HMAC secret accepted for signing
const MinSecretLength = 32

// DefaultTokenDuration is used when the manager is created without a lifetime
const DefaultTokenDuration = 12 * time.Hour

// Claims identifies the operator allowed to drive simulations
type Claims struct {
	Subject   string    `json:"sub"`
	Issuer    string    `json:"iss,omitempty"`
	ExpiresAt time.Time `json:"exp"`
	IssuedAt  time.Time `json:"iat"`
}

// TokenManager issues and validates HS256 bearer tokens
type TokenManager struct {
	secretKey     []byte
	issuer        string
	tokenDuration time.Duration
}

// NewTokenManager creates a token manager.
// Returns an error if the secret is shorter than 32 characters.
func NewTokenManager(secret, issuer string, tokenDuration time.Duration) (*TokenManager, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrShortSecret
	}
	if tokenDuration <= 0 {
		tokenDuration = DefaultTokenDuration
	}
	return &TokenManager{
		secretKey:     []byte(secret),
		issuer:        issuer,
		tokenDuration: tokenDuration,
	}, nil
}

// Issue signs a token for subject
func (m *TokenManager) Issue(subject string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(m.tokenDuration).Unix(),
	}
	if m.issuer != "" {
		claims["iss"] = m.issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Validate parses tokenString and returns its claims
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claimsMap, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidClaims
	}

	subject, err := claimsMap.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: missing or invalid sub", ErrInvalidClaims)
	}
	issuer, _ := claimsMap.GetIssuer()

	claims := &Claims{Subject: subject, Issuer: issuer}
	if exp, err := claimsMap.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := claimsMap.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	return claims, nil
}

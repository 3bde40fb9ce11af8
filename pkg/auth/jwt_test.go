package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-must-be-at-least-32-characters-long"

func TestNewTokenManager_ShortSecret(t *testing.T) {
	if _, err := NewTokenManager("short", "", time.Hour); !errors.Is(err, ErrShortSecret) {
		t.Fatalf("Expected ErrShortSecret, got %v", err)
	}
}

func TestTokenManager_IssueAndValidate(t *testing.T) {
	m, err := NewTokenManager(testSecret, "gridsim", 15*time.Minute)
	if err != nil {
		t.Fatalf("Failed to create token manager: %v", err)
	}

	token, err := m.Issue("operator")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("Expected a three-part JWT, got %q", token)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.Subject != "operator" {
		t.Errorf("Expected subject operator, got %q", claims.Subject)
	}
	if claims.Issuer != "gridsim" {
		t.Errorf("Expected issuer gridsim, got %q", claims.Issuer)
	}
	if !claims.ExpiresAt.After(claims.IssuedAt) {
		t.Errorf("Expected exp after iat, got %v <= %v", claims.ExpiresAt, claims.IssuedAt)
	}
}

func TestTokenManager_EmptySubject(t *testing.T) {
	m, _ := NewTokenManager(testSecret, "", 0)
	if _, err := m.Issue(""); !errors.Is(err, ErrEmptySubject) {
		t.Errorf("Expected ErrEmptySubject, got %v", err)
	}
}

func TestTokenManager_Rejects(t *testing.T) {
	m, _ := NewTokenManager(testSecret, "gridsim", time.Hour)
	other, _ := NewTokenManager(strings.Repeat("x", 40), "gridsim", time.Hour)
	foreignIssuer, _ := NewTokenManager(testSecret, "someone-else", time.Hour)

	wrongKey, _ := other.Issue("operator")
	wrongIssuer, _ := foreignIssuer.Issue("operator")

	expired := signed(t, jwt.MapClaims{
		"sub": "operator",
		"iss": "gridsim",
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	noExpiry := signed(t, jwt.MapClaims{"sub": "operator", "iss": "gridsim"})
	noSubject := signed(t, jwt.MapClaims{
		"iss": "gridsim",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrInvalidToken},
		{"garbage", "not.a.token", ErrInvalidToken},
		{"wrong key", wrongKey, ErrInvalidToken},
		{"wrong issuer", wrongIssuer, ErrInvalidToken},
		{"expired", expired, ErrExpiredToken},
		{"missing exp", noExpiry, ErrInvalidToken},
		{"missing sub", noSubject, ErrInvalidClaims},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestTokenManager_RejectsNoneAlgorithm(t *testing.T) {
	m, _ := NewTokenManager(testSecret, "", time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Validate(s); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

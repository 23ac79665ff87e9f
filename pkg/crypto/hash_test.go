package crypto

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// TestHashPassword проверяет базовое хеширование пароля
func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"simple password", "password123"},
		{"complex password", "P@ssw0rd!#$%^&*()"},
		{"unicode password", "пароль123"},
		{"long password", strings.Repeat("a", 70)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password, bcrypt.MinCost)
			if err != nil {
				t.Fatalf("HashPassword failed: %v", err)
			}
			if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
				t.Errorf("Hash should start with bcrypt prefix, got: %s", hash[:10])
			}
			if err := VerifyPassword(tt.password, hash); err != nil {
				t.Errorf("VerifyPassword failed for own hash: %v", err)
			}
		})
	}
}

func TestHashPassword_Errors(t *testing.T) {
	if _, err := HashPassword("", bcrypt.MinCost); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("expected ErrEmptyPassword, got %v", err)
	}
	if _, err := HashPassword(strings.Repeat("a", 73), bcrypt.MinCost); !errors.Is(err, ErrPasswordTooLong) {
		t.Errorf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestHashPassword_CostClamped(t *testing.T) {
	hash, err := HashPassword("secret", 1)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("bcrypt.Cost failed: %v", err)
	}
	if cost != bcrypt.MinCost {
		t.Errorf("expected cost %d, got %d", bcrypt.MinCost, cost)
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, _ := HashPassword("correct", bcrypt.MinCost)

	tests := []struct {
		name     string
		password string
		hash     string
		want     error
	}{
		{"match", "correct", hash, nil},
		{"mismatch", "wrong", hash, ErrPasswordMismatch},
		{"empty password", "", hash, ErrEmptyPassword},
		{"empty hash", "correct", "", ErrInvalidHash},
		{"garbage hash", "correct", "not-a-hash", ErrInvalidHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyPassword(tt.password, tt.hash)
			if !errors.Is(err, tt.want) {
				t.Errorf("VerifyPassword() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCredentials(t *testing.T) {
	hash, _ := HashPassword("scrape", bcrypt.MinCost)

	creds, err := NewCredentials("prometheus", hash)
	if err != nil {
		t.Fatalf("NewCredentials failed: %v", err)
	}

	if !creds.Check("prometheus", "scrape") {
		t.Error("valid credentials rejected")
	}
	if creds.Check("prometheus", "nope") {
		t.Error("wrong password accepted")
	}
	if creds.Check("grafana", "scrape") {
		t.Error("wrong user accepted")
	}
	if creds.Check("", "") {
		t.Error("empty credentials accepted")
	}
}

func TestNewCredentials_Invalid(t *testing.T) {
	if _, err := NewCredentials("", "$2a$04$abc"); err == nil {
		t.Error("expected error for empty user")
	}
	if _, err := NewCredentials("ops", "plain"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("expected ErrInvalidHash, got %v", err)
	}
}

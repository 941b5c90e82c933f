package auth

import (
	"errors"
	"testing"
	"time"

	"promoshot/internal/entity"
)

func TestNewManagerAndTokenLifecycle(t *testing.T) {
	mgr, err := NewManager("test-secret", "", 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error creating manager: %v", err)
	}
	if mgr.Expiry() != 30*time.Minute {
		t.Fatalf("unexpected expiry %s", mgr.Expiry())
	}

	user := &entity.DbUser{ID: 42, Email: "owner@example.com", Role: entity.UserRoleAdmin}
	token, expiresAt, err := mgr.GenerateToken(user)
	if err != nil {
		t.Fatalf("unexpected error generating token: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if !expiresAt.After(time.Now()) {
		t.Fatal("expected future expiry time")
	}

	claims, err := mgr.ParseToken(token)
	if err != nil {
		t.Fatalf("unexpected error parsing token: %v", err)
	}
	if claims.UserID != user.ID || claims.Email != user.Email || claims.Role != user.Role {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != defaultIssuer {
		t.Fatalf("expected default issuer, got %q", claims.Issuer)
	}
}

func TestParseTokenErrors(t *testing.T) {
	user := &entity.DbUser{ID: 7, Email: "member@example.com", Role: entity.UserRoleUser}

	mgr, err := NewManager("test-secret", "promoshot", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error creating manager: %v", err)
	}

	expired, err := NewManager("test-secret", "promoshot", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error creating manager: %v", err)
	}
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, _, err := expired.GenerateToken(user)
	if err != nil {
		t.Fatalf("unexpected error generating token: %v", err)
	}

	otherIssuer, _ := NewManager("test-secret", "someone-else", time.Minute)
	foreignToken, _, _ := otherIssuer.GenerateToken(user)

	otherSecret, _ := NewManager("another-secret", "promoshot", time.Minute)
	forgedToken, _, _ := otherSecret.GenerateToken(user)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "已过期", token: expiredToken, want: ErrTokenExpired},
		{name: "签发方不符", token: foreignToken, want: ErrTokenInvalid},
		{name: "密钥不符", token: forgedToken, want: ErrTokenInvalid},
		{name: "格式错误", token: "not-a-token", want: ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.ParseToken(tt.token)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager("   ", "", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestGenerateTokenRequiresPersistedUser(t *testing.T) {
	mgr, _ := NewManager("test-secret", "", time.Hour)
	if _, _, err := mgr.GenerateToken(&entity.DbUser{Email: "new@example.com"}); err == nil {
		t.Fatal("expected error for user without id")
	}
}

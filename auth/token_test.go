package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokens_IssueAndVerify(t *testing.T) {
	tokens, err := NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}

	signed, err := tokens.Issue("user-42")
	if err != nil {
		t.Fatalf("issue: unexpected error: %v", err)
	}

	userID, err := tokens.Verify(signed)
	if err != nil {
		t.Fatalf("verify: unexpected error: %v", err)
	}
	if userID != "user-42" {
		t.Fatalf("verify: expected user-42 got %q", userID)
	}
}

func TestTokens_RejectsExpired(t *testing.T) {
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens, _ := NewTokens("test-secret", time.Minute)
	tokens.WithClock(func() time.Time { return issued })

	signed, err := tokens.Issue("user-42")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tokens.WithClock(func() time.Time { return issued.Add(2 * time.Minute) })
	if _, err := tokens.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestTokens_RejectsForeignSecretAndAlgorithm(t *testing.T) {
	ours, _ := NewTokens("secret-a", time.Hour)
	theirs, _ := NewTokens("secret-b", time.Hour)

	signed, _ := theirs.Issue("user-1")
	if _, err := ours.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign secret, got %v", err)
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ours.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg none, got %v", err)
	}
}

func TestNewTokens_RequiresSecret(t *testing.T) {
	if _, err := NewTokens("  ", time.Hour); err != ErrNoSecret {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"valid":       {header: "Bearer abc.def", want: "abc.def", ok: true},
		"lower case":  {header: "bearer abc", want: "abc", ok: true},
		"missing":     {header: "", ok: false},
		"wrong type":  {header: "Basic dXNlcg==", ok: false},
		"empty token": {header: "Bearer    ", ok: false},
	}
	for name, tc := range cases {
		got, ok := BearerToken(tc.header)
		if ok != tc.ok || got != tc.want {
			t.Errorf("%s: BearerToken(%q) = %q, %v; want %q, %v", name, tc.header, got, ok, tc.want, tc.ok)
		}
	}
}

func TestUserContext(t *testing.T) {
	ctx := WithUser(context.Background(), "user-7")
	if id, ok := UserFrom(ctx); !ok || id != "user-7" {
		t.Fatalf("UserFrom = %q, %v", id, ok)
	}
	if _, ok := UserFrom(context.Background()); ok {
		t.Fatal("expected no user in empty context")
	}
}

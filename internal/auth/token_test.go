package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "Avery", "jti-1", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "user-1" || claims.Name != "Avery" || claims.ID != "jti-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Expiry().IsZero() {
		t.Fatal("expected expiry to be set")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "Avery", "jti-1", time.Now().Add(-time.Minute)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), NewClaims("user-1", "Avery", "jti-1", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenRejectsMalformed(t *testing.T) {
	for _, token := range []string{"", "abc", "a.b.c"} {
		if _, err := ParseToken([]byte("secret"), token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("ParseToken(%q) expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestParseTokenRequiresSubjectAndID(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("", "Avery", "jti-1", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for missing subject, got %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("share") != HashToken("share") {
		t.Fatal("expected stable hash")
	}
	if HashToken("share") == HashToken("other") {
		t.Fatal("expected distinct hashes")
	}
}

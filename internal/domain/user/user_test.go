package user

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestCredentialExpired(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name string
		cred Credential
		want bool
	}{
		{"empty", Credential{}, true},
		{"opaque token", Credential{AccessToken: "not-a-jwt", TokenType: "bearer"}, false},
		{"jwt in future", Credential{AccessToken: signed(t, now.Add(time.Hour))}, false},
		{"jwt in past", Credential{AccessToken: signed(t, now.Add(-time.Minute))}, true},
	}
	for _, tc := range cases {
		if got := tc.cred.Expired(now); got != tc.want {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestCredentialHeader(t *testing.T) {
	if got := (Credential{AccessToken: "abc", TokenType: "bearer"}).Header(); got != "Bearer abc" {
		t.Fatalf("got %q", got)
	}
	if got := (Credential{AccessToken: "abc"}).Header(); got != "Bearer abc" {
		t.Fatalf("got %q", got)
	}
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akinalp/hearth/pkg"
)

func TestJWTVerifier(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	token, err := v.Sign("u-a", time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	userID, err := v.Verify(context.Background(), token)
	if err != nil || userID != "u-a" {
		t.Fatalf("Verify = %q, %v; want u-a", userID, err)
	}

	expired, _ := v.Sign("u-a", -time.Minute)
	forged, _ := NewJWTVerifier("other-secret").Sign("u-a", time.Hour)
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "u-a"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{"expired": expired, "forged": forged, "alg none": unsigned, "garbage": "abc"} {
		if _, err := v.Verify(context.Background(), tok); !errors.Is(err, pkg.ErrUnauthorized) {
			t.Errorf("%s: err = %v, want ErrUnauthorized", name, err)
		}
	}
}

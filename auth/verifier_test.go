package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier("test-secret")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v.WithClock(func() time.Time { return now })
}

func TestVerifier_Valid(t *testing.T) {
	token := sign(t, jwt.SigningMethodHS256, []byte("test-secret"), jwt.MapClaims{
		"user_id": "owner-1",
		"role":    "consumer",
		"exp":     now.Add(time.Hour).Unix(),
	})

	id, err := newVerifier(t).FromHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "owner-1" || id.Role != RoleConsumer {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if !id.CanActFor("owner-1") || id.CanActFor("owner-2") {
		t.Fatalf("consumer must act for itself only")
	}
}

func TestVerifier_Rejects(t *testing.T) {
	valid := jwt.MapClaims{"user_id": "u1", "role": "operator", "exp": now.Add(time.Hour).Unix()}
	with := func(k string, v interface{}) jwt.MapClaims {
		c := jwt.MapClaims{}
		for key, val := range valid {
			c[key] = val
		}
		if v == nil {
			delete(c, k)
		} else {
			c[k] = v
		}
		return c
	}

	cases := map[string]string{
		"wrong secret":  sign(t, jwt.SigningMethodHS256, []byte("other"), valid),
		"expired":       sign(t, jwt.SigningMethodHS256, []byte("test-secret"), with("exp", now.Add(-time.Minute).Unix())),
		"no expiry":     sign(t, jwt.SigningMethodHS256, []byte("test-secret"), with("exp", nil)),
		"no user":       sign(t, jwt.SigningMethodHS256, []byte("test-secret"), with("user_id", nil)),
		"unknown role":  sign(t, jwt.SigningMethodHS256, []byte("test-secret"), with("role", "admin")),
		"unsigned":      sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid),
		"garbage token": "not-a-jwt",
	}
	v := newVerifier(t)
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestVerifier_Header(t *testing.T) {
	v := newVerifier(t)
	for _, h := range []string{"", "Bearer", "Basic abc", "Bearer   "} {
		if _, err := v.FromHeader(h); !errors.Is(err, ErrMissingToken) {
			t.Fatalf("header %q: expected ErrMissingToken, got %v", h, err)
		}
	}
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	if _, err := NewVerifier(""); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}

func TestOperatorActsForAnyone(t *testing.T) {
	id := Identity{UserID: "ops", Role: RoleOperator}
	if !id.CanActFor("owner-9") {
		t.Fatalf("operator must act for any owner")
	}
}

package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("test-secret", "tippy", time.Minute)

	tok, exp, err := tm.Generate("ops")
	if err != nil {
		t.Fatal(err)
	}
	if !exp.After(time.Now()) {
		t.Fatal("expiry in the past")
	}

	claims, err := tm.Parse(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Operator != "ops" {
		t.Fatalf("operator %s", claims.Operator)
	}

	other := NewTokenManager("other-secret", "tippy", time.Minute)
	if _, err := other.Parse(tok); err == nil {
		t.Fatal("token accepted with wrong secret")
	}
}

func TestOperatorKeyHash(t *testing.T) {
	hash, err := HashKey("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckKey(hash, "s3cret") {
		t.Fatal("valid key rejected")
	}
	if CheckKey(hash, "wrong") {
		t.Fatal("invalid key accepted")
	}
}

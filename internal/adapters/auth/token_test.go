package auth

import "testing"

func TestTokenAuth_ValidateToken(t *testing.T) {
	auth := NewTokenAuth([]string{"token1", "token2"})

	if !auth.ValidateToken("token1") {
		t.Error("token1 should be valid")
	}
	if !auth.ValidateToken("token2") {
		t.Error("token2 should be valid")
	}
	if auth.ValidateToken("token3") {
		t.Error("token3 should be invalid")
	}
	if auth.ValidateToken("") {
		t.Error("empty token should be invalid")
	}
}

func TestTokenAuth_EmptyTokenList(t *testing.T) {
	auth := NewTokenAuth([]string{})
	if auth.ValidateToken("anything") {
		t.Error("no tokens configured, nothing should validate")
	}
}

func TestTokenAuth_IgnoresBlankEntries(t *testing.T) {
	auth := NewTokenAuth([]string{"", "  ", " padded "})

	if auth.ValidateToken("") {
		t.Error("empty token should be invalid")
	}
	if auth.ValidateToken("  ") {
		t.Error("whitespace token should be invalid")
	}
	if !auth.ValidateToken("padded") {
		t.Error("configured token should be trimmed")
	}
}

func TestTokenAuth_PrefixIsNotAMatch(t *testing.T) {
	auth := NewTokenAuth([]string{"secret-token"})
	if auth.ValidateToken("secret") {
		t.Error("prefix of a token should be invalid")
	}
	if auth.ValidateToken("secret-token-extra") {
		t.Error("extension of a token should be invalid")
	}
}

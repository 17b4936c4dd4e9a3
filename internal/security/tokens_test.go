package security

import "testing"

func TestNewOpaqueTokenIsRandom(t *testing.T) {
	a, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	b, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct tokens")
	}
	if len(a) != 43 {
		t.Fatalf("expected 43 chars for 32 raw bytes base64url, got %d", len(a))
	}
}

func TestHashRefreshTokenDependsOnPepper(t *testing.T) {
	if HashRefreshToken("tok", "pepper-a") == HashRefreshToken("tok", "pepper-b") {
		t.Fatal("expected different peppers to yield different digests")
	}
	if HashRefreshToken("tok", "pepper-a") != HashRefreshToken("tok", "pepper-a") {
		t.Fatal("expected digest to be deterministic")
	}
}

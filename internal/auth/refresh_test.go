package auth

import "testing"

func TestGenerateRefreshToken(t *testing.T) {
	token, hashHex, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}
	if token == "" || hashHex == "" {
		t.Fatal("token and hash must be non-empty")
	}
	if len(hashHex) != 64 {
		t.Errorf("hash should be 64 hex chars, got %d", len(hashHex))
	}
	if HashRefreshToken(token) != hashHex {
		t.Error("HashRefreshToken must reproduce the generated hash")
	}

	token2, hash2, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}
	if token == token2 || hashHex == hash2 {
		t.Error("two generated tokens must differ")
	}
}

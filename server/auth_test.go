package server

import (
	"net/http"
	"testing"
	"time"
)

func TestSignAndVerifyJWT(t *testing.T) {
	secret := "my-test-secret"
	claims := jwtClaims{
		Sub:  "alice",
		Role: roleAdmin,
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(time.Hour).Unix(),
	}
	token, err := signJWT(secret, claims)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	got, err := verifyJWT(secret, token)
	if err != nil {
		t.Fatalf("verifyJWT: %v", err)
	}
	if got.Sub != "alice" {
		t.Errorf("expected subject 'alice', got %q", got.Sub)
	}
	if got.Role != roleAdmin {
		t.Errorf("expected role %q, got %q", roleAdmin, got.Role)
	}
}

func TestVerifyJWT_ExpiredToken(t *testing.T) {
	secret := "my-test-secret"
	claims := jwtClaims{
		Sub: "alice",
		Iat: time.Now().Add(-2 * time.Hour).Unix(),
		Exp: time.Now().Add(-time.Hour).Unix(), // already expired
	}
	token, err := signJWT(secret, claims)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}

	_, err = verifyJWT(secret, token)
	if err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestVerifyJWT_BadSignature(t *testing.T) {
	claims := jwtClaims{
		Sub: "alice",
		Iat: time.Now().Unix(),
		Exp: time.Now().Add(time.Hour).Unix(),
	}
	token, _ := signJWT("correct-secret", claims)
	_, err := verifyJWT("wrong-secret", token)
	if err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := doJSON(t, s, "", http.MethodPost, "/api/auth/login",
		`{"username":"admin","password":"wrong"}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := doJSON(t, s, "", http.MethodGet, "/api/queue/stats", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	s, _ := newTestServer(t, nil)
	token := login(t, s)

	var stats map[string]int
	rr := doJSON(t, s, token, http.MethodGet, "/api/queue/stats", "", &stats)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleMe(t *testing.T) {
	s, _ := newTestServer(t, nil)
	token := login(t, s)

	var me map[string]string
	rr := doJSON(t, s, token, http.MethodGet, "/api/auth/me", "", &me)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if me["username"] != "admin" {
		t.Errorf("username = %q", me["username"])
	}
	if me["role"] != roleAdmin {
		t.Errorf("role = %q", me["role"])
	}
}

func TestHandleLogin_ResponseClaims(t *testing.T) {
	s, _ := newTestServer(t, nil)
	var resp loginResponse
	rr := doJSON(t, s, "", http.MethodPost, "/api/auth/login",
		`{"username":"admin","password":"secret"}`, &resp)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if resp.Token == "" {
		t.Error("expected a token")
	}
	if resp.Role != roleAdmin {
		t.Errorf("role = %q", resp.Role)
	}
	if resp.ExpiresAt <= time.Now().Unix() {
		t.Errorf("expires_at = %d, want a future timestamp", resp.ExpiresAt)
	}
}

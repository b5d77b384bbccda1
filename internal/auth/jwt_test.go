package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "mooring"
	testAudience = "mooring-admin"
)

type signer struct {
	key *rsa.PrivateKey
	pem string
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return &signer{key: key, pem: string(pemBytes)}
}

func (s *signer) token(t *testing.T, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			Subject:   "ops@example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Scope: "admin",
	}
}

func TestValidate(t *testing.T) {
	s := newSigner(t)
	v, err := NewValidator(s.pem, testIssuer, testAudience)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := v.Validate(s.token(t, validClaims()))
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if claims.Subject != "ops@example.com" {
		t.Errorf("subject = %q", claims.Subject)
	}
}

func TestValidateRejections(t *testing.T) {
	s := newSigner(t)
	other := newSigner(t)
	v, err := NewValidator(s.pem, testIssuer, testAudience)
	if err != nil {
		t.Fatal(err)
	}

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"other-service"}

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
	}{
		{name: "expired", token: s.token(t, expired)},
		{name: "wrong issuer", token: s.token(t, wrongIssuer)},
		{name: "wrong audience", token: s.token(t, wrongAudience)},
		{name: "no expiry", token: s.token(t, noExpiry)},
		{name: "wrong key", token: other.token(t, validClaims())},
		{name: "garbage", token: "not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Validate(tt.token); err == nil {
				t.Error("Validate() accepted a bad token")
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	s := newSigner(t)
	v, err := NewValidator(s.pem, testIssuer, testAudience)
	if err != nil {
		t.Fatal(err)
	}

	var sawSubject string
	protected := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := ClaimsFromContext(r.Context()); ok {
			sawSubject = claims.Subject
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{name: "valid token", authHeader: "Bearer " + s.token(t, validClaims()), wantStatus: http.StatusOK},
		{name: "no header", authHeader: "", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", authHeader: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "bad token", authHeader: "Bearer junk", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}

	if sawSubject != "ops@example.com" {
		t.Errorf("claims subject in context = %q", sawSubject)
	}
}

func TestNewValidatorBadKey(t *testing.T) {
	if _, err := NewValidator("", testIssuer, testAudience); err == nil {
		t.Error("NewValidator accepted an empty key")
	}
	if _, err := NewValidator("not a pem", testIssuer, testAudience); err == nil {
		t.Error("NewValidator accepted garbage PEM")
	}
}

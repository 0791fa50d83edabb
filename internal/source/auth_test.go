package source

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/johndauphine/tg-migrate/internal/config"
)

func TestNewTokenSource_Static(t *testing.T) {
	ts, err := NewTokenSource(config.SourceConfig{Token: "static"}, nil)
	if err != nil {
		t.Fatalf("NewTokenSource: %v", err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "static" {
		t.Errorf("AccessToken = %q, want static", tok.AccessToken)
	}
}

func TestNewTokenSource_Incomplete(t *testing.T) {
	if _, err := NewTokenSource(config.SourceConfig{Cognito: config.CognitoConfig{Region: "us-east-1"}}, nil); err == nil {
		t.Fatal("expected error for incomplete cognito settings")
	}
}

func TestCognitoTokenSource_Refresh(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("X-Amz-Target"); got != "AWSCognitoIdentityProviderService.InitiateAuth" {
			t.Errorf("X-Amz-Target = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-amz-json-1.1" {
			t.Errorf("Content-Type = %q", got)
		}
		var req initiateAuthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.AuthFlow != "REFRESH_TOKEN_AUTH" || req.ClientID != "client" || req.AuthParameters["REFRESH_TOKEN"] != "refresh" {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"AuthenticationResult":{"IdToken":"id-token","AccessToken":"access","ExpiresIn":3600}}`))
	}))
	defer srv.Close()

	ts, err := NewTokenSource(config.SourceConfig{Cognito: config.CognitoConfig{
		Region: "us-east-1", UserPoolID: "pool", ClientID: "client", RefreshToken: "refresh", Endpoint: srv.URL,
	}}, nil)
	if err != nil {
		t.Fatalf("NewTokenSource: %v", err)
	}

	for i := 0; i < 3; i++ {
		tok, err := ts.Token()
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if tok.AccessToken != "id-token" {
			t.Errorf("AccessToken = %q, want id-token", tok.AccessToken)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("refresh calls = %d, want 1 (token should be reused)", calls.Load())
	}
}

func TestCognitoTokenSource_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"__type":"NotAuthorizedException"}`))
	}))
	defer srv.Close()

	src := &CognitoTokenSource{Region: "us-east-1", ClientID: "c", RefreshToken: "r", Endpoint: srv.URL}
	if _, err := src.Token(); err == nil {
		t.Fatal("expected error on HTTP 400")
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(42 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if got := tokenExpiry(signed, 0); !got.Equal(exp) {
		t.Errorf("expiry from claim = %v, want %v", got, exp)
	}

	got := tokenExpiry(signed, 60)
	if d := time.Until(got); d > time.Minute || d < 50*time.Second {
		t.Errorf("expiry from ExpiresIn is %v away, want about 60s", d)
	}

	if d := time.Until(tokenExpiry("not-a-jwt", 0)); d < 59*time.Minute {
		t.Errorf("fallback expiry is %v away, want about 1h", d)
	}
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestBearerInjectsAuthorization(t *testing.T) {
	p := NewBearer(" sk-test ")
	req, _ := http.NewRequest(http.MethodPost, "http://example.com", nil)
	if err := p.InjectHeader(context.Background(), req); err != nil {
		t.Fatalf("InjectHeader: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestAPIKeyInjectsRawHeader(t *testing.T) {
	p := NewAPIKey("x-api-key", "ant-key")
	req, _ := http.NewRequest(http.MethodPost, "http://example.com", nil)
	if err := p.InjectHeader(context.Background(), req); err != nil {
		t.Fatalf("InjectHeader: %v", err)
	}
	if got := req.Header.Get("X-Api-Key"); got != "ant-key" {
		t.Fatalf("x-api-key = %q", got)
	}
	token, err := p.Token(context.Background())
	if err != nil || token != "ant-key" {
		t.Fatalf("Token = %q, %v", token, err)
	}
}

func TestEmptyTokenInjectsNothing(t *testing.T) {
	p := NewBearer("")
	req, _ := http.NewRequest(http.MethodPost, "http://example.com", nil)
	if err := p.InjectHeader(context.Background(), req); err != nil {
		t.Fatalf("InjectHeader: %v", err)
	}
	if req.Header.Get("Authorization") != "" {
		t.Fatal("expected no Authorization header")
	}
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractToken(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer test-token")

	token, err := ExtractToken(req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if token != "test-token" {
		t.Fatalf("unexpected token: %s", token)
	}

	req, _ = http.NewRequest(http.MethodGet, "http://example.com/events?access_token=q-token", nil)
	if token, err := ExtractToken(req); err != nil || token != "q-token" {
		t.Fatalf("expected query token, got %q %v", token, err)
	}
}

func TestExtractTokenErrors(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)

	if _, err := ExtractToken(req); err != ErrMissingToken {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}

	req.Header.Set("Authorization", "Key abc")
	if _, err := ExtractToken(req); err != ErrInvalidPrefix {
		t.Fatalf("expected ErrInvalidPrefix, got %v", err)
	}

	req.Header.Set("Authorization", "Bearer ")
	if _, err := ExtractToken(req); err != ErrMissingToken {
		t.Fatalf("expected ErrMissingToken for empty token, got %v", err)
	}
}

func TestRequire(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	var denied error
	deny := func(w http.ResponseWriter, r *http.Request, err error) {
		denied = err
		w.WriteHeader(http.StatusUnauthorized)
	}

	open := Require("", deny)(ok)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("empty token must disable the check, got %d", rec.Code)
	}

	guarded := Require("s3cret", deny)(ok)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || !errors.Is(denied, ErrInvalidToken) {
		t.Fatalf("expected rejection, got %d %v", rec.Code, denied)
	}

	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected the matching token to pass, got %d", rec.Code)
	}
}

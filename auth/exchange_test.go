package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestExchanger(url string) *Exchanger {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExchanger(url, 5*time.Second, logger)
}

func TestExchangeSuccess(t *testing.T) {
	creds := Credentials{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example.com/callback",
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("client-id:client-secret"))
		if got := r.Header.Get("Authorization"); got != wantAuth {
			t.Errorf("Authorization = %q, want %q", got, wantAuth)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if len(r.PostForm) != 3 {
			t.Errorf("expected 3 form fields, got %v", r.PostForm)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("code"); got != "ABC123" {
			t.Errorf("code = %q", got)
		}
		if got := r.PostForm.Get("redirect_uri"); got != creds.RedirectURI {
			t.Errorf("redirect_uri = %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"A","refresh_token":"R","token_type":"Bearer","expires_in":3600,"scope":"s1 s2"}`))
	}))
	defer srv.Close()

	got, err := newTestExchanger(srv.URL).Exchange(context.Background(), creds, "ABC123")
	if err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}

	want := TokenResponse{AccessToken: "A", RefreshToken: "R", TokenType: "Bearer", ExpiresIn: 3600, Scope: "s1 s2"}
	if got != want {
		t.Fatalf("Exchange = %+v, want %+v", got, want)
	}
}

func TestExchangeNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid authorization code"}`))
	}))
	defer srv.Close()

	_, err := newTestExchanger(srv.URL).Exchange(context.Background(), Credentials{ClientID: "c", ClientSecret: "s"}, "used-code")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("StatusCode = %d, want 400", statusErr.StatusCode)
	}
	if statusErr.Body != `{"error":"invalid_grant","error_description":"Invalid authorization code"}` {
		t.Fatalf("unexpected body %q", statusErr.Body)
	}
}

func TestExchangeDoesNotRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := newTestExchanger(srv.URL).Exchange(context.Background(), Credentials{}, "code"); err == nil {
		t.Fatalf("expected error for 500 response")
	}
	if calls != 1 {
		t.Fatalf("token endpoint called %d times, want 1", calls)
	}
}

func TestExchangeRejectsMissingRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"A","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	if _, err := newTestExchanger(srv.URL).Exchange(context.Background(), Credentials{}, "code"); err == nil {
		t.Fatalf("expected error when refresh_token is absent")
	}
}

func TestExchangeMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	if _, err := newTestExchanger(srv.URL).Exchange(context.Background(), Credentials{}, "code"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestExchangeTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestExchanger(url).Exchange(context.Background(), Credentials{}, "code")
	if err == nil {
		t.Fatalf("expected transport error")
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		t.Fatalf("transport failure should not be a StatusError")
	}
}

func TestTokenResponseOAuth2Token(t *testing.T) {
	tr := TokenResponse{AccessToken: "A", RefreshToken: "R", TokenType: "Bearer", ExpiresIn: 3600, Scope: "s1 s2"}

	tok := tr.OAuth2Token()
	if tok.AccessToken != "A" || tok.RefreshToken != "R" || tok.TokenType != "Bearer" {
		t.Fatalf("unexpected token %+v", tok)
	}
	if !tok.Valid() {
		t.Fatalf("expected token to be valid")
	}
	if until := time.Until(tok.Expiry); until < 59*time.Minute || until > time.Hour {
		t.Fatalf("expiry %v not about an hour away", tok.Expiry)
	}
	if scope, _ := tok.Extra("scope").(string); scope != "s1 s2" {
		t.Fatalf("scope extra = %q", scope)
	}
}

func TestExchangeFormFieldOrder(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Write([]byte(`{"access_token":"A","refresh_token":"R"}`))
	}))
	defer srv.Close()

	creds := Credentials{ClientID: "cid", ClientSecret: "cs", RedirectURI: "http://127.0.0.1:8888/callback"}
	if _, err := newTestExchanger(srv.URL).Exchange(context.Background(), creds, "AQ+z"); err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}

	want := "grant_type=authorization_code&code=AQ%2Bz&redirect_uri=http%3A%2F%2F127.0.0.1%3A8888%2Fcallback"
	if body != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

package dropbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, tokenURL, apiBase string) *Client {
	t.Helper()
	c, err := NewClient(Options{
		AppKey:       "key",
		AppSecret:    "secret",
		RefreshToken: "refresh",
		TokenURL:     tokenURL,
		APIBase:      apiBase,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	if _, err := NewClient(Options{AppKey: "k", AppSecret: "s"}); err == nil {
		t.Fatal("expected error without refresh token")
	}
	if _, err := NewClient(Options{RefreshToken: "r"}); err == nil {
		t.Fatal("expected error without app key/secret")
	}
}

func TestObtainAccessToken(t *testing.T) {
	var gotUser, gotPass, gotGrant, gotRefresh string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotGrant = r.PostFormValue("grant_type")
		gotRefresh = r.PostFormValue("refresh_token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123","expires_in":14400}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)

	token, err := c.ObtainAccessToken(context.Background())
	if err != nil {
		t.Fatalf("ObtainAccessToken: %v", err)
	}
	if token != "tok-123" {
		t.Fatalf("token = %q, want tok-123", token)
	}
	if gotUser != "key" || gotPass != "secret" {
		t.Fatalf("basic auth = %q:%q, want key:secret", gotUser, gotPass)
	}
	if gotGrant != "refresh_token" || gotRefresh != "refresh" {
		t.Fatalf("form = grant_type=%q refresh_token=%q", gotGrant, gotRefresh)
	}
}

func TestObtainAccessToken_NonOKIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)

	_, err := c.ObtainAccessToken(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
	if authErr.Status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", authErr.Status)
	}
}

func TestObtainAccessToken_EmptyTokenIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.URL)

	if _, err := c.ObtainAccessToken(context.Background()); err == nil {
		t.Fatal("expected error for response without access_token")
	}
}

package ghstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestStore(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{
		Token:   "ghp_test",
		Repo:    "owner/name",
		Branch:  "main",
		APIBase: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresTokenAndRepo(t *testing.T) {
	if _, err := NewClient(Options{Repo: "o/r"}); err == nil {
		t.Fatal("expected error without token")
	}
	if _, err := NewClient(Options{Token: "t"}); err == nil {
		t.Fatal("expected error without repo")
	}
}

func TestGetFileSHA_Existing(t *testing.T) {
	c := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/name/contents/videos.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ref"); got != "main" {
			t.Errorf("ref = %q, want main", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ghp_test" {
			t.Errorf("auth = %q", got)
		}
		w.Write([]byte(`{"sha":"abc123","path":"videos.json"}`))
	}))

	sha, exists, err := c.GetFileSHA(context.Background(), "videos.json")
	if err != nil {
		t.Fatalf("GetFileSHA: %v", err)
	}
	if !exists || sha != "abc123" {
		t.Fatalf("got sha=%q exists=%v, want abc123/true", sha, exists)
	}
}

func TestGetFileSHA_MissingFileIsNotError(t *testing.T) {
	c := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	sha, exists, err := c.GetFileSHA(context.Background(), "videos.json")
	if err != nil {
		t.Fatalf("GetFileSHA: %v", err)
	}
	if exists || sha != "" {
		t.Fatalf("got sha=%q exists=%v, want empty/false", sha, exists)
	}
}

func TestGetFileSHA_ServerErrorIsError(t *testing.T) {
	c := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	if _, _, err := c.GetFileSHA(context.Background(), "videos.json"); err == nil {
		t.Fatal("expected error for 500")
	}
}

func TestPutFile_UpdateSendsPrecondition(t *testing.T) {
	var gotPayload map[string]any
	c := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(`{"content":{"sha":"new456"}}`))
	}))

	newSHA, err := c.PutFile(context.Background(), "videos.json", []byte(`["x"]`), "update manifest", "old123")
	if err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if newSHA != "new456" {
		t.Fatalf("new sha = %q", newSHA)
	}
	if gotPayload["sha"] != "old123" {
		t.Errorf("sha precondition = %v, want old123", gotPayload["sha"])
	}
	if gotPayload["branch"] != "main" {
		t.Errorf("branch = %v", gotPayload["branch"])
	}
	content, _ := gotPayload["content"].(string)
	decoded, err := base64.StdEncoding.DecodeString(content)
	if err != nil || string(decoded) != `["x"]` {
		t.Errorf("content = %q (decode err %v)", decoded, err)
	}
}

func TestPutFile_CreateOmitsPrecondition(t *testing.T) {
	var gotPayload map[string]any
	c := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"content":{"sha":"created789"}}`))
	}))

	newSHA, err := c.PutFile(context.Background(), "videos.json", []byte(`[]`), "create manifest", "")
	if err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if newSHA != "created789" {
		t.Fatalf("new sha = %q", newSHA)
	}
	if _, present := gotPayload["sha"]; present {
		t.Error("sha precondition sent on create")
	}
}

func TestPutFile_ConflictIsPublishError(t *testing.T) {
	c := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"videos.json does not match"}`, http.StatusConflict)
	}))

	_, err := c.PutFile(context.Background(), "videos.json", []byte(`[]`), "msg", "stale")
	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected *PublishError, got %T: %v", err, err)
	}
	if pubErr.Status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", pubErr.Status)
	}
	if !strings.Contains(pubErr.Error(), "409") {
		t.Errorf("error string should carry status: %q", pubErr.Error())
	}
}

func TestCheckAccess(t *testing.T) {
	c := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/owner/name":
			w.Write([]byte(`{"permissions":{"push":true,"pull":true}}`))
		case "/repos/owner/name/contents/videos.json":
			w.Write([]byte(`{"sha":"abc"}`))
		default:
			http.NotFound(w, r)
		}
	}))

	access, err := c.CheckAccess(context.Background(), "videos.json")
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if !access.RepoReachable || !access.CanPull || !access.CanPush || !access.FileExists {
		t.Fatalf("access = %+v, want all true", access)
	}
}

func TestCheckAccess_MissingFile(t *testing.T) {
	c := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/owner/name" {
			w.Write([]byte(`{"permissions":{"push":false,"pull":true}}`))
			return
		}
		http.NotFound(w, r)
	}))

	access, err := c.CheckAccess(context.Background(), "videos.json")
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if access.FileExists {
		t.Error("file should not exist")
	}
	if access.CanPush {
		t.Error("push should be false")
	}
	if !access.CanPull {
		t.Error("pull should be true")
	}
}

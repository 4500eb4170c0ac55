package manifest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kmxconnect/feedsync/internal/ghstore"
)

func newTestPublisher(t *testing.T, handler http.Handler) *Publisher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := ghstore.NewClient(ghstore.Options{
		Token:   "tok",
		Repo:    "owner/name",
		APIBase: srv.URL,
	})
	if err != nil {
		t.Fatalf("ghstore.NewClient: %v", err)
	}
	p, err := NewPublisher(PublisherOptions{
		Store: store,
		Path:  "videos.json",
		now:   func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	return p
}

func TestPublish_UpdateConditionsOnCurrentRevision(t *testing.T) {
	var putPayload map[string]any
	p := newTestPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"sha":"current-sha"}`))
		case http.MethodPut:
			json.NewDecoder(r.Body).Decode(&putPayload)
			w.Write([]byte(`{"content":{"sha":"next-sha"}}`))
		}
	}))

	res, err := p.Publish(context.Background(), []string{"https://x/a?raw=1"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Revision != "next-sha" {
		t.Fatalf("revision = %q", res.Revision)
	}
	if putPayload["sha"] != "current-sha" {
		t.Errorf("precondition sha = %v", putPayload["sha"])
	}

	msg, _ := putPayload["message"].(string)
	if !strings.Contains(msg, "1 entries") || !strings.Contains(msg, "2026-08-29T12:00:00Z") {
		t.Errorf("commit message = %q", msg)
	}

	content, _ := putPayload["content"].(string)
	decoded, _ := base64.StdEncoding.DecodeString(content)
	want := "[\n  \"https://x/a?raw=1\"\n]\n"
	if string(decoded) != want {
		t.Errorf("committed content = %q, want %q", decoded, want)
	}
}

func TestPublish_CreateWhenMissing(t *testing.T) {
	var putPayload map[string]any
	p := newTestPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			http.NotFound(w, r)
		case http.MethodPut:
			json.NewDecoder(r.Body).Decode(&putPayload)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"content":{"sha":"first-sha"}}`))
		}
	}))

	res, err := p.Publish(context.Background(), nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Revision != "first-sha" {
		t.Fatalf("revision = %q", res.Revision)
	}
	if _, present := putPayload["sha"]; present {
		t.Error("create must not send a sha precondition")
	}
}

func TestPublish_MetadataFailureStillWrites(t *testing.T) {
	var putPayload map[string]any
	p := newTestPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			http.Error(w, "flaky", http.StatusBadGateway)
		case http.MethodPut:
			json.NewDecoder(r.Body).Decode(&putPayload)
			w.Write([]byte(`{"content":{"sha":"forced-sha"}}`))
		}
	}))

	res, err := p.Publish(context.Background(), []string{"https://x/a"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Revision != "forced-sha" {
		t.Fatalf("revision = %q", res.Revision)
	}
	if _, present := putPayload["sha"]; present {
		t.Error("unavailable metadata must publish without a marker")
	}
}

func TestPublish_ConflictSurfacesAsPublishError(t *testing.T) {
	p := newTestPublisher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"sha":"raced-sha"}`))
		case http.MethodPut:
			http.Error(w, `{"message":"does not match"}`, http.StatusConflict)
		}
	}))

	_, err := p.Publish(context.Background(), []string{"https://x/a"})
	var pubErr *ghstore.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected *ghstore.PublishError, got %T: %v", err, err)
	}
}

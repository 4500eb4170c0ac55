package dropbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeAPI scripts responses per RPC endpoint and records calls.
type fakeAPI struct {
	t *testing.T

	mu    sync.Mutex
	calls []string

	listPages   []listFolderResponse
	listStatus  int
	links       map[string][]string // path_lower -> existing shared link URLs
	linksStatus int
	created     map[string]string // path_lower -> URL returned by create
	createCode  int
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.URL.Path)
		f.mu.Unlock()

		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			f.t.Errorf("missing bearer token on %s: %q", r.URL.Path, got)
		}

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			f.t.Errorf("decode payload on %s: %v", r.URL.Path, err)
		}

		switch r.URL.Path {
		case "/2/files/list_folder":
			if f.listStatus != 0 {
				http.Error(w, `{"error_summary":"path/not_found"}`, f.listStatus)
				return
			}
			json.NewEncoder(w).Encode(f.listPages[0])
		case "/2/files/list_folder/continue":
			if payload["cursor"] == "" {
				f.t.Error("continue called without cursor")
			}
			json.NewEncoder(w).Encode(f.listPages[1])
		case "/2/sharing/list_shared_links":
			if f.linksStatus != 0 {
				http.Error(w, `{"error_summary":"sharing error"}`, f.linksStatus)
				return
			}
			path, _ := payload["path"].(string)
			urls := f.links[path]
			out := struct {
				Links []sharedLink `json:"links"`
			}{}
			for _, u := range urls {
				out.Links = append(out.Links, sharedLink{URL: u})
			}
			json.NewEncoder(w).Encode(out)
		case "/2/sharing/create_shared_link_with_settings":
			if f.createCode != 0 {
				http.Error(w, `{"error_summary":"create failed"}`, f.createCode)
				return
			}
			path, _ := payload["path"].(string)
			json.NewEncoder(w).Encode(sharedLink{URL: f.created[path]})
		default:
			f.t.Errorf("unexpected endpoint %s", r.URL.Path)
			http.NotFound(w, r)
		}
	})
}

func fileEntry(name string) listFolderEntry {
	return listFolderEntry{
		Tag:         "file",
		Name:        name,
		PathLower:   "/videos/" + name,
		PathDisplay: "/videos/" + name,
	}
}

func startFake(t *testing.T, f *fakeAPI) *Client {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return newTestClient(t, srv.URL, srv.URL)
}

func TestListEntries_ResolvesAndNormalizesLinks(t *testing.T) {
	f := &fakeAPI{
		listPages: []listFolderResponse{{
			Entries: []listFolderEntry{
				fileEntry("a.mp4"),
				{Tag: "folder", Name: "sub", PathLower: "/videos/sub", PathDisplay: "/videos/sub"},
				fileEntry("b.mp4"),
			},
		}},
		links: map[string][]string{
			"/videos/a.mp4": {"https://www.dropbox.com/s/aaa/a.mp4?dl=0"},
		},
		created: map[string]string{
			"/videos/b.mp4": "https://www.dropbox.com/s/bbb/b.mp4?dl=0",
		},
	}
	c := startFake(t, f)

	entries, err := c.ListEntries(context.Background(), "/videos", "tok")
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (folder filtered)", len(entries))
	}
	if entries[0].PublicURL != "https://www.dropbox.com/s/aaa/a.mp4?raw=1" {
		t.Errorf("entry 0 url = %q", entries[0].PublicURL)
	}
	if entries[1].PublicURL != "https://www.dropbox.com/s/bbb/b.mp4?raw=1" {
		t.Errorf("entry 1 url = %q", entries[1].PublicURL)
	}
	if entries[0].Path != "/videos/a.mp4" || entries[1].Path != "/videos/b.mp4" {
		t.Errorf("paths = %q, %q", entries[0].Path, entries[1].Path)
	}
}

func TestListEntries_ExistingLinkSkipsCreate(t *testing.T) {
	f := &fakeAPI{
		listPages: []listFolderResponse{{
			Entries: []listFolderEntry{fileEntry("a.mp4")},
		}},
		links: map[string][]string{
			"/videos/a.mp4": {
				"https://www.dropbox.com/s/first/a.mp4?dl=0",
				"https://www.dropbox.com/s/second/a.mp4?dl=0",
			},
		},
	}
	c := startFake(t, f)

	entries, err := c.ListEntries(context.Background(), "/videos", "tok")
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	// first link in provider order wins
	if entries[0].PublicURL != "https://www.dropbox.com/s/first/a.mp4?raw=1" {
		t.Errorf("url = %q, want first link", entries[0].PublicURL)
	}
	for _, call := range f.calls {
		if call == "/2/sharing/create_shared_link_with_settings" {
			t.Error("create called despite existing link")
		}
	}
}

func TestListEntries_FollowsPagination(t *testing.T) {
	f := &fakeAPI{
		listPages: []listFolderResponse{
			{
				Entries: []listFolderEntry{fileEntry("a.mp4")},
				Cursor:  "cursor-1",
				HasMore: true,
			},
			{
				Entries: []listFolderEntry{fileEntry("b.mp4")},
			},
		},
		links: map[string][]string{
			"/videos/a.mp4": {"https://example.com/a?dl=0"},
			"/videos/b.mp4": {"https://example.com/b?dl=0"},
		},
	}
	c := startFake(t, f)

	entries, err := c.ListEntries(context.Background(), "/videos", "tok")
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 across pages", len(entries))
	}
	var sawContinue bool
	for _, call := range f.calls {
		if call == "/2/files/list_folder/continue" {
			sawContinue = true
		}
	}
	if !sawContinue {
		t.Error("continue endpoint never called despite has_more")
	}
}

func TestListEntries_ListFailureIsListError(t *testing.T) {
	f := &fakeAPI{listStatus: http.StatusConflict}
	c := startFake(t, f)

	_, err := c.ListEntries(context.Background(), "/videos", "tok")
	var listErr *ListError
	if !errors.As(err, &listErr) {
		t.Fatalf("expected *ListError, got %T: %v", err, err)
	}
	if listErr.Status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", listErr.Status)
	}
}

func TestListEntries_LinkFailureAbortsListing(t *testing.T) {
	f := &fakeAPI{
		listPages: []listFolderResponse{{
			Entries: []listFolderEntry{fileEntry("a.mp4"), fileEntry("b.mp4")},
		}},
		linksStatus: http.StatusTooManyRequests,
	}
	c := startFake(t, f)

	entries, err := c.ListEntries(context.Background(), "/videos", "tok")
	var linkErr *LinkError
	if !errors.As(err, &linkErr) {
		t.Fatalf("expected *LinkError, got %T: %v", err, err)
	}
	if entries != nil {
		t.Fatal("expected no partial entries on link failure")
	}
	if linkErr.Path != "/videos/a.mp4" {
		t.Errorf("failing path = %q", linkErr.Path)
	}
}

func TestListEntries_CreateFailureIsLinkError(t *testing.T) {
	f := &fakeAPI{
		listPages: []listFolderResponse{{
			Entries: []listFolderEntry{fileEntry("a.mp4")},
		}},
		createCode: http.StatusForbidden,
	}
	c := startFake(t, f)

	_, err := c.ListEntries(context.Background(), "/videos", "tok")
	var linkErr *LinkError
	if !errors.As(err, &linkErr) {
		t.Fatalf("expected *LinkError, got %T: %v", err, err)
	}
}

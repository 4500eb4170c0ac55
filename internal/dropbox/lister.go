package dropbox

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kmxconnect/feedsync/internal/xerrors"
)

// Entry is one leaf object directly under the monitored root, paired with
// its normalized public retrieval link. Built fresh each cycle, never
// persisted.
type Entry struct {
	Path      string
	PublicURL string
}

type listFolderEntry struct {
	Tag         string `json:".tag"`
	Name        string `json:"name"`
	PathLower   string `json:"path_lower"`
	PathDisplay string `json:"path_display"`
}

type listFolderResponse struct {
	Entries []listFolderEntry `json:"entries"`
	Cursor  string            `json:"cursor"`
	HasMore bool              `json:"has_more"`
}

type sharedLink struct {
	URL string `json:"url"`
}

// ListEntries enumerates files directly under root (directories are
// skipped, no recursion) and resolves a durable public link for each, in
// the order the store returns them.
//
// Any failure - the listing call itself, a continuation page, or link
// resolution for a single entry - aborts the whole listing. The manifest
// must reflect a complete snapshot or none at all.
func (c *Client) ListEntries(ctx context.Context, root, token string) ([]Entry, error) {
	files, err := c.listFolder(ctx, root, token)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		link, err := c.resolveLink(ctx, f.PathLower, token)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Path:      f.PathDisplay,
			PublicURL: NormalizeDirectURL(link),
		})
	}
	return entries, nil
}

func (c *Client) listFolder(ctx context.Context, root, token string) ([]listFolderEntry, error) {
	status, body, err := c.rpc(ctx, token, "/2/files/list_folder", map[string]any{
		"path":      root,
		"recursive": false,
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &ListError{Status: status, Body: trimBody(body)}
	}

	var page listFolderResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, xerrors.Wrap(err, "decode list_folder response")
	}

	files := filterFiles(page.Entries)

	// the API pages at 500 entries; a truncated listing would violate the
	// complete-snapshot invariant, so follow cursors to the end
	for page.HasMore {
		status, body, err = c.rpc(ctx, token, "/2/files/list_folder/continue", map[string]any{
			"cursor": page.Cursor,
		})
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, &ListError{Status: status, Body: trimBody(body)}
		}
		page = listFolderResponse{}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, xerrors.Wrap(err, "decode list_folder/continue response")
		}
		files = append(files, filterFiles(page.Entries)...)
	}

	return files, nil
}

func filterFiles(entries []listFolderEntry) []listFolderEntry {
	out := make([]listFolderEntry, 0, len(entries))
	for _, e := range entries {
		if e.Tag == "file" {
			out = append(out, e)
		}
	}
	return out
}

// resolveLink returns an existing shared link for path, creating one if
// none exists. When the store returns several links for the same path the
// first in provider order wins; provider order is not documented to be
// stable, but every link for a path serves the same bytes, so any of them
// satisfies the manifest.
func (c *Client) resolveLink(ctx context.Context, path, token string) (string, error) {
	status, body, err := c.rpc(ctx, token, "/2/sharing/list_shared_links", map[string]any{
		"path":        path,
		"direct_only": true,
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &LinkError{Path: path, Status: status, Body: trimBody(body)}
	}

	var existing struct {
		Links []sharedLink `json:"links"`
	}
	if err := json.Unmarshal(body, &existing); err != nil {
		return "", xerrors.Wrapf(err, "decode shared links for %s", path)
	}
	if len(existing.Links) > 0 {
		return existing.Links[0].URL, nil
	}

	status, body, err = c.rpc(ctx, token, "/2/sharing/create_shared_link_with_settings", map[string]any{
		"path": path,
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &LinkError{Path: path, Status: status, Body: trimBody(body)}
	}

	var created sharedLink
	if err := json.Unmarshal(body, &created); err != nil {
		return "", xerrors.Wrapf(err, "decode created link for %s", path)
	}
	if created.URL == "" {
		return "", &LinkError{Path: path, Status: status, Body: "create returned empty url"}
	}
	return created.URL, nil
}

// Package ghstore is a client for the slice of the GitHub contents API the
// publisher needs: read a file's revision marker (its blob SHA), write a
// file conditioned on that marker, and probe repository access for the
// diagnostics surface. The SHA precondition is what turns the plain PUT
// into a compare-and-swap.
package ghstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kmxconnect/feedsync/internal/log"
	"github.com/kmxconnect/feedsync/internal/xerrors"
)

const DefaultAPIBase = "https://api.github.com"

// PublishError reports a rejected document write, including a revision
// conflict (the store answers 409 when the SHA precondition is stale).
type PublishError struct {
	Status int
	Body   string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("manifest write rejected: status %d: %s", e.Status, e.Body)
}

type Options struct {
	Token  string
	Repo   string // owner/name
	Branch string

	APIBase    string
	HTTPClient *http.Client
	Logger     log.Logger
}

type Client struct {
	opts   Options
	http   *http.Client
	logger log.Logger
}

func NewClient(opts Options) (*Client, error) {
	if opts.Token == "" || opts.Repo == "" {
		return nil, xerrors.New("ghstore: token and repo are required")
	}
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.APIBase == "" {
		opts.APIBase = DefaultAPIBase
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}
	return &Client{opts: opts, http: hc, logger: lg}, nil
}

func (c *Client) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/contents/%s", c.opts.APIBase, c.opts.Repo, path)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, xerrors.Wrap(err, "github api")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, xerrors.Wrap(err, "read github response")
	}
	return resp.StatusCode, body, nil
}

// GetFileSHA reads the current revision marker for path.
// Returns exists=false (and no error) when the file does not exist yet;
// any status other than 200/404 is an error the caller may choose to treat
// as soft.
func (c *Client) GetFileSHA(ctx context.Context, path string) (sha string, exists bool, err error) {
	u := c.contentsURL(path) + "?ref=" + c.opts.Branch
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false, xerrors.Wrap(err, "build contents request")
	}

	status, body, err := c.do(req)
	if err != nil {
		return "", false, err
	}
	switch status {
	case http.StatusOK:
		var meta struct {
			SHA string `json:"sha"`
		}
		if err := json.Unmarshal(body, &meta); err != nil {
			return "", false, xerrors.Wrap(err, "decode contents metadata")
		}
		return meta.SHA, true, nil
	case http.StatusNotFound:
		return "", false, nil
	default:
		return "", false, xerrors.Newf("contents metadata read: status %d: %s", status, trimBody(body))
	}
}

// PutFile writes content to path with a commit message. When sha is
// non-empty it is sent as the precondition; a stale sha makes the store
// reject the write, which surfaces as a PublishError. Returns the new
// revision marker on success.
func (c *Client) PutFile(ctx context.Context, path string, content []byte, message, sha string) (string, error) {
	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  c.opts.Branch,
	}
	if sha != "" {
		payload["sha"] = sha
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", xerrors.Wrap(err, "encode contents write")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.contentsURL(path), bytes.NewReader(buf))
	if err != nil {
		return "", xerrors.Wrap(err, "build contents write")
	}

	status, body, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", &PublishError{Status: status, Body: trimBody(body)}
	}

	var resp struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", xerrors.Wrap(err, "decode contents write response")
	}
	return resp.Content.SHA, nil
}

// Access reports what the configured token can do against the repository.
// Read-only: nothing here mutates state.
type Access struct {
	RepoReachable bool `json:"repo_reachable"`
	CanPull       bool `json:"can_pull"`
	CanPush       bool `json:"can_push"`
	FileExists    bool `json:"file_exists"`
}

// CheckAccess probes repository metadata (which carries the token's
// effective permissions) and the manifest file's existence.
func (c *Client) CheckAccess(ctx context.Context, path string) (Access, error) {
	var out Access

	u := fmt.Sprintf("%s/repos/%s", c.opts.APIBase, c.opts.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return out, xerrors.Wrap(err, "build repo request")
	}
	status, body, err := c.do(req)
	if err != nil {
		return out, err
	}
	if status == http.StatusOK {
		out.RepoReachable = true
		var repo struct {
			Permissions struct {
				Push bool `json:"push"`
				Pull bool `json:"pull"`
			} `json:"permissions"`
		}
		if err := json.Unmarshal(body, &repo); err == nil {
			out.CanPush = repo.Permissions.Push
			out.CanPull = repo.Permissions.Pull
		}
	}

	_, exists, err := c.GetFileSHA(ctx, path)
	if err == nil {
		out.FileExists = exists
	}
	return out, nil
}

func trimBody(b []byte) string {
	const max = 2048
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

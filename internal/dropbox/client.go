// Package dropbox is a minimal client for the three Dropbox HTTP-RPC
// operations the reconciler needs: OAuth2 token refresh, non-recursive
// folder listing, and shared-link lookup/create.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kmxconnect/feedsync/internal/log"
	"github.com/kmxconnect/feedsync/internal/xerrors"
)

const (
	DefaultTokenURL = "https://api.dropbox.com/oauth2/token"
	DefaultAPIBase  = "https://api.dropboxapi.com"

	// how much of an upstream error body we keep for error messages
	maxErrBody = 2048
)

type Options struct {
	AppKey       string
	AppSecret    string
	RefreshToken string

	// TokenURL and APIBase default to the production Dropbox endpoints.
	// Overridden in tests.
	TokenURL string
	APIBase  string

	HTTPClient *http.Client
	Logger     log.Logger
}

type Client struct {
	opts   Options
	http   *http.Client
	logger log.Logger
}

func NewClient(opts Options) (*Client, error) {
	if opts.AppKey == "" || opts.AppSecret == "" || opts.RefreshToken == "" {
		return nil, xerrors.New("dropbox: app key, app secret, and refresh token are required")
	}
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultTokenURL
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

// ObtainAccessToken exchanges the long-lived refresh token for a short-lived
// access token. Called once per reconciliation cycle; the result is never
// cached because the execution environment is treated as stateless between
// cycles.
func (c *Client) ObtainAccessToken(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.opts.RefreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", xerrors.Wrap(err, "build token request")
	}
	req.SetBasicAuth(c.opts.AppKey, c.opts.AppSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", xerrors.Wrap(err, "token endpoint")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{Status: resp.StatusCode, Body: string(body)}
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", xerrors.Wrap(err, "decode token response")
	}
	if tok.AccessToken == "" {
		return "", xerrors.New("token response has no access_token")
	}
	return tok.AccessToken, nil
}

// rpc issues a bearer-authenticated JSON POST to an api.dropboxapi.com
// endpoint and returns the status code and raw body.
func (c *Client) rpc(ctx context.Context, token, endpoint string, payload any) (int, []byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, xerrors.Wrapf(err, "encode %s request", endpoint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.APIBase+endpoint, bytes.NewReader(buf))
	if err != nil {
		return 0, nil, xerrors.Wrapf(err, "build %s request", endpoint)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, xerrors.Wrapf(err, "call %s", endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, xerrors.Wrapf(err, "read %s response", endpoint)
	}
	return resp.StatusCode, body, nil
}

func trimBody(b []byte) string {
	if len(b) > maxErrBody {
		b = b[:maxErrBody]
	}
	return string(b)
}

package dropbox

import "net/url"

// NormalizeDirectURL rewrites a shared-link URL into its directly-fetchable
// form: the "dl" query parameter is dropped, "raw=1" is set, and every
// other query parameter is preserved. A URL without any query string is
// returned unchanged, as is anything that fails to parse.
func NormalizeDirectURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	q.Del("dl")
	q.Set("raw", "1")
	u.RawQuery = q.Encode()
	return u.String()
}

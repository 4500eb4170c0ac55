package dropbox

import "fmt"

// AuthError reports a failed credential exchange at the OAuth2 token
// endpoint. Fatal for the cycle; the caller does not retry.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("dropbox token refresh failed: status %d: %s", e.Status, e.Body)
}

// ListError reports a failed folder enumeration. Fatal for the cycle.
type ListError struct {
	Status int
	Body   string
}

func (e *ListError) Error() string {
	return fmt.Sprintf("dropbox folder listing failed: status %d: %s", e.Status, e.Body)
}

// LinkError reports a failed shared-link lookup or create for one entry.
// A single LinkError aborts the whole listing: a half-listed manifest is
// worse than a stale one.
type LinkError struct {
	Path   string
	Status int
	Body   string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("dropbox shared link for %s failed: status %d: %s", e.Path, e.Status, e.Body)
}

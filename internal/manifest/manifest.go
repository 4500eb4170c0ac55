// Package manifest owns the published feed document: an ordered JSON array
// of directly-fetchable URL strings. It decides whether a freshly listed
// candidate differs from the published copy and performs the conditioned
// write that replaces it.
package manifest

import "encoding/json"

// Equal compares two manifests by value, order-sensitive. The published
// order is the storage listing order; a reordering is a real change the
// front end should see.
func Equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Encode renders a manifest the way it is committed: pretty-printed with a
// trailing newline, so the published document diffs cleanly.
func Encode(urls []string) ([]byte, error) {
	if urls == nil {
		urls = []string{}
	}
	buf, err := json.MarshalIndent(urls, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(buf, '\n'), nil
}

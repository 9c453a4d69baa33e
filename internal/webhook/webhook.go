// Package webhook extracts the commit hash and repository URL from an
// opaque webhook payload by recursive structural search, independent of
// field names.
package webhook

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ParseError reports that the payload lacked one of the two required
// structural elements.
type ParseError struct {
	Missing string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("webhook: could not find %s in payload", e.Missing)
}

// Parsed is the result of a successful Parse: the commit hash and the
// repository URL found anywhere in the payload.
type Parsed struct {
	CommitHash string
	RepoURL    string
}

// Parse walks payload depth-first (object fields visited in sorted key order
// for determinism, array elements in order) and returns the
// first string of exactly 40 ASCII-hex characters as the commit hash, and
// the first string containing both "ssh://" and ".git" as the repo URL.
// Neither is keyed by a specific field name, so the search is robust to
// schema drift in the webhook provider. Missing either string is a
// *ParseError.
func Parse(payload []byte) (Parsed, error) {
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Parsed{}, &ParseError{Missing: fmt.Sprintf("valid JSON: %v", err)}
	}

	hash, hashOK := findString(doc, isCommitHash)
	if !hashOK {
		return Parsed{}, &ParseError{Missing: "commit hash"}
	}
	repo, repoOK := findString(doc, isRepoURL)
	if !repoOK {
		return Parsed{}, &ParseError{Missing: "repo url"}
	}
	return Parsed{CommitHash: hash, RepoURL: repo}, nil
}

func isCommitHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		if !isHexDigit(c) {
			return false
		}
	}
	return true
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isRepoURL(s string) bool {
	return strings.Contains(s, "ssh://") && strings.Contains(s, ".git")
}

// findString walks a decoded JSON value (string / []interface{} /
// map[string]interface{} / other scalar) depth-first, visiting objects'
// fields in sorted key order, and returns the first string satisfying
// predicate.
func findString(v interface{}, predicate func(string) bool) (string, bool) {
	switch val := v.(type) {
	case string:
		if predicate(val) {
			return val, true
		}
		return "", false
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := findString(val[k], predicate); ok {
				return s, true
			}
		}
		return "", false
	case []interface{}:
		for _, elem := range val {
			if s, ok := findString(elem, predicate); ok {
				return s, true
			}
		}
		return "", false
	default:
		return "", false
	}
}

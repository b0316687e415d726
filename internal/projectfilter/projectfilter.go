// Package projectfilter implements the one response-rewriting rule the
// proxy performs: narrowing the JSON array returned by a GET .../projects
// call down to the entries a given user is allowed to see.
package projectfilter

import (
	"encoding/json"
	"fmt"
)

// Matcher is satisfied by a compiled *regexp.Regexp; kept as an interface
// so this package doesn't need to import regexp's caller-specific type.
type Matcher interface {
	MatchString(string) bool
}

// ErrUnknownShape means body did not parse as a JSON array of objects
// carrying a string "name" field. Callers pass the original body through
// untouched and log a warning when they see this error.
var ErrUnknownShape = fmt.Errorf("projectfilter: response body is not a project-list array")

// Apply parses body as a JSON array of objects, keeps only the entries
// whose "name" field matches re, and re-marshals the result. Order is
// preserved, satisfying the "subsequence of the original array" invariant.
func Apply(body []byte, re Matcher) ([]byte, error) {
	var entries []map[string]any
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, ErrUnknownShape
	}
	kept := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		name, ok := e["name"].(string)
		if !ok {
			return nil, ErrUnknownShape
		}
		if re.MatchString(name) {
			kept = append(kept, e)
		}
	}
	out, err := json.Marshal(kept)
	if err != nil {
		return nil, fmt.Errorf("projectfilter: re-encoding filtered list: %w", err)
	}
	return out, nil
}
